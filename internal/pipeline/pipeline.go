// Путь: internal/pipeline/pipeline.go
package pipeline

import (
	"context"
	"log"
	"sort"
	"sync"
	"sync/atomic"

	"WhisperMesh/internal/encryption"
	"WhisperMesh/internal/trust"
	"WhisperMesh/pkg/interfaces"
)

// IDecryptionPipeline - прогрессивный, отменяемый конвейер расшифровки
// одного просматриваемого треда.
type IDecryptionPipeline interface {
	// OpenThread привязывает конвейер к треду: инкрементирует токен сессии,
	// сбрасывает состояние и возвращает новый токен.
	OpenThread(ctx context.Context, threadRef string, members []string) int64

	// CurrentToken возвращает актуальный токен сессии.
	CurrentToken() int64

	// DecryptBatch расшифровывает пачку записей от новых к старым,
	// публикуя каждый результат сразу. Пачка, захватившая устаревший
	// токен, молча бросается без мутаций UI.
	DecryptBatch(ctx context.Context, records []interfaces.EncryptedRecord, token int64)

	// MergeNew - неотменяемый путь для поздно прибывших записей: берет
	// только еще не виденные, с независимой политикой повтора.
	MergeNew(ctx context.Context, records []interfaces.EncryptedRecord)

	// FetchAttachment - hook для UI: загрузка и расшифровка тела вложения
	// по требованию (для не-картинок конвейер сам байты не тянет).
	FetchAttachment(ctx context.Context, meta *FileMetadata, senderID string) ([]byte, error)
}

// Config - настройки конвейера.
type Config struct {
	// PreviewMaxBytes ограничивает размер проактивно загружаемого превью.
	PreviewMaxBytes int64
}

// DefaultConfig возвращает настройки по умолчанию.
func DefaultConfig() Config {
	return Config{PreviewMaxBytes: 8 << 20}
}

// DecryptionPipeline - конкретная реализация.
type DecryptionPipeline struct {
	engine   encryption.ICryptoEngine
	resolver *trust.KeyResolver
	files    interfaces.IFileFetcher
	cfg      Config

	priv encryption.PrivateKeyMaterial
	pass string

	// token - счетчик поколений "пользователь смотрит тред X".
	// Это и есть механизм отмены: явного cancel в движок не уходит,
	// начатые вызовы довершаются, а их результаты отбрасываются.
	token atomic.Int64

	mu            sync.Mutex
	currentThread string
	members       []string
	seen          map[string]bool
	retrying      map[string]bool

	onView    func(view DecryptedView)
	onControl func(senderID string, payload []byte)
}

// NewDecryptionPipeline - конструктор. onView получает каждую готовую
// проекцию (прогрессивное раскрытие), onControl - управляющие нагрузки
// (сборщик обмена ключами, обычно MeshSessionManager).
func NewDecryptionPipeline(engine encryption.ICryptoEngine, resolver *trust.KeyResolver, files interfaces.IFileFetcher, cfg Config, onView func(DecryptedView), onControl func(string, []byte)) *DecryptionPipeline {
	return &DecryptionPipeline{
		engine:    engine,
		resolver:  resolver,
		files:     files,
		cfg:       cfg,
		seen:      make(map[string]bool),
		retrying:  make(map[string]bool),
		onView:    onView,
		onControl: onControl,
	}
}

// SetIdentityMaterial задает приватный материал текущего пользователя.
func (p *DecryptionPipeline) SetIdentityMaterial(priv encryption.PrivateKeyMaterial, pass string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.priv = priv
	p.pass = pass
}

func (p *DecryptionPipeline) OpenThread(ctx context.Context, threadRef string, members []string) int64 {
	next := p.token.Add(1)

	p.mu.Lock()
	p.currentThread = threadRef
	p.members = append([]string(nil), members...)
	p.seen = make(map[string]bool)
	p.retrying = make(map[string]bool)
	p.mu.Unlock()

	// Прогреваем кэш ключей участников: дальше конвейеру нужна карта
	// "отпечаток -> ключ" для атрибуции подписанта.
	for _, member := range members {
		if _, err := p.resolver.ResolveKeys(ctx, member); err != nil {
			log.Printf("WARN: [Pipeline] Ключи участника %s недоступны: %v", member, err)
		}
	}

	log.Printf("INFO: [Pipeline] Открыт тред %s (токен %d, участников: %d)", threadRef, next, len(members))
	return next
}

func (p *DecryptionPipeline) CurrentToken() int64 {
	return p.token.Load()
}

func (p *DecryptionPipeline) DecryptBatch(ctx context.Context, records []interfaces.EncryptedRecord, token int64) {
	// От новых к старым: визуально ближайший контент раскрывается первым.
	batch := append([]interfaces.EncryptedRecord(nil), records...)
	sort.Slice(batch, func(i, j int) bool { return batch[i].Sequence > batch[j].Sequence })

	for _, rec := range batch {
		if p.token.Load() != token {
			// Пользователь переключил тред: пачка устарела, дальше
			// ни одной мутации UI.
			log.Printf("DEBUG: [Pipeline] Пачка с токеном %d брошена (текущий %d)", token, p.token.Load())
			return
		}

		view := p.decryptOne(ctx, rec)
		p.publish(token, rec, view)
	}
}

func (p *DecryptionPipeline) MergeNew(ctx context.Context, records []interfaces.EncryptedRecord) {
	p.mu.Lock()
	thread := p.currentThread
	p.mu.Unlock()
	token := p.token.Load()

	for _, rec := range records {
		if rec.ThreadRef != thread {
			continue
		}
		p.mu.Lock()
		already := p.seen[rec.ID]
		p.mu.Unlock()
		if already {
			continue
		}

		view := p.decryptOne(ctx, rec)
		p.publish(token, rec, view)
	}
}

func (p *DecryptionPipeline) FetchAttachment(ctx context.Context, meta *FileMetadata, senderID string) ([]byte, error) {
	body, err := p.files.Fetch(ctx, meta.FileRef)
	if err != nil {
		return nil, err
	}
	known := p.knownKeysForSender(senderID)
	p.mu.Lock()
	priv, pass := p.priv, p.pass
	p.mu.Unlock()

	result, err := p.engine.DecryptBinary(ctx, priv, pass, known, body)
	if err != nil {
		return nil, err
	}
	return result.Payload, nil
}

// --- Внутренняя кухня ---

// decryptOne выполняет расшифровку одной записи с политикой одиночного
// повтора на "ключевых" ошибках.
func (p *DecryptionPipeline) decryptOne(ctx context.Context, rec interfaces.EncryptedRecord) DecryptedView {
	p.mu.Lock()
	members := append([]string(nil), p.members...)
	priv, pass := p.priv, p.pass
	p.mu.Unlock()

	known := p.resolver.Store().KnownPublicKeys(members)

	result, err := p.engine.Decrypt(ctx, priv, pass, known, rec.Body)
	if err == nil {
		return p.buildView(ctx, rec, result)
	}

	if !encryption.IsKeyRelated(err) {
		// Постоянная ошибка контента: помечаем и больше никогда
		// не повторяем для этой записи в этой сессии.
		log.Printf("WARN: [Pipeline] Запись %s не расшифрована (постоянно): %v", rec.ID, err)
		return p.failedView(rec, true)
	}

	// Ключевая ошибка: ровно один повтор после обновления ключей.
	if !p.beginRetry(rec.ID) {
		// Запись уже в повторе - параллельный дубликат не запускаем.
		return p.failedView(rec, false)
	}
	// Гарантированное освобождение метки повтора, что бы ни случилось ниже.
	defer p.endRetry(rec.ID)

	p.refreshImplicated(ctx, rec.SenderID, members)

	known = p.resolver.Store().KnownPublicKeys(members)
	result, err = p.engine.Decrypt(ctx, priv, pass, known, rec.Body)
	if err != nil {
		log.Printf("WARN: [Pipeline] Повтор записи %s не помог: %v", rec.ID, err)
		return p.failedView(rec, true)
	}
	log.Printf("INFO: [Pipeline] Запись %s расшифрована после обновления ключей", rec.ID)
	return p.buildView(ctx, rec, result)
}

// refreshImplicated обновляет ключи замешанного отправителя, а если он
// неизвестен - всех текущих участников треда.
func (p *DecryptionPipeline) refreshImplicated(ctx context.Context, senderID string, members []string) {
	targets := members
	if senderID != "" {
		targets = []string{senderID}
	}
	for _, identity := range targets {
		if _, err := p.resolver.RefreshKeys(ctx, identity); err != nil {
			log.Printf("WARN: [Pipeline] Не удалось обновить ключи %s: %v", identity, err)
		}
	}
}

func (p *DecryptionPipeline) buildView(ctx context.Context, rec interfaces.EncryptedRecord, result *encryption.DecryptResult) DecryptedView {
	view := DecryptedView{
		RecordID:  rec.ID,
		ThreadRef: rec.ThreadRef,
		SenderID:  p.attributeSender(rec, result),
		Sequence:  rec.Sequence,
		Final:     true,
	}

	parsed, err := ParsePlaintext(result.Payload)
	if err != nil {
		log.Printf("WARN: [Pipeline] Плейнтекст записи %s не разобран: %v", rec.ID, err)
		view.Failed = true
		return view
	}

	switch parsed.Kind {
	case PlainControl:
		// Из видимого транскрипта исключается, уходит сборщику.
		view.IsControl = true
		if p.onControl != nil {
			p.onControl(view.SenderID, parsed.Control)
		}

	case PlainFile:
		view.File = parsed.File
		view.Content = parsed.File.Name
		if parsed.File.IsImage() && parsed.File.Size <= p.cfg.PreviewMaxBytes {
			if preview, err := p.FetchAttachment(ctx, parsed.File, view.SenderID); err == nil {
				view.Preview = preview
			} else {
				log.Printf("WARN: [Pipeline] Превью для %s не загружено: %v", rec.ID, err)
			}
		}

	case PlainText:
		view.Content = parsed.Text
	}

	return view
}

// attributeSender уточняет отправителя по отпечатку подписанта, когда
// маршрутные метаданные его не назвали.
func (p *DecryptionPipeline) attributeSender(rec interfaces.EncryptedRecord, result *encryption.DecryptResult) string {
	if rec.SenderID != "" {
		return rec.SenderID
	}
	for _, fp := range result.SignerFingerprints {
		if identity, ok := p.resolver.Store().IdentityByFingerprint(fp); ok {
			return identity
		}
	}
	return ""
}

func (p *DecryptionPipeline) failedView(rec interfaces.EncryptedRecord, final bool) DecryptedView {
	return DecryptedView{
		RecordID:  rec.ID,
		ThreadRef: rec.ThreadRef,
		SenderID:  rec.SenderID,
		Sequence:  rec.Sequence,
		Failed:    true,
		Final:     final,
	}
}

// publish применяет результат, только если сессия не устарела.
func (p *DecryptionPipeline) publish(token int64, rec interfaces.EncryptedRecord, view DecryptedView) {
	if p.token.Load() != token {
		return
	}
	p.mu.Lock()
	p.seen[rec.ID] = true
	p.mu.Unlock()

	if view.IsControl {
		// Управляющее сообщение уже ушло сборщику.
		return
	}
	if p.onView != nil {
		p.onView(view)
	}
}

func (p *DecryptionPipeline) beginRetry(recordID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.retrying[recordID] {
		return false
	}
	p.retrying[recordID] = true
	return true
}

func (p *DecryptionPipeline) endRetry(recordID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.retrying, recordID)
}

func (p *DecryptionPipeline) knownKeysForSender(senderID string) map[string]string {
	if senderID == "" {
		p.mu.Lock()
		members := append([]string(nil), p.members...)
		p.mu.Unlock()
		return p.resolver.Store().KnownPublicKeys(members)
	}
	return p.resolver.Store().KnownPublicKeys([]string{senderID})
}
