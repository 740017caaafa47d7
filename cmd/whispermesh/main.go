// Путь: cmd/whispermesh/main.go
//
// Демонстрация ядра WhisperMesh: две личности, локальные заглушки
// справочника и транспорта, полный круг "генерация -> обмен ключами ->
// шифрование -> конвейер расшифровки", включая ротацию ключа.
package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"WhisperMesh/internal/core"
	"WhisperMesh/internal/encryption"
	"WhisperMesh/internal/pipeline"
	"WhisperMesh/internal/storage"
	"WhisperMesh/internal/trust"
	"WhisperMesh/pkg/config"
	"WhisperMesh/pkg/interfaces"

	"github.com/google/uuid"
)

const demoThread = "thread-demo"

func main() {
	if err := core.InitGlobalLogger(core.LogLevelInfo, core.LogOutputConsole, ""); err != nil {
		fmt.Fprintf(os.Stderr, "логгер не инициализирован: %v\n", err)
		os.Exit(1)
	}

	if err := run(); err != nil {
		core.Error("❌ Демонстрация завершилась ошибкой: %v", err)
		os.Exit(1)
	}
	core.Info("👋 Демонстрация завершена")
}

func run() error {
	ctx := context.Background()
	cfg := config.DefaultConfig()
	engine := encryption.NewPGPEngine()

	// --- Личности ---
	core.Info("🔑 Генерируем ключи alice и bob...")
	alicePriv, alicePub, err := makeIdentity(ctx, engine, "alice")
	if err != nil {
		return err
	}
	bobPriv, bobPub, err := makeIdentity(ctx, engine, "bob")
	if err != nil {
		return err
	}

	// --- Коллабораторы-заглушки ---
	directory := newMemoryDirectory()
	directory.put("alice", alicePub)
	directory.put("bob", bobPub)
	transport := newMemoryTransport()
	warnings := &consoleWarnings{}

	// --- Сторона alice: отправитель ---
	aliceStore := trust.NewKeyStore(storage.NewMemoryKeyValueStore())
	aliceResolver := trust.NewKeyResolver(aliceStore, directory, warnings)
	sender := pipeline.NewMessageSender(engine, aliceResolver, transport)
	if err := sender.SetIdentityMaterial(alicePriv, "alice"); err != nil {
		return err
	}
	sender.RegisterThread(demoThread, []string{"bob"})

	core.Info("📨 alice отправляет сообщения...")
	for i := 1; i <= 3; i++ {
		if _, err := sender.SendText(ctx, demoThread, fmt.Sprintf("Привет, bob! Сообщение №%d", i)); err != nil {
			return err
		}
	}

	// --- Сторона bob: конвейер расшифровки ---
	bobStore := trust.NewKeyStore(storage.NewMemoryKeyValueStore())
	bobResolver := trust.NewKeyResolver(bobStore, directory, warnings)
	events := core.NewEventManager(64)
	defer events.Stop()
	pipe := pipeline.NewDecryptionPipeline(engine, bobResolver, noFiles{}, pipeline.Config{PreviewMaxBytes: cfg.Pipeline.PreviewMaxBytes},
		func(view pipeline.DecryptedView) {
			event := core.RecordDecryptedEvent(view.RecordID, view.ThreadRef, view.SenderID, view.Content, view.Failed)
			if err := events.PushEvent(event); err != nil {
				core.Warn("Событие потеряно: %v", err)
			}
		},
		func(senderID string, payload []byte) {
			core.Info("🔧 Управляющее сообщение от %s (%d байт)", senderID, len(payload))
		})
	pipe.SetIdentityMaterial(bobPriv, "bob")

	token := pipe.OpenThread(ctx, demoThread, []string{"alice"})
	records, err := transport.List(ctx, demoThread, interfaces.ListRange{})
	if err != nil {
		return err
	}
	pipe.DecryptBatch(ctx, records, token)
	drainEvents(events)

	// --- Ротация ключа alice ---
	core.Info("🔄 alice ротирует ключ и пишет снова...")
	alicePriv2, alicePub2, err := makeIdentity(ctx, engine, "alice")
	if err != nil {
		return err
	}
	directory.put("alice", alicePub2)
	if err := sender.SetIdentityMaterial(alicePriv2, "alice"); err != nil {
		return err
	}
	if _, err := sender.SendText(ctx, demoThread, "А это уже новым ключом"); err != nil {
		return err
	}

	fresh, err := transport.List(ctx, demoThread, interfaces.ListRange{FromSequence: uint64(len(records))})
	if err != nil {
		return err
	}
	// Кэш bob еще помнит старый отпечаток: конвейер сам обнаружит ключевую
	// ошибку, перезагрузит ключи и повторит расшифровку один раз.
	pipe.MergeNew(ctx, fresh)
	drainEvents(events)

	return nil
}

// makeIdentity генерирует ключевую пару и собирает KeyRecord для справочника.
func makeIdentity(ctx context.Context, engine encryption.ICryptoEngine, userID string) (encryption.PrivateKeyMaterial, interfaces.KeyRecord, error) {
	priv, err := engine.Generate(ctx, userID, userID, userID)
	if err != nil {
		return "", interfaces.KeyRecord{}, fmt.Errorf("ключи %s не сгенерированы: %w", userID, err)
	}
	pub, err := engine.ExportPublicKeys(priv)
	if err != nil {
		return "", interfaces.KeyRecord{}, err
	}
	record := interfaces.KeyRecord{
		SigningPublicKey:    pub.Armored,
		EncryptionPublicKey: pub.Armored,
		Fingerprint:         pub.Fingerprint,
	}
	return priv, record, nil
}

func drainEvents(events *core.EventManager) {
	for events.QueueSize() > 0 {
		event, err := events.GetNextEvent()
		if err != nil {
			return
		}
		payload, ok := event.Payload.(core.RecordDecryptedPayload)
		if !ok {
			continue
		}
		status := "✅"
		if payload.Failed {
			status = "⚠️ не расшифровано"
		}
		core.Info("%s [%s] %s: %s", status, payload.ThreadRef, payload.SenderID, payload.Content)
	}
}

// ================================================================= //
//                     ЛОКАЛЬНЫЕ ЗАГЛУШКИ КОЛЛАБОРАТОРОВ              //
// ================================================================= //

// memoryDirectory - справочник публичных ключей в памяти.
type memoryDirectory struct {
	mu      sync.RWMutex
	records map[string]interfaces.KeyRecord
}

func newMemoryDirectory() *memoryDirectory {
	return &memoryDirectory{records: make(map[string]interfaces.KeyRecord)}
}

func (d *memoryDirectory) put(identity string, record interfaces.KeyRecord) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.records[identity] = record
}

func (d *memoryDirectory) GetKeys(_ context.Context, identity string) (*interfaces.KeyRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	record, ok := d.records[identity]
	if !ok {
		return nil, interfaces.ErrIdentityNotFound
	}
	copied := record
	return &copied, nil
}

// memoryTransport - store-and-forward транспорт в памяти.
type memoryTransport struct {
	mu      sync.Mutex
	records map[string][]interfaces.EncryptedRecord
}

func newMemoryTransport() *memoryTransport {
	return &memoryTransport{records: make(map[string][]interfaces.EncryptedRecord)}
}

func (t *memoryTransport) Send(_ context.Context, threadRef string, ciphertext string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	record := interfaces.EncryptedRecord{
		ID:        uuid.NewString(),
		ThreadRef: threadRef,
		SenderID:  "", // бэкенд демо не знает отправителя - атрибуция по подписи
		Sequence:  uint64(len(t.records[threadRef])),
		Body:      ciphertext,
		SentAt:    time.Now(),
	}
	t.records[threadRef] = append(t.records[threadRef], record)
	return record.ID, nil
}

func (t *memoryTransport) List(_ context.Context, threadRef string, rng interfaces.ListRange) ([]interfaces.EncryptedRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	all := t.records[threadRef]
	out := make([]interfaces.EncryptedRecord, 0, len(all))
	for _, record := range all {
		if record.Sequence < rng.FromSequence {
			continue
		}
		out = append(out, record)
		if rng.Limit > 0 && len(out) == rng.Limit {
			break
		}
	}
	return out, nil
}

// consoleWarnings печатает предупреждение о смене ключа в консоль.
type consoleWarnings struct{}

func (consoleWarnings) ShowWarning(_ context.Context, identity string, displayNameHint string) error {
	core.Warn("⚠️ Ключ %s не подтвержден (отпечаток %s)", identity, displayNameHint)
	return nil
}

// noFiles - файловый сервис, которого в демо нет.
type noFiles struct{}

func (noFiles) Fetch(context.Context, string) ([]byte, error) {
	return nil, fmt.Errorf("файловый сервис в демо недоступен")
}
