// Путь: internal/trust/resolver.go
package trust

import (
	"context"
	"fmt"
	"log"
	"sync"

	"WhisperMesh/pkg/interfaces"

	"golang.org/x/sync/singleflight"
)

// RefreshStatus сообщает, изменился ли ключ после принудительной перезагрузки.
type RefreshStatus string

const (
	RefreshUnchanged RefreshStatus = "unchanged"
	RefreshChanged   RefreshStatus = "changed"
)

// RefreshResult - результат RefreshKeys.
type RefreshResult struct {
	Status RefreshStatus
	Record interfaces.KeyRecord
}

// IKeyResolver разрешает личность в ее актуальный доверенный комплект
// ключей, кэширует его и замечает ротацию.
//
// Модель доверия - TOFU: первый увиденный ключ личности принимается
// неявно, но любой сбой проверки против кэшированного ключа трактуется
// как "ключ мог смениться" и запускает РОВНО ОДНУ перезагрузку с повтором.
// Безграничных циклов повтора в системе нет.
type IKeyResolver interface {
	// ResolveKeys возвращает кэшированную запись, при промахе загружает ее
	// из справочника и обновляет обратный индекс отпечатков.
	ResolveKeys(ctx context.Context, identity string) (interfaces.KeyRecord, error)

	// RefreshKeys принудительно перечитывает ключи и сравнивает отпечатки.
	// Параллельные вызовы для одной личности схлопываются в один сетевой
	// запрос.
	RefreshKeys(ctx context.Context, identity string) (*RefreshResult, error)

	// Store открывает доступ к хранилищу (обратный индекс, карта известных
	// ключей) для конвейера расшифровки.
	Store() *KeyStore
}

// KeyResolver - конкретная реализация IKeyResolver.
type KeyResolver struct {
	store     *KeyStore
	directory interfaces.IIdentityDirectory
	warnings  interfaces.IWarningSurface

	refreshGroup singleflight.Group

	// warnedFingerprints помнит, о какой ротации мы уже предупредили:
	// предупреждение показывается один раз на обнаруженную смену ключа,
	// а не на каждое сообщение.
	warnedMu           sync.Mutex
	warnedFingerprints map[string]string
}

// NewKeyResolver - конструктор. warnings может быть nil, тогда
// retry-исчерпанный путь ограничится локальным callback'ом.
func NewKeyResolver(store *KeyStore, directory interfaces.IIdentityDirectory, warnings interfaces.IWarningSurface) *KeyResolver {
	return &KeyResolver{
		store:              store,
		directory:          directory,
		warnings:           warnings,
		warnedFingerprints: make(map[string]string),
	}
}

func (r *KeyResolver) Store() *KeyStore {
	return r.store
}

func (r *KeyResolver) ResolveKeys(ctx context.Context, identity string) (interfaces.KeyRecord, error) {
	if rec, ok := r.store.Get(identity); ok {
		return rec, nil
	}

	rec, err := r.directory.GetKeys(ctx, identity)
	if err != nil {
		return interfaces.KeyRecord{}, fmt.Errorf("разрешение ключей %q: %w", identity, err)
	}
	if err := r.store.Replace(identity, *rec); err != nil {
		log.Printf("WARN: [KeyResolver] Не удалось закэшировать ключи %s: %v", identity, err)
	}
	log.Printf("INFO: [KeyResolver] Ключи %s загружены впервые (TOFU), отпечаток %s...", identity, shortFP(rec.Fingerprint))
	return *rec, nil
}

func (r *KeyResolver) RefreshKeys(ctx context.Context, identity string) (*RefreshResult, error) {
	v, err, shared := r.refreshGroup.Do(identity, func() (interface{}, error) {
		return r.refreshOnce(ctx, identity)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		log.Printf("DEBUG: [KeyResolver] Параллельный RefreshKeys(%s) переиспользовал результат", identity)
	}
	return v.(*RefreshResult), nil
}

func (r *KeyResolver) refreshOnce(ctx context.Context, identity string) (*RefreshResult, error) {
	fresh, err := r.directory.GetKeys(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("перезагрузка ключей %q: %w", identity, err)
	}

	cached, had := r.store.Get(identity)
	if had && cached.Fingerprint == fresh.Fingerprint {
		return &RefreshResult{Status: RefreshUnchanged, Record: cached}, nil
	}

	// Смена ключа: атомарная замена записи и обратного индекса.
	// Сбойная проверка никогда не перезаписывает кэш сама по себе -
	// только успешная перезагрузка попадает сюда.
	if err := r.store.Replace(identity, *fresh); err != nil {
		log.Printf("WARN: [KeyResolver] Не удалось сохранить новый ключ %s: %v", identity, err)
	}
	if had {
		log.Printf("INFO: [KeyResolver] Обнаружена ротация ключа %s: %s... -> %s...",
			identity, shortFP(cached.Fingerprint), shortFP(fresh.Fingerprint))
	}
	return &RefreshResult{Status: RefreshChanged, Record: *fresh}, nil
}

// surfaceWarning показывает предупреждение о неподтвержденном ключе.
// Дедупликация по (личность, отпечаток): одно предупреждение на смену.
func (r *KeyResolver) surfaceWarning(ctx context.Context, identity, fingerprint string) {
	r.warnedMu.Lock()
	if r.warnedFingerprints[identity] == fingerprint {
		r.warnedMu.Unlock()
		return
	}
	r.warnedFingerprints[identity] = fingerprint
	r.warnedMu.Unlock()

	if r.warnings == nil {
		return
	}
	// Ожидаем подтверждения пользователя только ради состояния "загрузка".
	if err := r.warnings.ShowWarning(ctx, identity, DisplayFingerprint(fingerprint)); err != nil {
		log.Printf("WARN: [KeyResolver] Диалог предупреждения для %s завершился ошибкой: %v", identity, err)
	}
}

// WithKeyRetry - единственный бюджет повтора всей системы.
//
// Вызывает verify с кэшированной (или свежеразрешенной) записью. При ошибке
// перезагружает ключи; если ключ сменился - повторяет verify ровно один раз
// с новой записью. Если verify падает снова, либо ключ не менялся, вызывает
// onNeedsWarning и возвращает ok=false. Публикация последнего частичного
// результата - забота вызывающего, не этой процедуры.
func WithKeyRetry[T any](ctx context.Context, r *KeyResolver, identity string, verify func(interfaces.KeyRecord) (T, error), onNeedsWarning func()) (T, bool) {
	var zero T

	rec, err := r.ResolveKeys(ctx, identity)
	if err != nil {
		log.Printf("WARN: [KeyResolver] WithKeyRetry(%s): ключи недоступны: %v", identity, err)
		exhaustRetry(ctx, r, identity, "", onNeedsWarning)
		return zero, false
	}

	result, verr := verify(rec)
	if verr == nil {
		return result, true
	}
	log.Printf("INFO: [KeyResolver] Проверка для %s не прошла (%v), пробуем перезагрузить ключи", identity, verr)

	refreshed, err := r.RefreshKeys(ctx, identity)
	if err != nil {
		exhaustRetry(ctx, r, identity, rec.Fingerprint, onNeedsWarning)
		return zero, false
	}
	if refreshed.Status != RefreshChanged {
		// Ключ тот же - повтор бессмыслен, сразу предупреждаем.
		exhaustRetry(ctx, r, identity, rec.Fingerprint, onNeedsWarning)
		return zero, false
	}

	result, verr = verify(refreshed.Record)
	if verr == nil {
		log.Printf("INFO: [KeyResolver] Повтор после ротации ключа %s прошел успешно", identity)
		return result, true
	}

	exhaustRetry(ctx, r, identity, refreshed.Record.Fingerprint, onNeedsWarning)
	return zero, false
}

func exhaustRetry(ctx context.Context, r *KeyResolver, identity, fingerprint string, onNeedsWarning func()) {
	r.surfaceWarning(ctx, identity, fingerprint)
	if onNeedsWarning != nil {
		onNeedsWarning()
	}
}

func shortFP(fp string) string {
	if len(fp) > 8 {
		return fp[:8]
	}
	return fp
}
