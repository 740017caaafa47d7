// Путь: internal/trust/store.go
package trust

import (
	"fmt"
	"sync"

	"WhisperMesh/pkg/interfaces"

	"github.com/fxamacker/cbor/v2"
)

const keyRecordPrefix = "keyrecord/"

// KeyStore - явно принадлежащее владельцу хранилище кэша ключей.
// Это НЕ синглтон уровня модуля: экземпляр создается контекстом сессии
// приложения и передается в KeyResolver по ссылке.
//
// Инварианты:
//   - в кэше всегда лежит последняя ПОДТВЕРЖДЕННАЯ запись для личности;
//   - обратный индекс "отпечаток -> личность" обновляется только атомарной
//     заменой (сначала удаляем старые записи, затем вставляем новые),
//     чтобы не было окна, в котором отпечаток указывает не на ту личность.
type KeyStore struct {
	mu            sync.RWMutex
	records       map[string]interfaces.KeyRecord
	byFingerprint map[string]string
	kv            interfaces.IKeyValueStore // может быть nil (только память)
}

// NewKeyStore создает хранилище поверх key-value коллаборатора.
func NewKeyStore(kv interfaces.IKeyValueStore) *KeyStore {
	return &KeyStore{
		records:       make(map[string]interfaces.KeyRecord),
		byFingerprint: make(map[string]string),
		kv:            kv,
	}
}

// Get возвращает кэшированную запись. При промахе памяти пробует поднять
// запись из персистентного KV.
func (s *KeyStore) Get(identity string) (interfaces.KeyRecord, bool) {
	s.mu.RLock()
	rec, ok := s.records[identity]
	s.mu.RUnlock()
	if ok {
		return rec, true
	}
	if s.kv == nil {
		return interfaces.KeyRecord{}, false
	}

	raw, found, err := s.kv.Get(keyRecordPrefix + identity)
	if err != nil || !found {
		return interfaces.KeyRecord{}, false
	}
	var stored interfaces.KeyRecord
	if err := cbor.Unmarshal(raw, &stored); err != nil {
		return interfaces.KeyRecord{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Пока мы читали KV, кто-то мог заменить запись - она главнее.
	if rec, ok := s.records[identity]; ok {
		return rec, true
	}
	s.records[identity] = stored
	s.byFingerprint[stored.Fingerprint] = identity
	return stored, true
}

// Replace атомарно заменяет запись личности и ее записи в обратном индексе.
func (s *KeyStore) Replace(identity string, rec interfaces.KeyRecord) error {
	s.mu.Lock()
	if old, ok := s.records[identity]; ok {
		delete(s.byFingerprint, old.Fingerprint)
	}
	s.records[identity] = rec
	s.byFingerprint[rec.Fingerprint] = identity
	s.mu.Unlock()

	if s.kv == nil {
		return nil
	}
	raw, err := cbor.Marshal(rec)
	if err != nil {
		return fmt.Errorf("не удалось сериализовать KeyRecord: %w", err)
	}
	if err := s.kv.Set(keyRecordPrefix+identity, raw); err != nil {
		return fmt.Errorf("не удалось сохранить KeyRecord в KV: %w", err)
	}
	return nil
}

// IdentityByFingerprint атрибутирует входящий идентификатор подписанта
// обратно к личности.
func (s *KeyStore) IdentityByFingerprint(fingerprint string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	identity, ok := s.byFingerprint[fingerprint]
	return identity, ok
}

// KnownPublicKeys собирает карту "отпечаток -> armored-ключ подписи" для
// набора личностей. Используется конвейером расшифровки для атрибуции.
func (s *KeyStore) KnownPublicKeys(identities []string) map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	known := make(map[string]string, len(identities))
	for _, identity := range identities {
		if rec, ok := s.records[identity]; ok {
			known[rec.Fingerprint] = rec.SigningPublicKey
		}
	}
	return known
}
