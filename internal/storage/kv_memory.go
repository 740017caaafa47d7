// Путь: internal/storage/kv_memory.go
package storage

import "sync"

// MemoryKeyValueStore - хранилище в памяти. Используется в тестах и как
// fallback, когда персистентность не нужна.
type MemoryKeyValueStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryKeyValueStore создает новое хранилище в памяти
func NewMemoryKeyValueStore() *MemoryKeyValueStore {
	return &MemoryKeyValueStore{data: make(map[string][]byte)}
}

// Get возвращает значение по ключу
func (s *MemoryKeyValueStore) Get(key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	copied := append([]byte(nil), value...)
	return copied, true, nil
}

// Set сохраняет значение по ключу
func (s *MemoryKeyValueStore) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]byte(nil), value...)
	return nil
}

// Delete удаляет значение по ключу
func (s *MemoryKeyValueStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}
