// Путь: internal/storage/kv_sqlite.go
package storage

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteKeyValueStore реализует интерфейс IKeyValueStore поверх SQLite.
// Хранит кэш доверенных ключей между запусками приложения.
type SQLiteKeyValueStore struct {
	db *sql.DB
}

// NewSQLiteKeyValueStore создает новый экземпляр SQLiteKeyValueStore
func NewSQLiteKeyValueStore(dbPath string) (*SQLiteKeyValueStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLiteKeyValueStore{db: db}

	// Инициализируем таблицы
	if err := store.initTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize tables: %w", err)
	}

	return store, nil
}

// Close закрывает соединение с базой данных
func (s *SQLiteKeyValueStore) Close() error {
	return s.db.Close()
}

// initTables создает необходимые таблицы
func (s *SQLiteKeyValueStore) initTables() error {
	createKVTable := `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`

	if _, err := s.db.Exec(createKVTable); err != nil {
		return fmt.Errorf("failed to create kv table: %w", err)
	}

	return nil
}

// Get возвращает значение по ключу
func (s *SQLiteKeyValueStore) Get(key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRow("SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get value: %w", err)
	}
	return value, true, nil
}

// Set сохраняет значение по ключу
func (s *SQLiteKeyValueStore) Set(key string, value []byte) error {
	query := `
	INSERT OR REPLACE INTO kv (key, value, updated_at)
	VALUES (?, ?, CURRENT_TIMESTAMP)
	`

	if _, err := s.db.Exec(query, key, value); err != nil {
		return fmt.Errorf("failed to set value: %w", err)
	}
	return nil
}

// Delete удаляет значение по ключу
func (s *SQLiteKeyValueStore) Delete(key string) error {
	if _, err := s.db.Exec("DELETE FROM kv WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete value: %w", err)
	}
	return nil
}
