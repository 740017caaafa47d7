package interfaces

import (
	"context"
	"errors"
)

// ErrIdentityNotFound возвращается справочником, если личность не
// зарегистрирована (аналог 404 от бэкенда).
var ErrIdentityNotFound = errors.New("личность не найдена в справочнике ключей")

// IIdentityDirectory определяет интерфейс справочника публичных ключей.
// Реализация (REST-бэкенд) вне зоны ответственности ядра.
type IIdentityDirectory interface {
	// GetKeys возвращает актуальный комплект ключей для личности.
	GetKeys(ctx context.Context, identity string) (*KeyRecord, error)
}

// IMessageTransport определяет интерфейс store-and-forward транспорта.
// Гарантии доставки и порядка - ответственность транспорта, не ядра.
type IMessageTransport interface {
	// Send отправляет шифротекст в тред и возвращает ID созданной записи.
	Send(ctx context.Context, threadRef string, ciphertext string) (recordID string, err error)

	// List возвращает записи треда в указанном диапазоне.
	List(ctx context.Context, threadRef string, rng ListRange) ([]EncryptedRecord, error)
}

// IKeyValueStore определяет простое персистентное key-value хранилище.
// Используется для кэша KeyRecord; эфемерные ключи сессий сюда НЕ попадают.
type IKeyValueStore interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
	Delete(key string) error
}

// IWarningSurface определяет интерфейс для показа предупреждений о ключах.
// Ядро ожидает завершения вызова только чтобы удерживать состояние
// "загрузка", пока пользователь не подтвердит диалог.
type IWarningSurface interface {
	ShowWarning(ctx context.Context, identity string, displayNameHint string) error
}

// ITrustGraphFetcher загружает снимок графа доверия. Граф поддерживается
// бэкендом; ядро только читает его.
type ITrustGraphFetcher interface {
	FetchGraph(ctx context.Context) (*TrustGraphSnapshot, error)
}

// IFileFetcher загружает зашифрованное тело файлового вложения по ссылке
// из файловых метаданных.
type IFileFetcher interface {
	Fetch(ctx context.Context, fileRef string) ([]byte, error)
}
