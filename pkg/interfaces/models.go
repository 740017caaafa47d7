package interfaces

import "time"

// KeyRecord представляет актуальный комплект публичных ключей одной личности.
// Запись неизменяемая: при ротации ключей она заменяется целиком, никогда
// не редактируется по частям.
type KeyRecord struct {
	SigningPublicKey    string `json:"signingPublicKey"`    // armored-ключ подписи
	EncryptionPublicKey string `json:"encryptionPublicKey"` // armored-ключ шифрования
	Fingerprint         string `json:"fingerprint"`         // отпечаток первичного ключа
}

// EncryptedRecord - это непрозрачный зашифрованный блоб с минимальными
// метаданными маршрутизации. Создается движком отправителя, хранится
// бэкендом, потребляется конвейером расшифровки. После создания неизменяем.
type EncryptedRecord struct {
	ID        string    `json:"id"`
	ThreadRef string    `json:"threadRef"`
	SenderID  string    `json:"senderID"` // пустая строка, если отправитель неизвестен
	Sequence  uint64    `json:"sequence"` // монотонная позиция внутри треда
	Body      string    `json:"body"`     // armored-шифротекст
	IsFile    bool      `json:"isFile"`   // флаг файловых метаданных
	SentAt    time.Time `json:"sentAt"`
}

// ListRange задает диапазон выборки записей из треда.
type ListRange struct {
	FromSequence uint64
	Limit        int
}

// TrustNode - узел графа доверия (web-of-trust). Узлы - это отпечатки
// ключей; узел может быть отозван и может быть сопоставлен с личностью.
type TrustNode struct {
	Fingerprint string `json:"fingerprint"`
	Identity    string `json:"identity,omitempty"`
	Revoked     bool   `json:"revoked"`
}

// TrustEdge - направленное отношение "подписан ключом" между отпечатками.
type TrustEdge struct {
	SignerFingerprint string `json:"signerFingerprint"`
	SignedFingerprint string `json:"signedFingerprint"`
}

// TrustGraphSnapshot - снимок графа доверия, полученный от бэкенда.
// Ядро читает его, но никогда не изменяет.
type TrustGraphSnapshot struct {
	Nodes []TrustNode `json:"nodes"`
	Edges []TrustEdge `json:"edges"`
}
