// Путь: internal/encryption/engine.go
package encryption

import (
	"context"
	"errors"
	"fmt"
)

// PrivateKeyMaterial - непрозрачный armored-блоб приватного ключа,
// запертого парольной фразой. Ядро хранит его, но никогда не заглядывает внутрь.
type PrivateKeyMaterial string

// PublicKeyMaterial - экспортированная публичная часть ключа.
type PublicKeyMaterial struct {
	Armored     string
	Fingerprint string
}

// DecryptResult - результат успешной расшифровки.
type DecryptResult struct {
	Payload            []byte
	SignerFingerprints []string
}

// Типизированные ошибки движка. Каждый сбой пересекает границу движка
// только в виде одной из этих ошибок (возможно, обернутой через %w) -
// никогда как "тихая" паника.
var (
	// ErrUnknownSigner - подпись есть, но ни один известный ключ ее не подтвердил.
	ErrUnknownSigner = errors.New("подписант неизвестен")
	// ErrOuterSignature - внешняя подпись сообщения не прошла проверку.
	ErrOuterSignature = errors.New("внешняя подпись не прошла проверку")
	// ErrInnerSignature - внутренняя подпись (внутри шифротекста) не прошла проверку.
	ErrInnerSignature = errors.New("внутренняя подпись не прошла проверку")
	// ErrSignerNotInner - внешний подписант не входит в число внутренних.
	ErrSignerNotInner = errors.New("подписант не входит в число внутренних подписантов")
	// ErrMalformed - шифротекст поврежден или формат не поддерживается.
	ErrMalformed = errors.New("шифротекст поврежден или не поддерживается")
	// ErrWrongKey - приватный ключ не подходит к сообщению либо неверная фраза.
	ErrWrongKey = errors.New("неверный ключ или парольная фраза")
)

// IsKeyRelated сообщает, относится ли ошибка к фиксированному набору
// "ключевых" сбоев, после которых имеет смысл обновить ключи и повторить
// попытку ровно один раз.
func IsKeyRelated(err error) bool {
	return errors.Is(err, ErrUnknownSigner) ||
		errors.Is(err, ErrOuterSignature) ||
		errors.Is(err, ErrInnerSignature) ||
		errors.Is(err, ErrSignerNotInner)
}

// ICryptoEngine определяет модульный интерфейс криптографического движка.
// Ядро никогда не реализует криптографию само - только оркестрирует вызовы.
// Каждый вызов независим: движок не гарантирует FIFO между параллельными
// вызовами, поэтому корреляция "запрос-ответ" выполняется по месту вызова
// (в Go - синхронный вызов в своей горутине), а не по порядку постановки.
type ICryptoEngine interface {
	// Generate создает новую запертую пару ключей для пользователя.
	Generate(ctx context.Context, userID, mainPass, subPass string) (PrivateKeyMaterial, error)

	// ExportPublicKeys извлекает публичную часть из приватного материала.
	ExportPublicKeys(priv PrivateKeyMaterial) (*PublicKeyMaterial, error)

	// Sign создает подписанное сообщение (подпись вместе с данными).
	Sign(ctx context.Context, priv PrivateKeyMaterial, pass string, payload []byte) (string, error)

	// SignDetached создает отсоединенную подпись над данными.
	SignDetached(ctx context.Context, priv PrivateKeyMaterial, pass string, payload []byte) (string, error)

	// Encrypt шифрует payload всем получателям и подписывает ключом отправителя.
	// Возвращает armored-шифротекст.
	Encrypt(ctx context.Context, priv PrivateKeyMaterial, pass string, recipientPubs []string, payload []byte) (string, error)

	// EncryptBinary - двоичный вариант Encrypt (файловые вложения).
	EncryptBinary(ctx context.Context, priv PrivateKeyMaterial, pass string, recipientPubs []string, payload []byte) ([]byte, error)

	// Decrypt расшифровывает armored-шифротекст и атрибутирует подписанта
	// среди известных публичных ключей (отпечаток -> armored-ключ).
	Decrypt(ctx context.Context, priv PrivateKeyMaterial, pass string, knownPubsByFingerprint map[string]string, ciphertext string) (*DecryptResult, error)

	// DecryptBinary - двоичный вариант Decrypt.
	DecryptBinary(ctx context.Context, priv PrivateKeyMaterial, pass string, knownPubsByFingerprint map[string]string, ciphertext []byte) (*DecryptResult, error)

	// VerifyDetached проверяет отсоединенную подпись публичным ключом.
	VerifyDetached(ctx context.Context, pub string, signature string, data []byte) (bool, error)
}

// EngineError оборачивает ошибку движка вместе с идентификатором вызова,
// чтобы в логах запрос и ответ сопоставлялись явно.
type EngineError struct {
	RequestID string
	Op        string
	Err       error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("движок [%s] операция %s: %v", e.RequestID, e.Op, e.Err)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}
