// Путь: internal/pipeline/sender.go
package pipeline

import (
	"context"
	"fmt"
	"log"
	"sync"

	"WhisperMesh/internal/encryption"
	"WhisperMesh/internal/trust"
	"WhisperMesh/pkg/interfaces"
)

// IMessageSender - отправляющая половина store-and-forward канала:
// шифрует контент всем участникам треда и кладет его в транспорт.
type IMessageSender interface {
	// RegisterThread сообщает отправителю состав участников треда.
	RegisterThread(threadRef string, members []string)

	// SendText шифрует и отправляет обычное текстовое сообщение.
	SendText(ctx context.Context, threadRef string, text string) (recordID string, err error)

	// SendFile шифрует и отправляет файловые метаданные. Тело файла
	// загружается на файловый сервис вне ядра; сюда приходит готовый fileRef.
	SendFile(ctx context.Context, threadRef string, meta *FileMetadata) (recordID string, err error)

	// SendControl шифрует управляющую нагрузку с распознаваемым префиксом
	// и отправляет ее в тред. Реализует mesh.IControlSender.
	SendControl(ctx context.Context, threadRef string, payload []byte) error
}

// MessageSender - конкретная реализация IMessageSender.
type MessageSender struct {
	engine    encryption.ICryptoEngine
	resolver  *trust.KeyResolver
	transport interfaces.IMessageTransport

	mu      sync.Mutex
	priv    encryption.PrivateKeyMaterial
	pass    string
	selfPub string
	threads map[string][]string // threadRef -> участники
}

// NewMessageSender - конструктор.
func NewMessageSender(engine encryption.ICryptoEngine, resolver *trust.KeyResolver, transport interfaces.IMessageTransport) *MessageSender {
	return &MessageSender{
		engine:    engine,
		resolver:  resolver,
		transport: transport,
		threads:   make(map[string][]string),
	}
}

// SetIdentityMaterial задает приватный материал текущего пользователя.
// Собственный публичный ключ попадает в список получателей, чтобы
// отправитель мог читать свои же сообщения.
func (s *MessageSender) SetIdentityMaterial(priv encryption.PrivateKeyMaterial, pass string) error {
	pub, err := s.engine.ExportPublicKeys(priv)
	if err != nil {
		return fmt.Errorf("публичная часть ключа не экспортирована: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.priv = priv
	s.pass = pass
	s.selfPub = pub.Armored
	return nil
}

func (s *MessageSender) RegisterThread(threadRef string, members []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads[threadRef] = append([]string(nil), members...)
}

func (s *MessageSender) SendText(ctx context.Context, threadRef string, text string) (string, error) {
	return s.sendPlain(ctx, threadRef, []byte(text))
}

func (s *MessageSender) SendFile(ctx context.Context, threadRef string, meta *FileMetadata) (string, error) {
	plain, err := EncodeFilePlaintext(meta)
	if err != nil {
		return "", err
	}
	return s.sendPlain(ctx, threadRef, plain)
}

func (s *MessageSender) SendControl(ctx context.Context, threadRef string, payload []byte) error {
	if _, err := s.sendPlain(ctx, threadRef, EncodeControlPlaintext(payload)); err != nil {
		return err
	}
	return nil
}

// sendPlain шифрует плейнтекст всем участникам треда и отправляет запись.
func (s *MessageSender) sendPlain(ctx context.Context, threadRef string, plain []byte) (string, error) {
	s.mu.Lock()
	members := append([]string(nil), s.threads[threadRef]...)
	priv, pass, selfPub := s.priv, s.pass, s.selfPub
	s.mu.Unlock()

	if len(members) == 0 {
		return "", fmt.Errorf("тред %s не зарегистрирован у отправителя", threadRef)
	}
	if priv == "" {
		return "", fmt.Errorf("приватный материал пользователя не задан")
	}

	recipients := make([]string, 0, len(members)+1)
	if selfPub != "" {
		recipients = append(recipients, selfPub)
	}
	for _, member := range members {
		record, err := s.resolver.ResolveKeys(ctx, member)
		if err != nil {
			return "", fmt.Errorf("ключи получателя %s недоступны: %w", member, err)
		}
		recipients = append(recipients, record.EncryptionPublicKey)
	}

	ciphertext, err := s.engine.Encrypt(ctx, priv, pass, recipients, plain)
	if err != nil {
		return "", fmt.Errorf("не удалось зашифровать сообщение: %w", err)
	}

	recordID, err := s.transport.Send(ctx, threadRef, ciphertext)
	if err != nil {
		return "", fmt.Errorf("транспорт не принял запись: %w", err)
	}

	log.Printf("DEBUG: [Sender] Запись %s отправлена в тред %s (%d получателей)", recordID, threadRef, len(recipients))
	return recordID, nil
}
