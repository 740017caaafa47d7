// Путь: internal/pipeline/sender_test.go
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"WhisperMesh/internal/trust"
	"WhisperMesh/pkg/interfaces"
)

// captureTransport запоминает отправленные шифротексты.
type captureTransport struct {
	mu   sync.Mutex
	sent []string
}

func (t *captureTransport) Send(_ context.Context, _ string, ciphertext string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, ciphertext)
	return fmt.Sprintf("rec-%d", len(t.sent)), nil
}

func (t *captureTransport) List(context.Context, string, interfaces.ListRange) ([]interfaces.EncryptedRecord, error) {
	return nil, nil
}

func newTestSender(t *testing.T) (*MessageSender, *captureTransport, *pipeDirectory) {
	t.Helper()
	directory := newPipeDirectory()
	resolver := trust.NewKeyResolver(trust.NewKeyStore(nil), directory, nil)
	transport := &captureTransport{}
	sender := NewMessageSender(newFakeEngine(), resolver, transport)
	if err := sender.SetIdentityMaterial("priv-me", "pass"); err != nil {
		t.Fatalf("Материал не установился: %v", err)
	}
	return sender, transport, directory
}

// TestSendTextEncryptsForThread: текст шифруется и уходит в транспорт.
func TestSendTextEncryptsForThread(t *testing.T) {
	sender, transport, directory := newTestSender(t)
	directory.put("bob", "FB")
	sender.RegisterThread("thread-1", []string{"bob"})

	recordID, err := sender.SendText(context.Background(), "thread-1", "привет")
	if err != nil {
		t.Fatalf("SendText упал: %v", err)
	}
	if recordID == "" {
		t.Error("Пустой ID записи")
	}

	transport.mu.Lock()
	defer transport.mu.Unlock()
	if len(transport.sent) != 1 {
		t.Fatalf("Транспорт получил %d записей вместо 1", len(transport.sent))
	}
	if !strings.HasSuffix(transport.sent[0], "|привет") {
		t.Errorf("Шифротекст не несет плейнтекст тестового движка: %q", transport.sent[0])
	}
	t.Logf("✅ Текст зашифрован и отправлен: %s", recordID)
}

// TestSendControlCarriesPrefix: управляющая нагрузка уходит с
// распознаваемым префиксом.
func TestSendControlCarriesPrefix(t *testing.T) {
	sender, transport, directory := newTestSender(t)
	directory.put("bob", "FB")
	sender.RegisterThread("thread-1", []string{"bob"})

	payload := []byte("сигнализация")
	if err := sender.SendControl(context.Background(), "thread-1", payload); err != nil {
		t.Fatalf("SendControl упал: %v", err)
	}

	transport.mu.Lock()
	ciphertext := transport.sent[0]
	transport.mu.Unlock()

	// Тестовый движок прозрачен: плейнтекст лежит после второго "|".
	parts := strings.SplitN(ciphertext, "|", 3)
	parsed, err := ParsePlaintext([]byte(parts[2]))
	if err != nil {
		t.Fatalf("Плейнтекст не разобрался: %v", err)
	}
	if parsed.Kind != PlainControl || !bytes.Equal(parsed.Control, payload) {
		t.Errorf("Управляющая нагрузка исказилась: %+v", parsed)
	}
	t.Logf("✅ Управляющее сообщение несет префикс и нагрузку")
}

// TestSendFileEncodesMetadata: файловые метаданные проходят круг
// "отправитель -> разбор конвейером".
func TestSendFileEncodesMetadata(t *testing.T) {
	sender, transport, directory := newTestSender(t)
	directory.put("bob", "FB")
	sender.RegisterThread("thread-1", []string{"bob"})

	meta := &FileMetadata{Name: "фото.png", MimeType: "image/png", Size: 42, FileRef: "f1"}
	if _, err := sender.SendFile(context.Background(), "thread-1", meta); err != nil {
		t.Fatalf("SendFile упал: %v", err)
	}

	transport.mu.Lock()
	ciphertext := transport.sent[0]
	transport.mu.Unlock()
	parts := strings.SplitN(ciphertext, "|", 3)
	parsed, err := ParsePlaintext([]byte(parts[2]))
	if err != nil {
		t.Fatalf("Плейнтекст не разобрался: %v", err)
	}
	if parsed.Kind != PlainFile || *parsed.File != *meta {
		t.Errorf("Метаданные исказились: %+v", parsed.File)
	}
	t.Logf("✅ Файловые метаданные проходят круг")
}

// TestSendRequiresKnownThreadAndKeys: незарегистрированный тред и
// неизвестный получатель дают ошибки.
func TestSendRequiresKnownThreadAndKeys(t *testing.T) {
	sender, _, _ := newTestSender(t)

	if _, err := sender.SendText(context.Background(), "чужой тред", "x"); err == nil {
		t.Error("Отправка в незарегистрированный тред должна падать")
	}

	sender.RegisterThread("thread-1", []string{"ghost"})
	_, err := sender.SendText(context.Background(), "thread-1", "x")
	if !errors.Is(err, interfaces.ErrIdentityNotFound) {
		t.Errorf("Ожидалась ErrIdentityNotFound, получили: %v", err)
	}
	t.Logf("✅ Ошибки отправителя типизированы")
}
