// Путь: internal/core/events_test.go
package core

import (
	"testing"
	"time"
)

// TestEventManagerPushAndGet: событие проходит очередь без искажений.
func TestEventManagerPushAndGet(t *testing.T) {
	em := NewEventManager(4)
	defer em.Stop()

	if err := em.PushEvent(RecordDecryptedEvent("r1", "t1", "alice", "привет", false)); err != nil {
		t.Fatalf("PushEvent упал: %v", err)
	}
	if em.QueueSize() != 1 {
		t.Errorf("Размер очереди %d вместо 1", em.QueueSize())
	}

	event, err := em.GetNextEvent()
	if err != nil {
		t.Fatalf("GetNextEvent упал: %v", err)
	}
	if event.Type != EventTypeRecordDecrypted {
		t.Errorf("Тип события исказился: %s", event.Type)
	}
	payload, ok := event.Payload.(RecordDecryptedPayload)
	if !ok || payload.Content != "привет" || payload.SenderID != "alice" {
		t.Errorf("Нагрузка исказилась: %+v", event.Payload)
	}
	t.Logf("✅ Событие прошло очередь без искажений")
}

// TestEventManagerStopUnblocksWaiter: Stop во время ожидания возвращает
// ошибку, а не нулевое событие с err == nil.
func TestEventManagerStopUnblocksWaiter(t *testing.T) {
	em := NewEventManager(1)

	done := make(chan error, 1)
	go func() {
		_, err := em.GetNextEvent()
		done <- err
	}()

	// Даем горутине заблокироваться на пустой очереди.
	time.Sleep(50 * time.Millisecond)
	em.Stop()

	select {
	case err := <-done:
		if err == nil {
			t.Error("Ожидание на остановленном менеджере обязано вернуть ошибку")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("GetNextEvent не разблокировался после Stop")
	}
	t.Logf("✅ Stop разблокирует ожидание с ошибкой")
}

// TestEventManagerRejectsAfterStop: после остановки Push и Get дают ошибки.
func TestEventManagerRejectsAfterStop(t *testing.T) {
	em := NewEventManager(1)
	em.Stop()

	if em.IsRunning() {
		t.Error("Менеджер считает себя работающим после Stop")
	}
	if err := em.PushEvent(KeyWarningEvent("alice", "AB12")); err == nil {
		t.Error("PushEvent после Stop обязан падать")
	}
	if _, err := em.GetNextEvent(); err == nil {
		t.Error("GetNextEvent после Stop обязан падать")
	}
	// Повторный Stop не паникует.
	em.Stop()
	t.Logf("✅ Остановленный менеджер отвергает операции")
}
