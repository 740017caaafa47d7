// Путь: internal/core/events.go
package core

import (
	"fmt"
	"sync"
	"time"
)

// EventType определяет тип события
type EventType string

const (
	// События конвейера расшифровки
	EventTypeRecordDecrypted EventType = "RecordDecrypted"
	EventTypeKeyWarning      EventType = "KeyWarning"

	// События real-time сессий
	EventTypeSessionInvite  EventType = "SessionInvite"
	EventTypeSessionMessage EventType = "SessionMessage"
	EventTypePeerJoined     EventType = "PeerJoined"
	EventTypePeerLeft       EventType = "PeerLeft"
)

// Event представляет событие, которое будет отправлено клиенту
type Event struct {
	Type      EventType   `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp int64       `json:"timestamp"` // Unix timestamp
}

// RecordDecryptedPayload содержит готовую проекцию записи треда
type RecordDecryptedPayload struct {
	RecordID  string `json:"recordID"`
	ThreadRef string `json:"threadRef"`
	SenderID  string `json:"senderID"`
	Content   string `json:"content"`
	Failed    bool   `json:"failed"`
}

// KeyWarningPayload содержит данные о смене ключей контакта
type KeyWarningPayload struct {
	Identity    string `json:"identity"`
	DisplayName string `json:"displayName"`
}

// SessionInvitePayload содержит данные приглашения в real-time сессию
type SessionInvitePayload struct {
	SessionID string `json:"sessionID"`
	ChatID    string `json:"chatID"`
	Name      string `json:"name"`
	CreatorID string `json:"creatorID"`
}

// SessionMessagePayload содержит сообщение real-time сессии
type SessionMessagePayload struct {
	SessionID string `json:"sessionID"`
	From      string `json:"from"`
	Text      string `json:"text"`
}

// PeerEventPayload содержит данные о событии пира
type PeerEventPayload struct {
	PeerID string `json:"peerID"`
}

// EventManager управляет очередью событий
type EventManager struct {
	eventQueue chan Event
	mu         sync.RWMutex
	running    bool
}

// NewEventManager создает новый менеджер событий
func NewEventManager(queueSize int) *EventManager {
	return &EventManager{
		eventQueue: make(chan Event, queueSize),
		running:    true,
	}
}

// PushEvent добавляет событие в очередь
func (em *EventManager) PushEvent(event Event) error {
	em.mu.RLock()
	defer em.mu.RUnlock()

	if !em.running {
		return fmt.Errorf("EventManager остановлен")
	}

	// Устанавливаем timestamp если не задан
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().Unix()
	}

	select {
	case em.eventQueue <- event:
		return nil
	default:
		return fmt.Errorf("очередь событий переполнена")
	}
}

// GetNextEvent блокирующе получает следующее событие из очереди
func (em *EventManager) GetNextEvent() (Event, error) {
	em.mu.RLock()
	if !em.running {
		em.mu.RUnlock()
		return Event{}, fmt.Errorf("EventManager остановлен")
	}
	em.mu.RUnlock()

	select {
	case event, ok := <-em.eventQueue:
		if !ok {
			// Stop() закрыл канал, пока мы ждали
			return Event{}, fmt.Errorf("EventManager остановлен")
		}
		return event, nil
	case <-time.After(30 * time.Second): // Таймаут для предотвращения бесконечного ожидания
		return Event{}, fmt.Errorf("таймаут ожидания события")
	}
}

// Stop останавливает EventManager
func (em *EventManager) Stop() {
	em.mu.Lock()
	defer em.mu.Unlock()

	if em.running {
		em.running = false
		close(em.eventQueue)
	}
}

// IsRunning проверяет, работает ли EventManager
func (em *EventManager) IsRunning() bool {
	em.mu.RLock()
	defer em.mu.RUnlock()
	return em.running
}

// QueueSize возвращает текущий размер очереди
func (em *EventManager) QueueSize() int {
	return len(em.eventQueue)
}

// Вспомогательные функции для создания событий

// RecordDecryptedEvent создает событие готовой проекции записи
func RecordDecryptedEvent(recordID, threadRef, senderID, content string, failed bool) Event {
	return Event{
		Type: EventTypeRecordDecrypted,
		Payload: RecordDecryptedPayload{
			RecordID:  recordID,
			ThreadRef: threadRef,
			SenderID:  senderID,
			Content:   content,
			Failed:    failed,
		},
		Timestamp: time.Now().Unix(),
	}
}

// KeyWarningEvent создает событие предупреждения о смене ключей
func KeyWarningEvent(identity, displayName string) Event {
	return Event{
		Type: EventTypeKeyWarning,
		Payload: KeyWarningPayload{
			Identity:    identity,
			DisplayName: displayName,
		},
		Timestamp: time.Now().Unix(),
	}
}

// SessionInviteEvent создает событие приглашения в real-time сессию
func SessionInviteEvent(sessionID, chatID, name, creatorID string) Event {
	return Event{
		Type: EventTypeSessionInvite,
		Payload: SessionInvitePayload{
			SessionID: sessionID,
			ChatID:    chatID,
			Name:      name,
			CreatorID: creatorID,
		},
		Timestamp: time.Now().Unix(),
	}
}

// SessionMessageEvent создает событие сообщения real-time сессии
func SessionMessageEvent(sessionID, from, text string) Event {
	return Event{
		Type: EventTypeSessionMessage,
		Payload: SessionMessagePayload{
			SessionID: sessionID,
			From:      from,
			Text:      text,
		},
		Timestamp: time.Now().Unix(),
	}
}

// PeerJoinedEvent создает событие присоединения пира к сессии
func PeerJoinedEvent(peerID string) Event {
	return Event{
		Type: EventTypePeerJoined,
		Payload: PeerEventPayload{
			PeerID: peerID,
		},
		Timestamp: time.Now().Unix(),
	}
}

// PeerLeftEvent создает событие ухода пира из сессии
func PeerLeftEvent(peerID string) Event {
	return Event{
		Type: EventTypePeerLeft,
		Payload: PeerEventPayload{
			PeerID: peerID,
		},
		Timestamp: time.Now().Unix(),
	}
}
