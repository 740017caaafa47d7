// Путь: internal/mesh/link.go
package mesh

import "context"

// IPeerLink - один двусторонний канал данных с пиром. Реализация обязана
// доставлять сообщения упорядоченно и надежно (в пределах одного пира);
// глобального порядка между пирами нет.
type IPeerLink interface {
	// RemoteID возвращает личность пира на другом конце.
	RemoteID() string

	// Send отправляет сырые байты. Ошибка, если канал еще/уже не открыт.
	Send(data []byte) error

	// Close безусловно освобождает локальные ресурсы соединения.
	Close() error

	// SetHandlers подписывает владельца на события канала. Если канал
	// успел открыться (или принять сообщения) до подписки, события
	// доигрываются немедленно.
	SetHandlers(onOpen func(), onMessage func(data []byte), onClose func())
}

// IOfferHandle - соединение-инициатор с уже собранным offer, ожидающее
// answer от пира.
type IOfferHandle interface {
	// SDP возвращает offer для передачи пиру (напрямую или через relay).
	SDP() string

	// Accept применяет answer пира. Возвращенный линк откроется
	// асинхронно (событие onOpen).
	Accept(answerSDP string) (IPeerLink, error)

	// Discard бросает незавершенное соединение и освобождает ресурсы.
	Discard()
}

// ILinkFactory отделяет машину состояний сессии от транспорта.
// Боевая реализация - WebRTC (пакет webrtc_link.go); тесты используют
// парные in-memory линки.
type ILinkFactory interface {
	// CreateOffer начинает установление соединения с пиром: собирает
	// ICE-кандидатов и возвращает готовый offer.
	CreateOffer(ctx context.Context, remoteID string) (IOfferHandle, error)

	// CreateAnswer отвечает на чужой offer. Возвращает answer для
	// обратной доставки и линк, который откроется асинхронно.
	CreateAnswer(ctx context.Context, remoteID string, offerSDP string) (answerSDP string, link IPeerLink, err error)
}
