// Путь: internal/mesh/webrtc_link.go
package mesh

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/pion/webrtc/v4"
)

const dataChannelLabel = "whispermesh-data"

// WebRTCConfig - настройки боевой фабрики линков.
type WebRTCConfig struct {
	STUNServerURL string
}

// DefaultWebRTCConfig возвращает настройки по умолчанию: один STUN-сервер,
// без TURN (обход NAT сверх ICE - вне зоны ответственности ядра).
func DefaultWebRTCConfig() WebRTCConfig {
	return WebRTCConfig{STUNServerURL: "stun:stun.l.google.com:19302"}
}

// webrtcLinkFactory - реализация ILinkFactory поверх pion/webrtc.
// ICE без trickle: offer/answer отдаются после полного сбора кандидатов,
// поэтому сигнализации достаточно одной пары сообщений на соединение.
type webrtcLinkFactory struct {
	config webrtc.Configuration
}

// NewWebRTCLinkFactory - конструктор боевой фабрики.
func NewWebRTCLinkFactory(cfg WebRTCConfig) ILinkFactory {
	return &webrtcLinkFactory{
		config: webrtc.Configuration{
			ICEServers: []webrtc.ICEServer{{URLs: []string{cfg.STUNServerURL}}},
		},
	}
}

func (f *webrtcLinkFactory) CreateOffer(ctx context.Context, remoteID string) (IOfferHandle, error) {
	pc, err := webrtc.NewPeerConnection(f.config)
	if err != nil {
		return nil, fmt.Errorf("не удалось создать PeerConnection: %w", err)
	}

	ordered := true
	dc, err := pc.CreateDataChannel(dataChannelLabel, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("не удалось создать data-канал: %w", err)
	}

	link := newWebRTCLink(remoteID, pc)
	link.bindChannel(dc)

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		pc.Close()
		return nil, err
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		pc.Close()
		return nil, err
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		pc.Close()
		return nil, ctx.Err()
	}

	return &webrtcOfferHandle{link: link, pc: pc}, nil
}

func (f *webrtcLinkFactory) CreateAnswer(ctx context.Context, remoteID string, offerSDP string) (string, IPeerLink, error) {
	pc, err := webrtc.NewPeerConnection(f.config)
	if err != nil {
		return "", nil, fmt.Errorf("не удалось создать PeerConnection: %w", err)
	}

	link := newWebRTCLink(remoteID, pc)
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		link.bindChannel(dc)
	})

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}); err != nil {
		pc.Close()
		return "", nil, fmt.Errorf("offer не принят: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return "", nil, err
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		return "", nil, err
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		pc.Close()
		return "", nil, ctx.Err()
	}

	return pc.LocalDescription().SDP, link, nil
}

// webrtcOfferHandle - ожидающее answer соединение-инициатор.
type webrtcOfferHandle struct {
	link *webrtcLink
	pc   *webrtc.PeerConnection
}

func (h *webrtcOfferHandle) SDP() string {
	return h.pc.LocalDescription().SDP
}

func (h *webrtcOfferHandle) Accept(answerSDP string) (IPeerLink, error) {
	err := h.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answerSDP})
	if err != nil {
		return nil, fmt.Errorf("answer не принят: %w", err)
	}
	return h.link, nil
}

func (h *webrtcOfferHandle) Discard() {
	if err := h.pc.Close(); err != nil {
		log.Printf("WARN: [WebRTC] Ошибка закрытия брошенного соединения: %v", err)
	}
}

// webrtcLink - IPeerLink поверх pion. События канала могут прийти раньше,
// чем владелец подпишется, поэтому открытие и ранние сообщения буферизуются
// и доигрываются в SetHandlers.
type webrtcLink struct {
	remoteID string
	pc       *webrtc.PeerConnection

	mu        sync.Mutex
	dc        *webrtc.DataChannel
	opened    bool
	closed    bool
	pending   [][]byte
	onOpen    func()
	onMessage func([]byte)
	onClose   func()
}

func newWebRTCLink(remoteID string, pc *webrtc.PeerConnection) *webrtcLink {
	return &webrtcLink{remoteID: remoteID, pc: pc}
}

func (l *webrtcLink) bindChannel(dc *webrtc.DataChannel) {
	l.mu.Lock()
	l.dc = dc
	l.mu.Unlock()

	dc.OnOpen(func() {
		l.mu.Lock()
		l.opened = true
		handler := l.onOpen
		l.mu.Unlock()
		if handler != nil {
			handler()
		}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		l.mu.Lock()
		handler := l.onMessage
		if handler == nil {
			l.pending = append(l.pending, msg.Data)
		}
		l.mu.Unlock()
		if handler != nil {
			handler(msg.Data)
		}
	})
	dc.OnClose(func() {
		l.mu.Lock()
		l.closed = true
		handler := l.onClose
		l.mu.Unlock()
		if handler != nil {
			handler()
		}
	})
}

func (l *webrtcLink) RemoteID() string {
	return l.remoteID
}

func (l *webrtcLink) Send(data []byte) error {
	l.mu.Lock()
	dc, opened, closed := l.dc, l.opened, l.closed
	l.mu.Unlock()

	if dc == nil || !opened || closed {
		return fmt.Errorf("data-канал с %s не открыт", l.remoteID)
	}
	return dc.Send(data)
}

func (l *webrtcLink) Close() error {
	return l.pc.Close()
}

func (l *webrtcLink) SetHandlers(onOpen func(), onMessage func([]byte), onClose func()) {
	l.mu.Lock()
	l.onOpen = onOpen
	l.onMessage = onMessage
	l.onClose = onClose
	replayOpen := l.opened && onOpen != nil
	replayClose := l.closed && onClose != nil
	pending := l.pending
	l.pending = nil
	l.mu.Unlock()

	// Доигрываем события, случившиеся до подписки.
	if replayOpen {
		onOpen()
	}
	if onMessage != nil {
		for _, data := range pending {
			onMessage(data)
		}
	}
	if replayClose {
		onClose()
	}
}
