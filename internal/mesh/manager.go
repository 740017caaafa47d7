// Путь: internal/mesh/manager.go
package mesh

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"WhisperMesh/internal/encryption"

	"github.com/google/uuid"
)

// signalTimeout ограничивает каждую асинхронную операцию сигнализации,
// запускаемую из обработчиков событий канала.
const signalTimeout = 30 * time.Second

// PeerState - состояние пира в сессии. Карты пиров держатся в lock-step:
// пир находится ровно в одном из состояний.
type PeerState string

const (
	PeerPending   PeerState = "pending"   // offer отправлен, answer нет
	PeerConnected PeerState = "connected" // data-канал открыт, ключ обменян
	PeerLeft      PeerState = "left"      // явный leave или закрытие канала
)

// RealtimeMessage - доставленное (или отправленное) сообщение real-time сессии.
type RealtimeMessage struct {
	SessionID string
	From      string
	Text      string
	SentAt    time.Time
}

// IControlSender доставляет сигнальную нагрузку через store-and-forward
// канал чата (начальные связи создатель<->участник). Реализация шифрует
// нагрузку и кладет ее в тред; конвейер получателя отдает ее сборщику.
type IControlSender interface {
	SendControl(ctx context.Context, chatID string, payload []byte) error
}

// Callbacks - уведомления сессии наверх, в UI-слой.
type Callbacks struct {
	OnInvite    func(invite MeshInvite)
	OnMessage   func(msg RealtimeMessage)
	OnPeerJoin  func(peerID string)
	OnPeerLeave func(peerID string)
}

// RealtimeSession - состояние одной эфемерной real-time сессии.
// Эфемерная тройка ключей живет только в памяти, никогда не персистится
// и не переиспользуется между сессиями.
type RealtimeSession struct {
	SessionID string
	ChatID    string
	Name      string
	CreatorID string
	SelfID    string
	IsCreator bool

	priv        encryption.PrivateKeyMaterial
	pub         string
	fingerprint string
	passphrase  string

	pendingOffers map[string]IOfferHandle // offer отправлен, ждем answer
	pendingLinks  map[string]IPeerLink    // answer отдан, ждем открытия канала
	connected     map[string]IPeerLink
	left          map[string]bool
	peerKeys      map[string]*KeyExchange // пир -> его эфемерный публичный ключ
	joined        map[string]bool         // OnPeerJoin уже отправлен
}

func (s *RealtimeSession) stateOf(peerID string) PeerState {
	if s.left[peerID] {
		return PeerLeft
	}
	if _, ok := s.connected[peerID]; ok {
		return PeerConnected
	}
	return PeerPending
}

// IMeshSessionManager управляет эфемерными групповыми real-time сессиями
// поверх звездной relay-топологии с корнем в создателе сессии.
type IMeshSessionManager interface {
	// Start создает сессию и рассылает приглашения с offer'ами участникам.
	Start(ctx context.Context, chatID, name string, memberIDs []string) (sessionID string, err error)

	// Join принимает ранее полученное приглашение.
	Join(ctx context.Context, sessionID string) error

	// Leave вежливо покидает сессию: leave всем, затем закрытие соединений.
	Leave(sessionID string) error

	// Destroy - teardown при смерти владеющего UI-контекста: рассылка
	// leave по возможности, локальное освобождение - безусловно.
	Destroy()

	// SendMessage шифрует текст всем известным эфемерным ключам пиров и
	// рассылает по открытым каналам. Возвращает nil, если отправлять
	// пока некому (ни один пир не обменялся ключом).
	SendMessage(ctx context.Context, text string) (*RealtimeMessage, error)

	// PeerStates возвращает снимок состояний всех известных сессии пиров
	// (UI показывает по нему, кто подключен, кто ждет answer, кто ушел).
	PeerStates() map[string]PeerState

	// HandleControl - сборщик управляющих сообщений из конвейера
	// расшифровки (сигнализация через store-and-forward канал).
	HandleControl(senderID string, payload []byte)
}

// MeshSessionManager - конкретная реализация IMeshSessionManager.
type MeshSessionManager struct {
	engine  encryption.ICryptoEngine
	links   ILinkFactory
	control IControlSender
	selfID  string
	cb      Callbacks

	mu      sync.Mutex
	session *RealtimeSession
	invites map[string]*MeshInvite
}

// NewMeshSessionManager - конструктор.
func NewMeshSessionManager(engine encryption.ICryptoEngine, links ILinkFactory, control IControlSender, selfID string, cb Callbacks) *MeshSessionManager {
	return &MeshSessionManager{
		engine:  engine,
		links:   links,
		control: control,
		selfID:  selfID,
		cb:      cb,
		invites: make(map[string]*MeshInvite),
	}
}

// ================================================================= //
//                      ПУБЛИЧНЫЕ МЕТОДЫ (API для UI)                //
// ================================================================= //

func (m *MeshSessionManager) Start(ctx context.Context, chatID, name string, memberIDs []string) (string, error) {
	m.mu.Lock()
	if m.session != nil {
		m.mu.Unlock()
		return "", fmt.Errorf("real-time сессия уже активна: %s", m.session.SessionID)
	}
	m.mu.Unlock()

	sessionID := uuid.NewString()
	session, err := m.newSession(ctx, sessionID, chatID, name, m.selfID, true)
	if err != nil {
		return "", err
	}

	// Создатель - единственный, чьи связи со всеми гарантированы:
	// один прямой offer на каждого приглашенного.
	for _, member := range memberIDs {
		if member == m.selfID {
			continue
		}
		handle, err := m.links.CreateOffer(ctx, member)
		if err != nil {
			log.Printf("WARN: [MeshSession] Offer для %s не создан: %v", member, err)
			continue
		}
		session.pendingOffers[member] = handle

		payload, err := EncodeControl(&ControlMessage{
			Type: CtrlMeshInvite,
			Invite: &MeshInvite{
				SessionID: sessionID,
				ChatID:    chatID,
				Name:      name,
				CreatorID: m.selfID,
				ToUserID:  member,
				OfferSDP:  handle.SDP(),
			},
		})
		if err != nil {
			handle.Discard()
			delete(session.pendingOffers, member)
			continue
		}
		if err := m.control.SendControl(ctx, chatID, payload); err != nil {
			log.Printf("WARN: [MeshSession] Приглашение для %s не доставлено: %v", member, err)
		}
	}

	m.mu.Lock()
	m.session = session
	m.mu.Unlock()

	log.Printf("INFO: [MeshSession] Сессия %s создана (%d приглашений)", sessionID, len(session.pendingOffers))
	return sessionID, nil
}

func (m *MeshSessionManager) Join(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	invite, ok := m.invites[sessionID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("приглашение в сессию %s не найдено", sessionID)
	}
	if m.session != nil {
		m.mu.Unlock()
		return fmt.Errorf("real-time сессия уже активна: %s", m.session.SessionID)
	}
	delete(m.invites, sessionID)
	m.mu.Unlock()

	session, err := m.newSession(ctx, sessionID, invite.ChatID, invite.Name, invite.CreatorID, false)
	if err != nil {
		return err
	}

	answerSDP, link, err := m.links.CreateAnswer(ctx, invite.CreatorID, invite.OfferSDP)
	if err != nil {
		return fmt.Errorf("не удалось ответить на offer создателя: %w", err)
	}
	session.pendingLinks[invite.CreatorID] = link

	m.mu.Lock()
	m.session = session
	m.mu.Unlock()

	m.watchLink(invite.CreatorID, link)

	payload, err := EncodeControl(&ControlMessage{
		Type: CtrlMeshAnswer,
		Answer: &MeshAnswer{
			SessionID:  sessionID,
			FromUserID: m.selfID,
			AnswerSDP:  answerSDP,
		},
	})
	if err != nil {
		return err
	}
	if err := m.control.SendControl(ctx, invite.ChatID, payload); err != nil {
		return fmt.Errorf("answer создателю не доставлен: %w", err)
	}

	log.Printf("INFO: [MeshSession] Присоединяемся к сессии %s (создатель %s)", sessionID, invite.CreatorID)
	return nil
}

func (m *MeshSessionManager) Leave(sessionID string) error {
	m.mu.Lock()
	session := m.session
	if session == nil || session.SessionID != sessionID {
		m.mu.Unlock()
		return fmt.Errorf("сессия %s не активна", sessionID)
	}
	m.session = nil
	m.mu.Unlock()

	m.teardown(session)
	return nil
}

func (m *MeshSessionManager) Destroy() {
	m.mu.Lock()
	session := m.session
	m.session = nil
	m.invites = make(map[string]*MeshInvite)
	m.mu.Unlock()

	if session != nil {
		m.teardown(session)
	}
}

func (m *MeshSessionManager) SendMessage(ctx context.Context, text string) (*RealtimeMessage, error) {
	m.mu.Lock()
	session := m.session
	if session == nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("нет активной real-time сессии")
	}
	recipients := make([]string, 0, len(session.peerKeys))
	for _, kx := range session.peerKeys {
		recipients = append(recipients, kx.PublicKey)
	}
	links := make([]IPeerLink, 0, len(session.connected))
	for _, link := range session.connected {
		links = append(links, link)
	}
	priv, pass := session.priv, session.passphrase
	sessionID := session.SessionID
	m.mu.Unlock()

	if len(recipients) == 0 {
		// Ни один пир еще не обменялся ключом: UI трактует как "pending".
		log.Printf("INFO: [MeshSession] Сообщение отложено: нет ни одного эфемерного ключа пира")
		return nil, nil
	}

	ciphertext, err := m.engine.Encrypt(ctx, priv, pass, recipients, []byte(text))
	if err != nil {
		return nil, fmt.Errorf("не удалось зашифровать сообщение сессии: %w", err)
	}

	msg := &RealtimeMessage{
		SessionID: sessionID,
		From:      m.selfID,
		Text:      text,
		SentAt:    time.Now(),
	}
	raw, err := EncodeEnvelope(&Envelope{
		Type: TypeChat,
		Chat: &Chat{From: m.selfID, Body: ciphertext, SentAt: msg.SentAt},
	})
	if err != nil {
		return nil, err
	}

	// Без персистентности и повторной доставки: пир без открытого канала
	// это сообщение просто не получит.
	for _, link := range links {
		if err := link.Send(raw); err != nil {
			log.Printf("WARN: [MeshSession] Отправка %s не удалась: %v", link.RemoteID(), err)
		}
	}
	return msg, nil
}

func (m *MeshSessionManager) PeerStates() map[string]PeerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	session := m.session
	if session == nil {
		return nil
	}

	states := make(map[string]PeerState)
	for peerID := range session.pendingOffers {
		states[peerID] = session.stateOf(peerID)
	}
	for peerID := range session.pendingLinks {
		states[peerID] = session.stateOf(peerID)
	}
	for peerID := range session.connected {
		states[peerID] = session.stateOf(peerID)
	}
	for peerID := range session.left {
		states[peerID] = session.stateOf(peerID)
	}
	return states
}

// ================================================================= //
//              ОБРАБОТЧИКИ СИГНАЛИЗАЦИИ (store-and-forward)          //
// ================================================================= //

func (m *MeshSessionManager) HandleControl(senderID string, payload []byte) {
	msg, err := DecodeControl(payload)
	if err != nil {
		log.Printf("WARN: [MeshSession] Управляющее сообщение от %s не разобрано: %v", senderID, err)
		return
	}

	switch msg.Type {
	case CtrlMeshInvite:
		m.handleInvite(senderID, msg.Invite)
	case CtrlMeshAnswer:
		m.handleAnswer(senderID, msg.Answer)
	}
}

func (m *MeshSessionManager) handleInvite(senderID string, invite *MeshInvite) {
	if invite.ToUserID != m.selfID {
		return // приглашение адресовано другому участнику треда
	}
	if invite.CreatorID != senderID {
		log.Printf("WARN: [MeshSession] Приглашение от %s выдает себя за %s, игнорируем", senderID, invite.CreatorID)
		return
	}

	m.mu.Lock()
	m.invites[invite.SessionID] = invite
	m.mu.Unlock()

	log.Printf("INFO: [MeshSession] Получено приглашение в сессию %s от %s", invite.SessionID, senderID)
	if m.cb.OnInvite != nil {
		m.cb.OnInvite(*invite)
	}
}

func (m *MeshSessionManager) handleAnswer(senderID string, answer *MeshAnswer) {
	if answer.FromUserID != senderID {
		log.Printf("WARN: [MeshSession] Answer от %s выдает себя за %s, игнорируем", senderID, answer.FromUserID)
		return
	}

	m.mu.Lock()
	session := m.session
	if session == nil || !session.IsCreator || session.SessionID != answer.SessionID {
		m.mu.Unlock()
		log.Printf("DEBUG: [MeshSession] Answer для неактивной сессии %s, игнорируем", answer.SessionID)
		return
	}
	handle, ok := session.pendingOffers[senderID]
	m.mu.Unlock()
	if !ok {
		log.Printf("DEBUG: [MeshSession] Answer от %s без ожидающего offer, игнорируем", senderID)
		return
	}

	link, err := handle.Accept(answer.AnswerSDP)
	if err != nil {
		log.Printf("WARN: [MeshSession] Answer от %s не принят: %v", senderID, err)
		return
	}
	m.watchLink(senderID, link)
}

// ================================================================= //
//                ОБРАБОТЧИКИ СОБЫТИЙ DATA-КАНАЛОВ                    //
// ================================================================= //

// watchLink подписывает менеджер на события линка.
func (m *MeshSessionManager) watchLink(peerID string, link IPeerLink) {
	link.SetHandlers(
		func() { m.handleLinkOpen(peerID, link) },
		func(data []byte) { m.handleLinkData(peerID, data) },
		func() { m.handleLinkClosed(peerID) },
	)
}

// handleLinkOpen переводит пира pending -> connected и запускает обмен
// эфемерными ключами.
func (m *MeshSessionManager) handleLinkOpen(peerID string, link IPeerLink) {
	m.mu.Lock()
	session := m.session
	if session == nil || session.left[peerID] {
		m.mu.Unlock()
		link.Close()
		return
	}
	delete(session.pendingOffers, peerID)
	delete(session.pendingLinks, peerID)
	session.connected[peerID] = link

	isCreator := session.IsCreator
	others := make([]IPeerLink, 0, len(session.connected))
	for id, l := range session.connected {
		if id != peerID {
			others = append(others, l)
		}
	}
	kx := &KeyExchange{From: m.selfID, PublicKey: session.pub, Fingerprint: session.fingerprint}
	m.mu.Unlock()

	log.Printf("INFO: [MeshSession] Канал с %s открыт", peerID)

	// Обе стороны обмениваются эфемерными ключами сразу по открытию.
	if raw, err := EncodeEnvelope(&Envelope{Type: TypeKeyExchange, KeyExchange: kx}); err == nil {
		if err := link.Send(raw); err != nil {
			log.Printf("WARN: [MeshSession] key_exchange для %s не отправлен: %v", peerID, err)
		}
	}

	// Создатель уведомляет остальных подключенных о новичке: каждый из
	// них сам инициирует прямой offer через relay.
	if isCreator {
		if raw, err := EncodeEnvelope(&Envelope{Type: TypeNewPeer, NewPeer: &NewPeer{PeerID: peerID}}); err == nil {
			for _, other := range others {
				if err := other.Send(raw); err != nil {
					log.Printf("WARN: [MeshSession] new_peer для %s не отправлен: %v", other.RemoteID(), err)
				}
			}
		}
	}
}

func (m *MeshSessionManager) handleLinkData(peerID string, raw []byte) {
	env, err := DecodeEnvelope(raw)
	if err != nil {
		log.Printf("WARN: [MeshSession] Конверт от %s не разобран: %v", peerID, err)
		return
	}

	switch env.Type {
	case TypeKeyExchange:
		m.handleKeyExchange(peerID, env.KeyExchange)
	case TypeNewPeer:
		m.handleNewPeer(env.NewPeer.PeerID)
	case TypeOfferRelay:
		m.handleOfferRelay(peerID, env.OfferRelay, raw)
	case TypeAnswerRelay:
		m.handleAnswerRelay(env.AnswerRelay, raw)
	case TypeLeave:
		m.markLeft(env.Leave.From, "leave")
	case TypeChat:
		m.handleChat(peerID, env.Chat)
	}
}

func (m *MeshSessionManager) handleKeyExchange(peerID string, kx *KeyExchange) {
	m.mu.Lock()
	session := m.session
	if session == nil || session.left[kx.From] {
		m.mu.Unlock()
		return
	}
	session.peerKeys[kx.From] = kx
	firstJoin := !session.joined[kx.From]
	session.joined[kx.From] = true
	m.mu.Unlock()

	log.Printf("INFO: [MeshSession] Эфемерный ключ %s получен (отпечаток %s...)", kx.From, shortID(kx.Fingerprint))
	if firstJoin && m.cb.OnPeerJoin != nil {
		m.cb.OnPeerJoin(kx.From)
	}
}

// handleNewPeer: существующий участник инициирует прямой offer новичку.
// Прямой сигнализации к нему нет, поэтому offer уезжает через создателя.
func (m *MeshSessionManager) handleNewPeer(newPeerID string) {
	if newPeerID == m.selfID {
		return
	}

	m.mu.Lock()
	session := m.session
	if session == nil || session.IsCreator {
		m.mu.Unlock()
		return
	}
	if _, ok := session.connected[newPeerID]; ok {
		m.mu.Unlock()
		return
	}
	if _, ok := session.pendingOffers[newPeerID]; ok {
		m.mu.Unlock()
		return
	}
	creatorLink := session.connected[session.CreatorID]
	m.mu.Unlock()

	if creatorLink == nil {
		log.Printf("WARN: [MeshSession] new_peer %s, но связи с создателем нет", newPeerID)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), signalTimeout)
	defer cancel()

	handle, err := m.links.CreateOffer(ctx, newPeerID)
	if err != nil {
		log.Printf("WARN: [MeshSession] Offer для новичка %s не создан: %v", newPeerID, err)
		return
	}

	m.mu.Lock()
	if m.session == session {
		session.pendingOffers[newPeerID] = handle
	}
	m.mu.Unlock()

	raw, err := EncodeEnvelope(&Envelope{
		Type:       TypeOfferRelay,
		OfferRelay: &OfferRelay{FromUserID: m.selfID, ToUserID: newPeerID, SDP: handle.SDP()},
	})
	if err != nil {
		return
	}
	if err := creatorLink.Send(raw); err != nil {
		log.Printf("WARN: [MeshSession] offer_relay для %s не отправлен: %v", newPeerID, err)
	}
}

// handleOfferRelay обрабатывает пересланный offer: создатель форвардит
// байты как есть, адресат отвечает answer_relay.
func (m *MeshSessionManager) handleOfferRelay(viaPeerID string, offer *OfferRelay, raw []byte) {
	m.mu.Lock()
	session := m.session
	if session == nil {
		m.mu.Unlock()
		return
	}

	// Роль создателя: чистая маршрутизация по toUserId, без какой-либо
	// интерпретации содержимого.
	if session.IsCreator {
		target := session.connected[offer.ToUserID]
		m.mu.Unlock()
		if target == nil {
			// Гонка: адресат еще/уже не подключен. Протокол самовосстановится
			// через повторный new_peer, поэтому просто бросаем.
			log.Printf("DEBUG: [MeshSession] offer_relay для неподключенного %s, брошен", offer.ToUserID)
			return
		}
		if err := target.Send(raw); err != nil {
			log.Printf("WARN: [MeshSession] Форвард offer_relay для %s не удался: %v", offer.ToUserID, err)
		}
		return
	}

	if offer.ToUserID != m.selfID {
		m.mu.Unlock()
		return
	}

	// Tie-break взаимных offer'ов: побеждает offer лексикографически
	// меньшей личности; проигравший бросает свой незавершенный offer.
	if pending, ok := session.pendingOffers[offer.FromUserID]; ok {
		if m.selfID < offer.FromUserID {
			m.mu.Unlock()
			log.Printf("DEBUG: [MeshSession] Встречный offer от %s проигнорирован (наш offer главнее)", offer.FromUserID)
			return
		}
		delete(session.pendingOffers, offer.FromUserID)
		pending.Discard()
	}
	creatorLink := session.connected[session.CreatorID]
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), signalTimeout)
	defer cancel()

	answerSDP, link, err := m.links.CreateAnswer(ctx, offer.FromUserID, offer.SDP)
	if err != nil {
		log.Printf("WARN: [MeshSession] Ответ на offer от %s не создан: %v", offer.FromUserID, err)
		return
	}

	m.mu.Lock()
	if m.session == session {
		session.pendingLinks[offer.FromUserID] = link
	}
	m.mu.Unlock()
	m.watchLink(offer.FromUserID, link)

	if creatorLink == nil {
		return
	}
	reply, err := EncodeEnvelope(&Envelope{
		Type:        TypeAnswerRelay,
		AnswerRelay: &AnswerRelay{FromUserID: m.selfID, ToUserID: offer.FromUserID, SDP: answerSDP},
	})
	if err != nil {
		return
	}
	if err := creatorLink.Send(reply); err != nil {
		log.Printf("WARN: [MeshSession] answer_relay для %s не отправлен: %v", offer.FromUserID, err)
	}
}

func (m *MeshSessionManager) handleAnswerRelay(answer *AnswerRelay, raw []byte) {
	m.mu.Lock()
	session := m.session
	if session == nil {
		m.mu.Unlock()
		return
	}

	if session.IsCreator {
		target := session.connected[answer.ToUserID]
		m.mu.Unlock()
		if target == nil {
			log.Printf("DEBUG: [MeshSession] answer_relay для неподключенного %s, брошен", answer.ToUserID)
			return
		}
		if err := target.Send(raw); err != nil {
			log.Printf("WARN: [MeshSession] Форвард answer_relay для %s не удался: %v", answer.ToUserID, err)
		}
		return
	}

	if answer.ToUserID != m.selfID {
		m.mu.Unlock()
		return
	}
	handle, ok := session.pendingOffers[answer.FromUserID]
	m.mu.Unlock()
	if !ok {
		log.Printf("DEBUG: [MeshSession] answer_relay от %s без ожидающего offer, брошен", answer.FromUserID)
		return
	}

	link, err := handle.Accept(answer.SDP)
	if err != nil {
		log.Printf("WARN: [MeshSession] answer_relay от %s не принят: %v", answer.FromUserID, err)
		return
	}
	m.watchLink(answer.FromUserID, link)
}

func (m *MeshSessionManager) handleChat(peerID string, chat *Chat) {
	m.mu.Lock()
	session := m.session
	if session == nil || session.left[chat.From] {
		// Сообщения ушедших пиров наверх не доставляются.
		m.mu.Unlock()
		return
	}
	known := make(map[string]string, len(session.peerKeys))
	for _, kx := range session.peerKeys {
		known[kx.Fingerprint] = kx.PublicKey
	}
	priv, pass := session.priv, session.passphrase
	sessionID := session.SessionID
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), signalTimeout)
	defer cancel()

	result, err := m.engine.Decrypt(ctx, priv, pass, known, chat.Body)
	if err != nil {
		log.Printf("WARN: [MeshSession] Сообщение от %s не расшифровано: %v", peerID, err)
		return
	}

	if m.cb.OnMessage != nil {
		m.cb.OnMessage(RealtimeMessage{
			SessionID: sessionID,
			From:      chat.From,
			Text:      string(result.Payload),
			SentAt:    chat.SentAt,
		})
	}
}

func (m *MeshSessionManager) handleLinkClosed(peerID string) {
	// Закрытие канала без leave неотличимо в модели данных от вежливого
	// ухода - различается только способ обнаружения.
	m.markLeft(peerID, "закрытие канала")
}

// markLeft переводит пира в left: из всех карт вон, ключ забыт, канал закрыт.
func (m *MeshSessionManager) markLeft(peerID string, reason string) {
	m.mu.Lock()
	session := m.session
	if session == nil || session.left[peerID] {
		m.mu.Unlock()
		return
	}
	session.left[peerID] = true
	link := session.connected[peerID]
	delete(session.connected, peerID)
	delete(session.pendingLinks, peerID)
	if handle, ok := session.pendingOffers[peerID]; ok {
		delete(session.pendingOffers, peerID)
		handle.Discard()
	}
	delete(session.peerKeys, peerID)
	m.mu.Unlock()

	log.Printf("INFO: [MeshSession] Пир %s покинул сессию (%s)", peerID, reason)
	if link != nil {
		link.Close()
	}
	if m.cb.OnPeerLeave != nil {
		m.cb.OnPeerLeave(peerID)
	}
}

// ================================================================= //
//                    ВНУТРЕННИЕ МЕТОДЫ (ЛОГИКА)                      //
// ================================================================= //

// newSession генерирует эфемерную тройку ключей и пустое состояние сессии.
func (m *MeshSessionManager) newSession(ctx context.Context, sessionID, chatID, name, creatorID string, isCreator bool) (*RealtimeSession, error) {
	passphrase := uuid.NewString()
	priv, err := m.engine.Generate(ctx, m.selfID, passphrase, passphrase)
	if err != nil {
		return nil, fmt.Errorf("эфемерный ключ сессии не сгенерирован: %w", err)
	}
	pub, err := m.engine.ExportPublicKeys(priv)
	if err != nil {
		return nil, fmt.Errorf("публичная часть эфемерного ключа не экспортирована: %w", err)
	}

	return &RealtimeSession{
		SessionID:     sessionID,
		ChatID:        chatID,
		Name:          name,
		CreatorID:     creatorID,
		SelfID:        m.selfID,
		IsCreator:     isCreator,
		priv:          priv,
		pub:           pub.Armored,
		fingerprint:   pub.Fingerprint,
		passphrase:    passphrase,
		pendingOffers: make(map[string]IOfferHandle),
		pendingLinks:  make(map[string]IPeerLink),
		connected:     make(map[string]IPeerLink),
		left:          make(map[string]bool),
		peerKeys:      make(map[string]*KeyExchange),
		joined:        make(map[string]bool),
	}, nil
}

// teardown - best-effort прощание и безусловное освобождение ресурсов.
// Эфемерная тройка ключей умирает вместе с объектом сессии.
func (m *MeshSessionManager) teardown(session *RealtimeSession) {
	raw, err := EncodeEnvelope(&Envelope{Type: TypeLeave, Leave: &Leave{From: m.selfID}})
	if err == nil {
		for _, link := range session.connected {
			if err := link.Send(raw); err != nil {
				log.Printf("DEBUG: [MeshSession] leave для %s не отправлен: %v", link.RemoteID(), err)
			}
		}
	}

	for _, link := range session.connected {
		link.Close()
	}
	for _, link := range session.pendingLinks {
		link.Close()
	}
	for _, handle := range session.pendingOffers {
		handle.Discard()
	}
	log.Printf("INFO: [MeshSession] Сессия %s завершена", session.SessionID)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
