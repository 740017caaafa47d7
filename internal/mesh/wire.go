// Путь: internal/mesh/wire.go
package mesh

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// MessageType - дискриминант конверта data-канала. Управляющие сообщения
// отличимы от пользовательского контента явным полем, а не
// "принюхиванием" к содержимому.
type MessageType string

const (
	TypeKeyExchange MessageType = "key_exchange"
	TypeNewPeer     MessageType = "new_peer"
	TypeOfferRelay  MessageType = "offer_relay"
	TypeAnswerRelay MessageType = "answer_relay"
	TypeLeave       MessageType = "leave"
	TypeChat        MessageType = "chat"
)

// Envelope - тип-сумма всех сообщений data-канала. Ровно одно поле
// полезной нагрузки заполнено, в соответствии с Type.
type Envelope struct {
	Type        MessageType  `cbor:"type"`
	KeyExchange *KeyExchange `cbor:"keyExchange,omitempty"`
	NewPeer     *NewPeer     `cbor:"newPeer,omitempty"`
	OfferRelay  *OfferRelay  `cbor:"offerRelay,omitempty"`
	AnswerRelay *AnswerRelay `cbor:"answerRelay,omitempty"`
	Leave       *Leave       `cbor:"leave,omitempty"`
	Chat        *Chat        `cbor:"chat,omitempty"`
}

// KeyExchange объявляет эфемерный публичный ключ пира на эту сессию.
type KeyExchange struct {
	From        string `cbor:"from"`
	PublicKey   string `cbor:"publicKey"` // armored
	Fingerprint string `cbor:"fingerprint"`
}

// NewPeer - уведомление создателя уже подключенным участникам о новичке.
type NewPeer struct {
	PeerID string `cbor:"peerID"`
}

// OfferRelay - offer, пересылаемый через создателя. Создатель читает
// ТОЛЬКО ToUserID для маршрутизации и форвардит байты как есть.
type OfferRelay struct {
	FromUserID string `cbor:"fromUserID"`
	ToUserID   string `cbor:"toUserID"`
	SDP        string `cbor:"sdp"`
}

// AnswerRelay - ответ на пересланный offer, маршрутизируется так же.
type AnswerRelay struct {
	FromUserID string `cbor:"fromUserID"`
	ToUserID   string `cbor:"toUserID"`
	SDP        string `cbor:"sdp"`
}

// Leave - вежливое прощание перед закрытием соединений.
type Leave struct {
	From string `cbor:"from"`
}

// Chat - пользовательский контент. Body - armored-шифротекст, зашифрованный
// эфемерным ключом отправителя всем известным эфемерным ключам пиров.
type Chat struct {
	From   string    `cbor:"from"`
	Body   string    `cbor:"body"`
	SentAt time.Time `cbor:"sentAt"`
}

// EncodeEnvelope сериализует конверт для отправки в data-канал.
func EncodeEnvelope(env *Envelope) ([]byte, error) {
	data, err := cbor.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("не удалось сериализовать конверт %s: %w", env.Type, err)
	}
	return data, nil
}

// DecodeEnvelope разбирает конверт и проверяет, что нагрузка соответствует
// дискриминанту.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("конверт data-канала не разобран: %w", err)
	}

	var ok bool
	switch env.Type {
	case TypeKeyExchange:
		ok = env.KeyExchange != nil
	case TypeNewPeer:
		ok = env.NewPeer != nil
	case TypeOfferRelay:
		ok = env.OfferRelay != nil
	case TypeAnswerRelay:
		ok = env.AnswerRelay != nil
	case TypeLeave:
		ok = env.Leave != nil
	case TypeChat:
		ok = env.Chat != nil
	default:
		return nil, fmt.Errorf("неизвестный тип конверта: %q", env.Type)
	}
	if !ok {
		return nil, fmt.Errorf("конверт %s без полезной нагрузки", env.Type)
	}
	return &env, nil
}

// --- Сигнальные сообщения store-and-forward канала ---

// ControlType - дискриминант управляющей нагрузки, которую конвейер
// расшифровки передает сборщику (префиксный случай из §сигнализации).
type ControlType string

const (
	CtrlMeshInvite ControlType = "mesh_invite"
	CtrlMeshAnswer ControlType = "mesh_answer"
)

// ControlMessage - тип-сумма сигнальных сообщений, идущих через
// store-and-forward канал (начальные связи создатель<->участник).
type ControlMessage struct {
	Type   ControlType `cbor:"type"`
	Invite *MeshInvite `cbor:"invite,omitempty"`
	Answer *MeshAnswer `cbor:"answer,omitempty"`
}

// MeshInvite - приглашение в real-time сессию с offer создателя.
type MeshInvite struct {
	SessionID string `cbor:"sessionID"`
	ChatID    string `cbor:"chatID"`
	Name      string `cbor:"name"`
	CreatorID string `cbor:"creatorID"`
	ToUserID  string `cbor:"toUserID"`
	OfferSDP  string `cbor:"offerSDP"`
}

// MeshAnswer - ответ участника на приглашение.
type MeshAnswer struct {
	SessionID  string `cbor:"sessionID"`
	FromUserID string `cbor:"fromUserID"`
	AnswerSDP  string `cbor:"answerSDP"`
}

// EncodeControl сериализует управляющее сообщение.
func EncodeControl(msg *ControlMessage) ([]byte, error) {
	data, err := cbor.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("не удалось сериализовать управляющее сообщение %s: %w", msg.Type, err)
	}
	return data, nil
}

// DecodeControl разбирает управляющее сообщение с проверкой дискриминанта.
func DecodeControl(data []byte) (*ControlMessage, error) {
	var msg ControlMessage
	if err := cbor.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("управляющее сообщение не разобрано: %w", err)
	}
	switch msg.Type {
	case CtrlMeshInvite:
		if msg.Invite == nil {
			return nil, fmt.Errorf("mesh_invite без нагрузки")
		}
	case CtrlMeshAnswer:
		if msg.Answer == nil {
			return nil, fmt.Errorf("mesh_answer без нагрузки")
		}
	default:
		return nil, fmt.Errorf("неизвестный тип управляющего сообщения: %q", msg.Type)
	}
	return &msg, nil
}
