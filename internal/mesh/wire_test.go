// Путь: internal/mesh/wire_test.go
package mesh

import (
	"testing"
	"time"
)

// TestEnvelopeRoundTrip проверяет сериализацию конвертов data-канала.
func TestEnvelopeRoundTrip(t *testing.T) {
	envelopes := []*Envelope{
		{Type: TypeKeyExchange, KeyExchange: &KeyExchange{From: "alice", PublicKey: "PUB", Fingerprint: "FP"}},
		{Type: TypeNewPeer, NewPeer: &NewPeer{PeerID: "bob"}},
		{Type: TypeOfferRelay, OfferRelay: &OfferRelay{FromUserID: "bob", ToUserID: "carol", SDP: "v=0..."}},
		{Type: TypeAnswerRelay, AnswerRelay: &AnswerRelay{FromUserID: "carol", ToUserID: "bob", SDP: "v=0..."}},
		{Type: TypeLeave, Leave: &Leave{From: "alice"}},
		{Type: TypeChat, Chat: &Chat{From: "alice", Body: "CIPHER", SentAt: time.Unix(1700000000, 0).UTC()}},
	}

	for _, env := range envelopes {
		raw, err := EncodeEnvelope(env)
		if err != nil {
			t.Fatalf("Конверт %s не сериализовался: %v", env.Type, err)
		}
		decoded, err := DecodeEnvelope(raw)
		if err != nil {
			t.Fatalf("Конверт %s не разобрался: %v", env.Type, err)
		}
		if decoded.Type != env.Type {
			t.Errorf("Дискриминант исказился: %s != %s", decoded.Type, env.Type)
		}
	}
	t.Logf("✅ Все %d типов конвертов проходят круг сериализации", len(envelopes))
}

// TestDecodeEnvelopeRejectsGarbage проверяет защиту от битых и
// несогласованных конвертов.
func TestDecodeEnvelopeRejectsGarbage(t *testing.T) {
	if _, err := DecodeEnvelope([]byte("не cbor вовсе")); err == nil {
		t.Error("Мусор разобрался без ошибки")
	}

	// Неизвестный дискриминант.
	raw, err := EncodeEnvelope(&Envelope{Type: MessageType("telepathy")})
	if err != nil {
		t.Fatalf("Сериализация упала: %v", err)
	}
	if _, err := DecodeEnvelope(raw); err == nil {
		t.Error("Неизвестный тип конверта принят")
	}

	// Дискриминант без нагрузки.
	raw, err = EncodeEnvelope(&Envelope{Type: TypeChat})
	if err != nil {
		t.Fatalf("Сериализация упала: %v", err)
	}
	if _, err := DecodeEnvelope(raw); err == nil {
		t.Error("Конверт chat без нагрузки принят")
	}
	t.Logf("✅ Битые конверты отбрасываются")
}

// TestControlRoundTrip проверяет сигнальные сообщения store-and-forward канала.
func TestControlRoundTrip(t *testing.T) {
	invite := &ControlMessage{
		Type: CtrlMeshInvite,
		Invite: &MeshInvite{
			SessionID: "s1", ChatID: "chat", Name: "Планерка",
			CreatorID: "alice", ToUserID: "bob", OfferSDP: "v=0...",
		},
	}
	raw, err := EncodeControl(invite)
	if err != nil {
		t.Fatalf("Приглашение не сериализовалось: %v", err)
	}
	decoded, err := DecodeControl(raw)
	if err != nil {
		t.Fatalf("Приглашение не разобралось: %v", err)
	}
	if *decoded.Invite != *invite.Invite {
		t.Errorf("Приглашение исказилось: %+v", decoded.Invite)
	}

	if _, err := DecodeControl([]byte{0x01, 0x02}); err == nil {
		t.Error("Мусор разобрался без ошибки")
	}

	raw, _ = EncodeControl(&ControlMessage{Type: CtrlMeshAnswer})
	if _, err := DecodeControl(raw); err == nil {
		t.Error("mesh_answer без нагрузки принят")
	}
	t.Logf("✅ Сигнальные сообщения проходят круг сериализации")
}
