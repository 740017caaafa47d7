// Путь: internal/encryption/pgp_engine.go
package encryption

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/ProtonMail/gopenpgp/v2/constants"
	"github.com/ProtonMail/gopenpgp/v2/crypto"
	"github.com/ProtonMail/gopenpgp/v2/helper"
	"github.com/google/uuid"
)

// pgpEngine - реализация ICryptoEngine поверх gopenpgp (PGP-стиль:
// armored-материал, отпечатки, запертые фразой приватные ключи).
// Движок stateless: все состояние приходит в аргументах вызова.
type pgpEngine struct{}

// NewPGPEngine - конструктор движка по умолчанию.
func NewPGPEngine() ICryptoEngine {
	return &pgpEngine{}
}

func (e *pgpEngine) Generate(ctx context.Context, userID, mainPass, subPass string) (PrivateKeyMaterial, error) {
	reqID := uuid.NewString()
	if err := ctx.Err(); err != nil {
		return "", &EngineError{RequestID: reqID, Op: "generate", Err: err}
	}

	// subPass зарезервирован контрактом для отдельной фразы подключа;
	// gopenpgp запирает весь ключ одной фразой, используем mainPass.
	_ = subPass

	key, err := crypto.GenerateKey(userID, userID+"@whispermesh.local", "x25519", 0)
	if err != nil {
		return "", &EngineError{RequestID: reqID, Op: "generate", Err: err}
	}
	locked, err := key.Lock([]byte(mainPass))
	if err != nil {
		return "", &EngineError{RequestID: reqID, Op: "generate", Err: err}
	}
	armored, err := locked.Armor()
	if err != nil {
		return "", &EngineError{RequestID: reqID, Op: "generate", Err: err}
	}
	log.Printf("DEBUG: [PGPEngine] Сгенерирован ключ для %s (запрос %s)", userID, reqID)
	return PrivateKeyMaterial(armored), nil
}

func (e *pgpEngine) ExportPublicKeys(priv PrivateKeyMaterial) (*PublicKeyMaterial, error) {
	key, err := crypto.NewKeyFromArmored(string(priv))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	armored, err := key.GetArmoredPublicKey()
	if err != nil {
		return nil, fmt.Errorf("не удалось экспортировать публичный ключ: %w", err)
	}
	return &PublicKeyMaterial{
		Armored:     armored,
		Fingerprint: key.GetFingerprint(),
	}, nil
}

func (e *pgpEngine) Sign(ctx context.Context, priv PrivateKeyMaterial, pass string, payload []byte) (string, error) {
	reqID := uuid.NewString()
	if err := ctx.Err(); err != nil {
		return "", &EngineError{RequestID: reqID, Op: "sign", Err: err}
	}
	signed, err := helper.SignCleartextMessageArmored(string(priv), []byte(pass), string(payload))
	if err != nil {
		return "", &EngineError{RequestID: reqID, Op: "sign", Err: classifyUnlock(err)}
	}
	return signed, nil
}

func (e *pgpEngine) SignDetached(ctx context.Context, priv PrivateKeyMaterial, pass string, payload []byte) (string, error) {
	reqID := uuid.NewString()
	if err := ctx.Err(); err != nil {
		return "", &EngineError{RequestID: reqID, Op: "signDetached", Err: err}
	}
	ring, err := e.unlockedRing(priv, pass)
	if err != nil {
		return "", &EngineError{RequestID: reqID, Op: "signDetached", Err: err}
	}
	defer ring.ClearPrivateParams()

	sig, err := ring.SignDetached(crypto.NewPlainMessage(payload))
	if err != nil {
		return "", &EngineError{RequestID: reqID, Op: "signDetached", Err: err}
	}
	armored, err := sig.GetArmored()
	if err != nil {
		return "", &EngineError{RequestID: reqID, Op: "signDetached", Err: err}
	}
	return armored, nil
}

func (e *pgpEngine) Encrypt(ctx context.Context, priv PrivateKeyMaterial, pass string, recipientPubs []string, payload []byte) (string, error) {
	msg, err := e.encryptCommon(ctx, priv, pass, recipientPubs, payload)
	if err != nil {
		return "", err
	}
	return msg.GetArmored()
}

func (e *pgpEngine) EncryptBinary(ctx context.Context, priv PrivateKeyMaterial, pass string, recipientPubs []string, payload []byte) ([]byte, error) {
	msg, err := e.encryptCommon(ctx, priv, pass, recipientPubs, payload)
	if err != nil {
		return nil, err
	}
	return msg.GetBinary(), nil
}

func (e *pgpEngine) Decrypt(ctx context.Context, priv PrivateKeyMaterial, pass string, knownPubsByFingerprint map[string]string, ciphertext string) (*DecryptResult, error) {
	msg, err := crypto.NewPGPMessageFromArmored(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return e.decryptCommon(ctx, priv, pass, knownPubsByFingerprint, msg)
}

func (e *pgpEngine) DecryptBinary(ctx context.Context, priv PrivateKeyMaterial, pass string, knownPubsByFingerprint map[string]string, ciphertext []byte) (*DecryptResult, error) {
	return e.decryptCommon(ctx, priv, pass, knownPubsByFingerprint, crypto.NewPGPMessage(ciphertext))
}

func (e *pgpEngine) VerifyDetached(ctx context.Context, pub string, signature string, data []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	ring, err := publicRing(pub)
	if err != nil {
		return false, err
	}
	sig, err := crypto.NewPGPSignatureFromArmored(signature)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := ring.VerifyDetached(crypto.NewPlainMessage(data), sig, crypto.GetUnixTime()); err != nil {
		return false, nil
	}
	return true, nil
}

// --- Внутренняя кухня ---

func (e *pgpEngine) encryptCommon(ctx context.Context, priv PrivateKeyMaterial, pass string, recipientPubs []string, payload []byte) (*crypto.PGPMessage, error) {
	reqID := uuid.NewString()
	if err := ctx.Err(); err != nil {
		return nil, &EngineError{RequestID: reqID, Op: "encrypt", Err: err}
	}
	if len(recipientPubs) == 0 {
		return nil, &EngineError{RequestID: reqID, Op: "encrypt", Err: errors.New("нет ни одного получателя")}
	}

	recipients, err := publicRing(recipientPubs...)
	if err != nil {
		return nil, &EngineError{RequestID: reqID, Op: "encrypt", Err: err}
	}
	signRing, err := e.unlockedRing(priv, pass)
	if err != nil {
		return nil, &EngineError{RequestID: reqID, Op: "encrypt", Err: err}
	}
	defer signRing.ClearPrivateParams()

	msg, err := recipients.Encrypt(crypto.NewPlainMessage(payload), signRing)
	if err != nil {
		return nil, &EngineError{RequestID: reqID, Op: "encrypt", Err: err}
	}
	return msg, nil
}

// decryptCommon расшифровывает сообщение и атрибутирует подписанта среди
// известных публичных ключей. Атрибуция выполняется перебором кандидатов:
// число ключей треда невелико, а gopenpgp не раскрывает ID подписанта
// до успешной проверки.
func (e *pgpEngine) decryptCommon(ctx context.Context, priv PrivateKeyMaterial, pass string, known map[string]string, msg *crypto.PGPMessage) (*DecryptResult, error) {
	reqID := uuid.NewString()
	if err := ctx.Err(); err != nil {
		return nil, &EngineError{RequestID: reqID, Op: "decrypt", Err: err}
	}

	privRing, err := e.unlockedRing(priv, pass)
	if err != nil {
		return nil, &EngineError{RequestID: reqID, Op: "decrypt", Err: err}
	}
	defer privRing.ClearPrivateParams()

	// Шаг 1: расшифровка без проверки подписи. Сбой здесь означает
	// неверный ключ или поврежденный шифротекст, а не проблему доверия.
	plain, err := privRing.Decrypt(msg, nil, 0)
	if err != nil {
		return nil, &EngineError{RequestID: reqID, Op: "decrypt", Err: fmt.Errorf("%w: %v", ErrWrongKey, err)}
	}

	// Шаг 2: атрибуция подписанта по известным отпечаткам.
	var signers []string
	for fp, pub := range known {
		ring, rerr := publicRing(pub)
		if rerr != nil {
			continue
		}
		if _, verr := privRing.Decrypt(msg, ring, crypto.GetUnixTime()); verr == nil {
			signers = append(signers, fp)
		}
	}

	if len(signers) == 0 {
		// Выясняем типизированную причину: сообщение без подписи
		// допустимо, неизвестный подписант и битая подпись - нет.
		verifyAll, rerr := publicRingFromMap(known)
		if rerr == nil {
			_, verr := privRing.Decrypt(msg, verifyAll, crypto.GetUnixTime())
			if cls := classifyVerification(verr); cls != nil {
				return nil, &EngineError{RequestID: reqID, Op: "decrypt", Err: cls}
			}
		}
	}

	return &DecryptResult{
		Payload:            plain.GetBinary(),
		SignerFingerprints: signers,
	}, nil
}

func (e *pgpEngine) unlockedRing(priv PrivateKeyMaterial, pass string) (*crypto.KeyRing, error) {
	key, err := crypto.NewKeyFromArmored(string(priv))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	unlocked, err := key.Unlock([]byte(pass))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWrongKey, err)
	}
	return crypto.NewKeyRing(unlocked)
}

func publicRing(armoreds ...string) (*crypto.KeyRing, error) {
	ring, err := crypto.NewKeyRing(nil)
	if err != nil {
		return nil, err
	}
	for _, armored := range armoreds {
		key, err := crypto.NewKeyFromArmored(armored)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if err := ring.AddKey(key); err != nil {
			return nil, err
		}
	}
	return ring, nil
}

func publicRingFromMap(known map[string]string) (*crypto.KeyRing, error) {
	armoreds := make([]string, 0, len(known))
	for _, pub := range known {
		armoreds = append(armoreds, pub)
	}
	return publicRing(armoreds...)
}

// classifyVerification переводит ошибку проверки подписи gopenpgp в
// типизированную ошибку движка. Отсутствие подписи ошибкой не считается.
func classifyVerification(err error) error {
	if err == nil {
		return nil
	}
	var sigErr crypto.SignatureVerificationError
	if errors.As(err, &sigErr) {
		switch sigErr.Status {
		case constants.SIGNATURE_NOT_SIGNED:
			return nil
		case constants.SIGNATURE_NO_VERIFIER:
			return ErrUnknownSigner
		case constants.SIGNATURE_FAILED:
			return ErrInnerSignature
		}
	}
	return err
}

// classifyUnlock сводит ошибки распаковки ключа к типизированным.
func classifyUnlock(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrWrongKey, err)
}
