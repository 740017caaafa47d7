// Путь: internal/pipeline/pipeline_test.go
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"WhisperMesh/internal/encryption"
	"WhisperMesh/internal/trust"
	"WhisperMesh/pkg/interfaces"
)

// fakeEngine - прозрачный движок для тестов конвейера. "Шифротекст" имеет
// вид "enc|<отпечаток подписанта>|<плейнтекст>"; расшифровка удается, только
// если отпечаток есть среди известных ключей - это воспроизводит ключевую
// ошибку ErrUnknownSigner при устаревшем кэше.
type fakeEngine struct {
	mu       sync.Mutex
	decrypts map[string]int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{decrypts: make(map[string]int)}
}

func fakeCiphertext(fp, plain string) string {
	return "enc|" + fp + "|" + plain
}

func (e *fakeEngine) decryptCount(ciphertext string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.decrypts[ciphertext]
}

func (e *fakeEngine) Decrypt(_ context.Context, _ encryption.PrivateKeyMaterial, _ string, known map[string]string, ciphertext string) (*encryption.DecryptResult, error) {
	e.mu.Lock()
	e.decrypts[ciphertext]++
	e.mu.Unlock()

	parts := strings.SplitN(ciphertext, "|", 3)
	if len(parts) != 3 || parts[0] != "enc" {
		return nil, encryption.ErrMalformed
	}
	fp := parts[1]
	if _, ok := known[fp]; !ok {
		return nil, encryption.ErrUnknownSigner
	}
	return &encryption.DecryptResult{Payload: []byte(parts[2]), SignerFingerprints: []string{fp}}, nil
}

func (e *fakeEngine) DecryptBinary(ctx context.Context, priv encryption.PrivateKeyMaterial, pass string, known map[string]string, ciphertext []byte) (*encryption.DecryptResult, error) {
	return e.Decrypt(ctx, priv, pass, known, string(ciphertext))
}

func (e *fakeEngine) Generate(_ context.Context, userID, _, _ string) (encryption.PrivateKeyMaterial, error) {
	return encryption.PrivateKeyMaterial("priv-" + userID), nil
}

func (e *fakeEngine) ExportPublicKeys(priv encryption.PrivateKeyMaterial) (*encryption.PublicKeyMaterial, error) {
	return &encryption.PublicKeyMaterial{Armored: "pub-" + string(priv), Fingerprint: "fp-" + string(priv)}, nil
}

func (e *fakeEngine) Sign(_ context.Context, _ encryption.PrivateKeyMaterial, _ string, payload []byte) (string, error) {
	return "signed:" + string(payload), nil
}

func (e *fakeEngine) SignDetached(_ context.Context, _ encryption.PrivateKeyMaterial, _ string, payload []byte) (string, error) {
	return "sig:" + string(payload), nil
}

func (e *fakeEngine) Encrypt(_ context.Context, priv encryption.PrivateKeyMaterial, _ string, _ []string, payload []byte) (string, error) {
	return fakeCiphertext("fp-"+string(priv), string(payload)), nil
}

func (e *fakeEngine) EncryptBinary(ctx context.Context, priv encryption.PrivateKeyMaterial, pass string, recipients []string, payload []byte) ([]byte, error) {
	out, err := e.Encrypt(ctx, priv, pass, recipients, payload)
	return []byte(out), err
}

func (e *fakeEngine) VerifyDetached(_ context.Context, _ string, signature string, data []byte) (bool, error) {
	return signature == "sig:"+string(data), nil
}

// pipeDirectory - справочник для тестов конвейера.
type pipeDirectory struct {
	mu      sync.Mutex
	records map[string]interfaces.KeyRecord
	fetches int
}

func newPipeDirectory() *pipeDirectory {
	return &pipeDirectory{records: make(map[string]interfaces.KeyRecord)}
}

func (d *pipeDirectory) put(identity, fp string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.records[identity] = interfaces.KeyRecord{
		SigningPublicKey:    "sign-" + fp,
		EncryptionPublicKey: "enc-" + fp,
		Fingerprint:         fp,
	}
}

func (d *pipeDirectory) fetchCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fetches
}

func (d *pipeDirectory) GetKeys(_ context.Context, identity string) (*interfaces.KeyRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fetches++
	rec, ok := d.records[identity]
	if !ok {
		return nil, interfaces.ErrIdentityNotFound
	}
	copied := rec
	return &copied, nil
}

// fileStub - файловый сервис с фиксированным содержимым.
type fileStub struct {
	mu      sync.Mutex
	bodies  map[string][]byte
	fetches int
}

func (f *fileStub) Fetch(_ context.Context, fileRef string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	body, ok := f.bodies[fileRef]
	if !ok {
		return nil, fmt.Errorf("файл %s не найден", fileRef)
	}
	return body, nil
}

type pipeFixture struct {
	engine    *fakeEngine
	directory *pipeDirectory
	files     *fileStub
	pipe      *DecryptionPipeline

	mu       sync.Mutex
	views    []DecryptedView
	controls [][]byte
	onView   func(view DecryptedView) // дополнительный hook поверх сбора
}

func newPipeFixture() *pipeFixture {
	f := &pipeFixture{
		engine:    newFakeEngine(),
		directory: newPipeDirectory(),
		files:     &fileStub{bodies: make(map[string][]byte)},
	}
	resolver := trust.NewKeyResolver(trust.NewKeyStore(nil), f.directory, nil)
	f.pipe = NewDecryptionPipeline(f.engine, resolver, f.files, DefaultConfig(),
		func(view DecryptedView) {
			f.mu.Lock()
			f.views = append(f.views, view)
			hook := f.onView
			f.mu.Unlock()
			if hook != nil {
				hook(view)
			}
		},
		func(_ string, payload []byte) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.controls = append(f.controls, payload)
		})
	f.pipe.SetIdentityMaterial("priv-me", "pass")
	return f
}

func (f *pipeFixture) collectedViews() []DecryptedView {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]DecryptedView(nil), f.views...)
}

func record(id string, seq uint64, sender, body string) interfaces.EncryptedRecord {
	return interfaces.EncryptedRecord{
		ID:        id,
		ThreadRef: "thread-1",
		SenderID:  sender,
		Sequence:  seq,
		Body:      body,
		SentAt:    time.Now(),
	}
}

// TestDecryptBatchNewestFirstAndCancellation: пачка из 10 сообщений,
// после 4-го опубликованного токен устаревает - остальные 6 не должны
// мутировать UI.
func TestDecryptBatchNewestFirstAndCancellation(t *testing.T) {
	f := newPipeFixture()
	f.directory.put("alice", "F1")

	var records []interfaces.EncryptedRecord
	for i := 0; i < 10; i++ {
		records = append(records, record(fmt.Sprintf("r%d", i), uint64(i), "alice",
			fakeCiphertext("F1", fmt.Sprintf("сообщение %d", i))))
	}

	f.onView = func(view DecryptedView) {
		f.mu.Lock()
		published := len(f.views)
		f.mu.Unlock()
		if published == 4 {
			// Пользователь переключился на другой тред.
			f.pipe.OpenThread(context.Background(), "thread-2", nil)
		}
	}

	token := f.pipe.OpenThread(context.Background(), "thread-1", []string{"alice"})
	f.pipe.DecryptBatch(context.Background(), records, token)

	views := f.collectedViews()
	if len(views) != 4 {
		t.Fatalf("После устаревания токена должно быть 4 проекции, есть %d", len(views))
	}
	// От новых к старым: 9, 8, 7, 6.
	for i, view := range views {
		want := uint64(9 - i)
		if view.Sequence != want {
			t.Errorf("Проекция %d: ожидалась позиция %d, получена %d", i, want, view.Sequence)
		}
		if view.Failed {
			t.Errorf("Проекция %d неожиданно провалена", i)
		}
	}
	t.Logf("✅ Прогрессивный порядок и отмена по токену работают")
}

// TestKeyRotationSingleRetry: кэш помнит старый ключ alice, запись подписана
// новым - конвейер обязан перезагрузить ключи и повторить ровно один раз.
func TestKeyRotationSingleRetry(t *testing.T) {
	f := newPipeFixture()
	f.directory.put("alice", "F1")

	token := f.pipe.OpenThread(context.Background(), "thread-1", []string{"alice"})
	// Ротация произошла после прогрева кэша.
	f.directory.put("alice", "F2")

	body := fakeCiphertext("F2", "новым ключом")
	f.pipe.DecryptBatch(context.Background(), []interfaces.EncryptedRecord{record("r1", 1, "alice", body)}, token)

	views := f.collectedViews()
	if len(views) != 1 {
		t.Fatalf("Ожидалась 1 проекция, есть %d", len(views))
	}
	if views[0].Failed {
		t.Fatal("После повтора запись должна расшифроваться")
	}
	if views[0].Content != "новым ключом" {
		t.Errorf("Неверный контент: %q", views[0].Content)
	}
	if got := f.engine.decryptCount(body); got != 2 {
		t.Errorf("Ожидалось ровно 2 попытки расшифровки, было %d", got)
	}
	t.Logf("✅ Ключевая ошибка: один повтор после обновления ключей")
}

// TestSecondFailureIsFinal: ключ в справочнике не менялся - повтор не
// помогает, проекция остается проваленной навсегда.
func TestSecondFailureIsFinal(t *testing.T) {
	f := newPipeFixture()
	f.directory.put("alice", "F1")

	token := f.pipe.OpenThread(context.Background(), "thread-1", []string{"alice"})
	body := fakeCiphertext("F9", "недостижимый контент")
	f.pipe.DecryptBatch(context.Background(), []interfaces.EncryptedRecord{record("r1", 1, "alice", body)}, token)

	views := f.collectedViews()
	if len(views) != 1 || !views[0].Failed || !views[0].Final {
		t.Fatalf("Ожидалась окончательно проваленная проекция, есть %+v", views)
	}
	if got := f.engine.decryptCount(body); got != 2 {
		t.Errorf("Бюджет повтора - ровно 1 повтор, попыток было %d", got)
	}
	t.Logf("✅ Повторный сбой окончателен, циклов нет")
}

// TestPermanentFailureNoRetry: поврежденный контент не входит в ключевой
// набор ошибок и не запускает обновление ключей.
func TestPermanentFailureNoRetry(t *testing.T) {
	f := newPipeFixture()
	f.directory.put("alice", "F1")

	token := f.pipe.OpenThread(context.Background(), "thread-1", []string{"alice"})
	fetchesAfterWarm := f.directory.fetchCount()

	body := "мусор вместо шифротекста"
	f.pipe.DecryptBatch(context.Background(), []interfaces.EncryptedRecord{record("r1", 1, "alice", body)}, token)

	views := f.collectedViews()
	if len(views) != 1 || !views[0].Failed {
		t.Fatalf("Ожидалась проваленная проекция, есть %+v", views)
	}
	if got := f.engine.decryptCount(body); got != 1 {
		t.Errorf("Постоянная ошибка не должна повторяться, попыток %d", got)
	}
	if f.directory.fetchCount() != fetchesAfterWarm {
		t.Error("Постоянная ошибка не должна трогать справочник ключей")
	}
	t.Logf("✅ Постоянная ошибка контента: без повторов и перезагрузок")
}

// TestMergeNewDedupAndThreadFilter: слияние берет только невиденные записи
// текущего треда.
func TestMergeNewDedupAndThreadFilter(t *testing.T) {
	f := newPipeFixture()
	f.directory.put("alice", "F1")

	old := record("r1", 1, "alice", fakeCiphertext("F1", "старое"))
	token := f.pipe.OpenThread(context.Background(), "thread-1", []string{"alice"})
	f.pipe.DecryptBatch(context.Background(), []interfaces.EncryptedRecord{old}, token)

	fresh := record("r2", 2, "alice", fakeCiphertext("F1", "новое"))
	foreign := record("r3", 3, "alice", fakeCiphertext("F1", "чужой тред"))
	foreign.ThreadRef = "thread-9"

	f.pipe.MergeNew(context.Background(), []interfaces.EncryptedRecord{old, fresh, foreign})

	views := f.collectedViews()
	if len(views) != 2 {
		t.Fatalf("Ожидались 2 проекции (старая + слитая), есть %d", len(views))
	}
	if views[1].Content != "новое" {
		t.Errorf("Слита не та запись: %q", views[1].Content)
	}
	if got := f.engine.decryptCount(old.Body); got != 1 {
		t.Errorf("Виденная запись расшифрована повторно: %d попыток", got)
	}
	t.Logf("✅ MergeNew: дедупликация и фильтр треда работают")
}

// TestControlMessageRouting: управляющие сообщения уходят сборщику и
// не попадают в транскрипт.
func TestControlMessageRouting(t *testing.T) {
	f := newPipeFixture()
	f.directory.put("alice", "F1")

	payload := []byte("сигнальная нагрузка")
	body := fakeCiphertext("F1", string(EncodeControlPlaintext(payload)))

	token := f.pipe.OpenThread(context.Background(), "thread-1", []string{"alice"})
	f.pipe.DecryptBatch(context.Background(), []interfaces.EncryptedRecord{record("r1", 1, "alice", body)}, token)

	if len(f.collectedViews()) != 0 {
		t.Error("Управляющее сообщение попало в транскрипт")
	}
	f.mu.Lock()
	controls := f.controls
	f.mu.Unlock()
	if len(controls) != 1 || string(controls[0]) != string(payload) {
		t.Fatalf("Сборщик получил не то: %q", controls)
	}
	t.Logf("✅ Управляющее сообщение ушло сборщику")
}

// TestFileAttachments: метаданные не-картинки отдаются без тела, картинка
// получает встроенное превью через файловый сервис.
func TestFileAttachments(t *testing.T) {
	f := newPipeFixture()
	f.directory.put("alice", "F1")
	f.files.bodies["img-1"] = []byte(fakeCiphertext("F1", "PNG-байты"))

	docMeta := &FileMetadata{Name: "отчет.pdf", MimeType: "application/pdf", Size: 1024, FileRef: "doc-1"}
	imgMeta := &FileMetadata{Name: "фото.png", MimeType: "image/png", Size: 2048, FileRef: "img-1"}

	docPlain, err := EncodeFilePlaintext(docMeta)
	if err != nil {
		t.Fatalf("Метаданные не сериализовались: %v", err)
	}
	imgPlain, err := EncodeFilePlaintext(imgMeta)
	if err != nil {
		t.Fatalf("Метаданные не сериализовались: %v", err)
	}

	token := f.pipe.OpenThread(context.Background(), "thread-1", []string{"alice"})
	f.pipe.DecryptBatch(context.Background(), []interfaces.EncryptedRecord{
		record("doc", 2, "alice", fakeCiphertext("F1", string(docPlain))),
		record("img", 1, "alice", fakeCiphertext("F1", string(imgPlain))),
	}, token)

	views := f.collectedViews()
	if len(views) != 2 {
		t.Fatalf("Ожидались 2 проекции, есть %d", len(views))
	}

	doc, img := views[0], views[1]
	if doc.File == nil || doc.File.Name != "отчет.pdf" || doc.Preview != nil {
		t.Errorf("Документ: метаданные без превью ожидались, есть %+v", doc)
	}
	if img.File == nil || string(img.Preview) != "PNG-байты" {
		t.Errorf("Картинка: ожидалось расшифрованное превью, есть %+v", img)
	}
	if f.files.fetches != 1 {
		t.Errorf("Файловый сервис должен был дернуться один раз (картинка), было %d", f.files.fetches)
	}
	t.Logf("✅ Вложения: превью только для картинок")
}

// TestSenderAttributionByFingerprint: при пустом senderID отправитель
// атрибутируется по отпечатку подписанта через обратный индекс.
func TestSenderAttributionByFingerprint(t *testing.T) {
	f := newPipeFixture()
	f.directory.put("alice", "F1")

	token := f.pipe.OpenThread(context.Background(), "thread-1", []string{"alice"})
	f.pipe.DecryptBatch(context.Background(), []interfaces.EncryptedRecord{
		record("r1", 1, "", fakeCiphertext("F1", "аноним для бэкенда")),
	}, token)

	views := f.collectedViews()
	if len(views) != 1 {
		t.Fatalf("Ожидалась 1 проекция, есть %d", len(views))
	}
	if views[0].SenderID != "alice" {
		t.Errorf("Отправитель не атрибутирован: %q", views[0].SenderID)
	}
	t.Logf("✅ Атрибуция по отпечатку подписанта работает")
}
