// Путь: internal/pipeline/records.go
package pipeline

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// Распознаваемые префиксы плейнтекста. Управляющие сообщения отличимы от
// обычного контента фиксированным префиксом; после префикса лежит
// CBOR-полезная нагрузка.
var (
	controlPrefix = []byte("WHISPERMESH/CTRL\n")
	filePrefix    = []byte("WHISPERMESH/FILE\n")
)

// PlainKind - дискриминант разобранного плейнтекста.
type PlainKind int

const (
	// PlainText - обычный видимый текст сообщения.
	PlainText PlainKind = iota
	// PlainControl - управляющее сообщение (обмен сессионными ключами),
	// в транскрипт не попадает, уходит сборщику.
	PlainControl
	// PlainFile - файловые метаданные.
	PlainFile
)

// FileMetadata описывает файловое вложение. Тело файла конвейер сам не
// загружает (кроме картинок для превью) - только через hook по запросу UI.
type FileMetadata struct {
	Name     string `cbor:"name"`
	MimeType string `cbor:"mimeType"`
	Size     int64  `cbor:"size"`
	FileRef  string `cbor:"fileRef"`
}

// IsImage сообщает, нужно ли проактивно готовить встроенное превью.
func (m *FileMetadata) IsImage() bool {
	return strings.HasPrefix(m.MimeType, "image/")
}

// ParsedPlain - результат разбора расшифрованного плейнтекста:
// явный тип-сумма вместо разбросанного по коду "принюхивания" к строкам.
type ParsedPlain struct {
	Kind    PlainKind
	Text    string
	Control []byte // сырая управляющая нагрузка для сборщика
	File    *FileMetadata
}

// ParsePlaintext классифицирует расшифрованный плейнтекст по префиксу.
func ParsePlaintext(plain []byte) (*ParsedPlain, error) {
	switch {
	case bytes.HasPrefix(plain, controlPrefix):
		return &ParsedPlain{
			Kind:    PlainControl,
			Control: plain[len(controlPrefix):],
		}, nil

	case bytes.HasPrefix(plain, filePrefix):
		var meta FileMetadata
		if err := cbor.Unmarshal(plain[len(filePrefix):], &meta); err != nil {
			return nil, fmt.Errorf("файловые метаданные повреждены: %w", err)
		}
		return &ParsedPlain{Kind: PlainFile, File: &meta}, nil

	default:
		return &ParsedPlain{Kind: PlainText, Text: string(plain)}, nil
	}
}

// EncodeControlPlaintext упаковывает управляющую нагрузку в плейнтекст
// с распознаваемым префиксом (для отправки через store-and-forward канал).
func EncodeControlPlaintext(payload []byte) []byte {
	out := make([]byte, 0, len(controlPrefix)+len(payload))
	out = append(out, controlPrefix...)
	return append(out, payload...)
}

// EncodeFilePlaintext упаковывает файловые метаданные.
func EncodeFilePlaintext(meta *FileMetadata) ([]byte, error) {
	raw, err := cbor.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("не удалось сериализовать файловые метаданные: %w", err)
	}
	out := make([]byte, 0, len(filePrefix)+len(raw))
	out = append(out, filePrefix...)
	return append(out, raw...), nil
}

// DecryptedView - производная, перезаписываемая, непersistent проекция
// одной записи. Заменяется на месте при успешном повторе и отбрасывается
// при отмене сессии. Пока Final=false, Failed=true может быть временным
// (сообщение еще в повторе).
type DecryptedView struct {
	RecordID  string
	ThreadRef string
	SenderID  string
	Sequence  uint64
	Content   string
	Failed    bool
	IsControl bool // управляющее сообщение обмена ключами
	File      *FileMetadata
	Preview   []byte // расшифрованное тело картинки для встроенного превью
	Final     bool   // повторов больше не будет
}
