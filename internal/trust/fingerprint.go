// Путь: internal/trust/fingerprint.go
package trust

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// DisplayFingerprint форматирует отпечаток в человеко-читаемый вид для
// диалогов сверки ключей. Пример: "ABCD 1234 EFGH 5678 ...".
func DisplayFingerprint(fingerprint string) string {
	var formatted strings.Builder
	for i, r := range fingerprint {
		if i > 0 && i%4 == 0 {
			formatted.WriteRune(' ')
		}
		formatted.WriteRune(r)
	}
	// Верхний регистр для единообразия при визуальном сравнении.
	return cases.Upper(language.English).String(formatted.String())
}
