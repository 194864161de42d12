// Package phone приводит номера телефонов к международному формату для отправки сообщений.
package phone

import "strings"

const (
	// DefaultCountryCode: код страны по умолчанию (Бразилия).
	DefaultCountryCode = "55"
	// maxLocalDigits: номер длиной до этого значения считается локальным (DDD + номер).
	maxLocalDigits = 11
)

// Normalizer нормализует номера с заданным кодом страны.
type Normalizer struct {
	CountryCode string
}

// NewNormalizer создаёт нормализатор; пустой код заменяется DefaultCountryCode.
func NewNormalizer(countryCode string) Normalizer {
	countryCode = digitsOnly(countryCode)
	if countryCode == "" {
		countryCode = DefaultCountryCode
	}
	return Normalizer{CountryCode: countryCode}
}

// Normalize нормализует номер с DefaultCountryCode.
func Normalize(raw string) (string, bool) {
	return Normalizer{CountryCode: DefaultCountryCode}.Normalize(raw)
}

// Normalize возвращает номер в каноническом виде или false, если цифр нет.
//
// До 11 цифр включительно к номеру добавляется код страны. Более длинный номер
// возвращается как есть: с кодом страны он уже канонический, без кода это
// неоднозначный международный номер, который не проверяется.
func (n Normalizer) Normalize(raw string) (string, bool) {
	digits := digitsOnly(raw)
	if digits == "" {
		return "", false
	}

	code := n.CountryCode
	if code == "" {
		code = DefaultCountryCode
	}

	if len(digits) <= maxLocalDigits {
		return code + digits, true
	}
	return digits, true
}

func digitsOnly(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
