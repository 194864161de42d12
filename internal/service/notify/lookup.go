package notify

import (
	"errors"
	"strings"

	"github.com/vladislavdragonenkov/credits/internal/domain"
	"github.com/vladislavdragonenkov/credits/internal/phone"
)

const (
	// DefaultPhoneField: структурированное поле профиля с телефоном.
	DefaultPhoneField = "phone_number"
	// DefaultDisplayName: обращение, если у пользователя нет имени.
	DefaultDisplayName = "Cliente"
)

// DefaultFallbackKeys: метаполя пользователя, проверяемые после структурированного поля.
var DefaultFallbackKeys = []string{"billing_phone", "phone"}

// PhoneLookup ищет телефон и имя пользователя в профиле.
type PhoneLookup struct {
	directory    domain.ProfileDirectory
	field        string
	fallbackKeys []string
	normalizer   phone.Normalizer
}

// NewPhoneLookup создаёт поиск телефона. Пустые параметры заменяются значениями по умолчанию.
func NewPhoneLookup(directory domain.ProfileDirectory, field string, fallbackKeys []string, normalizer phone.Normalizer) *PhoneLookup {
	if strings.TrimSpace(field) == "" {
		field = DefaultPhoneField
	}
	if len(fallbackKeys) == 0 {
		fallbackKeys = DefaultFallbackKeys
	}
	if normalizer.CountryCode == "" {
		normalizer = phone.NewNormalizer(phone.DefaultCountryCode)
	}
	return &PhoneLookup{
		directory:    directory,
		field:        field,
		fallbackKeys: append([]string(nil), fallbackKeys...),
		normalizer:   normalizer,
	}
}

// Phone возвращает нормализованный телефон пользователя или ErrPhoneNotFound.
func (l *PhoneLookup) Phone(userID int64) (string, error) {
	if l.directory == nil {
		return "", domain.ErrPhoneNotFound
	}

	raw, err := l.directory.Field(l.field, domain.ProfileOwner(userID))
	if err != nil && !errors.Is(err, domain.ErrProfileNotFound) {
		return "", err
	}
	for _, key := range l.fallbackKeys {
		if strings.TrimSpace(raw) != "" {
			break
		}
		raw, err = l.directory.UserMeta(userID, key)
		if err != nil && !errors.Is(err, domain.ErrProfileNotFound) {
			return "", err
		}
	}

	normalized, ok := l.normalizer.Normalize(raw)
	if !ok {
		return "", domain.ErrPhoneNotFound
	}
	return normalized, nil
}

// DisplayName возвращает имя, затем отображаемое имя, иначе DefaultDisplayName.
func (l *PhoneLookup) DisplayName(userID int64) string {
	if l.directory == nil {
		return DefaultDisplayName
	}
	profile, err := l.directory.UserData(userID)
	if err != nil {
		return DefaultDisplayName
	}
	if name := strings.TrimSpace(profile.FirstName); name != "" {
		return name
	}
	if name := strings.TrimSpace(profile.DisplayName); name != "" {
		return name
	}
	return DefaultDisplayName
}
