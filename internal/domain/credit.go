package domain

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// CreditGrant: вычисляемое начисление по заказу, отдельно не хранится.
type CreditGrant struct {
	OrderID     int64
	CustomerID  int64
	Total       decimal.Decimal
	OrderNumber string
}

// Reference: детерминированный ключ начисления для идемпотентных кошельков.
func (g CreditGrant) Reference() string {
	return "order:" + formatID(g.OrderID) + ":credits"
}

// CreditRequest: запрос на начисление в кошелёк.
type CreditRequest struct {
	CustomerID int64
	Amount     decimal.Decimal
	Note       string
	Reference  string
}

// UserProfile: данные пользователя для обращения в сообщениях.
type UserProfile struct {
	ID          int64
	FirstName   string
	DisplayName string
}

// ProfileOwner: владелец структурированных полей пользователя.
func ProfileOwner(userID int64) string {
	return "user_" + formatID(userID)
}

// ParseProfileOwner разбирает владельца вида "user_<id>".
func ParseProfileOwner(owner string) (int64, bool) {
	raw, found := strings.CutPrefix(owner, "user_")
	if !found {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// CustomerProfile: локальная реплика профиля клиента: имя, структурированные
// поля и метаданные пользователя.
type CustomerProfile struct {
	UserProfile
	Fields map[string]string
	Meta   map[string]string
}
