package domain

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MetaCreditsAmount: атрибут товара с количеством кредитов за единицу.
const MetaCreditsAmount = "_dsi_terawallet_credits_amount"

// Product: товар каталога в части, нужной для начислений.
type Product struct {
	ID        int64
	Name      string
	Virtual   bool
	Meta      map[string]string
	UpdatedAt time.Time
}

// IsVirtual сообщает, что товар не требует физической доставки.
func (p *Product) IsVirtual() bool {
	return p.Virtual
}

// MetaValue возвращает значение метаданных или пустую строку.
func (p *Product) MetaValue(key string) string {
	if p.Meta == nil {
		return ""
	}
	return p.Meta[key]
}

// CreditValue возвращает текущее значение кредитов товара.
// Отсутствующее или нечисловое значение трактуется как 0.
func (p *Product) CreditValue() decimal.Decimal {
	return ParseCredits(p.MetaValue(MetaCreditsAmount))
}

// Clone возвращает копию товара с собственной map метаданных.
func (p Product) Clone() Product {
	dst := p
	if p.Meta != nil {
		dst.Meta = make(map[string]string, len(p.Meta))
		for k, v := range p.Meta {
			dst.Meta[k] = v
		}
	}
	return dst
}

// ParseCredits разбирает сохранённое значение кредитов; ошибки разбора дают 0.
func ParseCredits(raw string) decimal.Decimal {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}
	return value
}

// IsNumeric: числовая ли строка (целое, дробное, с экспонентой, со знаком).
func IsNumeric(raw string) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false
	}
	_, err := decimal.NewFromString(raw)
	return err == nil
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
