package wallet

import (
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/credits/internal/domain"
)

// NotConfigured: кошелёк не подключён. Координатор по нему пропускает начисления.
type NotConfigured struct{}

func (NotConfigured) Configured() bool { return false }

func (NotConfigured) Credit(domain.CreditRequest) error { return domain.ErrWalletNotConfigured }

func (NotConfigured) Balance(int64) (decimal.Decimal, error) {
	return decimal.Zero, domain.ErrWalletNotConfigured
}

var _ domain.Wallet = NotConfigured{}
