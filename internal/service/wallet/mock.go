package wallet

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/credits/internal/domain"
)

// MockService: in-memory ledger для разработки и тестов.
// Повторный Credit с уже применённым Reference не меняет баланс.
type MockService struct {
	mu sync.Mutex

	CreditErr  error
	BalanceErr error

	CreditCalls  int
	BalanceCalls int
	Applied      []domain.CreditRequest

	balances   map[int64]decimal.Decimal
	references map[string]struct{}
}

// NewMockService возвращает ledger с нулевыми балансами.
func NewMockService() *MockService {
	return &MockService{
		balances:   make(map[int64]decimal.Decimal),
		references: make(map[string]struct{}),
	}
}

func (m *MockService) Configured() bool { return true }

// Credit применяет начисление к балансу клиента.
func (m *MockService) Credit(req domain.CreditRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CreditCalls++
	if m.CreditErr != nil {
		return m.CreditErr
	}
	if req.Reference != "" {
		if _, seen := m.references[req.Reference]; seen {
			return nil
		}
		m.references[req.Reference] = struct{}{}
	}

	m.balances[req.CustomerID] = m.balances[req.CustomerID].Add(req.Amount)
	m.Applied = append(m.Applied, req)
	return nil
}

// Balance возвращает текущий баланс клиента.
func (m *MockService) Balance(customerID int64) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.BalanceCalls++
	if m.BalanceErr != nil {
		return decimal.Zero, m.BalanceErr
	}
	return m.balances[customerID], nil
}

// SetBalance задаёт начальный баланс клиента.
func (m *MockService) SetBalance(customerID int64, amount decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[customerID] = amount
}

// AppliedCount возвращает число применённых начислений.
func (m *MockService) AppliedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Applied)
}

var _ domain.Wallet = (*MockService)(nil)
