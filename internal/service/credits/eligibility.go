package credits

import (
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/credits/internal/domain"
)

// Catalog резолвит товары позиций заказа.
type Catalog interface {
	Get(id int64) (domain.Product, error)
}

// minAutoCompleteCredits: минимальное значение кредитов товара для авто-завершения.
var minAutoCompleteCredits = decimal.NewFromInt(1)

// IsEligibleForAutoCompletion сообщает, что все резолвящиеся позиции заказа виртуальные
// и дают не меньше одного кредита. Нерезолвящиеся позиции пропускаются, но хотя бы
// одна подходящая позиция обязательна.
func IsEligibleForAutoCompletion(order domain.Order, catalog Catalog) bool {
	if order.HasStatus(domain.OrderStatusCompleted) || len(order.Items) == 0 {
		return false
	}

	eligible := 0
	for _, item := range order.Items {
		product, ok := resolve(catalog, item.ProductID)
		if !ok {
			continue
		}
		if !product.IsVirtual() || product.CreditValue().LessThan(minAutoCompleteCredits) {
			return false
		}
		eligible++
	}
	return eligible > 0
}

func resolve(catalog Catalog, productID int64) (domain.Product, bool) {
	if catalog == nil {
		return domain.Product{}, false
	}
	product, err := catalog.Get(productID)
	if err != nil {
		return domain.Product{}, false
	}
	return product, true
}
