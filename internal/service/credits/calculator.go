package credits

import (
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/credits/internal/domain"
)

// TotalCredits суммирует кредиты по позициям заказа: значение товара × количество.
// Ненайденные товары и неположительные значения дают ноль. Значение берётся
// текущее, на момент вызова.
func TotalCredits(order domain.Order, catalog Catalog) decimal.Decimal {
	total := decimal.Zero
	for _, item := range order.Items {
		product, ok := resolve(catalog, item.ProductID)
		if !ok {
			continue
		}
		value := product.CreditValue()
		if !value.IsPositive() || item.Quantity <= 0 {
			continue
		}
		total = total.Add(value.Mul(decimal.NewFromInt32(item.Quantity)))
	}
	return total
}
