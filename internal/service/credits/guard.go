package credits

import "github.com/vladislavdragonenkov/credits/internal/domain"

// ShouldAward: заказ есть, ещё не начислен и принадлежит зарегистрированному клиенту.
func ShouldAward(order *domain.Order) bool {
	if order == nil {
		return false
	}
	if order.CreditsAwarded() {
		return false
	}
	return !order.IsGuest()
}

// MarkAwarded добавляет заметку и выставляет флаг на одном экземпляре заказа.
// Оба изменения уходят в хранилище одним Save.
func MarkAwarded(order *domain.Order, note string) {
	order.AddNote(note)
	order.SetMeta(domain.MetaCreditsAwarded, domain.MetaValueYes)
}
