package domain

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ. Возвращает ошибку, если запись с таким ID уже существует.
	Create(order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(id int64) (Order, error)
	// Save атомарно применяет статус, метаданные и новые заметки с учётом optimistic locking.
	Save(order Order) error
	// Upsert применяет снимок заказа с витрины. Локальные метаданные и заметки сохраняются,
	// флаг начисления никогда не сбрасывается.
	Upsert(order Order) (Order, error)
}

// ProductRepository: локальная реплика каталога.
type ProductRepository interface {
	// Get возвращает товар или ErrProductNotFound.
	Get(id int64) (Product, error)
	// Upsert создаёт или обновляет товар; метаданные снимка сливаются с локальными.
	Upsert(product Product) error
	// SetMeta записывает атрибут товара.
	SetMeta(id int64, key, value string) error
	// DeleteMeta удаляет атрибут товара.
	DeleteMeta(id int64, key string) error
}

// ProfileRepository: реплика профилей клиентов, через которую работает поиск телефона.
type ProfileRepository interface {
	ProfileDirectory
	// Upsert заменяет профиль клиента целиком.
	Upsert(profile CustomerProfile) error
}
