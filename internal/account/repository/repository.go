package repository

import (
	"context"
	"errors"

	"venerapay/internal/account"
)

var ErrAccountNotFound = errors.New("account not found")

// Update — одно изменение по dotted-пути документа ("subscription.status").
// Значением может быть обычное значение, Increment(n) или ServerTimestamp.
type Update struct {
	Path  string
	Value interface{}
}

type incrementValue int64

// Increment атомарно увеличивает числовое поле на n
func Increment(n int64) interface{} {
	return incrementValue(n)
}

type serverTimestamp struct{}

// ServerTimestamp подставляет время записи на стороне хранилища
var ServerTimestamp = serverTimestamp{}

// Match — аккаунт вместе с ключом документа (нужен pull-колбэку,
// который ищет по orderId и может найти несколько документов)
type Match struct {
	Key     string
	Account *account.Account
}

type Repository interface {
	Get(ctx context.Context, customerKey string) (*account.Account, error)
	// Merge пишет только переданные поля, не трогая остальной документ
	Merge(ctx context.Context, customerKey string, data map[string]interface{}) error
	Update(ctx context.Context, customerKey string, updates []Update) error
	FindByOrderID(ctx context.Context, orderID string) ([]Match, error)
	// ForEach перебирает всю коллекцию аккаунтов (сканирование для свипа)
	ForEach(ctx context.Context, fn func(customerKey string, acc *account.Account) error) error
	AddOrder(ctx context.Context, o account.Order) error
	AddCharge(ctx context.Context, c account.Charge) error
}
