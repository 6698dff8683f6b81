package repository

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"venerapay/internal/account"
)

// MemoryRepository — map-бэкенд с той же семантикой merge/update, что и
// Firestore-реализация. Используется как тестовый дублёр сервисного слоя.
type MemoryRepository struct {
	mu       sync.Mutex
	accounts map[string]*account.Account
	Orders   []account.Order
	Charges  []account.Charge
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{accounts: make(map[string]*account.Account)}
}

func (r *MemoryRepository) Put(customerKey string, acc *account.Account) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts[customerKey] = acc
}

func (r *MemoryRepository) Get(ctx context.Context, customerKey string) (*account.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	acc, ok := r.accounts[customerKey]
	if !ok {
		return nil, ErrAccountNotFound
	}
	copied := *acc
	return &copied, nil
}

func (r *MemoryRepository) Merge(ctx context.Context, customerKey string, data map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	acc, ok := r.accounts[customerKey]
	if !ok {
		acc = &account.Account{}
		r.accounts[customerKey] = acc
	}

	for key, value := range data {
		switch key {
		case "orderId":
			acc.OrderID = value.(string)
		case "productType":
			acc.ProductType = value.(string)
		case "tinkoff":
			tk, ok := value.(map[string]interface{})
			if !ok {
				return fmt.Errorf("merge %s: tinkoff is not a map", customerKey)
			}
			if v, ok := tk["PaymentId"]; ok {
				acc.Tinkoff.PaymentID = v.(string)
			}
			if v, ok := tk["PaymentURL"]; ok {
				acc.Tinkoff.PaymentURL = v.(string)
			}
			if v, ok := tk["Recurrent"]; ok {
				acc.Tinkoff.Recurrent = v.(bool)
			}
		default:
			return fmt.Errorf("merge %s: unsupported field %q", customerKey, key)
		}
	}
	return nil
}

func (r *MemoryRepository) Update(ctx context.Context, customerKey string, updates []Update) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	acc, ok := r.accounts[customerKey]
	if !ok {
		return ErrAccountNotFound
	}

	for _, u := range updates {
		if err := applyUpdate(acc, u); err != nil {
			return fmt.Errorf("update %s: %w", customerKey, err)
		}
	}
	return nil
}

func applyUpdate(acc *account.Account, u Update) error {
	switch {
	case u.Path == "balance":
		if inc, ok := u.Value.(incrementValue); ok {
			acc.Balance += int64(inc)
		} else {
			acc.Balance = u.Value.(int64)
		}
	case u.Path == "subscription.status":
		acc.Subscription.Status = u.Value.(string)
	case u.Path == "subscription.expiresAt":
		acc.Subscription.ExpiresAt = u.Value.(time.Time)
	case u.Path == "subscription.checkedAt":
		acc.Subscription.CheckedAt = resolveTime(u.Value)
	case u.Path == "tinkoff.rebillId":
		acc.Tinkoff.RebillID = u.Value.(string)
	case u.Path == "tinkoff.hasRecurrent":
		acc.Tinkoff.HasRecurrent = u.Value.(bool)
	case u.Path == "tinkoff.lastCharge":
		acc.Tinkoff.LastCharge = u.Value.(map[string]interface{})
	case u.Path == "tinkoff.lastCallbackPayload":
		acc.Tinkoff.LastCallbackPayload = u.Value.(map[string]interface{})
	case u.Path == "tinkoff.lastCallbackParams":
		acc.Tinkoff.LastCallbackParams = u.Value.(map[string]string)
	case u.Path == "tinkoff.updatedAt":
		acc.Tinkoff.UpdatedAt = resolveTime(u.Value)
	case strings.HasPrefix(u.Path, "tinkoff.processedPayments."):
		if acc.Tinkoff.ProcessedPayments == nil {
			acc.Tinkoff.ProcessedPayments = make(map[string]bool)
		}
		paymentID := strings.TrimPrefix(u.Path, "tinkoff.processedPayments.")
		acc.Tinkoff.ProcessedPayments[paymentID] = u.Value.(bool)
	default:
		return fmt.Errorf("unsupported update path %q", u.Path)
	}
	return nil
}

func resolveTime(v interface{}) time.Time {
	if _, ok := v.(serverTimestamp); ok {
		return time.Now()
	}
	return v.(time.Time)
}

func (r *MemoryRepository) FindByOrderID(ctx context.Context, orderID string) ([]Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matches []Match
	for key, acc := range r.accounts {
		if acc.OrderID == orderID {
			copied := *acc
			matches = append(matches, Match{Key: key, Account: &copied})
		}
	}
	return matches, nil
}

func (r *MemoryRepository) ForEach(ctx context.Context, fn func(customerKey string, acc *account.Account) error) error {
	r.mu.Lock()
	snapshot := make(map[string]account.Account, len(r.accounts))
	for key, acc := range r.accounts {
		snapshot[key] = *acc
	}
	r.mu.Unlock()

	for key, acc := range snapshot {
		copied := acc
		if err := fn(key, &copied); err != nil {
			return err
		}
	}
	return nil
}

func (r *MemoryRepository) AddOrder(ctx context.Context, o account.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Orders = append(r.Orders, o)
	return nil
}

func (r *MemoryRepository) AddCharge(ctx context.Context, c account.Charge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Charges = append(r.Charges, c)
	return nil
}
