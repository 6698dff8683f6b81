package repository

import (
	"context"
	"fmt"
	"log"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"venerapay/internal/account"
)

const (
	usersCollection   = "telegramUsers"
	ordersCollection  = "orders"
	chargesCollection = "recurrentCharges"
)

type FirestoreRepository struct {
	client *firestore.Client
}

func NewFirestoreRepository(client *firestore.Client) *FirestoreRepository {
	return &FirestoreRepository{client: client}
}

func (r *FirestoreRepository) Get(ctx context.Context, customerKey string) (*account.Account, error) {
	doc, err := r.client.Collection(usersCollection).Doc(customerKey).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("get account %s: %w", customerKey, err)
	}

	var acc account.Account
	if err := doc.DataTo(&acc); err != nil {
		return nil, fmt.Errorf("decode account %s: %w", customerKey, err)
	}
	return &acc, nil
}

func (r *FirestoreRepository) Merge(ctx context.Context, customerKey string, data map[string]interface{}) error {
	_, err := r.client.Collection(usersCollection).Doc(customerKey).Set(ctx, translateMap(data), firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("merge account %s: %w", customerKey, err)
	}
	return nil
}

func (r *FirestoreRepository) Update(ctx context.Context, customerKey string, updates []Update) error {
	fsUpdates := make([]firestore.Update, 0, len(updates))
	for _, u := range updates {
		fsUpdates = append(fsUpdates, firestore.Update{Path: u.Path, Value: translateValue(u.Value)})
	}

	_, err := r.client.Collection(usersCollection).Doc(customerKey).Update(ctx, fsUpdates)
	if err != nil {
		return fmt.Errorf("update account %s: %w", customerKey, err)
	}
	return nil
}

func (r *FirestoreRepository) FindByOrderID(ctx context.Context, orderID string) ([]Match, error) {
	iter := r.client.Collection(usersCollection).Where("orderId", "==", orderID).Documents(ctx)
	defer iter.Stop()

	var matches []Match
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("query accounts by orderId %s: %w", orderID, err)
		}

		var acc account.Account
		if err := doc.DataTo(&acc); err != nil {
			log.Printf("FirestoreRepository: skipping undecodable account %s: %v", doc.Ref.ID, err)
			continue
		}
		matches = append(matches, Match{Key: doc.Ref.ID, Account: &acc})
	}
	return matches, nil
}

func (r *FirestoreRepository) ForEach(ctx context.Context, fn func(customerKey string, acc *account.Account) error) error {
	iter := r.client.Collection(usersCollection).Documents(ctx)
	defer iter.Stop()

	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			return nil
		}
		if err != nil {
			return fmt.Errorf("stream accounts: %w", err)
		}

		var acc account.Account
		if err := doc.DataTo(&acc); err != nil {
			log.Printf("FirestoreRepository: skipping undecodable account %s: %v", doc.Ref.ID, err)
			continue
		}
		if err := fn(doc.Ref.ID, &acc); err != nil {
			return err
		}
	}
}

func (r *FirestoreRepository) AddOrder(ctx context.Context, o account.Order) error {
	_, _, err := r.client.Collection(ordersCollection).Add(ctx, o)
	if err != nil {
		return fmt.Errorf("add order record: %w", err)
	}
	return nil
}

func (r *FirestoreRepository) AddCharge(ctx context.Context, c account.Charge) error {
	_, _, err := r.client.Collection(chargesCollection).Add(ctx, c)
	if err != nil {
		return fmt.Errorf("add charge record: %w", err)
	}
	return nil
}

// translateValue переводит сентинелы репозитория в сентинелы Firestore
func translateValue(v interface{}) interface{} {
	switch x := v.(type) {
	case incrementValue:
		return firestore.Increment(int64(x))
	case serverTimestamp:
		return firestore.ServerTimestamp
	case map[string]interface{}:
		return translateMap(x)
	default:
		return v
	}
}

func translateMap(data map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		out[k] = translateValue(v)
	}
	return out
}
