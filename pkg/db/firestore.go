// pkg/db/firestore.go
package db

import (
	"context"
	"fmt"
	"os"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"
)

// Connect инициализирует Firebase и возвращает клиент Firestore.
// Ключ сервисного аккаунта берётся из файла (FIREBASE_KEY_PATH).
func Connect(ctx context.Context, keyPath string) (*firestore.Client, error) {
	if _, err := os.Stat(keyPath); err != nil {
		return nil, fmt.Errorf("firebase key file not found at %s: %w", keyPath, err)
	}

	opt := option.WithCredentialsFile(keyPath)
	app, err := firebase.NewApp(ctx, nil, opt)
	if err != nil {
		return nil, fmt.Errorf("firebase init error: %w", err)
	}

	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("firestore client error: %w", err)
	}

	return client, nil
}
