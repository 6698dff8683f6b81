package checker

import (
	"context"
	"log"
	"time"

	"venerapay/internal/account"
	"venerapay/internal/account/repository"
	"venerapay/internal/metrics"
)

// Checker — фоновая сверка подписок: единственный агент, переводящий
// статус в "expired" после истечения expiresAt. Ветка колбэков только
// ставит/продлевает Premium.
type Checker struct {
	repo     repository.Repository
	interval time.Duration
	now      func() time.Time
}

func New(repo repository.Repository, interval time.Duration) *Checker {
	return &Checker{
		repo:     repo,
		interval: interval,
		now:      time.Now,
	}
}

// Start крутит свип до отмены контекста. Ошибки одного тика логируются
// и не прерывают последующие.
func (c *Checker) Start(ctx context.Context) {
	log.Println("SubscriptionChecker: запущен, интервал", c.interval)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		if err := c.Sweep(ctx); err != nil {
			log.Printf("SubscriptionChecker: ошибка проверки подписок: %v", err)
		}

		select {
		case <-ctx.Done():
			log.Println("SubscriptionChecker: остановлен")
			return
		case <-ticker.C:
		}
	}
}

// Sweep проходит все аккаунты и приводит subscription.status в соответствие
// с expiresAt. Совпадающий статус не перезаписывается.
func (c *Checker) Sweep(ctx context.Context) error {
	now := c.now()

	return c.repo.ForEach(ctx, func(customerKey string, acc *account.Account) error {
		if acc.Subscription.ExpiresAt.IsZero() {
			return nil
		}

		desired := account.StatusPremium
		if acc.Subscription.ExpiresAt.Before(now) {
			desired = account.StatusExpired
		}
		if acc.Subscription.Status == desired {
			return nil
		}

		err := c.repo.Update(ctx, customerKey, []repository.Update{
			{Path: "subscription.status", Value: desired},
			{Path: "subscription.checkedAt", Value: repository.ServerTimestamp},
		})
		if err != nil {
			// один проблемный аккаунт не должен останавливать свип
			log.Printf("SubscriptionChecker: update %s failed: %v", customerKey, err)
			return nil
		}

		if desired == account.StatusExpired {
			metrics.SubscriptionsExpired.Inc()
		}
		log.Printf("SubscriptionChecker: %s -> %s", customerKey, desired)
		return nil
	})
}
