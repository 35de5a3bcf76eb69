package cache

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"pos-offline-core/internal/mirror"
)

// balanceBacking keeps balances in the mirror's customer_balance_cache
// field, so they survive restarts with the rest of the mirror.
type balanceBacking struct {
	mirror *mirror.Mirror
	ttl    time.Duration
}

func (b *balanceBacking) Load(_ context.Context, customer string) (Entry[decimal.Decimal], bool, error) {
	bal, ok := b.mirror.CustomerBalance(customer)
	if !ok {
		return Entry[decimal.Decimal]{}, false, nil
	}
	return Entry[decimal.Decimal]{Data: bal.Balance, Timestamp: bal.Timestamp, TTL: b.ttl}, true, nil
}

func (b *balanceBacking) Store(_ context.Context, customer string, e Entry[decimal.Decimal]) error {
	return b.mirror.SetCustomerBalance(customer, mirror.CustomerBalance{Balance: e.Data, Timestamp: e.Timestamp})
}

func (b *balanceBacking) Delete(_ context.Context, customer string) error {
	return b.mirror.DeleteCustomerBalance(customer)
}

func (b *balanceBacking) Clear(context.Context) error {
	return b.mirror.ClearCustomerBalances()
}

// BalanceCache caches customer balances. They are advisory while offline,
// so the TTL is long.
type BalanceCache struct {
	*Tiered[decimal.Decimal]
	mirror *mirror.Mirror
	ttl    time.Duration
}

func NewBalanceCache(m *mirror.Mirror, ttl time.Duration, maxEntries int) *BalanceCache {
	return &BalanceCache{
		Tiered: NewTiered[decimal.Decimal]("customer_balance", ttl,
			NewMemory[decimal.Decimal]("customer_balance", maxEntries), nil,
			&balanceBacking{mirror: m, ttl: ttl}),
		mirror: m,
		ttl:    ttl,
	}
}

// ClearExpired drops expired balances from memory and the mirror.
func (c *BalanceCache) ClearExpired() (int, error) {
	c.Cleanup()
	return c.mirror.ClearExpiredBalances(c.ttl)
}
