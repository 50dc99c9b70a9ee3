// Package integration exercises the connector against the API emulator.
package integration

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/shunichi-ikebuchi/exact-online-connector/pkg/dispatch"
	"github.com/shunichi-ikebuchi/exact-online-connector/pkg/reconcile"
)

// TestDataBuilder provides helper methods for building test data.
type TestDataBuilder struct {
	glAccount string
	finYear   int
}

// NewTestDataBuilder creates a new TestDataBuilder.
func NewTestDataBuilder(glAccount string, finYear int) *TestDataBuilder {
	return &TestDataBuilder{glAccount: glAccount, finYear: finYear}
}

// Account returns the field values of a new account.
func (b *TestDataBuilder) Account(name, city string) []dispatch.FieldValue {
	return []dispatch.FieldValue{
		{Name: "Name", Value: reconcile.Value(name)},
		{Name: "City", Value: reconcile.Value(city)},
		{Name: "IsSupplier", Value: "true"},
		{Name: "CreditLinePurchase", Value: "2500.50"},
	}
}

// MatchSet returns a match set over the given amounts, one line per amount.
func (b *TestDataBuilder) MatchSet(entry int, amounts ...string) reconcile.MatchSet {
	lines := make([]reconcile.ReconciledTransaction, len(amounts))
	for i, amount := range amounts {
		lines[i] = reconcile.ReconciledTransaction{
			FinYear:   reconcile.Value(strconv.Itoa(b.finYear)),
			FinPeriod: "1",
			Journal:   "70",
			Entry:     reconcile.Value(strconv.Itoa(entry + i)),
			AmountDC:  reconcile.Value(amount),
		}
	}
	return reconcile.MatchSet{
		GLAccount:  reconcile.Value(b.glAccount),
		MatchLines: lines,
	}
}

// fakeClock is a manual clock whose Sleep advances time instead of blocking.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

// Now returns the current fake time.
func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Sleep records d and advances the clock by it.
func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

// Sleeps returns the recorded sleeps.
func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}
