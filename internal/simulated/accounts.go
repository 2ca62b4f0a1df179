// Package simulated is a fully in-process exchange: a per-account ledger, a
// deterministic price/time-priority matching engine per trading pair, an
// adapter exposing it through the standard capability contract, and a
// background generator that keeps the book moving for tests.
package simulated

import (
	"errors"
	"sync"

	"github.com/shopspring/decimal"
)

// ErrInsufficientBalance rejects an order the account cannot fund. This is a
// rejected order, not an engine fault.
var ErrInsufficientBalance = errors.New("simulated: insufficient balance")

// Balance is one currency's position in an account. Available plus Reserved
// is conserved across every matching operation except the exact amounts
// transferred by completed trades.
type Balance struct {
	Available decimal.Decimal
	Reserved  decimal.Decimal
}

// Total returns available plus reserved.
func (b Balance) Total() decimal.Decimal {
	return b.Available.Add(b.Reserved)
}

// Account is one ledger. All mutations go through the account's own lock, so
// engines for independent pairs can settle concurrently.
type Account struct {
	id string

	mu       sync.Mutex
	balances map[string]*Balance
}

// ID returns the account identifier.
func (a *Account) ID() string {
	return a.id
}

// Deposit credits available funds.
func (a *Account) Deposit(currency string, amount decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b := a.balance(currency)
	b.Available = b.Available.Add(amount)
}

// Balance returns a copy of one currency's position.
func (a *Account) Balance(currency string) Balance {
	a.mu.Lock()
	defer a.mu.Unlock()
	if b, ok := a.balances[currency]; ok {
		return *b
	}
	return Balance{Available: decimal.Zero, Reserved: decimal.Zero}
}

// Snapshot returns a copy of every currency position.
func (a *Account) Snapshot() map[string]Balance {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]Balance, len(a.balances))
	for ccy, b := range a.balances {
		out[ccy] = *b
	}
	return out
}

// reserve moves funds from available to reserved, failing the whole
// operation if available funds are short.
func (a *Account) reserve(currency string, amount decimal.Decimal) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	b := a.balance(currency)
	if b.Available.LessThan(amount) {
		return ErrInsufficientBalance
	}
	b.Available = b.Available.Sub(amount)
	b.Reserved = b.Reserved.Add(amount)
	return nil
}

// release returns reserved funds to available.
func (a *Account) release(currency string, amount decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b := a.balance(currency)
	b.Reserved = b.Reserved.Sub(amount)
	b.Available = b.Available.Add(amount)
}

// spendReserved consumes reserved funds as the outgoing leg of a trade.
func (a *Account) spendReserved(currency string, amount decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b := a.balance(currency)
	b.Reserved = b.Reserved.Sub(amount)
}

// credit adds incoming trade proceeds to available funds.
func (a *Account) credit(currency string, amount decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b := a.balance(currency)
	b.Available = b.Available.Add(amount)
}

func (a *Account) balance(currency string) *Balance {
	b, ok := a.balances[currency]
	if !ok {
		b = &Balance{Available: decimal.Zero, Reserved: decimal.Zero}
		a.balances[currency] = b
	}
	return b
}

// AccountFactory provisions and looks up accounts by id. Used by tests and
// the activity generator to seed market state.
type AccountFactory struct {
	mu       sync.Mutex
	accounts map[string]*Account
}

// NewAccountFactory creates an empty ledger set.
func NewAccountFactory() *AccountFactory {
	return &AccountFactory{accounts: make(map[string]*Account)}
}

// Get returns the account for id, creating an empty one on first use.
func (f *AccountFactory) Get(id string) *Account {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok {
		a = &Account{id: id, balances: make(map[string]*Balance)}
		f.accounts[id] = a
	}
	return a
}
