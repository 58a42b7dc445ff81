package main

import (
	"errors"
	"fmt"
	"sync"

	"github.com/fluxorio/parallel/pkg/concurrency"
)

var (
	errInsufficientFunds = errors.New("insufficient funds")
	errSameAccount       = errors.New("source and destination are the same account")
	errNoSuchAccount     = errors.New("no such account")
)

type account struct {
	mu      sync.Mutex
	balance int64
}

// bank moves money between accounts, each guarded by its own mutex.
type bank struct {
	accounts []*account
}

func newBank(n int, initial int64) *bank {
	b := &bank{accounts: make([]*account, n)}
	for i := range b.accounts {
		b.accounts[i] = &account{balance: initial}
	}
	return b
}

// transfer locks both accounts together, so concurrent transfers in
// opposite directions cannot deadlock.
func (b *bank) transfer(from, to int, amount int64) error {
	if from == to {
		return errSameAccount
	}
	src, err := b.account(from)
	if err != nil {
		return err
	}
	dst, err := b.account(to)
	if err != nil {
		return err
	}

	return concurrency.With(func() error {
		if src.balance < amount {
			return errInsufficientFunds
		}
		src.balance -= amount
		dst.balance += amount
		return nil
	}, &src.mu, &dst.mu)
}

// total sums every balance while holding all accounts at once.
func (b *bank) total() (int64, error) {
	locks := make([]concurrency.Lockable, len(b.accounts))
	for i, a := range b.accounts {
		locks[i] = &a.mu
	}

	g, err := concurrency.Lock(locks...)
	if err != nil {
		return 0, err
	}
	defer g.Unlock()

	var sum int64
	for _, a := range b.accounts {
		sum += a.balance
	}
	return sum, nil
}

func (b *bank) account(i int) (*account, error) {
	if i < 0 || i >= len(b.accounts) {
		return nil, fmt.Errorf("%w: %d", errNoSuchAccount, i)
	}
	return b.accounts[i], nil
}
