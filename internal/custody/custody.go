// Package custody abstracts the value-custody collaborator: escrowing
// stakes and reward pools in, and paying winners, refunds, and fees out.
// Transfers are synchronous and fallible; the engine never retries them.
package custody

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrInsufficientFunds is returned by TransferIn when the payer cannot
// cover the amount.
var ErrInsufficientFunds = errors.New("insufficient funds")

// ErrEscrowUnderflow is returned by TransferOut when the escrow pool does
// not hold the requested amount. Seeing it means the engine's accounting
// is wrong, not the caller's.
var ErrEscrowUnderflow = errors.New("escrow underflow")

// Custodian moves value between party accounts and the engine's escrow.
type Custodian interface {
	// TransferIn escrows amount from payer.
	TransferIn(ctx context.Context, payer string, amount int64) error
	// TransferOut releases amount from escrow to payee.
	TransferOut(ctx context.Context, payee string, amount int64) error
}

// MemoryBank is an in-process custodian with explicit account balances.
// Tests and dev mode use it; production wires the HTTP custodian.
type MemoryBank struct {
	mu       sync.Mutex
	balances map[string]int64
	escrow   int64
}

func NewMemoryBank() *MemoryBank {
	return &MemoryBank{balances: map[string]int64{}}
}

// Deposit credits an account outside any escrow flow (test/dev funding).
func (b *MemoryBank) Deposit(account string, amount int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances[account] += amount
}

// Balance reports an account's current balance.
func (b *MemoryBank) Balance(account string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balances[account]
}

// Escrowed reports the total value currently held in escrow.
func (b *MemoryBank) Escrowed() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.escrow
}

func (b *MemoryBank) TransferIn(ctx context.Context, payer string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("transfer in: amount %d not positive", amount)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.balances[payer] < amount {
		return fmt.Errorf("transfer in from %q: %w", payer, ErrInsufficientFunds)
	}
	b.balances[payer] -= amount
	b.escrow += amount
	return nil
}

func (b *MemoryBank) TransferOut(ctx context.Context, payee string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("transfer out: amount %d not positive", amount)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.escrow < amount {
		return fmt.Errorf("transfer out to %q: %w", payee, ErrEscrowUnderflow)
	}
	b.escrow -= amount
	b.balances[payee] += amount
	return nil
}
