// funds.go - Fund custody: the ledger of balances the vault moves money on.

package vault

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ErrInsufficientFunds is returned when a transfer exceeds the sender's balance.
var ErrInsufficientFunds = errors.New("insufficient funds")

// ErrBalanceOverflow is returned when a credit would overflow 256 bits.
var ErrBalanceOverflow = errors.New("balance overflow")

// FundLedger moves funds between accounts. Bank is the in-process
// implementation; a chain-backed ledger satisfies the same contract.
type FundLedger interface {
	Transfer(from, to common.Address, amount *uint256.Int) error
	BalanceOf(addr common.Address) *uint256.Int
}

// Bank is a strict in-memory balance table. It refuses overdrafts and
// overflow instead of wrapping.
type Bank struct {
	mu       sync.Mutex
	balances map[common.Address]*uint256.Int
}

// NewBank returns an empty balance table.
func NewBank() *Bank {
	return &Bank{balances: make(map[common.Address]*uint256.Int)}
}

// Mint credits amount to addr. Boot-time faucet only; nothing in the request
// path may create funds.
func (b *Bank) Mint(addr common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	cur := b.balances[addr]
	if cur == nil {
		cur = new(uint256.Int)
		b.balances[addr] = cur
	}
	var sum uint256.Int
	if _, overflow := sum.AddOverflow(cur, amount); overflow {
		return ErrBalanceOverflow
	}
	cur.Set(&sum)
	return nil
}

// Transfer moves amount from one account to the other atomically.
func (b *Bank) Transfer(from, to common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	src := b.balances[from]
	if src == nil || src.Lt(amount) {
		return fmt.Errorf("%w: %s cannot cover %s", ErrInsufficientFunds, from, amount)
	}
	if from == to {
		return nil
	}
	dst := b.balances[to]
	if dst == nil {
		dst = new(uint256.Int)
		b.balances[to] = dst
	}
	var sum uint256.Int
	if _, overflow := sum.AddOverflow(dst, amount); overflow {
		return ErrBalanceOverflow
	}
	src.Sub(src, amount)
	dst.Set(&sum)
	return nil
}

// BalanceOf returns a copy of addr's balance.
func (b *Bank) BalanceOf(addr common.Address) *uint256.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if bal := b.balances[addr]; bal != nil {
		return bal.Clone()
	}
	return new(uint256.Int)
}
