package token

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/google/uuid"
)

// Token is an in-process balance-tracked asset. Holder balances are keyed by
// account ID; the engine's custody pool is tracked separately so transfers
// in and out of engine custody mirror the on-chain pull/push model.
//
// Transfer methods signal success with a boolean rather than an error: the
// engine checks the flag and translates failure into its own error taxonomy.
type Token struct {
	mu       sync.Mutex
	symbol   string
	balances map[uuid.UUID]*big.Int
	custody  *big.Int
	supply   *big.Int

	authorityGranted bool
}

func NewToken(symbol string) *Token {
	return &Token{
		symbol:   symbol,
		balances: make(map[uuid.UUID]*big.Int),
		custody:  new(big.Int),
		supply:   new(big.Int),
	}
}

// Symbol returns the asset symbol this token represents.
func (t *Token) Symbol() string {
	return t.symbol
}

// TransferIn pulls amount from the holder's balance into engine custody.
// Returns false if the holder's balance is insufficient or amount is not
// positive; the token state is unchanged on failure.
func (t *Token) TransferIn(from uuid.UUID, amount *big.Int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if amount.Sign() <= 0 {
		return false
	}
	bal, ok := t.balances[from]
	if !ok || bal.Cmp(amount) < 0 {
		return false
	}
	bal.Sub(bal, amount)
	t.custody.Add(t.custody, amount)
	return true
}

// TransferOut pushes amount from engine custody to the holder's balance.
func (t *Token) TransferOut(to uuid.UUID, amount *big.Int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if amount.Sign() <= 0 || t.custody.Cmp(amount) < 0 {
		return false
	}
	t.custody.Sub(t.custody, amount)
	t.credit(to, amount)
	return true
}

// BalanceOf returns a copy of the holder's balance.
func (t *Token) BalanceOf(holder uuid.UUID) *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()

	bal, ok := t.balances[holder]
	if !ok {
		return new(big.Int)
	}
	return new(big.Int).Set(bal)
}

// CustodyBalance returns a copy of the engine custody pool.
func (t *Token) CustodyBalance() *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return new(big.Int).Set(t.custody)
}

// TotalSupply returns a copy of the minted supply.
func (t *Token) TotalSupply() *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return new(big.Int).Set(t.supply)
}

// Credit deposits amount into a holder's balance from outside the system
// (the external-boundary equivalent of an on-chain inbound transfer).
func (t *Token) Credit(to uuid.UUID, amount *big.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.credit(to, amount)
	t.supply.Add(t.supply, amount)
}

func (t *Token) credit(to uuid.UUID, amount *big.Int) {
	bal, ok := t.balances[to]
	if !ok {
		bal = new(big.Int)
		t.balances[to] = bal
	}
	bal.Add(bal, amount)
}

// GrantAuthority hands out the token's one and only mint/burn capability.
// The holder of the returned Authority is the only party that can mint or
// burn; a second grant fails. This is the explicit authorization check for
// the issued debt token: the engine receives the authority at construction
// and nothing else ever can.
func (t *Token) GrantAuthority() (*Authority, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.authorityGranted {
		return nil, fmt.Errorf("mint/burn authority for %s already granted", t.symbol)
	}
	t.authorityGranted = true
	return &Authority{token: t}, nil
}

// Authority is the unforgeable mint/burn capability over one Token.
type Authority struct {
	token *Token
}

// Mint creates amount new units credited to the holder. Returns false for a
// non-positive amount.
func (a *Authority) Mint(to uuid.UUID, amount *big.Int) bool {
	t := a.token
	t.mu.Lock()
	defer t.mu.Unlock()

	if amount.Sign() <= 0 {
		return false
	}
	t.credit(to, amount)
	t.supply.Add(t.supply, amount)
	return true
}

// Burn destroys amount units held in engine custody. Returns false if
// custody holds less than amount.
func (a *Authority) Burn(amount *big.Int) bool {
	t := a.token
	t.mu.Lock()
	defer t.mu.Unlock()

	if amount.Sign() <= 0 || t.custody.Cmp(amount) < 0 {
		return false
	}
	t.custody.Sub(t.custody, amount)
	t.supply.Sub(t.supply, amount)
	return true
}

// TransferIn pulls amount of the token from a holder into engine custody,
// typically staging a burn.
func (a *Authority) TransferIn(from uuid.UUID, amount *big.Int) bool {
	return a.token.TransferIn(from, amount)
}

// Token returns the underlying token, for balance queries.
func (a *Authority) Token() *Token {
	return a.token
}
