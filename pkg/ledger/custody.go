package ledger

import "sync"

// Custodian holds foreign assets that ended up in the system's custody. The
// emergency recovery path is the only caller allowed to move them out.
type Custodian interface {
	BalanceOf(token string) uint64
	Transfer(token, to string, amount uint64) error
}

type InMemoryCustody struct {
	mu       sync.Mutex
	holdings map[string]uint64
	// OnTransfer, when set, runs before the holding is debited. Tests use it
	// to simulate a hostile asset calling back into the engine mid-transfer.
	OnTransfer func(token, to string, amount uint64) error
}

func NewInMemoryCustody() *InMemoryCustody {
	return &InMemoryCustody{holdings: map[string]uint64{}}
}

func (c *InMemoryCustody) Deposit(token string, amount uint64) {
	c.mu.Lock()
	c.holdings[token] += amount
	c.mu.Unlock()
}

func (c *InMemoryCustody) BalanceOf(token string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.holdings[token]
}

func (c *InMemoryCustody) Transfer(token, to string, amount uint64) error {
	c.mu.Lock()
	if c.holdings[token] < amount {
		c.mu.Unlock()
		return ErrInsufficientFunds
	}
	cb := c.OnTransfer
	c.mu.Unlock()
	if cb != nil {
		if err := cb(token, to, amount); err != nil {
			return err
		}
	}
	c.mu.Lock()
	c.holdings[token] -= amount
	c.mu.Unlock()
	return nil
}
