// Package ledgerbus consumes balance-movement notifications published by the
// external ledger. The gateway replays each movement through the policy
// engine's transfer hook so that direct ledger activity is policed and
// audited just like API-initiated operations.
package ledgerbus

import "context"

type Message struct {
	Value []byte
}

type Consumer interface {
	ReadMessage(ctx context.Context) (Message, error)
	Close() error
}
