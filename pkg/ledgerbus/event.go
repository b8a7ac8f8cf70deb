package ledgerbus

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// BalanceEvent is one movement on the external ledger. An empty From means
// issuance; an empty To means a debit with no counterparty.
type BalanceEvent struct {
	From   string    `json:"from"`
	To     string    `json:"to"`
	Amount uint64    `json:"amount"`
	At     time.Time `json:"at"`
}

func DecodeBalanceEvent(raw []byte) (BalanceEvent, error) {
	var evt BalanceEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		return BalanceEvent{}, fmt.Errorf("decode balance event: %w", err)
	}
	evt.From = strings.TrimSpace(evt.From)
	evt.To = strings.TrimSpace(evt.To)
	if evt.From == "" && evt.To == "" {
		return BalanceEvent{}, fmt.Errorf("balance event has no principals")
	}
	if evt.Amount == 0 {
		return BalanceEvent{}, fmt.Errorf("balance event amount must be positive")
	}
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	return evt, nil
}
