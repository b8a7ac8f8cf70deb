package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/maxzysparks/SightCoin/pkg/httpx"
)

// HTTPLedger talks to a remote ledger primitive over its JSON API.
type HTTPLedger struct {
	Client     *http.Client
	BaseURL    string
	AuthHeader string
	AuthToken  string
	Retries    int
	RetryDelay time.Duration
}

type movementRequest struct {
	From   string `json:"from,omitempty"`
	To     string `json:"to,omitempty"`
	Amount uint64 `json:"amount"`
}

type balanceResponse struct {
	Principal string `json:"principal"`
	Balance   uint64 `json:"balance"`
}

func (l *HTTPLedger) Credit(ctx context.Context, principal string, amount uint64) error {
	return l.post(ctx, "/v1/credit", movementRequest{To: principal, Amount: amount})
}

func (l *HTTPLedger) Debit(ctx context.Context, principal string, amount uint64) error {
	return l.post(ctx, "/v1/debit", movementRequest{From: principal, Amount: amount})
}

func (l *HTTPLedger) Move(ctx context.Context, from, to string, amount uint64) error {
	return l.post(ctx, "/v1/move", movementRequest{From: from, To: to, Amount: amount})
}

func (l *HTTPLedger) BalanceOf(ctx context.Context, principal string) (uint64, error) {
	url := strings.TrimRight(l.BaseURL, "/") + "/v1/balance/" + principal
	status, body, err := httpx.RequestJSON(ctx, l.Client, http.MethodGet, url, nil, l.headers(), l.Retries, l.RetryDelay)
	if err != nil {
		return 0, fmt.Errorf("ledger balance: %w", err)
	}
	if status != http.StatusOK {
		return 0, fmt.Errorf("ledger balance: status %d: %s", status, strings.TrimSpace(string(body)))
	}
	var resp balanceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("ledger balance decode: %w", err)
	}
	return resp.Balance, nil
}

func (l *HTTPLedger) post(ctx context.Context, path string, req movementRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	url := strings.TrimRight(l.BaseURL, "/") + path
	status, body, err := httpx.RequestJSON(ctx, l.Client, http.MethodPost, url, payload, l.headers(), l.Retries, l.RetryDelay)
	if err != nil {
		return fmt.Errorf("ledger %s: %w", path, err)
	}
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", ErrInsufficientFunds, strings.TrimSpace(string(body)))
	default:
		return fmt.Errorf("ledger %s: status %d: %s", path, status, strings.TrimSpace(string(body)))
	}
}

func (l *HTTPLedger) headers() map[string]string {
	if l.AuthHeader == "" || l.AuthToken == "" {
		return nil
	}
	return map[string]string{l.AuthHeader: l.AuthToken}
}
