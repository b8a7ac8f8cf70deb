// Package audit appends and reads the append-only record of policy
// decisions. Records are the only externally observable history of the
// system.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	OutcomeApplied = "APPLIED"
	OutcomeDenied  = "DENIED"
)

type Entry struct {
	ID           string
	Kind         string
	Actor        string
	Subject      string
	Counterparty string
	Amount       uint64
	Detail       string
	Outcome      string
	Reason       string
	At           time.Time
}

type auditDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Writer persists entries to PostgreSQL. With Redact set, principal
// identifiers are salted-hashed before they leave the process.
type Writer struct {
	DB       auditDB
	HashSalt []byte
	Redact   bool
}

func (w *Writer) Append(ctx context.Context, e Entry) error {
	if w.Redact {
		e.Actor = hashPrincipal(e.Actor, w.HashSalt)
		e.Subject = hashPrincipal(e.Subject, w.HashSalt)
		e.Counterparty = hashPrincipal(e.Counterparty, w.HashSalt)
	}
	_, err := w.DB.Exec(ctx, `
		INSERT INTO audit_log
		(id, kind, actor, subject, counterparty, amount, detail, outcome, reason, at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, e.ID, e.Kind, e.Actor, e.Subject, e.Counterparty, int64(e.Amount), e.Detail, e.Outcome, e.Reason, e.At)
	return err
}

// Recent returns up to limit entries, newest first.
func (w *Writer) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := w.DB.Query(ctx, `
		SELECT id, kind, actor, subject, counterparty, amount, detail, outcome, reason, at
		FROM audit_log ORDER BY at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		var amount int64
		if err := rows.Scan(&e.ID, &e.Kind, &e.Actor, &e.Subject, &e.Counterparty, &amount, &e.Detail, &e.Outcome, &e.Reason, &e.At); err != nil {
			return nil, err
		}
		e.Amount = uint64(amount)
		out = append(out, e)
	}
	return out, rows.Err()
}

func hashPrincipal(principal string, salt []byte) string {
	if principal == "" {
		return ""
	}
	sum := sha256.Sum256(append(append([]byte{}, salt...), principal...))
	return hex.EncodeToString(sum[:16])
}
