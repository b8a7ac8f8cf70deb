package denylist

import (
	"errors"
	"strings"
)

var ErrNullPrincipal = errors.New("null principal cannot be listed")

// List is the governance-managed blacklist. Listing takes effect on the next
// guarded call; it is never applied retroactively.
type List struct {
	listed map[string]struct{}
}

func New() *List {
	return &List{listed: map[string]struct{}{}}
}

func (l *List) Set(principal string, blacklisted bool) error {
	if strings.TrimSpace(principal) == "" {
		return ErrNullPrincipal
	}
	if blacklisted {
		l.listed[principal] = struct{}{}
		return nil
	}
	delete(l.listed, principal)
	return nil
}

func (l *List) Blacklisted(principal string) bool {
	_, ok := l.listed[principal]
	return ok
}
