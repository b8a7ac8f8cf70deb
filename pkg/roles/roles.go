package roles

import (
	"errors"
	"strings"
)

type Role string

const (
	Admin      Role = "ADMIN"
	Minter     Role = "MINTER"
	Pauser     Role = "PAUSER"
	Governance Role = "GOVERNANCE"
)

var (
	ErrUnauthorized  = errors.New("caller lacks required role")
	ErrUnknownRole   = errors.New("unknown role")
	ErrNullPrincipal = errors.New("null principal")
)

func Parse(raw string) (Role, error) {
	switch Role(strings.ToUpper(strings.TrimSpace(raw))) {
	case Admin:
		return Admin, nil
	case Minter:
		return Minter, nil
	case Pauser:
		return Pauser, nil
	case Governance:
		return Governance, nil
	default:
		return "", ErrUnknownRole
	}
}

// Registry holds capability grants per principal. Grant and revoke are
// admin-gated; the registry itself never prevents the last admin from being
// revoked (the lockout case is observable behavior, exercised in tests).
type Registry struct {
	grants map[string]map[Role]struct{}
}

// NewRegistry seeds the initial admin so that at least one principal holds
// Admin after construction.
func NewRegistry(initialAdmin string) (*Registry, error) {
	initialAdmin = strings.TrimSpace(initialAdmin)
	if initialAdmin == "" {
		return nil, ErrNullPrincipal
	}
	r := &Registry{grants: map[string]map[Role]struct{}{}}
	r.set(initialAdmin, Admin)
	return r, nil
}

func (r *Registry) Grant(caller, principal string, role Role) error {
	if _, err := Parse(string(role)); err != nil {
		return err
	}
	if strings.TrimSpace(principal) == "" {
		return ErrNullPrincipal
	}
	if !r.Has(caller, Admin) {
		return ErrUnauthorized
	}
	r.set(principal, role)
	return nil
}

func (r *Registry) Revoke(caller, principal string, role Role) error {
	if _, err := Parse(string(role)); err != nil {
		return err
	}
	if !r.Has(caller, Admin) {
		return ErrUnauthorized
	}
	if held, ok := r.grants[principal]; ok {
		delete(held, role)
		if len(held) == 0 {
			delete(r.grants, principal)
		}
	}
	return nil
}

func (r *Registry) Has(principal string, role Role) bool {
	held, ok := r.grants[principal]
	if !ok {
		return false
	}
	_, ok = held[role]
	return ok
}

func (r *Registry) set(principal string, role Role) {
	held, ok := r.grants[principal]
	if !ok {
		held = map[Role]struct{}{}
		r.grants[principal] = held
	}
	held[role] = struct{}{}
}
