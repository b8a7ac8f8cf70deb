// Package policy decides, for every mutation request, whether the request is
// permitted given the caller's granted capabilities and the asset's global
// invariants, and applies the mutation atomically. Checks run in a fixed
// order (capability, pause, domain guards, quota consumption, ledger
// mutation) so that a failure at any step leaves all state unchanged.
package policy

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/maxzysparks/SightCoin/pkg/audit"
	"github.com/maxzysparks/SightCoin/pkg/denylist"
	"github.com/maxzysparks/SightCoin/pkg/guard"
	"github.com/maxzysparks/SightCoin/pkg/ledger"
	"github.com/maxzysparks/SightCoin/pkg/pause"
	"github.com/maxzysparks/SightCoin/pkg/quota"
	"github.com/maxzysparks/SightCoin/pkg/reentry"
	"github.com/maxzysparks/SightCoin/pkg/roles"
	"github.com/maxzysparks/SightCoin/pkg/supply"
)

const (
	KindMint          = "MINT"
	KindTransfer      = "TRANSFER"
	KindTransferFrom  = "TRANSFER_FROM"
	KindPause         = "PAUSE"
	KindUnpause       = "UNPAUSE"
	KindRoleGrant     = "ROLE_GRANT"
	KindRoleRevoke    = "ROLE_REVOKE"
	KindBlacklistSet  = "BLACKLIST_SET"
	KindDailyLimitSet = "DAILY_LIMIT_SET"
	KindRecover       = "RECOVER"
	KindMovement      = "LEDGER_MOVEMENT"
)

type Auditor interface {
	Append(ctx context.Context, e audit.Entry) error
}

type Config struct {
	MaxSupply          uint64
	MintLimitPerTx     uint64
	TransferLimitPerTx uint64
	WindowStart        time.Time
	WindowEnd          time.Time
	// Holding is the system's own holding account; transfers to it are
	// rejected.
	Holding string
	// NativeToken is the symbol of the system's own asset; recovery of it is
	// forbidden.
	NativeToken string
	// InitialAdmin receives the Admin role at construction.
	InitialAdmin string
}

const (
	defaultMaxSupply      = 1_000_000_000
	defaultMintPerTx      = 1_000_000
	defaultTransferPerTx  = 1_000_000
	defaultNativeToken    = "SIGHT"
	defaultHoldingAccount = "sightcoin:treasury"
)

// Engine composes the policy components and funnels every mutation through a
// fixed guard order. The environment is expected to serialize calls; the
// engine itself only defends against reentrant invocation within a single
// logical operation.
type Engine struct {
	cfg     Config
	roles   *roles.Registry
	pauser  pause.Switch
	window  supply.Window
	supply  *supply.Ledger
	quota   *quota.Limiter
	deny    *denylist.List
	xfer    guard.Transfer
	guard   reentry.Guard
	ledger  ledger.Ledger
	custody ledger.Custodian
	audit   Auditor
}

func New(cfg Config, lgr ledger.Ledger, custody ledger.Custodian, auditor Auditor) (*Engine, error) {
	if cfg.MaxSupply == 0 {
		cfg.MaxSupply = defaultMaxSupply
	}
	if cfg.MintLimitPerTx == 0 {
		cfg.MintLimitPerTx = defaultMintPerTx
	}
	if cfg.TransferLimitPerTx == 0 {
		cfg.TransferLimitPerTx = defaultTransferPerTx
	}
	if cfg.NativeToken == "" {
		cfg.NativeToken = defaultNativeToken
	}
	if cfg.Holding == "" {
		cfg.Holding = defaultHoldingAccount
	}
	window, err := supply.NewWindow(cfg.WindowStart, cfg.WindowEnd)
	if err != nil {
		return nil, err
	}
	registry, err := roles.NewRegistry(cfg.InitialAdmin)
	if err != nil {
		return nil, fmt.Errorf("initial admin: %w", err)
	}
	if lgr == nil {
		return nil, fmt.Errorf("ledger required")
	}
	deny := denylist.New()
	e := &Engine{
		cfg:     cfg,
		roles:   registry,
		window:  window,
		supply:  supply.NewLedger(cfg.MaxSupply),
		quota:   quota.NewLimiter(cfg.MintLimitPerTx),
		deny:    deny,
		xfer:    guard.Transfer{Deny: deny, PerTx: cfg.TransferLimitPerTx, Holding: cfg.Holding},
		ledger:  lgr,
		custody: custody,
		audit:   auditor,
	}
	if hooked, ok := lgr.(interface{ SetHook(ledger.Hook) }); ok {
		hooked.SetHook(e.VerifyMovement)
	}
	return e, nil
}

// Mint issues amount to the recipient. Every guard runs before any state
// mutates; the supply counter and quota spend apply only after the external
// ledger credit succeeds.
func (e *Engine) Mint(ctx context.Context, caller, to string, amount uint64, now time.Time) error {
	release, err := e.guard.Enter()
	if err != nil {
		return e.record(ctx, KindMint, caller, to, "", amount, "", now, err)
	}
	defer release()

	err = e.checkMint(caller, to, amount, now)
	if err == nil {
		if lerr := e.ledger.Credit(ctx, to, amount); lerr != nil {
			err = fmt.Errorf("ledger credit: %w", lerr)
		}
	}
	if err == nil {
		e.quota.Consume(caller, amount, now)
		e.supply.Record(amount)
	}
	return e.record(ctx, KindMint, caller, to, "", amount, "", now, err)
}

func (e *Engine) checkMint(caller, to string, amount uint64, now time.Time) error {
	if !e.roles.Has(caller, roles.Minter) {
		return roles.ErrUnauthorized
	}
	if err := e.pauser.Check(); err != nil {
		return err
	}
	if strings.TrimSpace(to) == "" {
		return ErrInvalidDestination
	}
	if e.deny.Blacklisted(to) {
		return guard.ErrRecipientBlacklisted
	}
	if err := e.window.Check(now); err != nil {
		return err
	}
	if amount > e.cfg.MintLimitPerTx {
		return quota.ErrTxLimitExceeded
	}
	if err := e.supply.CheckMint(amount); err != nil {
		return err
	}
	return e.quota.Check(caller, amount, now)
}

// Transfer moves amount from the caller to the recipient.
func (e *Engine) Transfer(ctx context.Context, caller, to string, amount uint64, now time.Time) error {
	return e.transfer(ctx, KindTransfer, caller, caller, to, amount, now)
}

// TransferFrom moves amount on the delegated (allowance-based) path. The
// allowance bookkeeping itself belongs to the external ledger; the guard
// checks here are identical to the two-party path.
func (e *Engine) TransferFrom(ctx context.Context, caller, from, to string, amount uint64, now time.Time) error {
	return e.transfer(ctx, KindTransferFrom, caller, from, to, amount, now)
}

func (e *Engine) transfer(ctx context.Context, kind, caller, from, to string, amount uint64, now time.Time) error {
	release, err := e.guard.Enter()
	if err != nil {
		return e.record(ctx, kind, caller, from, to, amount, "", now, err)
	}
	defer release()

	err = e.checkTransfer(from, to, amount)
	if err == nil {
		if lerr := e.ledger.Move(ctx, from, to, amount); lerr != nil {
			err = lerr
		}
	}
	return e.record(ctx, kind, caller, from, to, amount, "", now, err)
}

func (e *Engine) checkTransfer(from, to string, amount uint64) error {
	if err := e.pauser.Check(); err != nil {
		return err
	}
	if strings.TrimSpace(from) == "" || strings.TrimSpace(to) == "" {
		return ErrInvalidDestination
	}
	return e.xfer.Check(from, to, amount)
}

// VerifyMovement is the transfer-hook predicate. The ledger primitive calls
// it around every balance change, so pause, deny-list, and ceiling checks
// hold even for movements that bypass the engine's public operations. An
// empty from marks issuance, an empty to marks a burn-style debit.
func (e *Engine) VerifyMovement(from, to string, amount uint64) error {
	if err := e.pauser.Check(); err != nil {
		return err
	}
	if from == "" {
		if e.deny.Blacklisted(to) {
			return guard.ErrRecipientBlacklisted
		}
		return nil
	}
	if to == "" {
		if e.deny.Blacklisted(from) {
			return guard.ErrSenderBlacklisted
		}
		return nil
	}
	return e.xfer.Check(from, to, amount)
}

// Pause engages the global halt switch. Redundant calls are no-ops.
func (e *Engine) Pause(ctx context.Context, caller, reason string, now time.Time) error {
	release, err := e.guard.Enter()
	if err != nil {
		return e.record(ctx, KindPause, caller, "", "", 0, reason, now, err)
	}
	defer release()

	if !e.roles.Has(caller, roles.Pauser) {
		err = roles.ErrUnauthorized
	} else {
		e.pauser.Pause(caller, reason, now)
	}
	return e.record(ctx, KindPause, caller, "", "", 0, reason, now, err)
}

func (e *Engine) Unpause(ctx context.Context, caller string, now time.Time) error {
	release, err := e.guard.Enter()
	if err != nil {
		return e.record(ctx, KindUnpause, caller, "", "", 0, "", now, err)
	}
	defer release()

	if !e.roles.Has(caller, roles.Pauser) {
		err = roles.ErrUnauthorized
	} else {
		e.pauser.Unpause(caller)
	}
	return e.record(ctx, KindUnpause, caller, "", "", 0, "", now, err)
}

func (e *Engine) GrantRole(ctx context.Context, caller, principal string, role roles.Role, now time.Time) error {
	release, err := e.guard.Enter()
	if err != nil {
		return e.record(ctx, KindRoleGrant, caller, principal, "", 0, string(role), now, err)
	}
	defer release()

	err = e.roles.Grant(caller, principal, role)
	return e.record(ctx, KindRoleGrant, caller, principal, "", 0, string(role), now, err)
}

func (e *Engine) RevokeRole(ctx context.Context, caller, principal string, role roles.Role, now time.Time) error {
	release, err := e.guard.Enter()
	if err != nil {
		return e.record(ctx, KindRoleRevoke, caller, principal, "", 0, string(role), now, err)
	}
	defer release()

	err = e.roles.Revoke(caller, principal, role)
	return e.record(ctx, KindRoleRevoke, caller, principal, "", 0, string(role), now, err)
}

func (e *Engine) SetBlacklisted(ctx context.Context, caller, principal string, blacklisted bool, now time.Time) error {
	release, err := e.guard.Enter()
	if err != nil {
		return e.record(ctx, KindBlacklistSet, caller, principal, "", 0, strconv.FormatBool(blacklisted), now, err)
	}
	defer release()

	if !e.roles.Has(caller, roles.Governance) {
		err = roles.ErrUnauthorized
	} else {
		err = e.deny.Set(principal, blacklisted)
	}
	return e.record(ctx, KindBlacklistSet, caller, principal, "", 0, strconv.FormatBool(blacklisted), now, err)
}

// SetDailyLimit overrides a minter's daily issuance cap.
func (e *Engine) SetDailyLimit(ctx context.Context, caller, principal string, limit uint64, now time.Time) error {
	release, err := e.guard.Enter()
	if err != nil {
		return e.record(ctx, KindDailyLimitSet, caller, principal, "", limit, "", now, err)
	}
	defer release()

	switch {
	case !e.roles.Has(caller, roles.Governance):
		err = roles.ErrUnauthorized
	case !e.roles.Has(principal, roles.Minter):
		err = ErrNotAMinter
	default:
		e.quota.SetDailyCap(principal, limit)
	}
	return e.record(ctx, KindDailyLimitSet, caller, principal, "", limit, "", now, err)
}

// Recover moves a foreign asset out of the system's custody. This is the
// only operation allowed to do so.
func (e *Engine) Recover(ctx context.Context, caller, token, to string, amount uint64, now time.Time) error {
	release, err := e.guard.Enter()
	if err != nil {
		return e.record(ctx, KindRecover, caller, to, "", amount, token, now, err)
	}
	defer release()

	err = e.checkRecover(caller, token, to, amount)
	if err == nil {
		err = e.custody.Transfer(token, to, amount)
	}
	return e.record(ctx, KindRecover, caller, to, "", amount, token, now, err)
}

func (e *Engine) checkRecover(caller, token, to string, amount uint64) error {
	if !e.roles.Has(caller, roles.Governance) {
		return roles.ErrUnauthorized
	}
	if strings.TrimSpace(to) == "" {
		return ErrInvalidDestination
	}
	if strings.EqualFold(token, e.cfg.NativeToken) {
		return ErrCannotRecoverNative
	}
	if e.custody == nil || e.custody.BalanceOf(token) < amount {
		return ledger.ErrInsufficientFunds
	}
	return nil
}

func (e *Engine) TotalIssued() uint64 { return e.supply.Issued() }

func (e *Engine) MaxSupply() uint64 { return e.supply.Max() }

func (e *Engine) Paused() bool { return e.pauser.Paused() }

func (e *Engine) Window() (time.Time, time.Time) { return e.window.Start(), e.window.End() }

func (e *Engine) HasRole(principal string, role roles.Role) bool { return e.roles.Has(principal, role) }

func (e *Engine) Blacklisted(principal string) bool { return e.deny.Blacklisted(principal) }

func (e *Engine) DailyCap(principal string) uint64 { return e.quota.DailyCap(principal) }

func (e *Engine) ConsumedToday(principal string, now time.Time) uint64 {
	return e.quota.ConsumedToday(principal, now)
}

// record emits the audit entry for an operation and passes the operation
// error back through.
func (e *Engine) record(ctx context.Context, kind, actor, subject, counterparty string, amount uint64, detail string, now time.Time, opErr error) error {
	if e.audit != nil {
		outcome := audit.OutcomeApplied
		if opErr != nil {
			outcome = audit.OutcomeDenied
		}
		_ = e.audit.Append(ctx, audit.Entry{
			ID:           uuid.NewString(),
			Kind:         kind,
			Actor:        actor,
			Subject:      subject,
			Counterparty: counterparty,
			Amount:       amount,
			Detail:       detail,
			Outcome:      outcome,
			Reason:       Reason(opErr),
			At:           now,
		})
	}
	return opErr
}
