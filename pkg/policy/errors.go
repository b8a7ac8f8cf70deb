package policy

import (
	"errors"

	"github.com/maxzysparks/SightCoin/pkg/denylist"
	"github.com/maxzysparks/SightCoin/pkg/guard"
	"github.com/maxzysparks/SightCoin/pkg/ledger"
	"github.com/maxzysparks/SightCoin/pkg/pause"
	"github.com/maxzysparks/SightCoin/pkg/quota"
	"github.com/maxzysparks/SightCoin/pkg/reentry"
	"github.com/maxzysparks/SightCoin/pkg/roles"
	"github.com/maxzysparks/SightCoin/pkg/supply"
)

var (
	ErrUnauthorized        = roles.ErrUnauthorized
	ErrInvalidDestination  = errors.New("invalid destination")
	ErrNotAMinter          = errors.New("principal does not hold the minter role")
	ErrCannotRecoverNative = errors.New("cannot recover the native asset")
)

// Reason codes are the stable identifiers written to audit records and
// counted in metrics; error strings may change, reason codes do not.
const (
	ReasonOK                     = "OK"
	ReasonUnauthorized           = "UNAUTHORIZED"
	ReasonHalted                 = "HALTED"
	ReasonMintingNotStarted      = "MINTING_NOT_STARTED"
	ReasonMintingEnded           = "MINTING_ENDED"
	ReasonSupplyCapExceeded      = "SUPPLY_CAP_EXCEEDED"
	ReasonTxMintLimitExceeded    = "TX_MINT_LIMIT_EXCEEDED"
	ReasonDailyMintLimitExceeded = "DAILY_MINT_LIMIT_EXCEEDED"
	ReasonSenderBlacklisted      = "SENDER_BLACKLISTED"
	ReasonRecipientBlacklisted   = "RECIPIENT_BLACKLISTED"
	ReasonTransferLimitExceeded  = "TRANSFER_LIMIT_EXCEEDED"
	ReasonSelfTransfer           = "SELF_TRANSFER_TO_CONTRACT"
	ReasonInvalidDestination     = "INVALID_DESTINATION"
	ReasonNotAMinter             = "NOT_A_MINTER"
	ReasonReentrantCall          = "REENTRANT_CALL"
	ReasonCannotRecoverNative    = "CANNOT_RECOVER_NATIVE"
	ReasonInsufficientBalance    = "INSUFFICIENT_BALANCE"
	ReasonUnknownRole            = "UNKNOWN_ROLE"
	ReasonLedgerError            = "LEDGER_ERROR"
)

// Reason maps an error from any policy component to its reason code.
func Reason(err error) string {
	switch {
	case err == nil:
		return ReasonOK
	case errors.Is(err, roles.ErrUnauthorized):
		return ReasonUnauthorized
	case errors.Is(err, roles.ErrUnknownRole):
		return ReasonUnknownRole
	case errors.Is(err, pause.ErrHalted):
		return ReasonHalted
	case errors.Is(err, supply.ErrMintingNotStarted):
		return ReasonMintingNotStarted
	case errors.Is(err, supply.ErrMintingEnded):
		return ReasonMintingEnded
	case errors.Is(err, supply.ErrSupplyCapExceeded):
		return ReasonSupplyCapExceeded
	case errors.Is(err, quota.ErrTxLimitExceeded):
		return ReasonTxMintLimitExceeded
	case errors.Is(err, quota.ErrDailyLimitExceeded):
		return ReasonDailyMintLimitExceeded
	case errors.Is(err, guard.ErrSenderBlacklisted):
		return ReasonSenderBlacklisted
	case errors.Is(err, guard.ErrRecipientBlacklisted):
		return ReasonRecipientBlacklisted
	case errors.Is(err, guard.ErrTransferLimitExceeded):
		return ReasonTransferLimitExceeded
	case errors.Is(err, guard.ErrSelfTransferToContract):
		return ReasonSelfTransfer
	case errors.Is(err, denylist.ErrNullPrincipal), errors.Is(err, roles.ErrNullPrincipal):
		return ReasonInvalidDestination
	case errors.Is(err, ErrInvalidDestination):
		return ReasonInvalidDestination
	case errors.Is(err, ErrNotAMinter):
		return ReasonNotAMinter
	case errors.Is(err, reentry.ErrReentrantCall):
		return ReasonReentrantCall
	case errors.Is(err, ErrCannotRecoverNative):
		return ReasonCannotRecoverNative
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return ReasonInsufficientBalance
	default:
		return ReasonLedgerError
	}
}
