// services/errors.go
package services

import (
	"errors"
	"fmt"
	"time"

	"cookie-claim-system/notify"
)

var (
	ErrClaimInProgress   = errors.New("a claim is already in progress for this user")
	ErrMaintenanceMode   = errors.New("claims are paused for maintenance")
	ErrCommunityDisabled = errors.New("cookie claims are disabled in this community")
	ErrWrongChannel      = errors.New("claims are only accepted in the cookie channel")
	ErrUnknownItem       = errors.New("unknown cookie type")
	ErrAccessDenied      = errors.New("your roles do not grant access to this cookie")
	ErrOutOfStock        = errors.New("cookie is out of stock")
	ErrConfiguration     = errors.New("cookie is not configured correctly")
	ErrDeliveryFailed    = notify.ErrDeliveryFailed

	ErrBlacklisted         = errors.New("user is blacklisted")
	ErrDailyLimitReached   = errors.New("daily claim limit reached")
	ErrCooldownActive      = errors.New("cooldown is still active")
	ErrInsufficientBalance = errors.New("insufficient balance")

	ErrNoActiveClaim   = errors.New("no claim is awaiting feedback")
	ErrClaimMismatch   = errors.New("feedback does not match the latest claim")
	ErrAlreadyRated    = errors.New("this claim has already been rated")
	ErrClaimSanctioned = errors.New("the feedback window for this claim has closed")
	ErrInvalidRating   = errors.New("rating must be between 1 and 5")

	ErrUserNotFound      = errors.New("user not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrUnknownBucket     = errors.New("unknown credit bucket")
)

type BlacklistedError struct {
	Expires *time.Time // nil for a permanent blacklist
}

func (e *BlacklistedError) Error() string {
	if e.Expires == nil {
		return "user is permanently blacklisted"
	}
	return fmt.Sprintf("user is blacklisted until %s", e.Expires.UTC().Format(time.RFC3339))
}

func (e *BlacklistedError) Unwrap() error { return ErrBlacklisted }

type DailyLimitError struct {
	Count int
	Limit int
}

func (e *DailyLimitError) Error() string {
	return fmt.Sprintf("daily claim limit reached (%d/%d)", e.Count, e.Limit)
}

func (e *DailyLimitError) Unwrap() error { return ErrDailyLimitReached }

type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("cooldown active, %s remaining", e.Remaining.Round(time.Second))
}

func (e *CooldownError) Unwrap() error { return ErrCooldownActive }

type InsufficientBalanceError struct {
	Needed  float64
	Balance float64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: need %.2f, have %.2f", e.Needed, e.Balance)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

var rejectionCodes = []struct {
	err  error
	code string
}{
	{ErrClaimInProgress, "CLAIM_IN_PROGRESS"},
	{ErrMaintenanceMode, "MAINTENANCE"},
	{ErrCommunityDisabled, "COMMUNITY_DISABLED"},
	{ErrWrongChannel, "WRONG_CHANNEL"},
	{ErrBlacklisted, "BLACKLISTED"},
	{ErrUnknownItem, "UNKNOWN_ITEM"},
	{ErrAccessDenied, "ACCESS_DENIED"},
	{ErrDailyLimitReached, "DAILY_LIMIT"},
	{ErrCooldownActive, "COOLDOWN"},
	{ErrInsufficientBalance, "INSUFFICIENT_BALANCE"},
	{ErrOutOfStock, "OUT_OF_STOCK"},
	{ErrConfiguration, "CONFIGURATION"},
	{ErrDeliveryFailed, "DELIVERY_FAILED"},
	{ErrNoActiveClaim, "NO_ACTIVE_CLAIM"},
	{ErrClaimMismatch, "CLAIM_MISMATCH"},
	{ErrAlreadyRated, "ALREADY_RATED"},
	{ErrClaimSanctioned, "CLAIM_SANCTIONED"},
	{ErrInvalidRating, "INVALID_RATING"},
	{ErrUserNotFound, "USER_NOT_FOUND"},
	{ErrInsufficientFunds, "INSUFFICIENT_BALANCE"},
	{ErrInvalidAmount, "INVALID_AMOUNT"},
	{ErrUnknownBucket, "UNKNOWN_BUCKET"},
}

// RejectionCode returns the stable code for a user facing rejection, or ""
// for infrastructure errors.
func RejectionCode(err error) string {
	for _, rc := range rejectionCodes {
		if errors.Is(err, rc.err) {
			return rc.code
		}
	}
	return ""
}
