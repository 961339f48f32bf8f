// Package entitlement decides whether an account may run an audio flow and
// which operation it gets.
package entitlement

import (
	"fmt"
	"strings"
	"time"

	"github.com/She20222w/AGILIZAP-ONLINE/app/models"
)

const (
	// SubscriptionPeriod is how long a single payment keeps an account usable.
	SubscriptionPeriod = 30 * 24 * time.Hour
	// MinutesPerInvocation is charged per flow call, regardless of audio length.
	MinutesPerInvocation = 1
	// AutoSummaryWordThreshold: auto mode summarizes transcripts longer than this.
	AutoSummaryWordThreshold = 40
)

type Reason string

const (
	ReasonNotFound         Reason = "not_found"
	ReasonInactive         Reason = "inactive"
	ReasonNoPayment        Reason = "no_payment"
	ReasonExpired          Reason = "subscription_expired"
	ReasonMinutesExhausted Reason = "minutes_exhausted"
	ReasonInvalidOperation Reason = "invalid_operation"
)

// Denial is returned when an account may not use the service.
type Denial struct {
	Reason Reason
	Limit  int
	Used   int
}

func (d *Denial) Error() string {
	switch d.Reason {
	case ReasonNotFound:
		return "user does not exist"
	case ReasonInactive:
		return "user is not active"
	case ReasonNoPayment:
		return "user has no payment date"
	case ReasonExpired:
		return "subscription has expired, please renew"
	case ReasonMinutesExhausted:
		return fmt.Sprintf("minute limit reached (%d/%d)", d.Used, d.Limit)
	case ReasonInvalidOperation:
		return "unsupported operation"
	}
	return "access denied"
}

// Decision is either a permit for Operation or a Denial.
type Decision struct {
	Operation models.ServiceType
	Denial    *Denial
}

func (d Decision) Permitted() bool {
	return d.Denial == nil
}

// Err returns the denial as an error, or nil when permitted.
func (d Decision) Err() error {
	if d.Denial == nil {
		return nil
	}
	return d.Denial
}

func deny(reason Reason) Decision {
	return Decision{Denial: &Denial{Reason: reason}}
}

// IsActive is the single definition of an account that may use the service.
func IsActive(u *models.User) bool {
	return u.Status == models.StatusActive || u.Status == models.StatusReseller
}

// ExpiresAt is when the current paid period ends, nil if never paid.
func ExpiresAt(u *models.User) *time.Time {
	if u.LastPaymentAt == nil {
		return nil
	}
	t := u.LastPaymentAt.Add(SubscriptionPeriod)
	return &t
}

// ResolveOperation picks the requested operation, then the account's
// configured service type, then auto.
func ResolveOperation(u *models.User, requested models.ServiceType) models.ServiceType {
	if requested != "" {
		return requested
	}
	if u != nil && u.ServiceType != nil && *u.ServiceType != "" {
		return *u.ServiceType
	}
	return models.ServiceAuto
}

// Evaluate applies the gating rules in order: existence, status, payment
// recency, minute allotment. The reseller account never pays, so it skips
// the recency check; the allotment applies to every account.
func Evaluate(u *models.User, requested models.ServiceType, now time.Time) Decision {
	if u == nil {
		return deny(ReasonNotFound)
	}

	op := ResolveOperation(u, requested)
	if _, ok := models.ParseServiceType(string(op)); !ok {
		return deny(ReasonInvalidOperation)
	}

	if !IsActive(u) {
		return deny(ReasonInactive)
	}
	if u.Status != models.StatusReseller {
		if u.LastPaymentAt == nil {
			return deny(ReasonNoPayment)
		}
		if now.Sub(*u.LastPaymentAt) > SubscriptionPeriod {
			return deny(ReasonExpired)
		}
	}

	limit := u.Plan.Minutes()
	if u.MinutesUsed >= limit {
		return Decision{Denial: &Denial{Reason: ReasonMinutesExhausted, Limit: limit, Used: u.MinutesUsed}}
	}

	return Decision{Operation: op}
}

// CountWords counts whitespace separated words.
func CountWords(text string) int {
	return len(strings.Fields(text))
}

// ShouldSummarize is the auto-mode switch.
func ShouldSummarize(transcript string) bool {
	return CountWords(transcript) > AutoSummaryWordThreshold
}
