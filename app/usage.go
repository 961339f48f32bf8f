package app

import (
	"time"

	"github.com/She20222w/AGILIZAP-ONLINE/app/entitlement"
	"github.com/She20222w/AGILIZAP-ONLINE/app/models"
)

// usageSummary reports the minutes left in the current period. The reseller
// has no payment window, only the allotment.
func usageSummary(u models.User, now time.Time) models.UsageSummary {
	sum := models.UsageSummary{
		Plan:         u.Plan,
		Status:       u.Status,
		MinutesUsed:  u.MinutesUsed,
		MinutesLimit: u.Plan.Minutes(),
		Remaining:    u.MinutesRemaining(),
		ExpiresAt:    entitlement.ExpiresAt(&u),
	}
	if u.Status == models.StatusReseller {
		return sum
	}
	if !entitlement.IsActive(&u) || sum.ExpiresAt == nil || now.After(*sum.ExpiresAt) {
		sum.Remaining = 0
	}
	return sum
}
