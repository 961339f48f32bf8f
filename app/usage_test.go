package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/She20222w/AGILIZAP-ONLINE/app/models"
)

func TestUsageSummary(t *testing.T) {
	recent := testNow.Add(-5 * 24 * time.Hour)
	stale := testNow.Add(-31 * 24 * time.Hour)

	cases := []struct {
		name string
		user models.User
		want int
	}{
		{"active", models.User{Plan: models.PlanBusiness, Status: models.StatusActive, MinutesUsed: 100, LastPaymentAt: &recent}, 300},
		{"over limit", models.User{Plan: models.PlanPersonal, Status: models.StatusActive, MinutesUsed: 250, LastPaymentAt: &recent}, 0},
		{"expired", models.User{Plan: models.PlanPersonal, Status: models.StatusActive, LastPaymentAt: &stale}, 0},
		{"inactive", models.User{Plan: models.PlanPersonal, Status: models.StatusInactive, LastPaymentAt: &recent}, 0},
		{"never paid", models.User{Plan: models.PlanPersonal, Status: models.StatusActive}, 0},
		{"reseller", models.User{Plan: models.PlanExclusive, Status: models.StatusReseller, MinutesUsed: 100, LastPaymentAt: &stale}, 900},
		{"reseller over limit", models.User{Plan: models.PlanExclusive, Status: models.StatusReseller, MinutesUsed: 5000}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sum := usageSummary(tc.user, testNow)
			assert.Equal(t, tc.want, sum.Remaining)
			assert.Equal(t, tc.user.Plan.Minutes(), sum.MinutesLimit)
		})
	}
}

func TestNormalizePhone(t *testing.T) {
	assert.Equal(t, "+5511999990000", normalizePhone("+55 (11) 99999-0000"))
	assert.Equal(t, "+5511999990000", normalizePhone("5511999990000"))
	assert.Equal(t, "", normalizePhone("  "))
}
