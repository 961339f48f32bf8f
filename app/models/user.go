// Package models defines user plan, status and usage tracking fields.
package models

import (
	"strings"
	"time"
)

type Plan string

const (
	PlanPersonal  Plan = "personal"
	PlanBusiness  Plan = "business"
	PlanExclusive Plan = "exclusive"
)

// planMinutes is the monthly minute allotment of each plan.
var planMinutes = map[Plan]int{
	PlanPersonal:  200,
	PlanBusiness:  400,
	PlanExclusive: 1000,
}

// Minutes returns the monthly allotment for the plan, 0 for unknown plans.
func (p Plan) Minutes() int {
	return planMinutes[p]
}

func (p Plan) Valid() bool {
	_, ok := planMinutes[p]
	return ok
}

// ParsePlan accepts canonical plan names and the Portuguese names used by the
// marketing site ("pessoal", "exclusivo").
func ParsePlan(s string) (Plan, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "personal", "pessoal":
		return PlanPersonal, true
	case "business":
		return PlanBusiness, true
	case "exclusive", "exclusivo":
		return PlanExclusive, true
	}
	return "", false
}

type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusReseller Status = "reseller"
)

func ParseStatus(s string) (Status, bool) {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusActive:
		return StatusActive, true
	case StatusInactive:
		return StatusInactive, true
	case StatusReseller:
		return StatusReseller, true
	}
	return "", false
}

type ServiceType string

const (
	ServiceTranscribe          ServiceType = "transcribe"
	ServiceSummarize           ServiceType = "summarize"
	ServiceResumeAndTranscribe ServiceType = "resume_and_transcribe"
	ServiceAuto                ServiceType = "auto"
)

// ParseServiceType also accepts "resumetranscribe", the spelling stored by
// older clients.
func ParseServiceType(s string) (ServiceType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "transcribe":
		return ServiceTranscribe, true
	case "summarize":
		return ServiceSummarize, true
	case "resume_and_transcribe", "resumetranscribe":
		return ServiceResumeAndTranscribe, true
	case "auto":
		return ServiceAuto, true
	}
	return "", false
}

type User struct {
	ID               string       `json:"id" db:"id"`
	Email            string       `json:"email" db:"email"`
	Name             string       `json:"name" db:"name"`
	Phone            string       `json:"phone" db:"phone"`
	Plan             Plan         `json:"plan" db:"plan"`
	Status           Status       `json:"status" db:"status"`
	MinutesUsed      int          `json:"minutes_used" db:"minutes_used"`
	ServiceType      *ServiceType `json:"service_type" db:"service_type"`
	LastPaymentAt    *time.Time   `json:"last_payment_at" db:"last_payment_at"`
	StripeCustomerID string       `json:"stripe_customer_id,omitempty" db:"stripe_customer_id"`
	CreatedAt        time.Time    `json:"created_at" db:"created_at"`
}

// MinutesRemaining never goes below zero.
func (u User) MinutesRemaining() int {
	left := u.Plan.Minutes() - u.MinutesUsed
	if left < 0 {
		return 0
	}
	return left
}

// ProfileUpdate carries the user-editable fields; nil means unchanged.
type ProfileUpdate struct {
	Name        *string
	Phone       *string
	Plan        *Plan
	ServiceType *ServiceType
}
