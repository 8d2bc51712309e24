package models

import (
	"strings"
	"time"
)

// AdvertiserDraft is built up across the wizard steps.
type AdvertiserDraft struct {
	FullName      string   `json:"fullName"`
	DisplayName   string   `json:"displayName"`
	Email         string   `json:"email"`
	Phone         string   `json:"phone"`
	Location      string   `json:"location"`
	Languages     []string `json:"languages"`
	Services      []string `json:"services"`
	AgreedToTerms bool     `json:"agreedToTerms"`

	// Password is consumed once by account provisioning and never serialized.
	Password string `json:"-"`
}

// Submittable reports whether every required field is present and at least one
// language and one service are selected.
func (d AdvertiserDraft) Submittable() bool {
	for _, v := range []string{d.FullName, d.DisplayName, d.Email, d.Phone, d.Location} {
		if strings.TrimSpace(v) == "" {
			return false
		}
	}
	return len(CleanList(d.Languages)) > 0 && len(CleanList(d.Services)) > 0 && d.AgreedToTerms
}

// Normalized returns a copy with trimmed fields, a lower-cased e-mail and cleaned lists.
func (d AdvertiserDraft) Normalized() AdvertiserDraft {
	d.FullName = strings.TrimSpace(d.FullName)
	d.DisplayName = strings.TrimSpace(d.DisplayName)
	d.Email = NormalizeEmail(d.Email)
	d.Phone = strings.TrimSpace(d.Phone)
	d.Location = strings.TrimSpace(d.Location)
	d.Languages = CleanList(d.Languages)
	d.Services = CleanList(d.Services)
	return d
}

// NormalizeEmail trims and lower-cases an e-mail address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SplitList turns "English, Spanish," into [English Spanish].
func SplitList(s string) []string {
	return CleanList(strings.Split(s, ","))
}

// CleanList trims entries and drops empty ones and duplicates.
func CleanList(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// Account is the identity provider's record; the pipeline keeps only the reference.
type Account struct {
	AccountID string `json:"accountId"`
	Email     string `json:"email"`
}

// ProfileStatus is the terminal business state of an advertiser.
type ProfileStatus string

const (
	ProfileStatusPending   ProfileStatus = "pending"
	ProfileStatusActive    ProfileStatus = "active"
	ProfileStatusSuspended ProfileStatus = "suspended"
)

// Subscription states mirrored from the payment provider.
const (
	SubscriptionTrialing = "trialing"
	SubscriptionActive   = "active"
	SubscriptionCanceled = "canceled"
)

// AdvertiserProfile is the persisted aggregate keyed by account id.
type AdvertiserProfile struct {
	AccountID          string        `json:"accountId"`
	Plan               PlanTier      `json:"plan"`
	PlanName           string        `json:"planName"`
	PriceMonthly       int           `json:"priceMonthly"`
	FullName           string        `json:"fullName"`
	DisplayName        string        `json:"displayName"`
	Email              string        `json:"email"`
	Phone              string        `json:"phone"`
	Location           string        `json:"location"`
	Languages          []string      `json:"languages"`
	Services           []string      `json:"services"`
	AgreedToTerms      bool          `json:"agreeTerms"`
	Status             ProfileStatus `json:"status"`
	SubscriptionStatus string        `json:"subscriptionStatus,omitempty"`
	TrialEndsAt        *time.Time    `json:"trialEndsAt,omitempty"`
	IdentityVerified   bool          `json:"identityVerified"`
	StripeCustomerID   string        `json:"stripeCustomerId,omitempty"`
	SubscriptionID     string        `json:"subscriptionId,omitempty"`
	UpdatedAt          time.Time     `json:"updatedAt"`
}

// NewPendingProfile assembles the profile written at the end of the wizard.
func NewPendingProfile(accountID string, draft AdvertiserDraft, plan Plan, now time.Time) AdvertiserProfile {
	d := draft.Normalized()
	p := AdvertiserProfile{
		AccountID:     accountID,
		Plan:          plan.Tier,
		PlanName:      plan.Name,
		PriceMonthly:  plan.PriceMonthly,
		FullName:      d.FullName,
		DisplayName:   d.DisplayName,
		Email:         d.Email,
		Phone:         d.Phone,
		Location:      d.Location,
		Languages:     d.Languages,
		Services:      d.Services,
		AgreedToTerms: d.AgreedToTerms,
		Status:        ProfileStatusPending,
		UpdatedAt:     now,
	}
	if plan.TrialDays > 0 {
		ends := now.AddDate(0, 0, plan.TrialDays)
		p.SubscriptionStatus = SubscriptionTrialing
		p.TrialEndsAt = &ends
	}
	return p
}
