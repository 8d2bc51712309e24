package models

import (
	"fmt"
	"strings"
)

// PlanTier identifies a subscription tier.
type PlanTier string

const (
	PlanFree     PlanTier = "free"
	PlanStandard PlanTier = "standard"
	PlanPro      PlanTier = "pro"
	PlanElite    PlanTier = "elite"
)

// DefaultPlan is preselected when a flow starts.
const DefaultPlan = PlanPro

// VerificationLeg is one external step of a verification chain.
type VerificationLeg string

const (
	LegIdentity VerificationLeg = "identity"
	LegPayment  VerificationLeg = "payment"
)

// ReturnDestination is where the provider sends the advertiser after the last leg.
type ReturnDestination string

const (
	ReturnToProfile  ReturnDestination = "profile"
	ReturnToCallback ReturnDestination = "callback"
)

// Chain is the ordered sequence of external legs required for a tier.
type Chain struct {
	Legs      []VerificationLeg `json:"legs"`
	ReturnsTo ReturnDestination `json:"returnsTo"`
}

// Includes reports whether leg is part of the chain.
func (c Chain) Includes(leg VerificationLeg) bool {
	for _, l := range c.Legs {
		if l == leg {
			return true
		}
	}
	return false
}

// Plan is an immutable catalog entry.
type Plan struct {
	Tier         PlanTier `json:"key"`
	Name         string   `json:"name"`
	PriceMonthly int      `json:"priceMonthly"` // cents
	Features     []string `json:"features"`
	Highlight    bool     `json:"highlight,omitempty"`
	TrialDays    int      `json:"trialDays,omitempty"`
	Chain        Chain    `json:"chain"`
}

// IsPaid reports whether the tier charges a subscription.
func (p Plan) IsPaid() bool {
	return p.PriceMonthly > 0
}

// PriceLabel renders the monthly price in dollars.
func (p Plan) PriceLabel() string {
	if p.PriceMonthly%100 == 0 {
		return fmt.Sprintf("$%d/mo", p.PriceMonthly/100)
	}
	return fmt.Sprintf("$%d.%02d/mo", p.PriceMonthly/100, p.PriceMonthly%100)
}

var (
	identityOnly        = Chain{Legs: []VerificationLeg{LegIdentity}, ReturnsTo: ReturnToProfile}
	identityThenPayment = Chain{Legs: []VerificationLeg{LegIdentity, LegPayment}, ReturnsTo: ReturnToCallback}
)

var catalog = []Plan{
	{
		Tier:         PlanFree,
		Name:         "Free",
		PriceMonthly: 0,
		TrialDays:    7,
		Chain:        identityOnly,
		Features: []string{
			"7-day free trial",
			"Up to 3 photos (1 slide)",
			"1 main city",
			`"Available Now" up to 3×/day`,
			"Basic Explore ranking",
		},
	},
	{
		Tier:         PlanStandard,
		Name:         "Standard",
		PriceMonthly: 4900,
		Chain:        identityThenPayment,
		Features: []string{
			"Up to 5 photos (2 slides)",
			"1 visiting city",
			`"Available Now" up to 6×/day`,
			"Verified Badge + standard support",
		},
	},
	{
		Tier:         PlanPro,
		Name:         "Pro",
		PriceMonthly: 8900,
		Highlight:    true,
		Chain:        identityThenPayment,
		Features: []string{
			"Up to 6 photos (2 slides)",
			"Up to 3 visiting cities",
			"Analytics + city heatmap",
			"1 featured credit/month",
		},
	},
	{
		Tier:         PlanElite,
		Name:         "Elite",
		PriceMonthly: 14900,
		Chain:        identityThenPayment,
		Features: []string{
			"Up to 8 photos (3 slides)",
			"Top homepage placement",
			`Auto "Available" every 2h`,
			"2 featured credits/month",
			"Concierge + VIP support",
		},
	},
}

// Plans returns the catalog in display order. The slice is a copy.
func Plans() []Plan {
	out := make([]Plan, len(catalog))
	for i, p := range catalog {
		p.Features = append([]string(nil), p.Features...)
		p.Chain.Legs = append([]VerificationLeg(nil), p.Chain.Legs...)
		out[i] = p
	}
	return out
}

// LookupPlan returns the catalog entry for tier.
func LookupPlan(tier PlanTier) (Plan, error) {
	key := PlanTier(strings.ToLower(strings.TrimSpace(string(tier))))
	for _, p := range Plans() {
		if p.Tier == key {
			return p, nil
		}
	}
	return Plan{}, fmt.Errorf("unknown plan %q", tier)
}

// Valid reports whether tier is in the catalog.
func (t PlanTier) Valid() bool {
	_, err := LookupPlan(t)
	return err == nil
}

// PlanTiers lists catalog keys in display order.
func PlanTiers() []string {
	out := make([]string, len(catalog))
	for i, p := range catalog {
		out[i] = string(p.Tier)
	}
	return out
}
