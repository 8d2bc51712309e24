package models

import "time"

// ConsentRecord is one acceptance of the terms at a given policy version. Records are
// appended and never rewritten.
type ConsentRecord struct {
	ID             string    `json:"id"`
	FlowID         string    `json:"flowId"`
	Email          string    `json:"email"`
	AccountID      string    `json:"accountId,omitempty"`
	AgreedToTerms  bool      `json:"agreedToTerms"`
	MarketingOptIn bool      `json:"marketingOptIn"`
	PolicyVersion  string    `json:"policyVersion"`
	Timestamp      time.Time `json:"timestamp"`
}

const (
	LegalAgreementText = "I confirm I am 18+ and agree to the Terms of Use, Privacy Policy and Anti-Trafficking Policy."
	MarketingOptInText = "Send me product updates and tips (optional)."
)

// ComplianceItems are the attestations of the compliance checklist, in display order.
var ComplianceItems = []string{
	"I attest that all information is true and my own.",
	"I will not post explicit, illegal, or policy-violating content.",
	"I will comply with all applicable laws and regulations.",
	"I understand this is a directory (no service/payment intermediation).",
}
