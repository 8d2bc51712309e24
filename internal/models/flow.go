package models

import "time"

// Step is a position in the onboarding wizard.
type Step string

const (
	StepPlanSelection       Step = "plan_selection"
	StepRegistration        Step = "registration"
	StepLegalConsent        Step = "legal_consent"
	StepComplianceChecklist Step = "compliance_checklist"
	StepVerificationPayment Step = "verification_payment"
	StepActivation          Step = "activation"
)

// StepOrder is the fixed wizard sequence.
var StepOrder = []Step{
	StepPlanSelection,
	StepRegistration,
	StepLegalConsent,
	StepComplianceChecklist,
	StepVerificationPayment,
	StepActivation,
}

// Index returns the position of s in StepOrder, or -1.
func (s Step) Index() int {
	for i, step := range StepOrder {
		if step == s {
			return i
		}
	}
	return -1
}

func (s Step) Valid() bool {
	return s.Index() >= 0
}

// Next returns the following step, or s itself at the end.
func (s Step) Next() Step {
	i := s.Index()
	if i < 0 || i == len(StepOrder)-1 {
		return s
	}
	return StepOrder[i+1]
}

// Previous returns the preceding step, or s itself at the start.
func (s Step) Previous() Step {
	i := s.Index()
	if i <= 0 {
		return s
	}
	return StepOrder[i-1]
}

// Progress is the completion percentage of s, 0 at plan selection and 100 at activation.
func (s Step) Progress() int {
	i := s.Index()
	if i < 0 {
		return 0
	}
	return i * 100 / (len(StepOrder) - 1)
}

// ConsentState is the draft copy of the legal consent step.
type ConsentState struct {
	AgreedToTerms  bool   `json:"agreedToTerms"`
	MarketingOptIn bool   `json:"marketingOptIn"`
	PolicyVersion  string `json:"policyVersion,omitempty"`
	RecordID       string `json:"recordId,omitempty"`
}

// FlowState is the resumable wizard state. It is the only thing persisted between
// sessions and carries no secrets.
type FlowState struct {
	FlowID           string          `json:"flowId"`
	Version          int             `json:"version"`
	CurrentStep      Step            `json:"currentStep"`
	SelectedPlan     PlanTier        `json:"selectedPlan"`
	Draft            AdvertiserDraft `json:"draft"`
	Consent          ConsentState    `json:"consent"`
	ComplianceChecks []bool          `json:"complianceChecks"`
	AccountID        string          `json:"accountId,omitempty"`
	// AccountEmail is the draft email AccountID was provisioned for.
	AccountEmail     string          `json:"accountEmail,omitempty"`
	LastError        string          `json:"lastError,omitempty"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// SnapshotVersion is the current FlowState layout.
const SnapshotVersion = 1

// Progress is the completion percentage of the current step.
func (f *FlowState) Progress() int {
	return f.CurrentStep.Progress()
}

// Plan resolves the selected tier against the catalog.
func (f *FlowState) Plan() (Plan, error) {
	return LookupPlan(f.SelectedPlan)
}

// ComplianceComplete reports whether every checklist item was attested.
func (f *FlowState) ComplianceComplete() bool {
	if len(f.ComplianceChecks) != len(ComplianceItems) {
		return false
	}
	for _, c := range f.ComplianceChecks {
		if !c {
			return false
		}
	}
	return true
}

// Summary is the read-only view of a persisted flow returned to callers.
type Summary struct {
	FlowID       string          `json:"flowId"`
	CurrentStep  Step            `json:"currentStep"`
	Progress     int             `json:"progress"`
	SelectedPlan Plan            `json:"selectedPlan"`
	Draft        AdvertiserDraft `json:"draft"`
	Consent      ConsentState    `json:"consent"`
	Compliance   []bool          `json:"complianceChecks"`
	AccountID    string          `json:"accountId,omitempty"`
	LastError    string          `json:"lastError,omitempty"`
}

// Summarize projects the state for display. An unknown plan falls back to the default.
func (f *FlowState) Summarize() Summary {
	plan, err := f.Plan()
	if err != nil {
		plan, _ = LookupPlan(DefaultPlan)
	}
	return Summary{
		FlowID:       f.FlowID,
		CurrentStep:  f.CurrentStep,
		Progress:     f.Progress(),
		SelectedPlan: plan,
		Draft:        f.Draft,
		Consent:      f.Consent,
		Compliance:   append([]bool(nil), f.ComplianceChecks...),
		AccountID:    f.AccountID,
		LastError:    f.LastError,
	}
}

// ChecklistItem is one line of the activation status screen.
type ChecklistItem struct {
	Label string `json:"label"`
	Done  bool   `json:"done"`
}

// ApprovalSLA is the review window promised on the activation screen.
const ApprovalSLA = "24–48 hours"

// ActivationChecklist lists the prerequisites satisfied by a flow that reached
// activation. Manual approval is always the open item.
func ActivationChecklist(f *FlowState) []ChecklistItem {
	reached := f.CurrentStep == StepActivation
	return []ChecklistItem{
		{Label: "Plan selected", Done: f.SelectedPlan.Valid()},
		{Label: "Registration complete", Done: f.Draft.Submittable()},
		{Label: "Terms accepted", Done: f.Consent.AgreedToTerms},
		{Label: "Identity verified", Done: reached},
		{Label: "Awaiting approval", Done: false},
	}
}

// VerificationSession is the external provider handle for one redirect cycle.
type VerificationSession struct {
	ContinuationURL   string `json:"continuationUrl"`
	ProviderSessionID string `json:"providerSessionId,omitempty"`
}
