package verificationorchestrate

import (
	"context"
	"time"

	"advertiser-onboarding/internal/common/logger"
	"advertiser-onboarding/internal/flow"
	"advertiser-onboarding/internal/models"
)

// Flows is the part of the flow controller the orchestrator drives.
type Flows interface {
	Load(ctx context.Context, flowID string) (*models.FlowState, error)
	Resume(ctx context.Context, flowID string) (*flow.ResumeResult, error)
	Persist(ctx context.Context, state *models.FlowState) error
	Activate(ctx context.Context, state *models.FlowState) error
	TryLock(ctx context.Context, flowID string) (string, error)
	Unlock(ctx context.Context, flowID, token string)
}

type Provisioner interface {
	Provision(ctx context.Context, email, password string) (string, error)
}

type ProfileWriter interface {
	Upsert(ctx context.Context, accountID string, draft models.AdvertiserDraft, plan models.Plan) error
}

type ConsentAttacher interface {
	AttachAccount(ctx context.Context, flowID, accountID string) (int64, error)
}

// ProcessStarter starts BPMN processes. The Camunda client implements it.
type ProcessStarter interface {
	StartProcess(ctx context.Context, processID string, vars map[string]interface{}) (int64, error)
}

// OutcomeRecorder receives flow-level measurements.
type OutcomeRecorder interface {
	RecordFlowOutcome(ctx context.Context, plan, outcome string)
	RecordVerificationStart(ctx context.Context, duration time.Duration, plan string)
}

type ServiceDependencies struct {
	Flows       Flows
	Provisioner Provisioner
	Profiles    ProfileWriter
	Consent     ConsentAttacher
	Provider    Provider
	// Processes and Recorder are optional.
	Processes ProcessStarter
	Recorder  OutcomeRecorder
	Logger    logger.Logger
}

// CallbackResult is what the provider reports on the return trip. It only says
// whether each leg succeeded.
type CallbackResult struct {
	IdentityVerified bool
	PaymentCompleted bool
	ErrorMessage     string
}

// Succeeded reports whether leg passed.
func (r CallbackResult) Succeeded(leg models.VerificationLeg) bool {
	switch leg {
	case models.LegIdentity:
		return r.IdentityVerified
	case models.LegPayment:
		return r.PaymentCompleted
	}
	return false
}

// Outcome is the result of a return trip.
type Outcome struct {
	State     *models.FlowState      `json:"state"`
	Activated bool                   `json:"activated"`
	Restarted bool                   `json:"restarted"`
	Corrupted bool                   `json:"corrupted,omitempty"`
	Checklist []models.ChecklistItem `json:"checklist,omitempty"`
}
