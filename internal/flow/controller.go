// Package flow implements the onboarding wizard state machine and its durable
// snapshot boundary.
package flow

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"advertiser-onboarding/internal/common/errors"
	"advertiser-onboarding/internal/common/logger"
	"advertiser-onboarding/internal/common/metrics"
	"advertiser-onboarding/internal/models"

	"github.com/google/uuid"
)

// ConsentLedger appends consent records. Implemented by the consent-record service.
type ConsentLedger interface {
	Record(ctx context.Context, rec models.ConsentRecord) (*models.ConsentRecord, error)
}

type Options struct {
	PolicyVersion string
	// TTL bounds how long an abandoned flow can be resumed.
	TTL time.Duration
	// LockTTL bounds the single outstanding verification call of a flow. It must
	// outlast the whole Submit chain.
	LockTTL time.Duration
	// ActivatedTTL is how long an activated flow still answers reloads and replayed
	// callbacks with its activation state.
	ActivatedTTL time.Duration
}

// ResumeResult is the outcome of reloading a flow. Restarted is set when no usable
// snapshot existed and a fresh flow was started under the same id.
type ResumeResult struct {
	State     *models.FlowState
	Restarted bool
	Corrupted bool
}

// Controller owns FlowState transitions. It performs no business side effects other
// than the consent record of the legal step.
type Controller struct {
	store  Store
	ledger ConsentLedger
	opts   Options
	logger logger.Logger
	now    func() time.Time
}

func NewController(store Store, ledger ConsentLedger, opts Options, log logger.Logger) *Controller {
	if opts.TTL <= 0 {
		opts.TTL = 7 * 24 * time.Hour
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 30 * time.Second
	}
	if opts.ActivatedTTL <= 0 {
		opts.ActivatedTTL = 24 * time.Hour
	}
	return &Controller{
		store:  store,
		ledger: ledger,
		opts:   opts,
		logger: log,
		now:    time.Now,
	}
}

// WithClock replaces the time source; used by tests.
func (c *Controller) WithClock(now func() time.Time) *Controller {
	c.now = now
	return c
}

func (c *Controller) newState(flowID string) *models.FlowState {
	return &models.FlowState{
		FlowID:           flowID,
		Version:          models.SnapshotVersion,
		CurrentStep:      models.StepPlanSelection,
		SelectedPlan:     models.DefaultPlan,
		ComplianceChecks: make([]bool, len(models.ComplianceItems)),
		UpdatedAt:        c.now().UTC(),
	}
}

// Start creates and persists a new flow at plan selection.
func (c *Controller) Start(ctx context.Context) (*models.FlowState, error) {
	state := c.newState(uuid.NewString())
	if err := c.Persist(ctx, state); err != nil {
		return nil, err
	}
	c.logger.Info("Onboarding flow started", map[string]interface{}{"flowId": state.FlowID})
	return state, nil
}

// Advance validates the current step's input, merges it and moves one step forward.
// The state is left untouched on any error.
func (c *Controller) Advance(ctx context.Context, state *models.FlowState, in StepInput) error {
	from := state.CurrentStep
	next := *state
	next.ComplianceChecks = append([]bool(nil), state.ComplianceChecks...)

	var err error
	switch from {
	case models.StepPlanSelection:
		next.SelectedPlan, err = validatePlan(in)

	case models.StepRegistration:
		if next.Draft, err = validateRegistration(in); err == nil && next.Draft.Email != state.AccountEmail {
			// The provisioned account belongs to the previous email.
			next.AccountID = ""
			next.AccountEmail = ""
		}

	case models.StepLegalConsent:
		var consent ConsentInput
		if consent, err = validateConsent(in); err == nil {
			err = c.recordConsent(ctx, &next, consent)
		}

	case models.StepComplianceChecklist:
		next.ComplianceChecks, err = validateCompliance(in)

	default:
		err = errors.NewStepNotAdvanceableError(string(from))
	}

	if err != nil {
		c.recordFailure(from, err)
		return err
	}

	next.CurrentStep = from.Next()
	next.LastError = ""
	if err := c.Persist(ctx, &next); err != nil {
		c.recordFailure(from, err)
		return err
	}

	*state = next
	metrics.StepTransitions.WithLabelValues(string(from), string(state.CurrentStep)).Inc()
	c.logger.Debug("Flow advanced", map[string]interface{}{
		"flowId": state.FlowID,
		"from":   from,
		"to":     state.CurrentStep,
	})
	return nil
}

// recordConsent appends the consent record. Failure blocks the legal step.
func (c *Controller) recordConsent(ctx context.Context, next *models.FlowState, consent ConsentInput) error {
	rec, err := c.ledger.Record(ctx, models.ConsentRecord{
		FlowID:         next.FlowID,
		Email:          next.Draft.Email,
		AccountID:      next.AccountID,
		AgreedToTerms:  consent.AgreedToTerms,
		MarketingOptIn: consent.MarketingOptIn,
		PolicyVersion:  c.opts.PolicyVersion,
		Timestamp:      c.now().UTC(),
	})
	if err != nil {
		if errors.HasCode(err, errors.ErrCodeConsentWriteFailed) {
			return err
		}
		return errors.NewConsentWriteFailedError(err)
	}
	next.Consent = models.ConsentState{
		AgreedToTerms:  consent.AgreedToTerms,
		MarketingOptIn: consent.MarketingOptIn,
		PolicyVersion:  rec.PolicyVersion,
		RecordID:       rec.ID,
	}
	next.Draft.AgreedToTerms = consent.AgreedToTerms
	return nil
}

// Back moves one step back keeping collected data. It is a no-op at plan selection
// and rejected at activation or while a verification call is in flight.
func (c *Controller) Back(ctx context.Context, state *models.FlowState) error {
	switch state.CurrentStep {
	case models.StepPlanSelection:
		return nil
	case models.StepActivation:
		return errors.NewStepNotAdvanceableError(string(state.CurrentStep))
	}

	locked, err := c.store.IsLocked(ctx, state.FlowID)
	if err != nil {
		return err
	}
	if locked {
		return errors.NewRequestInFlightError(state.FlowID)
	}

	from := state.CurrentStep
	prev := *state
	prev.CurrentStep = from.Previous()
	if err := c.Persist(ctx, &prev); err != nil {
		return err
	}
	*state = prev
	metrics.StepTransitions.WithLabelValues(string(from), string(state.CurrentStep)).Inc()
	return nil
}

// Persist writes the snapshot. The password never leaves the process.
func (c *Controller) Persist(ctx context.Context, state *models.FlowState) error {
	state.Version = models.SnapshotVersion
	state.UpdatedAt = c.now().UTC()
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to serialize flow %s: %w", state.FlowID, err)
	}
	return c.store.Save(ctx, state.FlowID, data, c.opts.TTL)
}

// Load reads a snapshot strictly: a missing flow is FLOW_NOT_FOUND and an unreadable
// one PERSISTENCE_CORRUPTION. A recently activated flow loads at activation.
func (c *Controller) Load(ctx context.Context, flowID string) (*models.FlowState, error) {
	data, err := c.store.Load(ctx, flowID)
	if stderrors.Is(err, ErrSnapshotNotFound) {
		data, err = c.store.LoadActivated(ctx, flowID)
	}
	if stderrors.Is(err, ErrSnapshotNotFound) {
		return nil, errors.NewFlowNotFoundError(flowID)
	}
	if err != nil {
		return nil, err
	}
	state, err := decodeSnapshot(data)
	if err != nil {
		return nil, errors.NewPersistenceCorruptionError(flowID, err)
	}
	if state.FlowID != flowID {
		return nil, errors.NewPersistenceCorruptionError(flowID, fmt.Errorf("snapshot belongs to flow %s", state.FlowID))
	}
	return state, nil
}

// Resume reloads a flow. A missing or corrupted snapshot restarts the flow at plan
// selection; only store transport failures are returned.
func (c *Controller) Resume(ctx context.Context, flowID string) (*ResumeResult, error) {
	state, err := c.Load(ctx, flowID)
	if err == nil {
		return &ResumeResult{State: state}, nil
	}

	corrupted := errors.HasCode(err, errors.ErrCodePersistenceCorruption)
	if !corrupted && !errors.HasCode(err, errors.ErrCodeFlowNotFound) {
		return nil, err
	}

	if corrupted {
		metrics.StepFailures.WithLabelValues("resume", string(errors.ErrCodePersistenceCorruption)).Inc()
		c.logger.Warn("Discarding corrupted flow snapshot", map[string]interface{}{
			"flowId": flowID,
			"error":  err.Error(),
		})
	}

	fresh := c.newState(flowID)
	if err := c.Persist(ctx, fresh); err != nil {
		return nil, err
	}
	return &ResumeResult{State: fresh, Restarted: true, Corrupted: corrupted}, nil
}

// Activate moves a flow from verification_payment to activation and discards its
// pending snapshot. It is only reached through a successful verification callback.
// The activated state stays readable for ActivatedTTL.
func (c *Controller) Activate(ctx context.Context, state *models.FlowState) error {
	if state.CurrentStep != models.StepVerificationPayment {
		return errors.NewStepNotAdvanceableError(string(state.CurrentStep))
	}
	next := *state
	next.CurrentStep = models.StepActivation
	next.LastError = ""
	next.Version = models.SnapshotVersion
	next.UpdatedAt = c.now().UTC()
	data, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("failed to serialize flow %s: %w", state.FlowID, err)
	}
	if err := c.store.MarkActivated(ctx, state.FlowID, data, c.opts.ActivatedTTL); err != nil {
		return err
	}
	*state = next
	metrics.StepTransitions.WithLabelValues(string(models.StepVerificationPayment), string(models.StepActivation)).Inc()
	return nil
}

// TryLock takes the single-outstanding-call lock of a flow and returns the token that
// releases it. It returns REQUEST_IN_FLIGHT when another call holds it.
func (c *Controller) TryLock(ctx context.Context, flowID string) (string, error) {
	token := uuid.NewString()
	ok, err := c.store.AcquireLock(ctx, flowID, token, c.opts.LockTTL)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errors.NewRequestInFlightError(flowID)
	}
	return token, nil
}

// Unlock releases the lock taken with token. A lock that expired and was taken again
// is left to its new holder.
func (c *Controller) Unlock(ctx context.Context, flowID, token string) {
	if err := c.store.ReleaseLock(ctx, flowID, token); err != nil {
		c.logger.Warn("Failed to release flow lock", map[string]interface{}{
			"flowId": flowID,
			"error":  err.Error(),
		})
	}
}

// recordFailure counts a rejected action on step.
func (c *Controller) recordFailure(step models.Step, err error) {
	metrics.StepFailures.WithLabelValues(string(step), string(errors.CodeOf(err))).Inc()
	c.logger.Debug("Step rejected", map[string]interface{}{
		"step":  step,
		"error": err.Error(),
	})
}

func decodeSnapshot(data []byte) (*models.FlowState, error) {
	if err := validateSnapshot(data); err != nil {
		return nil, err
	}
	var state models.FlowState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return &state, nil
}
