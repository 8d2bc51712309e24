// Package verificationorchestrate runs the final wizard step: it provisions the account,
// writes the pending profile, hands the advertiser to the external verification chain and
// applies the result of the return trip.
package verificationorchestrate

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"advertiser-onboarding/internal/common/errors"
	"advertiser-onboarding/internal/common/logger"
	"advertiser-onboarding/internal/common/metrics"
	"advertiser-onboarding/internal/models"
)

const (
	minPasswordLength = 6
	// persistTimeout bounds recording a failure after the submit deadline has passed.
	persistTimeout = 5 * time.Second
)

type Service struct {
	config      *Config
	flows       Flows
	provisioner Provisioner
	profiles    ProfileWriter
	consent     ConsentAttacher
	provider    Provider
	processes   ProcessStarter
	recorder    OutcomeRecorder
	logger      logger.Logger
	now         func() time.Time
}

func NewService(deps ServiceDependencies, config *Config) *Service {
	if config == nil {
		config = DefaultConfig()
	}
	return &Service{
		config:      config,
		flows:       deps.Flows,
		provisioner: deps.Provisioner,
		profiles:    deps.Profiles,
		consent:     deps.Consent,
		provider:    deps.Provider,
		processes:   deps.Processes,
		recorder:    deps.Recorder,
		logger:      deps.Logger,
		now:         time.Now,
	}
}

// Submit is the verification_payment step action. password is re-supplied by the
// advertiser because it is never persisted with the flow. The flow lock is held for
// the whole call and the chain shares one SubmitTimeout deadline.
func (s *Service) Submit(ctx context.Context, flowID, password string) (*models.VerificationSession, error) {
	token, err := s.flows.TryLock(ctx, flowID)
	if err != nil {
		return nil, err
	}
	defer s.flows.Unlock(context.WithoutCancel(ctx), flowID, token)

	if s.config.SubmitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.SubmitTimeout)
		defer cancel()
	}

	state, err := s.flows.Load(ctx, flowID)
	if err != nil {
		return nil, err
	}
	if state.CurrentStep != models.StepVerificationPayment {
		return nil, errors.NewStepNotAdvanceableError(string(state.CurrentStep))
	}
	if err := checkSubmittable(state, password); err != nil {
		return nil, err
	}

	log := logger.ForFlow(s.logger, flowID)

	plan, err := state.Plan()
	if err != nil {
		return nil, errors.NewPersistenceCorruptionError(flowID, err)
	}

	accountID := state.AccountID
	if needsAccount(state) {
		if accountID != "" {
			log.Info("Registration email changed, provisioning a new account", map[string]interface{}{
				"previousAccountId": accountID,
			})
		}
		accountID, err = s.provisioner.Provision(ctx, state.Draft.Email, password)
		if err != nil {
			state.AccountID = ""
			state.AccountEmail = ""
			return nil, s.fail(ctx, state, err)
		}
		state.AccountID = accountID
		state.AccountEmail = state.Draft.Email
	}

	if err := s.profiles.Upsert(ctx, accountID, state.Draft, plan); err != nil {
		return nil, s.fail(ctx, state, err)
	}

	if n, err := s.consent.AttachAccount(ctx, flowID, accountID); err != nil {
		log.Warn("Consent records not linked to account", map[string]interface{}{
			"accountId": accountID,
			"error":     err.Error(),
		})
	} else if n == 0 {
		log.Debug("No unlinked consent records", map[string]interface{}{"accountId": accountID})
	}

	return s.Begin(ctx, state)
}

func checkSubmittable(state *models.FlowState, password string) error {
	var fields []errors.FieldError
	if !state.Draft.Submittable() {
		fields = append(fields, errors.FieldError{Field: "registration", Message: "registration data incomplete"})
	}
	if !state.Consent.AgreedToTerms {
		fields = append(fields, errors.FieldError{Field: "agreedToTerms", Message: "terms not accepted"})
	}
	if !state.ComplianceComplete() {
		fields = append(fields, errors.FieldError{Field: "complianceChecks", Message: "checklist incomplete"})
	}
	if needsAccount(state) && len(password) < minPasswordLength {
		fields = append(fields, errors.FieldError{Field: "password", Message: "Password must have at least 6 characters."})
	}
	if len(fields) > 0 {
		return errors.NewValidationError(fields)
	}
	return nil
}

// needsAccount reports whether the flow has no account provisioned for its current
// draft email.
func needsAccount(state *models.FlowState) bool {
	return state.AccountID == "" || state.AccountEmail != state.Draft.Email
}

// Begin requests the continuation URL for the plan's chain and persists the flow
// before returning it. On failure the flow stays at verification_payment with the
// error recorded.
func (s *Service) Begin(ctx context.Context, state *models.FlowState) (*models.VerificationSession, error) {
	if state.CurrentStep != models.StepVerificationPayment {
		return nil, errors.NewStepNotAdvanceableError(string(state.CurrentStep))
	}
	if needsAccount(state) {
		return nil, errors.NewBusinessRuleError("Verification requires an account", fmt.Sprintf("flowId: %s", state.FlowID))
	}

	plan, err := state.Plan()
	if err != nil {
		return nil, errors.NewPersistenceCorruptionError(state.FlowID, err)
	}

	req := StartFlowRequest{
		PlanKey:       plan.Tier,
		AccountID:     state.AccountID,
		CustomerEmail: state.Draft.Email,
		Legs:          append([]models.VerificationLeg(nil), plan.Chain.Legs...),
		ReturnURL:     s.returnURL(plan, state.FlowID),
		FlowID:        state.FlowID,
	}

	callCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	started := s.now()
	session, err := s.provider.StartFlow(callCtx, req)
	elapsed := time.Since(started)
	metrics.ProviderCallDuration.WithLabelValues(string(plan.Tier), callOutcome(err)).Observe(elapsed.Seconds())
	if s.recorder != nil {
		s.recorder.RecordVerificationStart(ctx, elapsed, string(plan.Tier))
	}
	if err != nil {
		return nil, s.fail(ctx, state, err)
	}

	state.LastError = ""
	if err := s.flows.Persist(ctx, state); err != nil {
		return nil, err
	}

	s.logger.Info("Verification started", map[string]interface{}{
		"flowId":    state.FlowID,
		"accountId": state.AccountID,
		"plan":      plan.Tier,
		"legs":      req.Legs,
		"sessionId": session.ProviderSessionID,
	})
	return session, nil
}

// returnURL points free tiers at the profile destination and paid tiers at the
// callback path. Both carry the flow id.
func (s *Service) returnURL(plan models.Plan, flowID string) string {
	base := s.config.CallbackURL
	if plan.Chain.ReturnsTo == models.ReturnToProfile {
		base = s.config.ProfileURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	q.Set("flow", flowID)
	u.RawQuery = q.Encode()
	return u.String()
}

// Complete applies the return trip. Business state comes from the stored snapshot;
// result only decides whether each leg of the plan's chain succeeded. A replay on an
// activated flow answers with the activation state.
func (s *Service) Complete(ctx context.Context, flowID string, result CallbackResult) (*Outcome, error) {
	token, err := s.flows.TryLock(ctx, flowID)
	if err != nil {
		return nil, err
	}
	defer s.flows.Unlock(context.WithoutCancel(ctx), flowID, token)

	resumed, err := s.flows.Resume(ctx, flowID)
	if err != nil {
		return nil, err
	}
	if resumed.Restarted {
		s.logger.Warn("Callback for a flow without usable snapshot", map[string]interface{}{
			"flowId":    flowID,
			"corrupted": resumed.Corrupted,
		})
		return &Outcome{State: resumed.State, Restarted: true, Corrupted: resumed.Corrupted}, nil
	}

	state := resumed.State
	if state.CurrentStep == models.StepActivation {
		s.logger.Debug("Callback replayed for an activated flow", map[string]interface{}{"flowId": flowID})
		return &Outcome{
			State:     state,
			Activated: true,
			Checklist: models.ActivationChecklist(state),
		}, nil
	}
	if state.CurrentStep != models.StepVerificationPayment || needsAccount(state) {
		return nil, errors.NewStepNotAdvanceableError(string(state.CurrentStep))
	}

	plan, err := state.Plan()
	if err != nil {
		return nil, errors.NewPersistenceCorruptionError(flowID, err)
	}

	for _, leg := range plan.Chain.Legs {
		if result.Succeeded(leg) {
			continue
		}
		perr := errors.NewProviderError(failureMessage(leg, result.ErrorMessage), fmt.Sprintf("leg: %s", leg))
		s.record(ctx, plan, "failed")
		return nil, s.fail(ctx, state, perr)
	}

	if err := s.flows.Activate(ctx, state); err != nil {
		return nil, err
	}
	s.record(ctx, plan, "activated")
	s.startReview(ctx, state, plan)

	s.logger.Info("Flow activated", map[string]interface{}{
		"flowId":    flowID,
		"accountId": state.AccountID,
		"plan":      plan.Tier,
	})
	return &Outcome{
		State:     state,
		Activated: true,
		Checklist: models.ActivationChecklist(state),
	}, nil
}

func failureMessage(leg models.VerificationLeg, providerMessage string) string {
	if providerMessage != "" {
		return providerMessage
	}
	if leg == models.LegPayment {
		return "Payment was not completed."
	}
	return "Identity verification failed."
}

// startReview hands the pending profile to the approval process. Activation is
// already committed, so a failure is only logged.
func (s *Service) startReview(ctx context.Context, state *models.FlowState, plan models.Plan) {
	if s.processes == nil || s.config.ReviewProcessID == "" {
		return
	}
	key, err := s.processes.StartProcess(ctx, s.config.ReviewProcessID, map[string]interface{}{
		"flowId":          state.FlowID,
		"accountId":       state.AccountID,
		"email":           state.Draft.Email,
		"fullName":        state.Draft.FullName,
		"displayName":     state.Draft.DisplayName,
		"plan":            string(plan.Tier),
		"planName":        plan.Name,
		"priceMonthly":    plan.PriceMonthly,
		"consentRecordId": state.Consent.RecordID,
		"marketingOptIn":  state.Consent.MarketingOptIn,
	})
	if err != nil {
		s.logger.Error("Failed to start review process", map[string]interface{}{
			"flowId":    state.FlowID,
			"accountId": state.AccountID,
			"process":   s.config.ReviewProcessID,
			"error":     err.Error(),
		})
		return
	}
	s.logger.Info("Review process started", map[string]interface{}{
		"flowId":             state.FlowID,
		"processInstanceKey": key,
	})
}

// fail records err on the flow so a reload shows it, and returns err.
func (s *Service) fail(ctx context.Context, state *models.FlowState, err error) error {
	metrics.StepFailures.WithLabelValues(string(models.StepVerificationPayment), string(errors.CodeOf(err))).Inc()
	state.LastError = errors.UserMessage(err)
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if perr := s.flows.Persist(pctx, state); perr != nil {
		s.logger.Error("Failed to persist flow error", map[string]interface{}{
			"flowId": state.FlowID,
			"error":  perr.Error(),
		})
	}
	s.logger.Warn("Verification step failed", map[string]interface{}{
		"flowId": state.FlowID,
		"code":   errors.CodeOf(err),
		"error":  err.Error(),
	})
	return err
}

func (s *Service) record(ctx context.Context, plan models.Plan, outcome string) {
	if s.recorder != nil {
		s.recorder.RecordFlowOutcome(ctx, string(plan.Tier), outcome)
	}
}

func callOutcome(err error) string {
	if err == nil {
		return "ok"
	}
	switch errors.CodeOf(err) {
	case errors.ErrCodeTimeout:
		return "timeout"
	case errors.ErrCodeNetwork:
		return "network"
	case errors.ErrCodeProvider:
		return "provider"
	default:
		return "error"
	}
}
