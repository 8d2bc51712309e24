package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"advertiser-onboarding/internal/common/errors"
	"advertiser-onboarding/internal/common/logger"
	"advertiser-onboarding/internal/common/payments"
	"advertiser-onboarding/internal/flow"
	"advertiser-onboarding/internal/models"
	verification "advertiser-onboarding/internal/workers/onboarding/verification-orchestrate"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	stripe "github.com/stripe/stripe-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// ==========================
// Mocks
// ==========================

type MockVerifier struct{ mock.Mock }

func (m *MockVerifier) Submit(ctx context.Context, flowID, password string) (*models.VerificationSession, error) {
	args := m.Called(ctx, flowID, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.VerificationSession), args.Error(1)
}

func (m *MockVerifier) Complete(ctx context.Context, flowID string, result verification.CallbackResult) (*verification.Outcome, error) {
	args := m.Called(ctx, flowID, result)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*verification.Outcome), args.Error(1)
}

type MockDispatcher struct{ mock.Mock }

func (m *MockDispatcher) Handle(ctx context.Context, event stripe.Event) error {
	return m.Called(ctx, event).Error(0)
}

type stubLedger struct{}

func (stubLedger) Record(_ context.Context, rec models.ConsentRecord) (*models.ConsentRecord, error) {
	rec.ID = "consent-1"
	return &rec, nil
}

// ==========================
// Test Helpers
// ==========================

const webhookSecret = "whsec_test"

type testServer struct {
	handler    http.Handler
	mr         *miniredis.Miniredis
	flows      *flow.Controller
	verifier   *MockVerifier
	dispatcher *MockDispatcher
}

func newTestServer(t *testing.T) *testServer {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	log := logger.NewTestLogger(t)
	controller := flow.NewController(
		flow.NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()})),
		stubLedger{},
		flow.Options{PolicyVersion: "2025-11-11", TTL: time.Hour},
		log,
	)

	ts := &testServer{
		mr:         mr,
		flows:      controller,
		verifier:   new(MockVerifier),
		dispatcher: new(MockDispatcher),
	}
	ts.handler = NewServer(Dependencies{
		Flows:         controller,
		Verifier:      ts.verifier,
		Webhooks:      ts.dispatcher,
		WebhookSecret: webhookSecret,
		Ready: map[string]ReadinessCheck{
			"redis": func(ctx context.Context) error { return nil },
		},
		Logger: log,
	}).Routes()
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

type viewResponse struct {
	FlowID      string                 `json:"flowId"`
	CurrentStep models.Step            `json:"currentStep"`
	Progress    int                    `json:"progress"`
	Restarted   bool                   `json:"restarted"`
	Corrupted   bool                   `json:"corrupted"`
	Activated   bool                   `json:"activated"`
	LastError   string                 `json:"lastError"`
	Checklist   []models.ChecklistItem `json:"checklist"`
	ApprovalSLA string                 `json:"approvalSla"`
	Draft       map[string]interface{} `json:"draft"`
}

type errorResponse struct {
	Error struct {
		Code    string              `json:"code"`
		Message string              `json:"message"`
		Fields  []errors.FieldError `json:"fields"`
	} `json:"error"`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

const registrationBody = `{"registration":{
	"fullName":"Alex Doe","displayName":"Alex","email":"alex@example.com",
	"password":"secret1","confirmPassword":"secret1","phone":"+1 305 555 0100",
	"location":"Miami, FL","languages":["English, Spanish"],"services":["Dinner companion"],
	"agreedToTerms":true}}`

// ==========================
// Catalog / Flow Tests
// ==========================

func TestPlans(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/onboarding/plans", "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[struct {
		Plans       []models.Plan   `json:"plans"`
		DefaultPlan models.PlanTier `json:"defaultPlan"`
	}](t, rec)
	require.Len(t, body.Plans, 4)
	assert.Equal(t, models.PlanFree, body.Plans[0].Tier)
	assert.Equal(t, models.PlanPro, body.DefaultPlan)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
}

func TestFlowLifecycle(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/onboarding/flows", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	started := decode[viewResponse](t, rec)
	assert.Equal(t, models.StepPlanSelection, started.CurrentStep)
	assert.Equal(t, 0, started.Progress)

	base := "/onboarding/flows/" + started.FlowID

	rec = ts.do(t, http.MethodPost, base+"/advance", `{"plan":"free"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, models.StepRegistration, decode[viewResponse](t, rec).CurrentStep)

	rec = ts.do(t, http.MethodPost, base+"/advance", registrationBody)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	afterReg := decode[viewResponse](t, rec)
	assert.Equal(t, models.StepLegalConsent, afterReg.CurrentStep)
	assert.Equal(t, 40, afterReg.Progress)
	assert.NotContains(t, rec.Body.String(), "secret1")

	rec = ts.do(t, http.MethodPost, base+"/back", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.StepRegistration, decode[viewResponse](t, rec).CurrentStep)

	rec = ts.do(t, http.MethodGet, base, "")
	require.Equal(t, http.StatusOK, rec.Code)
	resumed := decode[viewResponse](t, rec)
	assert.Equal(t, models.StepRegistration, resumed.CurrentStep)
	assert.Equal(t, "Alex", resumed.Draft["displayName"])
	assert.False(t, resumed.Restarted)
}

func TestAdvance_ValidationError(t *testing.T) {
	ts := newTestServer(t)
	state, err := ts.flows.Start(context.Background())
	require.NoError(t, err)
	base := "/onboarding/flows/" + state.FlowID

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, base+"/advance", `{"plan":"pro"}`).Code)

	rec := ts.do(t, http.MethodPost, base+"/advance", `{"registration":{"fullName":"Alex"}}`)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decode[errorResponse](t, rec)
	assert.Equal(t, string(errors.ErrCodeValidationFailed), body.Error.Code)
	assert.Equal(t, errors.MessageFixFields, body.Error.Message)
	assert.NotEmpty(t, body.Error.Fields)
}

func TestAdvance_BadJSON(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/onboarding/flows/f-1/advance", `{"plan":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdvance_VerificationStepNotAdvanceable(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/onboarding/flows", "")
	base := "/onboarding/flows/" + decode[viewResponse](t, rec).FlowID

	for _, body := range []string{`{"plan":"free"}`, registrationBody, `{"consent":{"agreedToTerms":true}}`, `{"complianceChecks":[true,true,true,true]}`} {
		require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, base+"/advance", body).Code)
	}

	rec = ts.do(t, http.MethodPost, base+"/advance", `{}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(errors.ErrCodeStepNotAdvanceable), decode[errorResponse](t, rec).Error.Code)
}

func TestResume_UnknownAndCorruptedRestart(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/onboarding/flows/unknown", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[viewResponse](t, rec)
	assert.True(t, body.Restarted)
	assert.False(t, body.Corrupted)
	assert.Equal(t, models.StepPlanSelection, body.CurrentStep)

	require.NoError(t, ts.mr.Set("onboarding:flow:broken", "{not json"))
	rec = ts.do(t, http.MethodGet, "/onboarding/flows/broken", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode[viewResponse](t, rec)
	assert.True(t, body.Restarted)
	assert.True(t, body.Corrupted)
}

func TestResume_AfterActivation(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	rec := ts.do(t, http.MethodPost, "/onboarding/flows", "")
	flowID := decode[viewResponse](t, rec).FlowID
	base := "/onboarding/flows/" + flowID

	for _, body := range []string{`{"plan":"free"}`, registrationBody, `{"consent":{"agreedToTerms":true}}`, `{"complianceChecks":[true,true,true,true]}`} {
		require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, base+"/advance", body).Code)
	}
	state, err := ts.flows.Load(ctx, flowID)
	require.NoError(t, err)
	state.AccountID = "acc-1"
	require.NoError(t, ts.flows.Activate(ctx, state))

	rec = ts.do(t, http.MethodGet, base, "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[viewResponse](t, rec)
	assert.False(t, body.Restarted)
	assert.True(t, body.Activated)
	assert.Equal(t, models.StepActivation, body.CurrentStep)
	assert.Equal(t, 100, body.Progress)
	assert.Len(t, body.Checklist, 5)
	assert.False(t, ts.mr.Exists("onboarding:flow:"+flowID))

	rec = ts.do(t, http.MethodPost, base+"/back", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

// ==========================
// Verification Tests
// ==========================

func TestSubmit(t *testing.T) {
	ts := newTestServer(t)
	ts.verifier.On("Submit", mock.Anything, "f-1", "secret1").
		Return(&models.VerificationSession{ContinuationURL: "https://verify.example.com/s/1"}, nil)

	rec := ts.do(t, http.MethodPost, "/onboarding/flows/f-1/verification", `{"password":"secret1"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://verify.example.com/s/1", decode[models.VerificationSession](t, rec).ContinuationURL)
}

func TestSubmit_ErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"validation", errors.NewValidationError([]errors.FieldError{{Field: "password"}}), http.StatusUnprocessableEntity, errors.MessageFixFields},
		{"account conflict", errors.NewAccountConflictError("alex@example.com"), http.StatusConflict, errors.MessageAccountConflict},
		{"in flight", errors.NewRequestInFlightError("f-1"), http.StatusConflict, errors.MessageRetry},
		{"timeout", errors.NewTimeoutError("verification-provider", context.DeadlineExceeded), http.StatusGatewayTimeout, errors.MessageTimeout},
		{"network", errors.NewNetworkError("verification-provider", stderrors.New("refused")), http.StatusBadGateway, errors.MessageRetry},
		{"provider", errors.NewProviderError("Card declined", ""), http.StatusPaymentRequired, "Card declined"},
		{"flow not found", errors.NewFlowNotFoundError("f-1"), http.StatusNotFound, errors.MessageRetry},
		{"unexpected", stderrors.New("boom"), http.StatusInternalServerError, errors.MessageRetry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.verifier.On("Submit", mock.Anything, "f-1", "secret1").Return(nil, tt.err)

			rec := ts.do(t, http.MethodPost, "/onboarding/flows/f-1/verification", `{"password":"secret1"}`)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.message, decode[errorResponse](t, rec).Error.Message)
		})
	}
}

func TestCallback(t *testing.T) {
	ts := newTestServer(t)
	activated := &models.FlowState{
		FlowID:       "f-1",
		CurrentStep:  models.StepActivation,
		SelectedPlan: models.PlanPro,
	}
	ts.verifier.On("Complete", mock.Anything, "f-1", verification.CallbackResult{
		IdentityVerified: true,
		PaymentCompleted: true,
	}).Return(&verification.Outcome{
		State:     activated,
		Activated: true,
		Checklist: models.ActivationChecklist(activated),
	}, nil)

	rec := ts.do(t, http.MethodGet, "/onboarding/callback?flow=f-1&identity=verified&payment=succeeded", "")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode[viewResponse](t, rec)
	assert.True(t, body.Activated)
	assert.Equal(t, 100, body.Progress)
	require.Len(t, body.Checklist, 5)
	assert.Equal(t, "Awaiting approval", body.Checklist[4].Label)
	assert.Equal(t, models.ApprovalSLA, body.ApprovalSLA)
}

func TestCallback_FailedLeg(t *testing.T) {
	ts := newTestServer(t)
	ts.verifier.On("Complete", mock.Anything, "f-1", verification.CallbackResult{
		IdentityVerified: true,
		ErrorMessage:     "Card declined",
	}).Return(nil, errors.NewProviderError("Card declined", "leg: payment"))

	rec := ts.do(t, http.MethodGet, "/onboarding/callback?flow=f-1&identity=verified&payment=failed&error=Card+declined", "")

	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Equal(t, "Card declined", decode[errorResponse](t, rec).Error.Message)
}

func TestCallback_MissingFlow(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/onboarding/callback?identity=verified", "")

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	ts.verifier.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything, mock.Anything)
}

// ==========================
// Webhook / Health Tests
// ==========================

func sign(payload []byte, secret string, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d.%s", ts.Unix(), payload)))
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func stripeRequest(payload []byte, secret string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(string(payload)))
	req.Header.Set("Stripe-Signature", sign(payload, secret, time.Now()))
	return req
}

func TestStripeWebhook(t *testing.T) {
	payload := []byte(fmt.Sprintf(`{"id":"evt_1","object":"event","api_version":%q,"type":"identity.verification_session.verified","data":{"object":{"id":"vs_1"}}}`, stripe.APIVersion))

	tests := []struct {
		name       string
		secret     string
		handleErr  error
		wantStatus int
	}{
		{name: "verified and applied", secret: webhookSecret, wantStatus: http.StatusOK},
		{name: "bad signature", secret: "whsec_other", wantStatus: http.StatusBadRequest},
		{name: "bad event", secret: webhookSecret, handleErr: fmt.Errorf("%w: missing account", payments.ErrBadEvent), wantStatus: http.StatusBadRequest},
		{name: "gateway failure", secret: webhookSecret, handleErr: fmt.Errorf("%w: timeout", payments.ErrGateway), wantStatus: http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.dispatcher.On("Handle", mock.Anything, mock.MatchedBy(func(e stripe.Event) bool {
				return e.ID == "evt_1"
			})).Return(tt.handleErr).Maybe()

			rec := httptest.NewRecorder()
			ts.handler.ServeHTTP(rec, stripeRequest(payload, tt.secret))

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.secret != webhookSecret {
				ts.dispatcher.AssertNotCalled(t, "Handle", mock.Anything, mock.Anything)
			}
		})
	}
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t)

	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/ready", "").Code)

	rec := ts.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestReady_ReportsFailures(t *testing.T) {
	handler := NewServer(Dependencies{
		Ready: map[string]ReadinessCheck{
			"postgres": func(ctx context.Context) error { return stderrors.New("connection refused") },
		},
		Logger: logger.NewNoOpLogger(),
	}).Routes()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}
