// Package api exposes the onboarding wizard as a JSON HTTP API.
package api

import (
	"context"
	"net/http"

	"advertiser-onboarding/internal/common/logger"
	"advertiser-onboarding/internal/flow"
	"advertiser-onboarding/internal/models"
	verification "advertiser-onboarding/internal/workers/onboarding/verification-orchestrate"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	stripe "github.com/stripe/stripe-go"
)

// Flows is the wizard state machine. *flow.Controller implements it.
type Flows interface {
	Start(ctx context.Context) (*models.FlowState, error)
	Resume(ctx context.Context, flowID string) (*flow.ResumeResult, error)
	Advance(ctx context.Context, state *models.FlowState, in flow.StepInput) error
	Back(ctx context.Context, state *models.FlowState) error
}

// Verifier runs the verification round trip. *verification.Service implements it.
type Verifier interface {
	Submit(ctx context.Context, flowID, password string) (*models.VerificationSession, error)
	Complete(ctx context.Context, flowID string, result verification.CallbackResult) (*verification.Outcome, error)
}

// EventDispatcher applies verified Stripe events. *payments.Dispatcher implements it.
type EventDispatcher interface {
	Handle(ctx context.Context, event stripe.Event) error
}

// ReadinessCheck reports whether a dependency is usable.
type ReadinessCheck func(ctx context.Context) error

type Dependencies struct {
	Flows         Flows
	Verifier      Verifier
	Webhooks      EventDispatcher
	WebhookSecret string
	ApprovalSLA   string
	Ready         map[string]ReadinessCheck
	Logger        logger.Logger
}

type Server struct {
	flows         Flows
	verifier      Verifier
	webhooks      EventDispatcher
	webhookSecret string
	approvalSLA   string
	ready         map[string]ReadinessCheck
	logger        logger.Logger
}

func NewServer(deps Dependencies) *Server {
	sla := deps.ApprovalSLA
	if sla == "" {
		sla = models.ApprovalSLA
	}
	return &Server{
		flows:         deps.Flows,
		verifier:      deps.Verifier,
		webhooks:      deps.Webhooks,
		webhookSecret: deps.WebhookSecret,
		approvalSLA:   sla,
		ready:         deps.Ready,
		logger:        deps.Logger,
	}
}

// Routes returns the full handler tree wrapped in request logging.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /onboarding/plans", s.handlePlans)
	mux.HandleFunc("POST /onboarding/flows", s.handleStart)
	mux.HandleFunc("GET /onboarding/flows/{id}", s.handleResume)
	mux.HandleFunc("POST /onboarding/flows/{id}/advance", s.handleAdvance)
	mux.HandleFunc("POST /onboarding/flows/{id}/back", s.handleBack)
	mux.HandleFunc("POST /onboarding/flows/{id}/verification", s.handleSubmit)
	mux.HandleFunc("GET /onboarding/callback", s.handleCallback)
	mux.HandleFunc("POST /webhooks/stripe", s.handleStripeWebhook)

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.Handler())

	return s.withRequestLogging(mux)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	failures := map[string]string{}
	for name, check := range s.ready {
		if err := check(r.Context()); err != nil {
			failures[name] = err.Error()
		}
	}
	if len(failures) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":   "not ready",
			"failures": failures,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
