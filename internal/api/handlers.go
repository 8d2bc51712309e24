package api

import (
	stderrors "errors"
	"io"
	"net/http"
	"strings"

	"advertiser-onboarding/internal/common/errors"
	"advertiser-onboarding/internal/common/payments"
	"advertiser-onboarding/internal/flow"
	"advertiser-onboarding/internal/models"
	verification "advertiser-onboarding/internal/workers/onboarding/verification-orchestrate"
)

const maxWebhookBytes = 65536

// flowView is the response for every flow endpoint.
type flowView struct {
	models.Summary
	Restarted   bool                   `json:"restarted,omitempty"`
	Corrupted   bool                   `json:"corrupted,omitempty"`
	Activated   bool                   `json:"activated,omitempty"`
	Checklist   []models.ChecklistItem `json:"checklist,omitempty"`
	ApprovalSLA string                 `json:"approvalSla,omitempty"`
}

func (s *Server) view(state *models.FlowState) flowView {
	v := flowView{Summary: state.Summarize()}
	if state.CurrentStep == models.StepActivation {
		v.Activated = true
		v.Checklist = models.ActivationChecklist(state)
		v.ApprovalSLA = s.approvalSLA
	}
	return v
}

func (s *Server) handlePlans(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"plans":       models.Plans(),
		"defaultPlan": models.DefaultPlan,
	})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	state, err := s.flows.Start(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.view(state))
}

// resume loads the flow named in the path. When the snapshot was missing or
// unreadable it writes the restarted flow and returns nil.
func (s *Server) resume(w http.ResponseWriter, r *http.Request) *models.FlowState {
	result, err := s.flows.Resume(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return nil
	}
	if result.Restarted {
		v := s.view(result.State)
		v.Restarted = true
		v.Corrupted = result.Corrupted
		writeJSON(w, http.StatusOK, v)
		return nil
	}
	return result.State
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if state := s.resume(w, r); state != nil {
		writeJSON(w, http.StatusOK, s.view(state))
	}
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	var in flow.StepInput
	if err := decodeBody(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	state := s.resume(w, r)
	if state == nil {
		return
	}
	if err := s.flows.Advance(r.Context(), state, in); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view(state))
}

func (s *Server) handleBack(w http.ResponseWriter, r *http.Request) {
	state := s.resume(w, r)
	if state == nil {
		return
	}
	if err := s.flows.Back(r.Context(), state); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view(state))
}

type submitRequest struct {
	Password string `json:"password"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	session, err := s.verifier.Submit(r.Context(), r.PathValue("id"), req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// handleCallback is the provider return trip. Query parameters only report leg
// outcomes; everything else is read from the stored flow.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	flowID := strings.TrimSpace(q.Get("flow"))
	if flowID == "" {
		s.writeError(w, r, errors.NewValidationError([]errors.FieldError{{Field: "flow", Message: "required field missing"}}))
		return
	}

	outcome, err := s.verifier.Complete(r.Context(), flowID, verification.CallbackResult{
		IdentityVerified: q.Get("identity") == "verified",
		PaymentCompleted: q.Get("payment") == "succeeded",
		ErrorMessage:     q.Get("error"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	v := s.view(outcome.State)
	v.Restarted = outcome.Restarted
	v.Corrupted = outcome.Corrupted
	if outcome.Activated {
		v.Activated = true
		v.Checklist = outcome.Checklist
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	event, err := payments.ParseEvent(payload, r.Header.Get("Stripe-Signature"), s.webhookSecret)
	if err != nil {
		s.logger.Warn("Rejected Stripe webhook", map[string]interface{}{"error": err.Error()})
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	if err := s.webhooks.Handle(r.Context(), event); err != nil {
		status := http.StatusInternalServerError
		switch {
		case stderrors.Is(err, payments.ErrBadEvent):
			status = http.StatusBadRequest
		case stderrors.Is(err, payments.ErrGateway):
			status = http.StatusBadGateway
		}
		s.logger.Error("Stripe webhook failed", map[string]interface{}{
			"eventId": event.ID,
			"type":    event.Type,
			"error":   err.Error(),
		})
		http.Error(w, http.StatusText(status), status)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
