package verificationorchestrate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"advertiser-onboarding/internal/common/errors"
	httpclient "advertiser-onboarding/internal/common/http"
	"advertiser-onboarding/internal/models"
)

const providerService = "verification-provider"

// StartFlowRequest asks the provider for a continuation URL covering legs.
type StartFlowRequest struct {
	PlanKey       models.PlanTier          `json:"planKey"`
	AccountID     string                   `json:"userId"`
	CustomerEmail string                   `json:"customerEmail"`
	Legs          []models.VerificationLeg `json:"legs"`
	ReturnURL     string                   `json:"returnUrl"`
	FlowID        string                   `json:"flowId"`
}

type startFlowResponse struct {
	URL       string `json:"url"`
	SessionID string `json:"sessionId"`
	Error     string `json:"error"`
}

// Provider starts the external verification chain.
type Provider interface {
	StartFlow(ctx context.Context, req StartFlowRequest) (*models.VerificationSession, error)
}

// HTTPProvider talks to the payment backend's start-payment-flow endpoint.
type HTTPProvider struct {
	baseURL string
	http    *httpclient.Client
}

func NewHTTPProvider(baseURL string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    httpclient.NewClient(timeout),
	}
}

func (p *HTTPProvider) StartFlow(ctx context.Context, req StartFlowRequest) (*models.VerificationSession, error) {
	resp, err := p.http.PostJSON(ctx, providerService, p.baseURL+"/start-payment-flow", req, nil)
	if err != nil {
		return nil, err
	}

	var body startFlowResponse
	decodeErr := resp.DecodeJSON(&body)

	if !resp.OK() {
		msg := body.Error
		if decodeErr != nil || msg == "" {
			msg = fmt.Sprintf("Error %d", resp.StatusCode)
		}
		return nil, errors.NewProviderError(msg, fmt.Sprintf("status: %d", resp.StatusCode))
	}
	if decodeErr != nil || body.URL == "" {
		return nil, errors.NewProviderError("Invalid server response (missing url)", string(resp.Body))
	}

	return &models.VerificationSession{
		ContinuationURL:   body.URL,
		ProviderSessionID: body.SessionID,
	}, nil
}
