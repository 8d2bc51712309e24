package activationnotify

import (
	"context"
	"time"

	"advertiser-onboarding/internal/common/aws"
	"advertiser-onboarding/internal/common/logger"
)

type Input struct {
	FlowID          string `json:"flowId"`
	AccountID       string `json:"accountId"`
	Email           string `json:"email"`
	FullName        string `json:"fullName,omitempty"`
	DisplayName     string `json:"displayName"`
	Plan            string `json:"plan"`
	ConsentRecordID string `json:"consentRecordId,omitempty"`
	MarketingOptIn  bool   `json:"marketingOptIn"`
}

type Output struct {
	Success        bool      `json:"success"`
	Message        string    `json:"message"`
	EmailMessageID string    `json:"emailMessageId,omitempty"`
	AlertMessageID string    `json:"alertMessageId,omitempty"`
	NotifiedAt     time.Time `json:"notifiedAt"`
}

// Mailer sends the advertiser e-mail. *aws.SESClient implements it.
type Mailer interface {
	Send(ctx context.Context, msg aws.EmailMessage) (string, error)
}

// Alerter notifies the review team. *aws.SNSClient implements it.
type Alerter interface {
	PublishAlert(ctx context.Context, a aws.Alert) (string, error)
}

type ServiceDependencies struct {
	Mailer  Mailer
	Alerter Alerter
	Logger  logger.Logger
}
