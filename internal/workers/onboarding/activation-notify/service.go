package activationnotify

import (
	"bytes"
	"context"
	"fmt"
	htmltemplate "html/template"
	"text/template"
	"time"

	"advertiser-onboarding/internal/common/aws"
	"advertiser-onboarding/internal/common/errors"
	"advertiser-onboarding/internal/common/logger"
	"advertiser-onboarding/internal/models"
)

const emailSubject = "Your advertiser profile is awaiting approval"

var textBody = template.Must(template.New("text").Parse(`Hi {{.Name}},

Your {{.PlanName}} profile ({{.PriceLabel}}) is set up and verified.
Our team reviews every new profile; expect a decision within {{.SLA}}.
{{if .DashboardURL}}
Track the status at {{.DashboardURL}}
{{end}}`))

var htmlBody = htmltemplate.Must(htmltemplate.New("html").Parse(`<p>Hi {{.Name}},</p>
<p>Your <strong>{{.PlanName}}</strong> profile ({{.PriceLabel}}) is set up and verified.</p>
<p>Our team reviews every new profile; expect a decision within {{.SLA}}.</p>
{{if .DashboardURL}}<p><a href="{{.DashboardURL}}">Track the status</a></p>{{end}}`))

type emailData struct {
	Name         string
	PlanName     string
	PriceLabel   string
	SLA          string
	DashboardURL string
}

type Service struct {
	config  *Config
	mailer  Mailer
	alerter Alerter
	logger  logger.Logger
	now     func() time.Time
}

func NewService(deps ServiceDependencies, config *Config) *Service {
	return &Service{
		config:  config,
		mailer:  deps.Mailer,
		alerter: deps.Alerter,
		logger:  deps.Logger,
		now:     time.Now,
	}
}

// Execute tells the advertiser the profile is pending approval and alerts the review
// team. Only the advertiser e-mail is required to succeed.
func (s *Service) Execute(ctx context.Context, input *Input) (*Output, error) {
	plan, err := models.LookupPlan(models.PlanTier(input.Plan))
	if err != nil {
		return nil, errors.NewBusinessRuleError("Unknown plan", err.Error())
	}

	output := &Output{Success: true, NotifiedAt: s.now().UTC()}

	if s.config.EmailEnabled && s.mailer != nil {
		msg, err := s.renderEmail(input, plan)
		if err != nil {
			return nil, errors.NewNotificationSendFailedError("email", err)
		}
		id, err := s.mailer.Send(ctx, msg)
		if err != nil {
			return nil, errors.NewNotificationSendFailedError("email", err)
		}
		output.EmailMessageID = id
	}

	if s.config.AdminAlertEnabled && s.alerter != nil {
		id, err := s.alerter.PublishAlert(ctx, adminAlert(input, plan))
		if err != nil {
			s.logger.Warn("Admin alert not published", map[string]interface{}{
				"flowId":    input.FlowID,
				"accountId": input.AccountID,
				"error":     err.Error(),
			})
		} else {
			output.AlertMessageID = id
		}
	}

	output.Message = fmt.Sprintf("Activation notice sent for %s plan", plan.Name)
	s.logger.Info("Activation notifications processed", map[string]interface{}{
		"flowId":         input.FlowID,
		"accountId":      input.AccountID,
		"plan":           plan.Tier,
		"emailMessageId": output.EmailMessageID,
		"alertMessageId": output.AlertMessageID,
	})
	return output, nil
}

func (s *Service) renderEmail(input *Input, plan models.Plan) (aws.EmailMessage, error) {
	name := input.DisplayName
	if input.FullName != "" {
		name = input.FullName
	}
	data := emailData{
		Name:         name,
		PlanName:     plan.Name,
		PriceLabel:   plan.PriceLabel(),
		SLA:          s.config.ApprovalSLA,
		DashboardURL: s.config.DashboardURL,
	}

	var text, html bytes.Buffer
	if err := textBody.Execute(&text, data); err != nil {
		return aws.EmailMessage{}, err
	}
	if err := htmlBody.Execute(&html, data); err != nil {
		return aws.EmailMessage{}, err
	}
	return aws.EmailMessage{
		To:       models.NormalizeEmail(input.Email),
		Subject:  emailSubject,
		TextBody: text.String(),
		HTMLBody: html.String(),
	}, nil
}

func adminAlert(input *Input, plan models.Plan) aws.Alert {
	return aws.Alert{
		Subject: fmt.Sprintf("New %s advertiser awaiting approval", plan.Name),
		Message: fmt.Sprintf("Account %s (%s, %s) completed onboarding flow %s. Consent record: %s. Marketing opt-in: %t.",
			input.AccountID, input.DisplayName, models.NormalizeEmail(input.Email), input.FlowID, input.ConsentRecordID, input.MarketingOptIn),
		Attributes: map[string]string{
			"event": "advertiser.activated",
			"plan":  string(plan.Tier),
		},
	}
}

// TestConnection reports whether the worker can deliver anything at all.
func (s *Service) TestConnection(ctx context.Context) error {
	if s.config.EmailEnabled && s.mailer == nil {
		return fmt.Errorf("email enabled but no mailer configured")
	}
	return nil
}
