package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"advertiser-onboarding/internal/common/logger"

	stripe "github.com/stripe/stripe-go"
	"github.com/stripe/stripe-go/webhook"
)

// Typed errors of the webhook path, mapped to HTTP statuses by the API layer.
var (
	// ErrBadSignature indicates the Stripe-Signature header did not verify.
	ErrBadSignature = errors.New("bad signature")
	// ErrBadEvent indicates the event payload is invalid or missing required fields.
	ErrBadEvent = errors.New("bad event")
	// ErrGateway indicates a failure from the Stripe API.
	ErrGateway = errors.New("gateway error")
)

// AccountMetadataKey is the metadata key carrying the identity-provider account id on
// checkout sessions, subscriptions, customers and identity sessions.
const AccountMetadataKey = "accountId"

// Event types handled by the dispatcher.
const (
	EventCheckoutCompleted     = "checkout.session.completed"
	EventSubscriptionUpdated   = "customer.subscription.updated"
	EventSubscriptionDeleted   = "customer.subscription.deleted"
	EventIdentityVerified      = "identity.verification_session.verified"
	EventIdentityRequiresInput = "identity.verification_session.requires_input"
)

// ProfileMarker records provider outcomes on the advertiser profile.
type ProfileMarker interface {
	MarkIdentityVerified(ctx context.Context, accountID string) error
	MarkSubscription(ctx context.Context, accountID, customerID, subscriptionID, status string) error
}

// ParseEvent verifies the signature header and decodes the event.
func ParseEvent(payload []byte, signatureHeader, secret string) (stripe.Event, error) {
	event, err := webhook.ConstructEvent(payload, signatureHeader, secret)
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return event, nil
}

// Dispatcher applies verified webhook events to advertiser profiles.
type Dispatcher struct {
	gateway  Gateway
	profiles ProfileMarker
	logger   logger.Logger
	now      func() time.Time
}

func NewDispatcher(g Gateway, profiles ProfileMarker, log logger.Logger) *Dispatcher {
	return &Dispatcher{gateway: g, profiles: profiles, logger: log, now: time.Now}
}

// identitySession is the subset of an Identity VerificationSession the pipeline reads.
type identitySession struct {
	ID        string            `json:"id"`
	Status    string            `json:"status"`
	Metadata  map[string]string `json:"metadata"`
	LastError *struct {
		Code   string `json:"code"`
		Reason string `json:"reason"`
	} `json:"last_error"`
}

// Handle dispatches one event. Unknown event types are acknowledged and ignored.
func (d *Dispatcher) Handle(ctx context.Context, event stripe.Event) error {
	if event.Data == nil {
		return fmt.Errorf("%w: event without data", ErrBadEvent)
	}

	switch event.Type {
	case EventCheckoutCompleted:
		return d.handleCheckoutCompleted(ctx, event)
	case EventSubscriptionUpdated, EventSubscriptionDeleted:
		return d.handleSubscriptionChange(ctx, event)
	case EventIdentityVerified:
		return d.handleIdentityVerified(ctx, event)
	case EventIdentityRequiresInput:
		var session identitySession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return fmt.Errorf("%w: error unmarshaling verification session: %v", ErrBadEvent, err)
		}
		fields := map[string]interface{}{
			"sessionId": session.ID,
			"accountId": session.Metadata[AccountMetadataKey],
		}
		if session.LastError != nil {
			fields["reason"] = session.LastError.Reason
		}
		d.logger.Warn("Identity verification requires input", fields)
		return nil
	default:
		d.logger.Debug("Ignoring Stripe event", map[string]interface{}{"type": event.Type, "id": event.ID})
		return nil
	}
}

func (d *Dispatcher) handleCheckoutCompleted(ctx context.Context, event stripe.Event) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return fmt.Errorf("%w: error unmarshaling into CheckoutSession: %v", ErrBadEvent, err)
	}
	accountID := session.ClientReferenceID
	if accountID == "" {
		accountID = session.Metadata[AccountMetadataKey]
	}
	if accountID == "" {
		return fmt.Errorf("%w: client reference ID not found in CheckoutSession", ErrBadEvent)
	}
	if session.Customer == nil || session.Customer.ID == "" {
		return fmt.Errorf("%w: customer ID not found in CheckoutSession", ErrBadEvent)
	}
	if session.Subscription == nil || session.Subscription.ID == "" {
		return fmt.Errorf("%w: subscription ID not found in CheckoutSession", ErrBadEvent)
	}

	subscription, err := d.gateway.GetSubscription(session.Subscription.ID)
	if err != nil {
		return fmt.Errorf("%w: fetching subscription %s: %v", ErrGateway, session.Subscription.ID, err)
	}

	status := SubscriptionStatus(subscription, d.now())
	d.logger.Info("Checkout completed", map[string]interface{}{
		"accountId":      accountID,
		"subscriptionId": session.Subscription.ID,
		"status":         status,
	})
	return d.profiles.MarkSubscription(ctx, accountID, session.Customer.ID, session.Subscription.ID, status)
}

func (d *Dispatcher) handleSubscriptionChange(ctx context.Context, event stripe.Event) error {
	var subscription stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &subscription); err != nil {
		return fmt.Errorf("%w: error unmarshaling into Subscription: %v", ErrBadEvent, err)
	}
	if subscription.ID == "" || subscription.Customer == nil || subscription.Customer.ID == "" {
		return fmt.Errorf("%w: subscription or customer ID missing", ErrBadEvent)
	}

	accountID := subscription.Metadata[AccountMetadataKey]
	if accountID == "" {
		cust, err := d.gateway.GetCustomer(subscription.Customer.ID)
		if err != nil {
			return fmt.Errorf("%w: fetching customer %s: %v", ErrGateway, subscription.Customer.ID, err)
		}
		accountID = cust.Metadata[AccountMetadataKey]
	}
	if accountID == "" {
		d.logger.Warn("Subscription without account reference", map[string]interface{}{
			"subscriptionId": subscription.ID,
			"customerId":     subscription.Customer.ID,
		})
		return nil
	}

	status := SubscriptionStatus(subscription, d.now())
	if event.Type == EventSubscriptionDeleted {
		status = string(stripe.SubscriptionStatusCanceled)
	}
	return d.profiles.MarkSubscription(ctx, accountID, subscription.Customer.ID, subscription.ID, status)
}

func (d *Dispatcher) handleIdentityVerified(ctx context.Context, event stripe.Event) error {
	var session identitySession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return fmt.Errorf("%w: error unmarshaling verification session: %v", ErrBadEvent, err)
	}
	accountID := session.Metadata[AccountMetadataKey]
	if accountID == "" {
		return fmt.Errorf("%w: account id not found in verification session %s", ErrBadEvent, session.ID)
	}
	return d.profiles.MarkIdentityVerified(ctx, accountID)
}
