package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"advertiser-onboarding/internal/common/logger"

	stripe "github.com/stripe/stripe-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// ==========================
// Mocks
// ==========================

type MockProfiles struct {
	mock.Mock
}

func (m *MockProfiles) MarkIdentityVerified(ctx context.Context, accountID string) error {
	return m.Called(ctx, accountID).Error(0)
}

func (m *MockProfiles) MarkSubscription(ctx context.Context, accountID, customerID, subscriptionID, status string) error {
	return m.Called(ctx, accountID, customerID, subscriptionID, status).Error(0)
}

type fakeGateway struct {
	subs      map[string]stripe.Subscription
	customers map[string]stripe.Customer
}

func (f fakeGateway) GetSubscription(id string) (stripe.Subscription, error) {
	s, ok := f.subs[id]
	if !ok {
		return stripe.Subscription{}, errors.New("no such subscription")
	}
	return s, nil
}

func (f fakeGateway) GetCustomer(id string) (stripe.Customer, error) {
	c, ok := f.customers[id]
	if !ok {
		return stripe.Customer{}, errors.New("no such customer")
	}
	return c, nil
}

func eventOf(t *testing.T, typ string, object interface{}) stripe.Event {
	raw, err := json.Marshal(object)
	require.NoError(t, err)
	return stripe.Event{ID: "evt_1", Type: typ, Data: &stripe.EventData{Raw: raw}}
}

// ==========================
// Signature verification
// ==========================

func sign(payload []byte, secret string, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d.%s", ts.Unix(), payload)))
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func TestParseEvent(t *testing.T) {
	payload := []byte(fmt.Sprintf(`{"id":"evt_1","object":"event","api_version":%q,"type":"checkout.session.completed","data":{"object":{"id":"cs_1"}}}`, stripe.APIVersion))

	event, err := ParseEvent(payload, sign(payload, "whsec_test", time.Now()), "whsec_test")
	require.NoError(t, err)
	assert.Equal(t, EventCheckoutCompleted, event.Type)

	_, err = ParseEvent(payload, sign(payload, "other", time.Now()), "whsec_test")
	assert.ErrorIs(t, err, ErrBadSignature)
}

// ==========================
// Dispatcher
// ==========================

func TestDispatcher_CheckoutCompleted(t *testing.T) {
	profiles := new(MockProfiles)
	gw := fakeGateway{subs: map[string]stripe.Subscription{
		"sub_1": {ID: "sub_1", Status: stripe.SubscriptionStatusActive},
	}}
	d := NewDispatcher(gw, profiles, logger.NewTestLogger(t))

	profiles.On("MarkSubscription", mock.Anything, "acc-1", "cus_1", "sub_1", "active").Return(nil)

	err := d.Handle(context.Background(), eventOf(t, EventCheckoutCompleted, stripe.CheckoutSession{
		ClientReferenceID: "acc-1",
		Customer:          &stripe.Customer{ID: "cus_1"},
		Subscription:      &stripe.Subscription{ID: "sub_1"},
	}))

	require.NoError(t, err)
	profiles.AssertExpectations(t)
}

func TestDispatcher_CheckoutCompleted_MissingReference(t *testing.T) {
	profiles := new(MockProfiles)
	d := NewDispatcher(fakeGateway{}, profiles, logger.NewNoOpLogger())

	err := d.Handle(context.Background(), eventOf(t, EventCheckoutCompleted, stripe.CheckoutSession{
		Customer:     &stripe.Customer{ID: "cus_1"},
		Subscription: &stripe.Subscription{ID: "sub_1"},
	}))

	assert.ErrorIs(t, err, ErrBadEvent)
	profiles.AssertNotCalled(t, "MarkSubscription", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatcher_CheckoutCompleted_GatewayFailure(t *testing.T) {
	d := NewDispatcher(fakeGateway{}, new(MockProfiles), logger.NewNoOpLogger())

	err := d.Handle(context.Background(), eventOf(t, EventCheckoutCompleted, stripe.CheckoutSession{
		ClientReferenceID: "acc-1",
		Customer:          &stripe.Customer{ID: "cus_1"},
		Subscription:      &stripe.Subscription{ID: "sub_missing"},
	}))

	assert.ErrorIs(t, err, ErrGateway)
}

func TestDispatcher_SubscriptionDeleted_ResolvesAccountThroughCustomer(t *testing.T) {
	profiles := new(MockProfiles)
	gw := fakeGateway{customers: map[string]stripe.Customer{
		"cus_1": {ID: "cus_1", Metadata: map[string]string{AccountMetadataKey: "acc-9"}},
	}}
	d := NewDispatcher(gw, profiles, logger.NewNoOpLogger())

	profiles.On("MarkSubscription", mock.Anything, "acc-9", "cus_1", "sub_1", "canceled").Return(nil)

	err := d.Handle(context.Background(), eventOf(t, EventSubscriptionDeleted, map[string]interface{}{
		"id":       "sub_1",
		"customer": "cus_1",
		"status":   "active",
	}))

	require.NoError(t, err)
	profiles.AssertExpectations(t)
}

func TestDispatcher_IdentityVerified(t *testing.T) {
	profiles := new(MockProfiles)
	d := NewDispatcher(fakeGateway{}, profiles, logger.NewNoOpLogger())

	profiles.On("MarkIdentityVerified", mock.Anything, "acc-1").Return(nil)

	err := d.Handle(context.Background(), eventOf(t, EventIdentityVerified, map[string]interface{}{
		"id":       "vs_1",
		"status":   "verified",
		"metadata": map[string]string{AccountMetadataKey: "acc-1"},
	}))

	require.NoError(t, err)
	profiles.AssertExpectations(t)
}

func TestDispatcher_IgnoresUnknownEvents(t *testing.T) {
	d := NewDispatcher(fakeGateway{}, new(MockProfiles), logger.NewNoOpLogger())
	assert.NoError(t, d.Handle(context.Background(), eventOf(t, "invoice.paid", map[string]string{"id": "in_1"})))
}

func TestIsSubscriptionCancelled(t *testing.T) {
	now := time.Now()
	assert.True(t, IsSubscriptionCancelled(stripe.Subscription{CancelAt: now.Add(-time.Hour).Unix()}, now))
	assert.True(t, IsSubscriptionCancelled(stripe.Subscription{Status: stripe.SubscriptionStatusCanceled}, now))
	assert.False(t, IsSubscriptionCancelled(stripe.Subscription{Status: stripe.SubscriptionStatusActive}, now))
	assert.Equal(t, "trialing", SubscriptionStatus(stripe.Subscription{Status: stripe.SubscriptionStatusTrialing}, now))
}
