// Package payments holds the Stripe side of the verification chain: the SDK gateway
// and the webhook event dispatcher.
package payments

import (
	"time"

	stripe "github.com/stripe/stripe-go"
	"github.com/stripe/stripe-go/customer"
	"github.com/stripe/stripe-go/sub"
)

// SetKey configures the Stripe SDK key once during bootstrap.
func SetKey(key string) { stripe.Key = key }

// Gateway abstracts the Stripe SDK calls the webhook needs.
type Gateway interface {
	GetSubscription(id string) (stripe.Subscription, error)
	GetCustomer(id string) (stripe.Customer, error)
}

type client struct{}

// NewGateway returns a Gateway backed by the official Stripe SDK.
func NewGateway() Gateway { return client{} }

func (client) GetSubscription(id string) (stripe.Subscription, error) {
	subPtr, err := sub.Get(id, nil)
	if err != nil {
		return stripe.Subscription{}, err
	}
	if subPtr == nil {
		return stripe.Subscription{}, nil
	}
	return *subPtr, nil
}

func (client) GetCustomer(id string) (stripe.Customer, error) {
	custPtr, err := customer.Get(id, nil)
	if err != nil {
		return stripe.Customer{}, err
	}
	if custPtr == nil {
		return stripe.Customer{}, nil
	}
	return *custPtr, nil
}

// IsSubscriptionCancelled returns true if the subscription is cancelled or past its cancel timestamp.
func IsSubscriptionCancelled(s stripe.Subscription, now time.Time) bool {
	if s.CancelAt != 0 && now.Unix() > s.CancelAt {
		return true
	}
	return s.Status == stripe.SubscriptionStatusCanceled
}

// SubscriptionStatus collapses a Stripe subscription to the profile's status column.
func SubscriptionStatus(s stripe.Subscription, now time.Time) string {
	if IsSubscriptionCancelled(s, now) {
		return string(stripe.SubscriptionStatusCanceled)
	}
	if s.Status == "" {
		return string(stripe.SubscriptionStatusActive)
	}
	return string(s.Status)
}
