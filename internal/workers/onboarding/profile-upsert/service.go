// Package profileupsert writes the advertiser profile keyed by account id.
package profileupsert

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	"advertiser-onboarding/internal/common/errors"
	"advertiser-onboarding/internal/common/logger"
	"advertiser-onboarding/internal/models"

	"github.com/lib/pq"
)

// Status is never part of the conflict update: a profile already approved or
// suspended keeps its status when the wizard is replayed.
const upsertQuery = `
	INSERT INTO advertiser_profiles (
		account_id, full_name, display_name, email, phone, location,
		languages, services, agree_terms, plan, plan_name, price_monthly,
		status, subscription_status, trial_ends_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	ON CONFLICT (account_id) DO UPDATE SET
		full_name           = EXCLUDED.full_name,
		display_name        = EXCLUDED.display_name,
		email               = EXCLUDED.email,
		phone               = EXCLUDED.phone,
		location            = EXCLUDED.location,
		languages           = EXCLUDED.languages,
		services            = EXCLUDED.services,
		agree_terms         = EXCLUDED.agree_terms,
		plan                = EXCLUDED.plan,
		plan_name           = EXCLUDED.plan_name,
		price_monthly       = EXCLUDED.price_monthly,
		subscription_status = COALESCE(EXCLUDED.subscription_status, advertiser_profiles.subscription_status),
		trial_ends_at       = COALESCE(EXCLUDED.trial_ends_at, advertiser_profiles.trial_ends_at),
		updated_at          = EXCLUDED.updated_at`

const selectQuery = `
	SELECT account_id, full_name, display_name, email, phone, location,
		languages, services, agree_terms, plan, plan_name, price_monthly,
		status, subscription_status, trial_ends_at, identity_verified,
		stripe_customer_id, subscription_id, updated_at
	FROM advertiser_profiles
	WHERE account_id = $1`

type Service struct {
	config  *Config
	db      *sql.DB
	indexer SearchIndexer
	logger  logger.Logger
	now     func() time.Time
}

func NewService(deps ServiceDependencies, config *Config) *Service {
	if config == nil {
		config = DefaultConfig()
	}
	return &Service{
		config:  config,
		db:      deps.DB,
		indexer: deps.Indexer,
		logger:  deps.Logger,
		now:     time.Now,
	}
}

// Upsert merge-writes the pending profile. Indexing into search is best effort.
func (s *Service) Upsert(ctx context.Context, accountID string, draft models.AdvertiserDraft, plan models.Plan) error {
	if accountID == "" {
		return errors.NewBusinessRuleError("Profile upsert requires an account", "empty account id")
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	profile := models.NewPendingProfile(accountID, draft, plan, s.now().UTC())

	var subscriptionStatus sql.NullString
	if profile.SubscriptionStatus != "" {
		subscriptionStatus = sql.NullString{String: profile.SubscriptionStatus, Valid: true}
	}
	var trialEndsAt sql.NullTime
	if profile.TrialEndsAt != nil {
		trialEndsAt = sql.NullTime{Time: *profile.TrialEndsAt, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, upsertQuery,
		profile.AccountID,
		profile.FullName,
		profile.DisplayName,
		profile.Email,
		profile.Phone,
		profile.Location,
		pq.Array(profile.Languages),
		pq.Array(profile.Services),
		profile.AgreedToTerms,
		string(profile.Plan),
		profile.PlanName,
		profile.PriceMonthly,
		string(profile.Status),
		subscriptionStatus,
		trialEndsAt,
		profile.UpdatedAt,
	)
	if err != nil {
		s.logger.Error("Profile upsert failed", map[string]interface{}{
			"accountId": accountID,
			"error":     err.Error(),
		})
		return errors.NewDatabaseInsertFailedError(err)
	}

	s.logger.Info("Profile upserted", map[string]interface{}{
		"accountId": accountID,
		"plan":      profile.Plan,
	})

	s.index(ctx, profile)
	return nil
}

func (s *Service) index(ctx context.Context, profile models.AdvertiserProfile) {
	if s.indexer == nil || s.config.IndexName == "" {
		return
	}
	if err := s.indexer.IndexDocument(ctx, s.config.IndexName, profile.AccountID, profile); err != nil {
		s.logger.Warn("Profile indexing failed", map[string]interface{}{
			"accountId": profile.AccountID,
			"index":     s.config.IndexName,
			"error":     err.Error(),
		})
	}
}

// Get loads a profile by account id.
func (s *Service) Get(ctx context.Context, accountID string) (*models.AdvertiserProfile, error) {
	var (
		p                  models.AdvertiserProfile
		plan, status       string
		subscriptionStatus sql.NullString
		trialEndsAt        sql.NullTime
		customerID         sql.NullString
		subscriptionID     sql.NullString
	)

	err := s.db.QueryRowContext(ctx, selectQuery, accountID).Scan(
		&p.AccountID, &p.FullName, &p.DisplayName, &p.Email, &p.Phone, &p.Location,
		pq.Array(&p.Languages), pq.Array(&p.Services), &p.AgreedToTerms, &plan, &p.PlanName, &p.PriceMonthly,
		&status, &subscriptionStatus, &trialEndsAt, &p.IdentityVerified,
		&customerID, &subscriptionID, &p.UpdatedAt,
	)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewResourceNotFoundError("profiles", fmt.Sprintf("account: %s", accountID))
	}
	if err != nil {
		return nil, errors.NewExternalServiceError("postgres", fmt.Errorf("load profile %s: %w", accountID, err))
	}

	p.Plan = models.PlanTier(plan)
	p.Status = models.ProfileStatus(status)
	p.SubscriptionStatus = subscriptionStatus.String
	p.StripeCustomerID = customerID.String
	p.SubscriptionID = subscriptionID.String
	if trialEndsAt.Valid {
		t := trialEndsAt.Time
		p.TrialEndsAt = &t
	}
	return &p, nil
}

// MarkIdentityVerified records a successful identity check reported by the payment provider.
func (s *Service) MarkIdentityVerified(ctx context.Context, accountID string) error {
	return s.update(ctx, accountID, "identity verification", `
		UPDATE advertiser_profiles
		SET identity_verified = TRUE, updated_at = $2
		WHERE account_id = $1`,
		accountID, s.now().UTC(),
	)
}

// MarkSubscription mirrors the provider's subscription state. Empty ids keep the stored ones.
func (s *Service) MarkSubscription(ctx context.Context, accountID, customerID, subscriptionID, status string) error {
	return s.update(ctx, accountID, "subscription", `
		UPDATE advertiser_profiles
		SET stripe_customer_id  = COALESCE(NULLIF($2, ''), stripe_customer_id),
			subscription_id     = COALESCE(NULLIF($3, ''), subscription_id),
			subscription_status = $4,
			updated_at          = $5
		WHERE account_id = $1`,
		accountID, customerID, subscriptionID, status, s.now().UTC(),
	)
}

func (s *Service) update(ctx context.Context, accountID, what, query string, args ...interface{}) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.NewDatabaseInsertFailedError(fmt.Errorf("%s update for %s: %w", what, accountID, err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.NewResourceNotFoundError("profiles", fmt.Sprintf("account: %s", accountID))
	}
	s.logger.Info("Profile updated", map[string]interface{}{
		"accountId": accountID,
		"update":    what,
	})
	return nil
}
