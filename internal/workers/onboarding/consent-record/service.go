// Package consentrecord is the append-only ledger of legal consent given during onboarding.
package consentrecord

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"advertiser-onboarding/internal/common/errors"
	"advertiser-onboarding/internal/common/logger"
	"advertiser-onboarding/internal/models"

	"github.com/google/uuid"
)

type ServiceDependencies struct {
	DB     *sql.DB
	Logger logger.Logger
}

type Service struct {
	db            *sql.DB
	logger        logger.Logger
	policyVersion string
	now           func() time.Time
}

// NewService creates the ledger. policyVersion stamps records that arrive without one.
func NewService(deps ServiceDependencies, policyVersion string) *Service {
	return &Service{
		db:            deps.DB,
		logger:        deps.Logger,
		policyVersion: policyVersion,
		now:           time.Now,
	}
}

// Record appends rec and returns it with its id. Records are never updated in place;
// a later acceptance is a new row.
func (s *Service) Record(ctx context.Context, rec models.ConsentRecord) (*models.ConsentRecord, error) {
	if rec.FlowID == "" || rec.Email == "" {
		return nil, errors.NewConsentWriteFailedError(fmt.Errorf("consent record needs flow id and email"))
	}

	rec.ID = uuid.New().String()
	rec.Email = models.NormalizeEmail(rec.Email)
	if rec.PolicyVersion == "" {
		rec.PolicyVersion = s.policyVersion
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.now().UTC()
	}

	var accountID sql.NullString
	if rec.AccountID != "" {
		accountID = sql.NullString{String: rec.AccountID, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO consent_records (
			id, flow_id, email, account_id, agreed_to_terms,
			marketing_opt_in, policy_version, consented_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID,
		rec.FlowID,
		rec.Email,
		accountID,
		rec.AgreedToTerms,
		rec.MarketingOptIn,
		rec.PolicyVersion,
		rec.Timestamp,
	)
	if err != nil {
		s.logger.Error("Consent insert failed", map[string]interface{}{
			"flowId": rec.FlowID,
			"error":  err.Error(),
		})
		return nil, errors.NewConsentWriteFailedError(err)
	}

	s.logger.Info("Consent recorded", map[string]interface{}{
		"consentId":      rec.ID,
		"flowId":         rec.FlowID,
		"policyVersion":  rec.PolicyVersion,
		"marketingOptIn": rec.MarketingOptIn,
	})
	return &rec, nil
}

// AttachAccount links the flow's records written before the account existed.
// Rows that already carry an account are left alone.
func (s *Service) AttachAccount(ctx context.Context, flowID, accountID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE consent_records
		SET account_id = $2
		WHERE flow_id = $1 AND account_id IS NULL`,
		flowID, accountID,
	)
	if err != nil {
		return 0, errors.NewDatabaseInsertFailedError(fmt.Errorf("attach consent of flow %s: %w", flowID, err))
	}
	n, _ := res.RowsAffected()
	s.logger.Debug("Consent records attached", map[string]interface{}{
		"flowId":    flowID,
		"accountId": accountID,
		"rows":      n,
	})
	return n, nil
}

// History returns every record given for email, newest first.
func (s *Service) History(ctx context.Context, email string) ([]models.ConsentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, flow_id, email, account_id, agreed_to_terms,
			marketing_opt_in, policy_version, consented_at
		FROM consent_records
		WHERE email = $1
		ORDER BY consented_at DESC`,
		models.NormalizeEmail(email),
	)
	if err != nil {
		return nil, errors.NewExternalServiceError("postgres", fmt.Errorf("consent history: %w", err))
	}
	defer rows.Close()

	var out []models.ConsentRecord
	for rows.Next() {
		var (
			rec       models.ConsentRecord
			accountID sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.FlowID, &rec.Email, &accountID, &rec.AgreedToTerms,
			&rec.MarketingOptIn, &rec.PolicyVersion, &rec.Timestamp); err != nil {
			return nil, errors.NewExternalServiceError("postgres", fmt.Errorf("scan consent record: %w", err))
		}
		rec.AccountID = accountID.String
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewExternalServiceError("postgres", fmt.Errorf("consent history: %w", err))
	}
	return out, nil
}
