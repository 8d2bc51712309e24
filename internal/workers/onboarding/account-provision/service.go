// Package accountprovision creates the advertiser's identity or recovers it when the
// e-mail is already registered with the same credentials.
package accountprovision

import (
	"context"
	"fmt"

	"advertiser-onboarding/internal/common/errors"
	"advertiser-onboarding/internal/common/logger"
	"advertiser-onboarding/internal/common/metrics"
	"advertiser-onboarding/internal/models"
)

type Service struct {
	config   *Config
	provider IdentityProvider
	logger   logger.Logger
}

func NewService(deps ServiceDependencies, config *Config) *Service {
	if config == nil {
		config = DefaultConfig()
	}
	return &Service{
		config:   config,
		provider: deps.Provider,
		logger:   deps.Logger,
	}
}

// Provision returns the account id for email, creating the account if needed.
// Calling it again with the same credentials yields the same id.
func (s *Service) Provision(ctx context.Context, email, password string) (string, error) {
	out, err := s.Execute(ctx, email, password)
	if err != nil {
		return "", err
	}
	return out.AccountID, nil
}

func (s *Service) Execute(ctx context.Context, email, password string) (*Output, error) {
	email = models.NormalizeEmail(email)

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	account, err := s.provider.SignUp(ctx, email, password)
	if err == nil {
		return s.done(account, PathCreated), nil
	}
	if !errors.HasCode(err, errors.ErrCodeAlreadyRegistered) {
		return nil, s.failed(email, "sign-up", err)
	}

	s.logger.Info("Email already registered, signing in", map[string]interface{}{
		"email": email,
	})

	account, err = s.provider.SignIn(ctx, email, password)
	if err == nil {
		return s.done(account, PathRecovered), nil
	}
	if errors.HasCode(err, errors.ErrCodeInvalidCredentials) {
		metrics.ProvisionOutcomes.WithLabelValues(string(PathConflict)).Inc()
		s.logger.Warn("Existing account with different credentials", map[string]interface{}{
			"email": email,
		})
		return nil, errors.NewAccountConflictError(email)
	}
	return nil, s.failed(email, "sign-in", err)
}

func (s *Service) done(account *models.Account, path Path) *Output {
	metrics.ProvisionOutcomes.WithLabelValues(string(path)).Inc()
	s.logger.Info("Account provisioned", map[string]interface{}{
		"accountId": account.AccountID,
		"path":      path,
	})
	return &Output{AccountID: account.AccountID, Email: account.Email, Path: path}
}

// failed keeps timeout and network classification and wraps anything else.
func (s *Service) failed(email, operation string, err error) error {
	metrics.ProvisionOutcomes.WithLabelValues(string(PathError)).Inc()
	s.logger.Error("Account provisioning failed", map[string]interface{}{
		"email":     email,
		"operation": operation,
		"error":     err.Error(),
	})
	if _, ok := errors.AsStandardError(err); ok {
		return err
	}
	return errors.NewExternalServiceError("identity", fmt.Errorf("%s: %w", operation, err))
}
