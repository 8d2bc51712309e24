package accountprovision

import (
	"context"

	"advertiser-onboarding/internal/common/logger"
	"advertiser-onboarding/internal/models"
)

// IdentityProvider is the account authority. The Keycloak client implements it.
type IdentityProvider interface {
	SignUp(ctx context.Context, email, password string) (*models.Account, error)
	SignIn(ctx context.Context, email, password string) (*models.Account, error)
}

// Path names how an account was obtained.
type Path string

const (
	PathCreated   Path = "created"
	PathRecovered Path = "recovered"
	PathConflict  Path = "conflict"
	PathError     Path = "error"
)

type Output struct {
	AccountID string `json:"accountId"`
	Email     string `json:"email"`
	Path      Path   `json:"path"`
}

type ServiceDependencies struct {
	Provider IdentityProvider
	Logger   logger.Logger
}
