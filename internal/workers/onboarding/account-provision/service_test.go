package accountprovision

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"advertiser-onboarding/internal/common/errors"
	"advertiser-onboarding/internal/common/logger"
	"advertiser-onboarding/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// ==========================
// Mock Identity Provider
// ==========================

type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) SignUp(ctx context.Context, email, password string) (*models.Account, error) {
	args := m.Called(ctx, email, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Account), args.Error(1)
}

func (m *MockProvider) SignIn(ctx context.Context, email, password string) (*models.Account, error) {
	args := m.Called(ctx, email, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Account), args.Error(1)
}

// memoryProvider behaves like the identity provider for repeated calls.
type memoryProvider struct {
	mu       sync.Mutex
	accounts map[string]string
	ids      map[string]string
	next     int
}

func newMemoryProvider() *memoryProvider {
	return &memoryProvider{accounts: map[string]string{}, ids: map[string]string{}}
}

func (p *memoryProvider) SignUp(_ context.Context, email, password string) (*models.Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.accounts[email]; ok {
		return nil, errors.NewAlreadyRegisteredError(email)
	}
	p.next++
	p.accounts[email] = password
	p.ids[email] = fmt.Sprintf("acc-%d", p.next)
	return &models.Account{AccountID: p.ids[email], Email: email}, nil
}

func (p *memoryProvider) SignIn(_ context.Context, email, password string) (*models.Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if stored, ok := p.accounts[email]; !ok || stored != password {
		return nil, errors.NewInvalidCredentialsError(email)
	}
	return &models.Account{AccountID: p.ids[email], Email: email}, nil
}

func newTestService(t *testing.T, provider IdentityProvider) *Service {
	return NewService(ServiceDependencies{
		Provider: provider,
		Logger:   logger.NewTestLogger(t),
	}, &Config{Timeout: time.Second})
}

// ==========================
// Config Tests
// ==========================

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.EqualError(t, (&Config{}).Validate(), "timeout must be positive")
}

// ==========================
// Provision Tests
// ==========================

func TestService_Provision_CreatesAccount(t *testing.T) {
	provider := new(MockProvider)
	provider.On("SignUp", mock.Anything, "alex@example.com", "secret1").
		Return(&models.Account{AccountID: "acc-1", Email: "alex@example.com"}, nil).Once()

	out, err := newTestService(t, provider).Execute(context.Background(), "  Alex@Example.COM ", "secret1")

	require.NoError(t, err)
	assert.Equal(t, "acc-1", out.AccountID)
	assert.Equal(t, PathCreated, out.Path)
	provider.AssertExpectations(t)
	provider.AssertNotCalled(t, "SignIn", mock.Anything, mock.Anything, mock.Anything)
}

func TestService_Provision_RecoversExistingAccount(t *testing.T) {
	provider := new(MockProvider)
	provider.On("SignUp", mock.Anything, "alex@example.com", "secret1").
		Return(nil, errors.NewAlreadyRegisteredError("email: alex@example.com")).Once()
	provider.On("SignIn", mock.Anything, "alex@example.com", "secret1").
		Return(&models.Account{AccountID: "acc-1", Email: "alex@example.com"}, nil).Once()

	out, err := newTestService(t, provider).Execute(context.Background(), "alex@example.com", "secret1")

	require.NoError(t, err)
	assert.Equal(t, "acc-1", out.AccountID)
	assert.Equal(t, PathRecovered, out.Path)
	provider.AssertExpectations(t)
}

func TestService_Provision_WrongPasswordIsConflict(t *testing.T) {
	provider := new(MockProvider)
	provider.On("SignUp", mock.Anything, "alex@example.com", "other1").
		Return(nil, errors.NewAlreadyRegisteredError("email: alex@example.com")).Once()
	provider.On("SignIn", mock.Anything, "alex@example.com", "other1").
		Return(nil, errors.NewInvalidCredentialsError("email: alex@example.com")).Once()

	id, err := newTestService(t, provider).Provision(context.Background(), "alex@example.com", "other1")

	require.Error(t, err)
	assert.Empty(t, id)
	assert.True(t, errors.HasCode(err, errors.ErrCodeAccountConflict))
	assert.Equal(t, errors.MessageAccountConflict, errors.UserMessage(err))
}

func TestService_Provision_TransportErrorsKeepTheirCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code errors.ErrorCode
	}{
		{name: "timeout", err: errors.NewTimeoutError("keycloak", context.DeadlineExceeded), code: errors.ErrCodeTimeout},
		{name: "network", err: errors.NewNetworkError("keycloak", stderrors.New("connection refused")), code: errors.ErrCodeNetwork},
		{name: "plain error", err: stderrors.New("boom"), code: errors.ErrCodeExternalService},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := new(MockProvider)
			provider.On("SignUp", mock.Anything, mock.Anything, mock.Anything).Return(nil, tt.err).Once()

			_, err := newTestService(t, provider).Provision(context.Background(), "alex@example.com", "secret1")
			assert.True(t, errors.HasCode(err, tt.code))
		})
	}
}

func TestService_Provision_SignInFailureAfterConflict(t *testing.T) {
	provider := new(MockProvider)
	provider.On("SignUp", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.NewAlreadyRegisteredError("")).Once()
	provider.On("SignIn", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.NewTimeoutError("keycloak", context.DeadlineExceeded)).Once()

	_, err := newTestService(t, provider).Provision(context.Background(), "alex@example.com", "secret1")
	assert.True(t, errors.HasCode(err, errors.ErrCodeTimeout))
}

func TestService_Provision_IsIdempotent(t *testing.T) {
	svc := newTestService(t, newMemoryProvider())
	ctx := context.Background()

	first, err := svc.Provision(ctx, "alex@example.com", "secret1")
	require.NoError(t, err)
	second, err := svc.Provision(ctx, "ALEX@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	_, err = svc.Provision(ctx, "alex@example.com", "wrong-password")
	assert.True(t, errors.HasCode(err, errors.ErrCodeAccountConflict))
}
