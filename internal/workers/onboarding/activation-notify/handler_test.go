package activationnotify

import (
	"encoding/json"
	stderrors "errors"
	"testing"
	"time"

	"advertiser-onboarding/internal/common/config"
	"advertiser-onboarding/internal/common/errors"
	"advertiser-onboarding/internal/common/logger"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/pb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Mock Job Helper
// ==========================

func createMockJob(key int64, variables map[string]interface{}) entities.Job {
	variablesJSON, _ := json.Marshal(variables)

	activatedJob := &pb.ActivatedJob{
		Key:                      key,
		Type:                     TaskType,
		ProcessInstanceKey:       key * 10,
		BpmnProcessId:            "advertiser-review",
		ProcessDefinitionVersion: 1,
		ProcessDefinitionKey:     1,
		ElementId:                "Activity_NotifyActivation",
		ElementInstanceKey:       1,
		CustomHeaders:            "{}",
		Worker:                   "test-worker",
		Retries:                  3,
		Deadline:                 0,
		Variables:                string(variablesJSON),
	}

	return entities.Job{ActivatedJob: activatedJob}
}

func createValidConfig() *Config {
	return &Config{
		Enabled:           true,
		MaxJobsActive:     5,
		Timeout:           30 * time.Second,
		EmailEnabled:      true,
		AdminAlertEnabled: true,
		DashboardURL:      "https://app.example.com/profile",
		ApprovalSLA:       "24–48 hours",
	}
}

func validVariables() map[string]interface{} {
	return map[string]interface{}{
		"flowId":          "flow-1",
		"accountId":       "acc-1",
		"email":           "alex@example.com",
		"fullName":        "Alex Doe",
		"displayName":     "Alex",
		"plan":            "pro",
		"planName":        "Pro",
		"priceMonthly":    8900,
		"consentRecordId": "consent-1",
		"marketingOptIn":  true,
	}
}

// ==========================
// Handler Creation Tests
// ==========================

func TestHandler_NewHandler(t *testing.T) {
	tests := []struct {
		name    string
		opts    HandlerOptions
		wantErr bool
		errMsg  string
	}{
		{
			name: "valid configuration",
			opts: HandlerOptions{
				CustomConfig: createValidConfig(),
				Logger:       logger.NewNoOpLogger(),
			},
		},
		{
			name: "invalid timeout",
			opts: HandlerOptions{
				CustomConfig: &Config{Enabled: true, MaxJobsActive: 5, Timeout: -time.Second, ApprovalSLA: "24h"},
			},
			wantErr: true,
			errMsg:  "timeout must be positive",
		},
		{
			name: "invalid max jobs active",
			opts: HandlerOptions{
				CustomConfig: &Config{Enabled: true, Timeout: time.Second, ApprovalSLA: "24h"},
			},
			wantErr: true,
			errMsg:  "max_jobs_active must be positive",
		},
		{
			name: "missing approval window",
			opts: HandlerOptions{
				CustomConfig: &Config{Enabled: true, MaxJobsActive: 1, Timeout: time.Second},
			},
			wantErr: true,
			errMsg:  "approval_sla is required",
		},
		{
			name: "defaults when nothing configured",
			opts: HandlerOptions{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, err := NewHandler(tt.opts)

			if tt.wantErr {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				assert.Nil(t, handler)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, handler.config)
			assert.NotNil(t, handler.logger)
			assert.NotNil(t, handler.service)
			assert.Equal(t, TaskType, handler.GetTaskType())
		})
	}
}

func TestCreateConfigFromAppConfig(t *testing.T) {
	app := &config.Config{
		Workers: map[string]config.WorkerConfig{
			WorkerName: {Enabled: true, MaxJobsActive: 2, Timeout: 5000},
		},
		Onboarding: config.OnboardingConfig{
			ProfileURL:  "https://app.example.com/profile",
			ApprovalSLA: "48 hours",
		},
	}
	app.Notifications.Email.Enabled = true

	cfg := createConfigFromAppConfig(app, nil)

	assert.True(t, cfg.Enabled)
	assert.Equal(t, 2, cfg.MaxJobsActive)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.True(t, cfg.EmailEnabled)
	assert.False(t, cfg.AdminAlertEnabled)
	assert.Equal(t, "https://app.example.com/profile", cfg.DashboardURL)
	assert.Equal(t, "48 hours", cfg.ApprovalSLA)

	custom := createValidConfig()
	assert.Same(t, custom, createConfigFromAppConfig(app, custom))
}

// ==========================
// Input Parsing Tests
// ==========================

func TestHandler_ParseInput(t *testing.T) {
	handler := &Handler{
		config: createValidConfig(),
		logger: logger.NewNoOpLogger(),
	}

	tests := []struct {
		name      string
		variables map[string]interface{}
		wantErr   bool
		validate  func(*testing.T, *Input)
	}{
		{
			name:      "valid input with process extras",
			variables: validVariables(),
			validate: func(t *testing.T, input *Input) {
				assert.Equal(t, "flow-1", input.FlowID)
				assert.Equal(t, "acc-1", input.AccountID)
				assert.Equal(t, "Alex Doe", input.FullName)
				assert.Equal(t, "pro", input.Plan)
				assert.Equal(t, "consent-1", input.ConsentRecordID)
				assert.True(t, input.MarketingOptIn)
			},
		},
		{
			name: "minimal input",
			variables: map[string]interface{}{
				"flowId":      "flow-1",
				"accountId":   "acc-1",
				"email":       "alex@example.com",
				"displayName": "Alex",
				"plan":        "free",
			},
			validate: func(t *testing.T, input *Input) {
				assert.Empty(t, input.FullName)
				assert.False(t, input.MarketingOptIn)
			},
		},
		{
			name: "missing account",
			variables: map[string]interface{}{
				"flowId": "flow-1", "email": "alex@example.com", "displayName": "Alex", "plan": "free",
			},
			wantErr: true,
		},
		{
			name: "invalid email",
			variables: map[string]interface{}{
				"flowId": "flow-1", "accountId": "acc-1", "email": "not-an-email", "displayName": "Alex", "plan": "free",
			},
			wantErr: true,
		},
		{
			name: "unknown plan",
			variables: map[string]interface{}{
				"flowId": "flow-1", "accountId": "acc-1", "email": "alex@example.com", "displayName": "Alex", "plan": "platinum",
			},
			wantErr: true,
		},
		{
			name: "wrong type",
			variables: map[string]interface{}{
				"flowId": "flow-1", "accountId": 42, "email": "alex@example.com", "displayName": "Alex", "plan": "free",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input, err := handler.parseInput(createMockJob(12345, tt.variables))

			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, string(errors.ErrCodeValidationFailed), extractErrorCode(err))
				assert.Nil(t, input)
				return
			}
			require.NoError(t, err)
			tt.validate(t, input)
		})
	}
}

func TestHandler_ParseInput_BadJSON(t *testing.T) {
	handler := &Handler{config: createValidConfig(), logger: logger.NewNoOpLogger()}
	job := createMockJob(1, nil)
	job.Variables = "{not json"

	_, err := handler.parseInput(job)

	require.Error(t, err)
	assert.Equal(t, "INPUT_PARSING_FAILED", extractErrorCode(err))
}

// ==========================
// Error Helper Tests
// ==========================

func TestExtractErrorCode(t *testing.T) {
	assert.Equal(t, string(errors.ErrCodeNotificationSendFailed),
		extractErrorCode(errors.NewNotificationSendFailedError("email", stderrors.New("throttled"))))
	assert.Equal(t, "UNKNOWN_ERROR", extractErrorCode(stderrors.New("boom")))
}

func TestConvertToStandardError(t *testing.T) {
	stdErr := convertToStandardError(stderrors.New("boom"))
	assert.Equal(t, errors.ErrCodeNotificationSendFailed, stdErr.Code)
	assert.True(t, stdErr.Retryable)

	bpmn := errors.ConvertToBPMNError(stdErr)
	assert.Equal(t, 3, bpmn.Retries)
}
