// internal/common/auth/keycloak.go
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"advertiser-onboarding/internal/common/errors"
	httpclient "advertiser-onboarding/internal/common/http"
	"advertiser-onboarding/internal/models"
)

const serviceName = "keycloak"

// KeycloakClient is the identity provider of the pipeline. Sign-up goes through the
// admin API with a service account, sign-in through the password grant.
type KeycloakClient struct {
	baseURL        string
	realm          string
	clientID       string
	clientSecret   string
	publicClientID string
	http           *httpclient.Client

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// User represents a user in Keycloak.
type User struct {
	ID            string       `json:"id,omitempty"`
	Email         string       `json:"email"`
	Username      string       `json:"username"`
	Enabled       bool         `json:"enabled"`
	EmailVerified bool         `json:"emailVerified"`
	Credentials   []Credential `json:"credentials,omitempty"`
}

type Credential struct {
	Type      string `json:"type"`
	Value     string `json:"value"`
	Temporary bool   `json:"temporary"`
}

// TokenResponse holds the response from Keycloak's token endpoint.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
}

type userInfo struct {
	Sub   string `json:"sub"`
	Email string `json:"email"`
}

type apiError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	ErrorMessage     string `json:"errorMessage"`
}

// NewKeycloakClient creates a client. publicClientID may be empty, in which case the
// confidential client is used for the password grant as well.
func NewKeycloakClient(baseURL, realm, clientID, clientSecret, publicClientID string, timeout time.Duration) *KeycloakClient {
	if publicClientID == "" {
		publicClientID = clientID
	}
	return &KeycloakClient{
		baseURL:        strings.TrimSuffix(baseURL, "/"),
		realm:          realm,
		clientID:       clientID,
		clientSecret:   clientSecret,
		publicClientID: publicClientID,
		http:           httpclient.NewClient(timeout),
	}
}

func (k *KeycloakClient) tokenURL() string {
	return fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token", k.baseURL, k.realm)
}

// getAccessToken returns a service-account token, cached until expiry.
func (k *KeycloakClient) getAccessToken(ctx context.Context) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.accessToken != "" && k.tokenExpiry.After(time.Now()) {
		return k.accessToken, nil
	}

	data := url.Values{}
	data.Set("grant_type", "client_credentials")
	data.Set("client_id", k.clientID)
	data.Set("client_secret", k.clientSecret)

	resp, err := k.postForm(ctx, k.tokenURL(), data)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", errors.NewAuthenticationError(fmt.Sprintf("service account token request failed with status %d: %s", resp.StatusCode, string(resp.Body)))
	}

	var tokenResp TokenResponse
	if err := json.Unmarshal(resp.Body, &tokenResp); err != nil {
		return "", errors.NewExternalServiceError(serviceName, fmt.Errorf("failed to decode token response: %w", err))
	}

	k.accessToken = tokenResp.AccessToken
	// refresh a little early so an in-flight request never carries an expired token
	k.tokenExpiry = time.Now().Add(time.Duration(tokenResp.ExpiresIn)*time.Second - 10*time.Second)
	return k.accessToken, nil
}

// SignUp creates an enabled user with a password credential. An existing e-mail is
// reported as ALREADY_REGISTERED.
func (k *KeycloakClient) SignUp(ctx context.Context, email, password string) (*models.Account, error) {
	token, err := k.getAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	email = models.NormalizeEmail(email)
	user := User{
		Email:    email,
		Username: email,
		Enabled:  true,
		Credentials: []Credential{
			{Type: "password", Value: password, Temporary: false},
		},
	}

	resp, err := k.http.PostJSON(ctx, serviceName, fmt.Sprintf("%s/admin/realms/%s/users", k.baseURL, k.realm), user, map[string]string{
		"Authorization": "Bearer " + token,
	})
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusCreated:
	case resp.StatusCode == http.StatusConflict || mentionsExistingUser(resp.Body):
		return nil, errors.NewAlreadyRegisteredError(fmt.Sprintf("email: %s", email))
	default:
		return nil, unexpectedStatus("user creation", resp)
	}

	// Keycloak answers 201 with an empty body; the id is the last segment of Location.
	location := resp.Header.Get("Location")
	if location == "" {
		return nil, errors.NewExternalServiceError(serviceName, fmt.Errorf("user created without Location header"))
	}
	parts := strings.Split(strings.TrimSuffix(location, "/"), "/")
	return &models.Account{AccountID: parts[len(parts)-1], Email: email}, nil
}

// SignIn authenticates with the password grant and resolves the subject through
// the userinfo endpoint. Wrong credentials are reported as INVALID_CREDENTIALS.
func (k *KeycloakClient) SignIn(ctx context.Context, email, password string) (*models.Account, error) {
	email = models.NormalizeEmail(email)

	data := url.Values{}
	data.Set("grant_type", "password")
	data.Set("client_id", k.publicClientID)
	if k.publicClientID == k.clientID {
		data.Set("client_secret", k.clientSecret)
	}
	data.Set("username", email)
	data.Set("password", password)
	data.Set("scope", "openid email")

	resp, err := k.postForm(ctx, k.tokenURL(), data)
	if err != nil {
		return nil, err
	}
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusBadRequest, http.StatusUnauthorized:
		return nil, errors.NewInvalidCredentialsError(fmt.Sprintf("email: %s", email))
	default:
		return nil, unexpectedStatus("sign-in", resp)
	}

	var tokenResp TokenResponse
	if err := json.Unmarshal(resp.Body, &tokenResp); err != nil {
		return nil, errors.NewExternalServiceError(serviceName, fmt.Errorf("failed to decode token response: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/realms/%s/protocol/openid-connect/userinfo", k.baseURL, k.realm), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tokenResp.AccessToken)

	infoResp, err := k.http.Send(ctx, serviceName, req)
	if err != nil {
		return nil, err
	}
	if !infoResp.OK() {
		return nil, unexpectedStatus("userinfo", infoResp)
	}

	var info userInfo
	if err := json.Unmarshal(infoResp.Body, &info); err != nil || info.Sub == "" {
		return nil, errors.NewExternalServiceError(serviceName, fmt.Errorf("userinfo without subject"))
	}
	return &models.Account{AccountID: info.Sub, Email: email}, nil
}

func (k *KeycloakClient) postForm(ctx context.Context, endpoint string, data url.Values) (*httpclient.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return k.http.Send(ctx, serviceName, req)
}

func mentionsExistingUser(body []byte) bool {
	var e apiError
	if json.Unmarshal(body, &e) != nil {
		return false
	}
	msg := strings.ToLower(e.ErrorMessage + " " + e.Error + " " + e.ErrorDescription)
	return strings.Contains(msg, "already registered") || strings.Contains(msg, "already exists")
}

// unexpectedStatus is retryable for 5xx answers only.
func unexpectedStatus(operation string, resp *httpclient.Response) error {
	stdErr := errors.NewExternalServiceError(serviceName,
		fmt.Errorf("%s failed with status %d: %s", operation, resp.StatusCode, string(resp.Body)))
	stdErr.Retryable = isTransientHTTPError(resp.StatusCode)
	return stdErr
}

// isTransientHTTPError returns true if the HTTP status code indicates a potentially transient error.
func isTransientHTTPError(statusCode int) bool {
	switch statusCode {
	case http.StatusInternalServerError, // 500
		http.StatusBadGateway,         // 502
		http.StatusServiceUnavailable, // 503
		http.StatusGatewayTimeout:     // 504
		return true
	default:
		return false
	}
}
