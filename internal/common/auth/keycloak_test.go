package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"advertiser-onboarding/internal/common/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeKeycloak keeps users in memory and speaks the subset of the REST API the client uses.
type fakeKeycloak struct {
	mu       sync.Mutex
	users    map[string]string // email -> password
	ids      map[string]string // email -> id
	creates  int
	delay    time.Duration
	tokenFor map[string]string // access token -> email
}

func newFakeKeycloak() *fakeKeycloak {
	return &fakeKeycloak{
		users:    map[string]string{},
		ids:      map[string]string{},
		tokenFor: map[string]string{},
	}
}

func (f *fakeKeycloak) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /realms/test/protocol/openid-connect/token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		f.mu.Lock()
		defer f.mu.Unlock()
		switch r.PostForm.Get("grant_type") {
		case "client_credentials":
			writeJSON(w, http.StatusOK, TokenResponse{AccessToken: "svc", ExpiresIn: 300})
		case "password":
			email := r.PostForm.Get("username")
			if pw, ok := f.users[email]; !ok || pw != r.PostForm.Get("password") {
				writeJSON(w, http.StatusUnauthorized, apiError{Error: "invalid_grant"})
				return
			}
			token := "user-" + f.ids[email]
			f.tokenFor[token] = email
			writeJSON(w, http.StatusOK, TokenResponse{AccessToken: token, ExpiresIn: 300})
		}
	})
	mux.HandleFunc("POST /admin/realms/test/users", func(w http.ResponseWriter, r *http.Request) {
		if f.delay > 0 {
			time.Sleep(f.delay)
		}
		var u User
		_ = json.NewDecoder(r.Body).Decode(&u)
		f.mu.Lock()
		defer f.mu.Unlock()
		f.creates++
		if _, exists := f.users[u.Email]; exists {
			writeJSON(w, http.StatusConflict, apiError{ErrorMessage: "User exists with same email"})
			return
		}
		id := "kc-" + u.Email
		f.users[u.Email] = u.Credentials[0].Value
		f.ids[u.Email] = id
		w.Header().Set("Location", "http://kc/admin/realms/test/users/"+id)
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("GET /realms/test/protocol/openid-connect/userinfo", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		email, ok := f.tokenFor[r.Header.Get("Authorization")[len("Bearer "):]]
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, http.StatusOK, userInfo{Sub: f.ids[email], Email: email})
	})
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, fake *fakeKeycloak, timeout time.Duration) *KeycloakClient {
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)
	return NewKeycloakClient(srv.URL, "test", "onboarding", "secret", "", timeout)
}

func TestSignUp_CreatesUser(t *testing.T) {
	fake := newFakeKeycloak()
	client := newTestClient(t, fake, time.Second)

	acc, err := client.SignUp(t.Context(), " Alex@Example.com ", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "kc-alex@example.com", acc.AccountID)
	assert.Equal(t, "alex@example.com", acc.Email)
}

func TestSignUp_ExistingEmail(t *testing.T) {
	fake := newFakeKeycloak()
	client := newTestClient(t, fake, time.Second)

	_, err := client.SignUp(t.Context(), "a@x.com", "secret1")
	require.NoError(t, err)

	_, err = client.SignUp(t.Context(), "a@x.com", "secret1")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeAlreadyRegistered))
}

func TestSignIn(t *testing.T) {
	fake := newFakeKeycloak()
	client := newTestClient(t, fake, time.Second)

	created, err := client.SignUp(t.Context(), "a@x.com", "correct-pw")
	require.NoError(t, err)

	acc, err := client.SignIn(t.Context(), "a@x.com", "correct-pw")
	require.NoError(t, err)
	assert.Equal(t, created.AccountID, acc.AccountID)

	_, err = client.SignIn(t.Context(), "a@x.com", "wrong-pw")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidCredentials))
}

func TestSignUp_Timeout(t *testing.T) {
	fake := newFakeKeycloak()
	fake.delay = 200 * time.Millisecond
	client := newTestClient(t, fake, 50*time.Millisecond)

	_, err := client.SignUp(t.Context(), "slow@x.com", "secret1")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeTimeout))
}

func TestSignUp_Unreachable(t *testing.T) {
	client := NewKeycloakClient("http://127.0.0.1:1", "test", "onboarding", "secret", "", time.Second)

	_, err := client.SignUp(t.Context(), "a@x.com", "secret1")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeNetwork))
}

func TestMentionsExistingUser(t *testing.T) {
	assert.True(t, mentionsExistingUser([]byte(`{"errorMessage":"User already registered"}`)))
	assert.True(t, mentionsExistingUser([]byte(`{"error":"user already exists"}`)))
	assert.False(t, mentionsExistingUser([]byte(`{"error":"invalid_request"}`)))
	assert.False(t, mentionsExistingUser([]byte(`not json`)))
}
