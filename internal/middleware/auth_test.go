package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/mealtime/server/internal/auth"
	"github.com/mealtime/server/internal/model"
)

type fakeAuthenticator struct {
	users map[string]model.User
	err   error
}

func (f *fakeAuthenticator) Authenticate(_ context.Context, token string) (model.User, error) {
	if f.err != nil {
		return model.User{}, f.err
	}
	u, ok := f.users[token]
	if !ok {
		return model.User{}, auth.ErrInvalidToken
	}
	return u, nil
}

func TestBearerToken(t *testing.T) {
	for header, want := range map[string]string{
		"":              "",
		"Bearer abc":    "abc",
		"bearer abc":    "abc",
		"  Bearer  abc": "abc",
		"abc":           "abc",
	} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		assert.Equal(t, want, BearerToken(req), "header %q", header)
	}
}

func TestAuthenticate(t *testing.T) {
	user := model.User{ID: uuid.New(), Mobile: "9876543210"}
	authn := &fakeAuthenticator{users: map[string]model.User{"good": user}}

	type seen struct {
		user   *model.User
		called bool
	}
	var got seen
	handler := Authenticate(authn, zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.user, _ = GetUser(r.Context())
		got.called = true
	}))

	t.Run("anonymous", func(t *testing.T) {
		got = seen{}
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
		assert.True(t, got.called)
		assert.Nil(t, got.user)
	})

	t.Run("valid token", func(t *testing.T) {
		got = seen{}
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer good")
		handler.ServeHTTP(httptest.NewRecorder(), req)
		require.NotNil(t, got.user)
		assert.Equal(t, user.ID, got.user.ID)
	})

	t.Run("raw token", func(t *testing.T) {
		got = seen{}
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "good")
		handler.ServeHTTP(httptest.NewRecorder(), req)
		require.NotNil(t, got.user)
	})

	t.Run("invalid token", func(t *testing.T) {
		got = seen{}
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer bad")
		handler.ServeHTTP(httptest.NewRecorder(), req)
		assert.True(t, got.called)
		assert.Nil(t, got.user)
	})
}

func TestAuthenticate_StoreFailure(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	authn := &fakeAuthenticator{err: errors.New("connection refused")}
	called := false
	handler := Authenticate(authn, zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer any")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.False(t, called)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, 1, logs.Len())
}

func TestRequireUser(t *testing.T) {
	user := model.User{ID: uuid.New()}
	authn := &fakeAuthenticator{users: map[string]model.User{"good": user}}
	protected := Authenticate(authn, zap.NewNop())(RequireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))

	for name, tc := range map[string]struct {
		header string
		status int
	}{
		"missing": {"", http.StatusUnauthorized},
		"invalid": {"Bearer bad", http.StatusUnauthorized},
		"valid":   {"Bearer good", http.StatusNoContent},
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/user/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			protected.ServeHTTP(rec, req)
			assert.Equal(t, tc.status, rec.Code)

			if tc.status == http.StatusUnauthorized {
				var body map[string]string
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
				assert.Equal(t, auth.CodeUnauthorized, body["error"])
				assert.NotEmpty(t, body["message"])
			}
		})
	}
}

func TestTimeout(t *testing.T) {
	var deadline time.Time
	var ok bool
	h := Timeout(50 * time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deadline, ok = r.Context().Deadline()
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(50*time.Millisecond), deadline, 50*time.Millisecond)

	h = Timeout(0)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok = r.Context().Deadline()
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.False(t, ok)
}

func TestRequestLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	h := RequestLogger(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/user/exist", nil))

	entries := logs.FilterMessage("request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "/user/exist", fields["path"])
	assert.EqualValues(t, http.StatusTeapot, fields["status"])
}
