package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/crypto/bcrypt"

	"github.com/mealtime/server/internal/model"
	"github.com/mealtime/server/internal/provision"
	"github.com/mealtime/server/internal/repo"
	"github.com/mealtime/server/internal/sms"
)

type testEnv struct {
	svc       *AuthService
	users     *repo.MemoryUserRepo
	otps      *repo.MemoryOtpRepo
	mealTypes *repo.MemoryMealTypeRepo
	ledger    *OtpLedger
	logs      *observer.ObservedLogs
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)

	env := &testEnv{
		users:     repo.NewMemoryUserRepo(),
		otps:      repo.NewMemoryOtpRepo(),
		mealTypes: repo.NewMemoryMealTypeRepo(),
		logs:      logs,
	}
	env.ledger = NewOtpLedger(env.otps, sms.NewLogSender(logger), 10*time.Minute, logger)
	env.svc = NewAuthService(Deps{
		Credentials: NewCredentialStore(env.users, NewBcryptHasher(bcrypt.MinCost, 4)),
		Ledger:      env.ledger,
		Sessions:    NewJWTService("test-jwt-secret", time.Hour),
		Provisioner: provision.NewMealTypes(env.mealTypes),
		Logger:      logger,
	})
	return env
}

// lastCode returns the code most recently written by the development sender
func (e *testEnv) lastCode(t *testing.T) string {
	t.Helper()
	entries := e.logs.FilterMessage("otp issued").All()
	require.NotEmpty(t, entries, "no code was logged")
	code, ok := entries[len(entries)-1].ContextMap()["code"].(string)
	require.True(t, ok)
	return code
}

func (e *testEnv) register(t *testing.T, identity model.Identity, password string) Session {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.svc.Verify(ctx, identity, password))
	session, err := e.svc.SignUp(ctx, SignUpInput{Identity: identity, Password: password, Code: e.lastCode(t)})
	require.NoError(t, err)
	return session
}

func TestAuthService_SignUpScenario(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	identity := model.Identity{CountryCode: "91", Mobile: "9876543210"}

	exists, err := env.svc.Exist(ctx, identity)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, env.svc.Verify(ctx, identity, "secret1"))
	code := env.lastCode(t)

	session, err := env.svc.SignUp(ctx, SignUpInput{
		Identity: identity,
		Password: "secret1",
		Code:     code,
		Detail:   model.UserDetail{First: "Asha"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, session.Token)
	assert.Equal(t, "9876543210", session.User.Mobile)

	user, err := env.svc.Authenticate(ctx, session.Token)
	require.NoError(t, err)
	assert.Equal(t, session.User.ID, user.ID)

	me, err := env.svc.Me(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, user.ID, me.User.ID)
	assert.NotEmpty(t, me.Token)

	exists, err = env.svc.Exist(ctx, identity)
	require.NoError(t, err)
	assert.True(t, exists)

	mealTypes, err := env.mealTypes.ListByUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, mealTypes, 4)

	_, err = env.svc.SignUp(ctx, SignUpInput{Identity: identity, Password: "secret1", Code: code})
	assert.ErrorIs(t, err, ErrInvalidOTP)
	assert.Equal(t, CodeInvalidOTP, Code(err))
}

func TestAuthService_SignUpReplayedCode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	identity := model.Identity{CountryCode: "91", Mobile: "9876543210"}

	require.NoError(t, env.svc.Verify(ctx, identity, "secret1"))
	code := env.lastCode(t)

	in := SignUpInput{Identity: identity, Password: "secret1", Code: code}
	_, err := env.svc.SignUp(ctx, in)
	require.NoError(t, err)

	_, err = env.svc.SignUp(ctx, in)
	assert.ErrorIs(t, err, ErrInvalidOTP)
	assert.Equal(t, 1, env.users.Count())
}

func TestAuthService_SignUpWrongCode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	identity := model.Identity{CountryCode: "91", Mobile: "9876543210"}

	require.NoError(t, env.svc.Verify(ctx, identity, "secret1"))
	code := env.lastCode(t)
	wrong := "1000"
	if code == wrong {
		wrong = "1001"
	}

	_, err := env.svc.SignUp(ctx, SignUpInput{Identity: identity, Password: "secret1", Code: wrong})
	assert.ErrorIs(t, err, ErrInvalidOTP)
	assert.Equal(t, 0, env.users.Count())
}

func TestAuthService_VerifyRegistered(t *testing.T) {
	env := newTestEnv(t)
	identity := model.Identity{CountryCode: "91", Mobile: "9876543210"}
	env.register(t, identity, "secret1")

	err := env.svc.Verify(context.Background(), identity, "secret1")
	assert.ErrorIs(t, err, ErrMobileAlreadyRegistered)
	assert.Equal(t, CodeMobileAlreadyRegistered, Code(err))
}

func TestAuthService_ConcurrentSignUpSameIdentity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	identity := model.Identity{CountryCode: "91", Mobile: "9876543210"}

	const n = 8
	codes := make([]string, n)
	for i := range codes {
		require.NoError(t, env.svc.Verify(ctx, identity, "secret1"))
		codes[i] = env.lastCode(t)
	}

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(code string) {
			defer wg.Done()
			_, err := env.svc.SignUp(ctx, SignUpInput{Identity: identity, Password: "secret1", Code: code})
			if err == nil {
				atomic.AddInt32(&wins, 1)
				return
			}
			assert.True(t, errors.Is(err, ErrMobileAlreadyRegistered) || errors.Is(err, ErrInvalidOTP), "unexpected error: %v", err)
		}(codes[i])
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
	assert.Equal(t, 1, env.users.Count())
}

func TestAuthService_ConcurrentSignUpSameCode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	identity := model.Identity{CountryCode: "91", Mobile: "9876543210"}

	require.NoError(t, env.svc.Verify(ctx, identity, "secret1"))
	code := env.lastCode(t)

	var wins, invalid int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.SignUp(ctx, SignUpInput{Identity: identity, Password: "secret1", Code: code})
			switch {
			case err == nil:
				atomic.AddInt32(&wins, 1)
			case errors.Is(err, ErrInvalidOTP), errors.Is(err, ErrMobileAlreadyRegistered):
				atomic.AddInt32(&invalid, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
	assert.Equal(t, int32(7), invalid)
}

func TestAuthService_SignIn(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	identity := model.Identity{CountryCode: "91", Mobile: "9876543210"}
	registered := env.register(t, identity, "secret1")

	session, err := env.svc.SignIn(ctx, identity, "secret1")
	require.NoError(t, err)
	assert.Equal(t, registered.User.ID, session.User.ID)

	user, err := env.svc.Authenticate(ctx, session.Token)
	require.NoError(t, err)
	assert.Equal(t, registered.User.ID, user.ID)

	_, err = env.svc.SignIn(ctx, identity, "wrong-password")
	assert.ErrorIs(t, err, ErrPasswordIncorrect)
	assert.Equal(t, CodePasswordIncorrect, Code(err))

	_, err = env.svc.SignIn(ctx, model.Identity{CountryCode: "91", Mobile: "9000000000"}, "secret1")
	assert.ErrorIs(t, err, ErrMobileNotRegistered)
	assert.Equal(t, CodeMobileNotRegistered, Code(err))
}

func TestAuthService_Forgot(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	identity := model.Identity{CountryCode: "91", Mobile: "9876543210"}
	env.register(t, identity, "secret1")

	require.NoError(t, env.svc.SendResetCode(ctx, identity))
	code := env.lastCode(t)

	require.NoError(t, env.svc.Forgot(ctx, identity, code, "secret2"))
	assert.ErrorIs(t, env.svc.Forgot(ctx, identity, code, "secret3"), ErrInvalidOTP)

	_, err := env.svc.SignIn(ctx, identity, "secret1")
	assert.ErrorIs(t, err, ErrPasswordIncorrect)
	_, err = env.svc.SignIn(ctx, identity, "secret2")
	assert.NoError(t, err)
}

func TestAuthService_ForgotUnregistered(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	identity := model.Identity{CountryCode: "91", Mobile: "9876543210"}

	assert.ErrorIs(t, env.svc.SendResetCode(ctx, identity), ErrMobileNotRegistered)

	// a code issued for sign-up does not let an unregistered identity reset anything
	require.NoError(t, env.svc.Verify(ctx, identity, "secret1"))
	err := env.svc.Forgot(ctx, identity, env.lastCode(t), "secret2")
	assert.ErrorIs(t, err, ErrMobileNotRegistered)
	assert.Equal(t, 1, env.otps.Len(), "the code must not be consumed")
}

func TestAuthService_PasswordTooLongKeepsCode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	identity := model.Identity{CountryCode: "91", Mobile: "9876543210"}
	long := strings.Repeat("😀", 20)

	require.NoError(t, env.svc.Verify(ctx, identity, "secret1"))
	code := env.lastCode(t)

	_, err := env.svc.SignUp(ctx, SignUpInput{Identity: identity, Password: long, Code: code})
	assert.ErrorIs(t, err, ErrPasswordTooLong)
	assert.False(t, IsPrecondition(err))
	assert.Equal(t, 1, env.otps.Len(), "the code must not be consumed")

	_, err = env.svc.SignUp(ctx, SignUpInput{Identity: identity, Password: "secret1", Code: code})
	require.NoError(t, err)

	require.NoError(t, env.svc.SendResetCode(ctx, identity))
	code = env.lastCode(t)
	assert.ErrorIs(t, env.svc.Forgot(ctx, identity, code, long), ErrPasswordTooLong)
	require.NoError(t, env.svc.Forgot(ctx, identity, code, "secret2"))

	_, err = env.svc.SignIn(ctx, identity, "secret2")
	assert.NoError(t, err)
}

func TestAuthService_AuthenticateUnknownUser(t *testing.T) {
	env := newTestEnv(t)
	token, err := NewJWTService("test-jwt-secret", time.Hour).Issue(uuid.New())
	require.NoError(t, err)

	_, err = env.svc.Authenticate(context.Background(), token)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = env.svc.Authenticate(context.Background(), "garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

type failingProvisioner struct{ calls int32 }

func (f *failingProvisioner) Provision(context.Context, uuid.UUID) error {
	atomic.AddInt32(&f.calls, 1)
	return errors.New("meal types unavailable")
}

func TestAuthService_ProvisionFailureKeepsRegistration(t *testing.T) {
	env := newTestEnv(t)
	prov := &failingProvisioner{}
	env.svc.provisioner = prov
	ctx := context.Background()
	identity := model.Identity{CountryCode: "91", Mobile: "9876543210"}

	session := env.register(t, identity, "secret1")
	assert.NotEmpty(t, session.Token)
	assert.Equal(t, int32(1), prov.calls)
	assert.Equal(t, 1, env.logs.FilterMessage("provision defaults failed").Len())

	exists, err := env.svc.Exist(ctx, identity)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestCode(t *testing.T) {
	assert.Equal(t, CodeInvalidOTP, Code(ErrInvalidOTP))
	assert.Equal(t, CodeMobileAlreadyRegistered, Code(errors.Join(errors.New("ctx"), ErrMobileAlreadyRegistered)))
	assert.Equal(t, "", Code(errors.New("boom")))
	assert.False(t, IsPrecondition(ErrInvalidToken))
}
