package auth

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mealtime/server/internal/logging"
	"github.com/mealtime/server/internal/model"
	"github.com/mealtime/server/internal/provision"
)

// Session is a freshly minted token together with the user it belongs to
type Session struct {
	Token string
	User  model.User
}

// SignUpInput holds the fields of a registration request
type SignUpInput struct {
	Identity model.Identity
	Password string
	Code     string
	Detail   model.UserDetail
}

// Deps are the collaborators of AuthService
type Deps struct {
	Credentials *CredentialStore
	Ledger      *OtpLedger
	Sessions    *JWTService
	Provisioner provision.Provisioner
	Logger      *zap.Logger
}

// AuthService orchestrates registration and authentication
type AuthService struct {
	credentials *CredentialStore
	ledger      *OtpLedger
	sessions    *JWTService
	provisioner provision.Provisioner
	logger      *zap.Logger
}

// NewAuthService creates a new auth service
func NewAuthService(deps Deps) *AuthService {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	return &AuthService{
		credentials: deps.Credentials,
		ledger:      deps.Ledger,
		sessions:    deps.Sessions,
		provisioner: deps.Provisioner,
		logger:      logger,
	}
}

// Exist reports whether the identity is registered
func (s *AuthService) Exist(ctx context.Context, identity model.Identity) (bool, error) {
	return s.credentials.Exists(ctx, identity)
}

// Verify sends a sign-up code to an unregistered identity. The password is accepted
// so the request mirrors sign-up, but it is not used until then.
func (s *AuthService) Verify(ctx context.Context, identity model.Identity, _ string) error {
	exists, err := s.credentials.Exists(ctx, identity)
	if err != nil {
		return err
	}
	if exists {
		return ErrMobileAlreadyRegistered
	}

	if _, err := s.ledger.Issue(ctx, identity, model.OtpChannelMobile, model.UserDetail{}.DisplayName()); err != nil {
		return err
	}
	return nil
}

// SignUp registers the identity once the code issued by Verify is presented.
// The code is checked first, so a replayed code always fails with ErrInvalidOTP,
// and it stays consumed even if registration fails afterwards. A password that
// cannot be hashed is rejected before the code is touched.
func (s *AuthService) SignUp(ctx context.Context, in SignUpInput) (Session, error) {
	if err := checkPasswordLength(in.Password); err != nil {
		return Session{}, err
	}
	if err := s.ledger.Verify(ctx, in.Identity, model.OtpChannelMobile, in.Code); err != nil {
		return Session{}, err
	}

	exists, err := s.credentials.Exists(ctx, in.Identity)
	if err != nil {
		return Session{}, err
	}
	if exists {
		return Session{}, ErrMobileAlreadyRegistered
	}

	user, err := s.credentials.Create(ctx, in.Identity, in.Password, in.Detail)
	if err != nil {
		return Session{}, err
	}
	s.logger.Info("user registered", zap.String("user_id", user.ID.String()), logging.Phone(in.Identity.String()))

	if s.provisioner != nil {
		if err := s.provisioner.Provision(ctx, user.ID); err != nil {
			s.logger.Error("provision defaults failed", zap.String("user_id", user.ID.String()), zap.Error(err))
		}
	}

	return s.issue(user)
}

// SignIn checks the password and issues a session
func (s *AuthService) SignIn(ctx context.Context, identity model.Identity, password string) (Session, error) {
	user, err := s.credentials.VerifyPassword(ctx, identity, password)
	if err != nil {
		return Session{}, err
	}
	return s.issue(user)
}

// SendResetCode sends a password reset code to a registered identity
func (s *AuthService) SendResetCode(ctx context.Context, identity model.Identity) error {
	user, err := s.credentials.Get(ctx, identity)
	if err != nil {
		return err
	}
	if _, err := s.ledger.Issue(ctx, user.Identity(), model.OtpChannelMobile, user.Detail.DisplayName()); err != nil {
		return err
	}
	return nil
}

// Forgot replaces the password of a registered identity after the code checks out.
// No session is issued; the caller signs in with the new password.
func (s *AuthService) Forgot(ctx context.Context, identity model.Identity, code, password string) error {
	if err := checkPasswordLength(password); err != nil {
		return err
	}

	user, err := s.credentials.Get(ctx, identity)
	if err != nil {
		return err
	}

	if err := s.ledger.Verify(ctx, user.Identity(), model.OtpChannelMobile, code); err != nil {
		return err
	}

	if err := s.credentials.UpdatePassword(ctx, user.ID, password); err != nil {
		return err
	}
	s.logger.Info("password reset", zap.String("user_id", user.ID.String()))
	return nil
}

// Me returns the user with a freshly minted token
func (s *AuthService) Me(_ context.Context, user model.User) (Session, error) {
	return s.issue(user)
}

// Authenticate resolves a session token into its user. An unknown user is ErrUnauthorized.
func (s *AuthService) Authenticate(ctx context.Context, token string) (model.User, error) {
	claims, err := s.sessions.Verify(token)
	if err != nil {
		return model.User{}, err
	}

	user, err := s.credentials.GetByID(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, ErrMobileNotRegistered) {
			return model.User{}, ErrUnauthorized
		}
		return model.User{}, err
	}
	if !user.Active {
		return model.User{}, ErrUnauthorized
	}
	return user, nil
}

func (s *AuthService) issue(user model.User) (Session, error) {
	token, err := s.sessions.Issue(user.ID)
	if err != nil {
		return Session{}, fmt.Errorf("issue session: %w", err)
	}
	return Session{Token: token, User: user}, nil
}
