package handlers

import (
	"context"
	"net/http"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/mealtime/server/internal/auth"
	"github.com/mealtime/server/internal/middleware"
	"github.com/mealtime/server/internal/model"
)

// UserService is the part of auth.AuthService the user endpoints need
type UserService interface {
	Exist(ctx context.Context, identity model.Identity) (bool, error)
	Verify(ctx context.Context, identity model.Identity, password string) error
	SignUp(ctx context.Context, in auth.SignUpInput) (auth.Session, error)
	SignIn(ctx context.Context, identity model.Identity, password string) (auth.Session, error)
	SendResetCode(ctx context.Context, identity model.Identity) error
	Forgot(ctx context.Context, identity model.Identity, code, password string) error
	Me(ctx context.Context, user model.User) (auth.Session, error)
}

// UserHandler handles the /user endpoints
type UserHandler struct {
	users    UserService
	validate *validator.Validate
	logger   *zap.Logger
}

// NewUserHandler creates a new user handler
func NewUserHandler(users UserService, logger *zap.Logger) *UserHandler {
	return &UserHandler{
		users:    users,
		validate: newValidator(),
		logger:   logger,
	}
}

// identityRequest is embedded by every request addressing a phone identity
type identityRequest struct {
	CountryCode string `json:"countryCode" validate:"required,number,min=1,max=4"`
	Mobile      string `json:"mobile" validate:"required,number,len=10"`
}

func (r identityRequest) identity() model.Identity {
	return model.Identity{CountryCode: r.CountryCode, Mobile: r.Mobile}
}

type verifyRequest struct {
	identityRequest
	Password string `json:"password" validate:"omitempty,min=6,max=20,pwbytes"`
}

type signUpRequest struct {
	identityRequest
	Password string `json:"password" validate:"required,min=6,max=20,pwbytes"`
	Code     string `json:"code" validate:"required,number,len=4"`
	First    string `json:"first" validate:"omitempty,max=20"`
	Last     string `json:"last" validate:"omitempty,max=20"`
	Email    string `json:"email" validate:"omitempty,email"`
}

type signInRequest struct {
	identityRequest
	Password string `json:"password" validate:"required,min=6,max=20,pwbytes"`
}

type forgotRequest struct {
	identityRequest
	Code     string `json:"code" validate:"required,number,len=4"`
	Password string `json:"password" validate:"required,min=6,max=20,pwbytes"`
}

type existResponse struct {
	Exist bool `json:"exist"`
}

// sessionResponse is the profile returned with every freshly issued token
type sessionResponse struct {
	ID            string `json:"id"`
	CountryCode   string `json:"countryCode"`
	Mobile        string `json:"mobile"`
	First         string `json:"first,omitempty"`
	Last          string `json:"last,omitempty"`
	Authorization string `json:"authorization"`
}

func newSessionResponse(s auth.Session) sessionResponse {
	return sessionResponse{
		ID:            s.User.ID.String(),
		CountryCode:   s.User.CountryCode,
		Mobile:        s.User.Mobile,
		First:         s.User.Detail.First,
		Last:          s.User.Detail.Last,
		Authorization: s.Token,
	}
}

// HandleExist handles POST /user/exist
func (h *UserHandler) HandleExist(w http.ResponseWriter, r *http.Request) {
	var req identityRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	exists, err := h.users.Exist(r.Context(), req.identity())
	if err != nil {
		respondWithServiceError(w, r, h.logger, "exist", err)
		return
	}
	respondJSON(w, http.StatusOK, existResponse{Exist: exists})
}

// HandleVerify handles POST /user/verify. It sends a sign-up code.
func (h *UserHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	if err := h.users.Verify(r.Context(), req.identity(), req.Password); err != nil {
		respondWithServiceError(w, r, h.logger, "verify", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleSignUp handles POST /user/sign-up
func (h *UserHandler) HandleSignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	session, err := h.users.SignUp(r.Context(), auth.SignUpInput{
		Identity: req.identity(),
		Password: req.Password,
		Code:     req.Code,
		Detail:   model.UserDetail{First: req.First, Last: req.Last, Email: req.Email},
	})
	if err != nil {
		respondWithServiceError(w, r, h.logger, "sign-up", err)
		return
	}
	respondJSON(w, http.StatusCreated, newSessionResponse(session))
}

// HandleSignIn handles POST /user/sign-in
func (h *UserHandler) HandleSignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	session, err := h.users.SignIn(r.Context(), req.identity(), req.Password)
	if err != nil {
		respondWithServiceError(w, r, h.logger, "sign-in", err)
		return
	}
	respondJSON(w, http.StatusOK, newSessionResponse(session))
}

// HandleForgotCode handles POST /user/forgot/code. It sends a password reset code.
func (h *UserHandler) HandleForgotCode(w http.ResponseWriter, r *http.Request) {
	var req identityRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	if err := h.users.SendResetCode(r.Context(), req.identity()); err != nil {
		respondWithServiceError(w, r, h.logger, "forgot code", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleForgot handles POST /user/forgot
func (h *UserHandler) HandleForgot(w http.ResponseWriter, r *http.Request) {
	var req forgotRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	if err := h.users.Forgot(r.Context(), req.identity(), req.Code, req.Password); err != nil {
		respondWithServiceError(w, r, h.logger, "forgot", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleMe handles GET /user/me (protected). Returns the user with a fresh token.
func (h *UserHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		respondWithError(w, r, http.StatusUnauthorized, auth.CodeUnauthorized)
		return
	}

	session, err := h.users.Me(r.Context(), *user)
	if err != nil {
		respondWithServiceError(w, r, h.logger, "me", err)
		return
	}
	respondJSON(w, http.StatusOK, newSessionResponse(session))
}
