package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/mealtime/server/internal/auth"
	"github.com/mealtime/server/internal/i18n"
)

const (
	codeValidation  = "VALIDATION"
	codeInvalidBody = "INVALID-BODY"
	codeInternal    = "INTERNAL"
)

// maxBodyBytes caps request bodies; every payload here is a handful of short strings
const maxBodyBytes = 1 << 14

// errorResponse is the JSON body of every error
type errorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	// bcrypt only sees the first 72 bytes; max counts runes
	_ = v.RegisterValidation("pwbytes", func(fl validator.FieldLevel) bool {
		return len(fl.Field().String()) <= auth.MaxPasswordBytes
	})
	return v
}

// decodeAndValidate reads a JSON body into dst and validates it. It writes the
// error response itself and reports false when the request should stop.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, v *validator.Validate, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondWithError(w, r, http.StatusBadRequest, codeInvalidBody)
		return false
	}

	if err := v.StructCtx(r.Context(), dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			respondWithError(w, r, http.StatusBadRequest, codeInvalidBody)
			return false
		}
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = i18n.Message(r.Context(), fieldMessageID(fe))
		}
		respondJSON(w, http.StatusBadRequest, errorResponse{
			Error:   codeValidation,
			Message: i18n.Message(r.Context(), codeValidation),
			Fields:  fields,
		})
		return false
	}
	return true
}

// fieldMessageID maps a failed rule to a catalog id
func fieldMessageID(fe validator.FieldError) string {
	switch fe.Field() {
	case "mobile":
		if fe.Tag() != "required" {
			return "INVALID-MOBILE"
		}
	case "countryCode":
		if fe.Tag() != "required" {
			return "INVALID-COUNTRY-CODE"
		}
	case "code":
		if fe.Tag() != "required" {
			return "INVALID-CODE"
		}
	}
	switch fe.Tag() {
	case "required":
		return "REQUIRED"
	case "min":
		return "TOO-SHORT"
	case "max", "pwbytes":
		return "TOO-LONG"
	case "email":
		return "INVALID-EMAIL"
	}
	return codeValidation
}

// respondWithServiceError maps an error from the auth service to a response
func respondWithServiceError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, op string, err error) {
	if auth.IsPrecondition(err) {
		respondWithError(w, r, http.StatusPreconditionFailed, auth.Code(err))
		return
	}
	if errors.Is(err, auth.ErrPasswordTooLong) {
		respondJSON(w, http.StatusBadRequest, errorResponse{
			Error:   codeValidation,
			Message: i18n.Message(r.Context(), codeValidation),
			Fields:  map[string]string{"password": i18n.Message(r.Context(), "TOO-LONG")},
		})
		return
	}
	if errors.Is(err, auth.ErrUnauthorized) || errors.Is(err, auth.ErrInvalidToken) {
		respondWithError(w, r, http.StatusUnauthorized, auth.CodeUnauthorized)
		return
	}
	logger.Error(op+" failed", zap.Error(err))
	respondWithError(w, r, http.StatusInternalServerError, codeInternal)
}

// respondWithError sends a JSON error response with a localized message
func respondWithError(w http.ResponseWriter, r *http.Request, statusCode int, code string) {
	respondJSON(w, statusCode, errorResponse{
		Error:   code,
		Message: i18n.Message(r.Context(), code),
	})
}

func respondJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}
