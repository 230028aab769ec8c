package tests

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/crypto/bcrypt"

	"github.com/mealtime/server/internal/auth"
	"github.com/mealtime/server/internal/db"
	"github.com/mealtime/server/internal/pii"
	"github.com/mealtime/server/internal/provision"
	"github.com/mealtime/server/internal/repo"
	"github.com/mealtime/server/internal/sms"
)

const testSecret = "integration-test-secret"

// OpenTestDB connects to DATABASE_URL and migrates it. Tests skip when it is unset.
func OpenTestDB(t *testing.T) *sql.DB {
	t.Helper()
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}

	database, err := db.Open(context.Background(), databaseURL, zap.NewNop())
	require.NoError(t, err, "database open must succeed; check DATABASE_URL and that test DB exists")
	t.Cleanup(func() { database.Close() })

	require.NoError(t, db.Migrate(database), "migrations must run successfully")
	require.NoError(t, TruncateTables(context.Background(), database))
	return database
}

// TruncateTables empties every table for a clean test state.
func TruncateTables(ctx context.Context, database *sql.DB) error {
	_, err := database.ExecContext(ctx, "TRUNCATE TABLE meal_types, user_details, users, otp_codes RESTART IDENTITY CASCADE")
	if err != nil {
		return fmt.Errorf("truncate tables: %w", err)
	}
	return nil
}

// Stack is the service wired against a real database, with codes captured from the log
type Stack struct {
	DB        *sql.DB
	Cipher    *pii.Cipher
	Users     repo.UserRepo
	Otps      repo.OtpRepo
	MealTypes repo.MealTypeRepo
	Service   *auth.AuthService
	Logger    *zap.Logger
	Logs      *observer.ObservedLogs
}

// NewStack wires the auth service the way cmd/api does, with the development sender.
func NewStack(t *testing.T, database *sql.DB) *Stack {
	t.Helper()
	cipher, err := pii.NewCipher(testSecret)
	require.NoError(t, err)

	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)

	s := &Stack{
		DB:        database,
		Cipher:    cipher,
		Users:     repo.NewUserRepo(database, cipher),
		Otps:      repo.NewOtpRepo(database, cipher),
		MealTypes: repo.NewMealTypeRepo(database),
		Logger:    logger,
		Logs:      logs,
	}
	s.Service = auth.NewAuthService(auth.Deps{
		Credentials: auth.NewCredentialStore(s.Users, auth.NewBcryptHasher(bcrypt.MinCost, 4)),
		Ledger:      auth.NewOtpLedger(s.Otps, sms.NewLogSender(logger), 10*time.Minute, logger),
		Sessions:    auth.NewJWTService("integration-jwt-secret", time.Hour),
		Provisioner: provision.NewMealTypes(s.MealTypes),
		Logger:      logger,
	})
	return s
}

// LastCode returns the most recently logged one-time code
func (s *Stack) LastCode(t *testing.T) string {
	t.Helper()
	entries := s.Logs.FilterMessage("otp issued").All()
	require.NotEmpty(t, entries, "no code was logged")
	code, ok := entries[len(entries)-1].ContextMap()["code"].(string)
	require.True(t, ok)
	return code
}
