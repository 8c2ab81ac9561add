package testutil

import (
	"testing"
	"time"

	"github.com/npezzotti/go-chatsync/internal/auth"
	"github.com/npezzotti/go-chatsync/internal/types"
	"github.com/rs/zerolog"
)

// TestSigningKey is the HS256 key used by relay tests.
var TestSigningKey = []byte("test-signing-key")

func TestLogger(t *testing.T) zerolog.Logger {
	return zerolog.New(zerolog.NewTestWriter(t)).
		Level(zerolog.DebugLevel).
		With().
		Timestamp().
		Logger()
}

// TestToken returns a bearer token for user signed with TestSigningKey,
// valid for an hour.
func TestToken(t *testing.T, user types.User) string {
	t.Helper()

	token, err := auth.NewToken(TestSigningKey, user, time.Hour)
	if err != nil {
		t.Fatalf("failed to create test token: %v", err)
	}

	return token
}

// ExpiredToken returns a token for user that expired an hour ago.
func ExpiredToken(t *testing.T, user types.User) string {
	t.Helper()

	token, err := auth.NewToken(TestSigningKey, user, -time.Hour)
	if err != nil {
		t.Fatalf("failed to create expired token: %v", err)
	}

	return token
}
