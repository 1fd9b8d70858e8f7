package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsUnavailable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("boom"), false},
		{"connection failure", &pgconn.PgError{Code: pgerrcode.ConnectionFailure}, true},
		{"admin shutdown", &pgconn.PgError{Code: pgerrcode.AdminShutdown}, true},
		{"too many connections", fmt.Errorf("exec: %w", &pgconn.PgError{Code: pgerrcode.TooManyConnections}), true},
		{"deadlock", &pgconn.PgError{Code: pgerrcode.DeadlockDetected}, true},
		{"unique violation", &pgconn.PgError{Code: pgerrcode.UniqueViolation}, false},
		{"deadline", context.DeadlineExceeded, true},
		{"wrapped deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), true},
		{"canceled", context.Canceled, false},
		{"dial refused", fmt.Errorf("connect: %w", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}), true},
		{"safe to retry", fmt.Errorf("exec: %w", retryableErr{}), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsUnavailable(tt.err))
		})
	}
}

type retryableErr struct{}

func (retryableErr) Error() string     { return "conn closed before send" }
func (retryableErr) SafeToRetry() bool { return true }

func TestIsUnavailableClosedPort(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := pgconn.Connect(ctx, "postgres://quantpipe@127.0.0.1:1/quantpipe?sslmode=disable&connect_timeout=2")
	require.Error(t, err)
	assert.True(t, IsUnavailable(err), "dial error %v", err)
}

func TestNewClientRequiresURL(t *testing.T) {
	_, err := NewClient(context.Background())
	assert.Error(t, err)
}
