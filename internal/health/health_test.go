package health

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestCheck(t *testing.T) {
	ok := pingerFunc(func(context.Context) error { return nil })
	down := pingerFunc(func(context.Context) error { return errors.New("disk I/O error") })

	tests := []struct {
		name      string
		db        Pinger
		google    bool
		want      Status
		wantCheck Status
	}{
		{"all good", ok, true, StatusHealthy, StatusHealthy},
		{"google missing", ok, false, StatusDegraded, StatusHealthy},
		{"database down", down, true, StatusUnhealthy, StatusUnhealthy},
		{"database down and google missing", down, false, StatusUnhealthy, StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := NewChecker(tt.db, tt.google).Check(context.Background())
			assert.Equal(t, tt.want, report.Status)
			assert.Equal(t, tt.wantCheck, report.Checks["database"].Status)
		})
	}
}

func TestCheckHidesErrorDetail(t *testing.T) {
	down := pingerFunc(func(context.Context) error { return errors.New("open /var/lib/secret.db: permission denied") })

	report := NewChecker(down, true).Check(context.Background())
	assert.Equal(t, "database unreachable", report.Checks["database"].Message)
}

func TestLiveness(t *testing.T) {
	report := NewChecker(nil, false).Liveness()
	assert.Equal(t, StatusHealthy, report.Status)
	assert.Empty(t, report.Checks)
}
