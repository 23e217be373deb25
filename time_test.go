package accounts_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	accounts "github.com/inkpress/go-accounts"
)

func TestIsWithinThresholdPeriod(t *testing.T) {
	tests := []struct {
		name    string
		at      time.Time
		pattern string
		want    bool
		wantErr bool
	}{
		{
			name:    "recent time inside window",
			at:      time.Now().Add(-time.Hour),
			pattern: "24h",
			want:    true,
		},
		{
			name:    "old time outside window",
			at:      time.Now().Add(-48 * time.Hour),
			pattern: "24h",
			want:    false,
		},
		{
			name:    "invalid pattern",
			at:      time.Now(),
			pattern: "yesterday",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := accounts.IsWithinThresholdPeriod(tt.at, tt.pattern)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsOutsideThresholdPeriod(t *testing.T) {
	outside, err := accounts.IsOutsideThresholdPeriod(time.Now().Add(-48*time.Hour), "24h")
	assert.NoError(t, err)
	assert.True(t, outside)

	outside, err = accounts.IsOutsideThresholdPeriod(time.Now().Add(-time.Minute), "24h")
	assert.NoError(t, err)
	assert.False(t, outside)
}

func TestActivationExpired(t *testing.T) {
	fresh := time.Now().Add(-time.Hour)
	stale := time.Now().Add(-30 * 24 * time.Hour)

	act := &accounts.EmailActivation{CreatedAt: &fresh}
	expired, err := act.Expired("24h")
	assert.NoError(t, err)
	assert.False(t, expired)

	act.CreatedAt = &stale
	expired, err = act.Expired("24h")
	assert.NoError(t, err)
	assert.True(t, expired)

	// a row with no creation time is never consumable
	act.CreatedAt = nil
	expired, err = act.Expired("24h")
	assert.NoError(t, err)
	assert.True(t, expired)
}
