package util

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"", "info", false},
		{"debug", "debug", false},
		{"WARN", "warn", false},
		{"loud", "", true},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			l, err := ParseLevel(tc.in)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, l.String())
		})
	}
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("debug")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zap.DebugLevel))

	_, err = NewLogger("loud")
	require.Error(t, err)
}

func TestNewLoggerWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "client.log")
	logger, err := NewLoggerWithFile(path, "warn")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zap.InfoLevel))
	assert.FileExists(t, path)
}

type instantClock struct{}

func (instantClock) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}
func (instantClock) Now() time.Time { return time.Time{} }

type neverClock struct{}

func (neverClock) After(time.Duration) <-chan time.Time { return nil }
func (neverClock) Now() time.Time                       { return time.Time{} }

func TestSleep(t *testing.T) {
	require.NoError(t, Sleep(context.Background(), instantClock{}, time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, Sleep(ctx, neverClock{}, time.Hour), context.Canceled)
}
