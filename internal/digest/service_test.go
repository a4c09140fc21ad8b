package digest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalbridge/pkg/logx"
)

func TestNewRejectsInvalidSchedule(t *testing.T) {
	t.Parallel()
	_, err := New("not a cron expr", func(ctx context.Context) error { return nil }, logx.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "digest schedule")
}

func TestNewAcceptsStandardSchedule(t *testing.T) {
	t.Parallel()
	s, err := New("0 21 * * *", func(ctx context.Context) error { return nil }, logx.Nop())
	require.NoError(t, err)
	s.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}

func TestJobRunsOnSchedule(t *testing.T) {
	t.Parallel()
	ran := make(chan struct{}, 2)
	s, err := New("@every 100ms", func(ctx context.Context) error {
		ran <- struct{}{}
		return nil
	}, logx.Nop())
	require.NoError(t, err)

	s.Start()
	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("job never ran")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}
