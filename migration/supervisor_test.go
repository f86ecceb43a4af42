package migration

import (
	"context"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRestartableWorker_RestartSwapsIdentity(t *testing.T) {
	parent := context.Background()
	log := hclog.NewNullLogger()

	block := make(chan struct{})
	w := NewRestartableWorker(log, parent, func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return nil
		case <-block:
			return nil
		}
	})

	w.Start()
	require.Eventually(t, w.IsAlive, time.Second, time.Millisecond)

	oldHandle := w.handle.Load()
	w.Restart()

	newHandle := w.handle.Load()
	assert.NotSame(t, oldHandle, newHandle, "restart should install a new handle identity")
	assert.True(t, w.IsAlive(), "worker should still be alive after restart")

	w.Kill()
	require.Eventually(t, func() bool { return !w.IsAlive() }, time.Second, time.Millisecond)
}

func TestRestartableWorker_LastError(t *testing.T) {
	parent := context.Background()
	log := hclog.NewNullLogger()

	done := make(chan struct{})
	w := NewRestartableWorker(log, parent, func(ctx context.Context) error {
		defer close(done)
		return assert.AnError
	})

	w.Start()
	<-done
	require.Eventually(t, func() bool { return w.LastError() != nil }, time.Second, time.Millisecond)
	assert.Equal(t, assert.AnError, w.LastError())
}
