package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keygate/keygate-server/src/models"
)

func TestCleanupService_Sweep(t *testing.T) {
	f := newKeyFixture(t)
	f.create(t, "GONE0001", models.Ptr(f.now.Add(-time.Second)), "")
	f.create(t, "KEPT0001", nil, "")

	cs := NewCleanupService(f.svc, true, time.Hour)
	assert.Equal(t, 1, cs.Sweep(context.Background()))

	counts, _ := f.keys.Counts(context.Background(), f.now)
	assert.Equal(t, 1, counts.Total)
}

func TestCleanupService_LoopRunsAndStops(t *testing.T) {
	f := newKeyFixture(t)
	f.create(t, "GONE0002", models.Ptr(f.now.Add(-time.Second)), "")

	cs := NewCleanupService(f.svc, true, 10*time.Millisecond)
	cs.Start(context.Background())
	defer cs.Stop()

	require.Eventually(t, func() bool {
		counts, _ := f.keys.Counts(context.Background(), f.now)
		return counts.Total == 0
	}, 2*time.Second, 10*time.Millisecond)

	cs.Stop()
}

func TestCleanupService_Disabled(t *testing.T) {
	f := newKeyFixture(t)
	cs := NewCleanupService(f.svc, false, time.Millisecond)
	cs.Start(context.Background())
	cs.Stop()
}
