package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyRecord_IsExpiredBoundary(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	past := &KeyRecord{ExpiresAt: Ptr(now.Add(-time.Second))}
	future := &KeyRecord{ExpiresAt: Ptr(now.Add(time.Second))}
	exact := &KeyRecord{ExpiresAt: Ptr(now)}
	never := &KeyRecord{}

	assert.True(t, past.IsExpired(now))
	assert.False(t, future.IsExpired(now))
	assert.False(t, exact.IsExpired(now))
	assert.False(t, never.IsExpired(now))
}

func TestKeyRecord_State(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name string
		rec  KeyRecord
		want KeyState
	}{
		{"unlimited", KeyRecord{IsActive: true}, KeyStateActiveUnlimited},
		{"metered", KeyRecord{IsActive: true, MaxUsage: Ptr(3)}, KeyStateActiveMetered},
		{"expired", KeyRecord{IsActive: true, ExpiresAt: Ptr(now.Add(-time.Minute))}, KeyStateExpired},
		{"deactivated wins over expired", KeyRecord{IsActive: false, ExpiresAt: Ptr(now.Add(-time.Minute))}, KeyStateDeactivated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rec.State(now))
		})
	}
}

func TestKeyRecord_CloneDoesNotAlias(t *testing.T) {
	orig := &KeyRecord{Key: "ABCD", MaxUsage: Ptr(2), BoundDeviceID: Ptr("hw")}
	c := orig.Clone()
	*c.MaxUsage = 9
	*c.BoundDeviceID = "other"

	assert.Equal(t, 2, *orig.MaxUsage)
	assert.Equal(t, "hw", *orig.BoundDeviceID)
}

func TestStepKind_Category(t *testing.T) {
	assert.Equal(t, CategoryChannelSubscribe, KindYouTube.Category())
	assert.Equal(t, CategoryCommunityJoin, KindDiscord.Category())
	assert.Equal(t, CategoryExternalTask, KindLootlab.Category())
	assert.Equal(t, CategoryGenericLink, KindLink.Category())
	assert.False(t, StepKind("tiktok").Valid())
}

func TestFunnelProgress_ItemOutOfRange(t *testing.T) {
	p := FunnelProgress{{{Completed: true}}}
	assert.True(t, p.Item(0, 0).Completed)
	assert.False(t, p.Item(0, 1).Completed)
	assert.False(t, p.Item(3, 0).Completed)
}
