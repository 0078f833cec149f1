package models

import "time"

// KeyRecord is a single access key and its metering and binding state.
type KeyRecord struct {
	Key              string     `json:"key"`
	CreatedAt        time.Time  `json:"createdAt"`
	ExpiresAt        *time.Time `json:"expiresAt"`
	IsActive         bool       `json:"isActive"`
	UsageCount       int        `json:"usageCount"`
	MaxUsage         *int       `json:"maxUsage"`
	Source           KeySource  `json:"source"`
	OriginToken      *string    `json:"token"`
	BoundDeviceID    *string    `json:"hwid"`
	BoundAccountID   *string    `json:"userId"`
	BoundAccountName *string    `json:"username"`
}

// IsExpired reports whether the key has an expiry strictly before now.
func (k *KeyRecord) IsExpired(now time.Time) bool {
	return k.ExpiresAt != nil && k.ExpiresAt.Before(now)
}

// LimitReached reports whether a metered key has no uses left.
func (k *KeyRecord) LimitReached() bool {
	return k.MaxUsage != nil && k.UsageCount >= *k.MaxUsage
}

// State derives the lifecycle state. Deactivation takes precedence over expiry.
func (k *KeyRecord) State(now time.Time) KeyState {
	switch {
	case !k.IsActive:
		return KeyStateDeactivated
	case k.IsExpired(now):
		return KeyStateExpired
	case k.MaxUsage != nil:
		return KeyStateActiveMetered
	default:
		return KeyStateActiveUnlimited
	}
}

// Clone returns a deep copy so callers can mutate without aliasing stored state.
func (k *KeyRecord) Clone() *KeyRecord {
	c := *k
	c.ExpiresAt = cloneTime(k.ExpiresAt)
	c.MaxUsage = cloneInt(k.MaxUsage)
	c.OriginToken = cloneString(k.OriginToken)
	c.BoundDeviceID = cloneString(k.BoundDeviceID)
	c.BoundAccountID = cloneString(k.BoundAccountID)
	c.BoundAccountName = cloneString(k.BoundAccountName)
	return &c
}

// KeyFilter selects keys for admin listings.
type KeyFilter string

const (
	FilterAll     KeyFilter = "all"
	FilterActive  KeyFilter = "active"
	FilterExpired KeyFilter = "expired"
	FilterFunnel  KeyFilter = "funnel"
	FilterAdmin   KeyFilter = "admin"
)

// KeySort orders admin listings.
type KeySort string

const (
	SortCreatedDesc KeySort = "created_desc"
	SortCreatedAsc  KeySort = "created_asc"
	SortExpiresAsc  KeySort = "expires_asc"
	SortUsageDesc   KeySort = "usage_desc"
)

// KeyQuery describes a filtered, sorted, paginated listing.
type KeyQuery struct {
	Search   string
	Filter   KeyFilter
	Sort     KeySort
	Page     int // 1-based
	PageSize int
	Now      time.Time
}

// KeyPage is one page of a listing plus the total number of matches.
type KeyPage struct {
	Items []*KeyRecord `json:"items"`
	Total int          `json:"total"`
}

// KeyCounts summarises the store.
type KeyCounts struct {
	Total  int `json:"total"`
	Active int `json:"active"`
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneInt(i *int) *int {
	if i == nil {
		return nil
	}
	v := *i
	return &v
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
