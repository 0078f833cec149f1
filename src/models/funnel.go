package models

import "time"

// CompletionMode decides how a group's items combine.
type CompletionMode string

const (
	ModeAny CompletionMode = "any"
	ModeAll CompletionMode = "all"
)

// StepKind is the wire name of a funnel item type.
type StepKind string

const (
	KindYouTube   StepKind = "youtube"
	KindDiscord   StepKind = "discord"
	KindWorkink   StepKind = "workink"
	KindLootlab   StepKind = "lootlab"
	KindLinkverse StepKind = "linkverse"
	KindLink      StepKind = "link"
)

// StepCategory groups item kinds by what the user is asked to do.
type StepCategory string

const (
	CategoryChannelSubscribe StepCategory = "channel-subscribe"
	CategoryCommunityJoin    StepCategory = "community-join"
	CategoryExternalTask     StepCategory = "external-task"
	CategoryGenericLink      StepCategory = "generic-link"
)

// Category maps a kind to its category.
func (k StepKind) Category() StepCategory {
	switch k {
	case KindYouTube:
		return CategoryChannelSubscribe
	case KindDiscord:
		return CategoryCommunityJoin
	case KindWorkink, KindLootlab, KindLinkverse:
		return CategoryExternalTask
	default:
		return CategoryGenericLink
	}
}

// Valid reports whether k is a known kind.
func (k StepKind) Valid() bool {
	switch k {
	case KindYouTube, KindDiscord, KindWorkink, KindLootlab, KindLinkverse, KindLink:
		return true
	}
	return false
}

// StepItem is one action inside a group.
type StepItem struct {
	Kind         StepKind `json:"type"`
	Label        string   `json:"label"`
	TargetURL    string   `json:"url"`
	DwellSeconds int      `json:"duration"`
}

// StepGroup is one funnel checkpoint.
type StepGroup struct {
	Kind        string         `json:"kind"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Mode        CompletionMode `json:"mode"`
	Items       []StepItem     `json:"items"`
}

// FunnelConfig is the ordered checkpoint list.
type FunnelConfig struct {
	Groups    []StepGroup `json:"groups"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// ItemProgress is the client-reported state of one item.
type ItemProgress struct {
	Completed bool       `json:"completed"`
	StartedAt *time.Time `json:"startedAt,omitempty"`
}

// FunnelProgress is indexed [group][item]. Missing entries count as incomplete.
type FunnelProgress [][]ItemProgress

// Item returns the progress for a position, zero value when absent.
func (p FunnelProgress) Item(group, item int) ItemProgress {
	if group < 0 || group >= len(p) || item < 0 || item >= len(p[group]) {
		return ItemProgress{}
	}
	return p[group][item]
}
