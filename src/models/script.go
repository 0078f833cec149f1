package models

import "time"

// Script is a hosted Lua script. At most one script is active; the active one
// is served at the stable public path.
type Script struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Source      string    `json:"source"`
	PublicToken string    `json:"publicToken"`
	IsActive    bool      `json:"isActive"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Clone returns a deep copy.
func (s *Script) Clone() *Script {
	c := *s
	return &c
}

// ScriptSummary is the listing view of a script without its body.
type ScriptSummary struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	PublicToken string    `json:"publicToken"`
	IsActive    bool      `json:"isActive"`
	Size        int       `json:"size"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Summary drops the body.
func (s *Script) Summary() ScriptSummary {
	return ScriptSummary{
		ID:          s.ID,
		Name:        s.Name,
		Description: s.Description,
		PublicToken: s.PublicToken,
		IsActive:    s.IsActive,
		Size:        len(s.Source),
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
}
