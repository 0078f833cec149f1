package models

import "time"

// RuntimeSettings are the operator-editable links and hooks. They override
// the values the process was started with.
type RuntimeSettings struct {
	WorkinkLink       string    `json:"workinkLink"`
	YouTubeChannel    string    `json:"ytChannel"`
	DiscordWebhookURL string    `json:"discordWebhookUrl"`
	UpdatedAt         time.Time `json:"updatedAt"`
}
