package models

import "time"

// UsageSummary is what the dashboard shows for the authenticated user.
type UsageSummary struct {
	Plan         Plan       `json:"plan"`
	Status       Status     `json:"status"`
	MinutesUsed  int        `json:"minutesUsed"`
	MinutesLimit int        `json:"minutesLimit"`
	Remaining    int        `json:"remaining"`
	ExpiresAt    *time.Time `json:"expiresAt"`
}

type FlowRequest struct {
	UserID       string `json:"userId"`
	Phone        string `json:"phone"`
	AudioDataURI string `json:"audioDataUri"`
}

type FlowResponse struct {
	Operation     ServiceType `json:"operation"`
	Result        string      `json:"result"`
	Transcription string      `json:"transcription,omitempty"`
	Summary       string      `json:"summary,omitempty"`
	WordCount     int         `json:"wordCount,omitempty"`
	MinutesUsed   int         `json:"minutesUsed"`
	MinutesLimit  int         `json:"minutesLimit"`
}
