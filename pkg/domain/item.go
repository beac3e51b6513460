package domain

import "time"

// Item represents a single published archive entry. URL is the identity
// used for change detection between runs; duplicates within one fetch are
// kept as-is.
type Item struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Notification represents a delivered Telegram message for an item
type Notification struct {
	ID     int64
	Title  string
	URL    string
	SentAt time.Time
}

// RunStats summarizes a single fetch-diff-notify pass
type RunStats struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Fetched    int
	New        int
	Notified   int
	Err        string
}
