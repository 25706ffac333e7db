package model

import "time"

// CommentarySource tells where a commentary text came from.
type CommentarySource string

const (
	SourceAI       CommentarySource = "ai"
	SourceCache    CommentarySource = "cache"
	SourceFallback CommentarySource = "fallback"
)

// CommentaryStatus is ready when Text is usable, generating while another
// caller still holds the generation lease.
type CommentaryStatus string

const (
	CommentaryReady      CommentaryStatus = "ready"
	CommentaryGenerating CommentaryStatus = "generating"
)

// CommentaryEntry is a cached AI commentary.
type CommentaryEntry struct {
	Key       string    `json:"key"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// CommentaryResult is what the coach returns to callers.
type CommentaryResult struct {
	Status CommentaryStatus `json:"status"`
	Source CommentarySource `json:"source,omitempty"`
	Role   string           `json:"role"`
	Text   string           `json:"text,omitempty"`
	Key    string           `json:"key"`
	// LowConfidence mirrors the snapshot so clients can soften the wording.
	LowConfidence bool `json:"low_confidence"`
}

// CoachRequest is the optional body of a coach call.
type CoachRequest struct {
	BypassCache bool   `json:"bypass_cache"`
	StudentName string `json:"student_name" binding:"omitempty,max=128"`
	Goal        string `json:"goal" binding:"omitempty,max=256"`
}
