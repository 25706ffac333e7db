package websocket

import (
	"github.com/stemsi/exstem-analytics/internal/model"
	"github.com/stemsi/exstem-analytics/internal/service"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionCoach     Action = "coach"
	ActionAnalytics Action = "analytics"
	ActionPing      Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// CoachRequest asks for commentary on the connection's snapshot.
type CoachRequest struct {
	Action      Action `json:"action"`
	Role        string `json:"role"`
	BypassCache bool   `json:"bypass_cache"`
	StudentName string `json:"student_name"`
	Goal        string `json:"goal"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError      Event = "error"
	EventAnalytics  Event = "analytics"
	EventGenerating Event = "generating"
	EventCommentary Event = "commentary"
	EventPong       Event = "pong"
)

type AnalyticsResponse struct {
	Event  Event                   `json:"event"`
	Result service.AnalyticsResult `json:"result"`
}

type GeneratingResponse struct {
	Event Event  `json:"event"`
	Role  string `json:"role"`
	Key   string `json:"key,omitempty"`
}

type CommentaryResponse struct {
	Event      Event                  `json:"event"`
	Commentary model.CommentaryResult `json:"commentary"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
