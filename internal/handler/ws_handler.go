package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-analytics/internal/middleware"
	"github.com/stemsi/exstem-analytics/internal/model"
	"github.com/stemsi/exstem-analytics/internal/service"
	ws "github.com/stemsi/exstem-analytics/internal/websocket"
)

// maxGeneratingRounds bounds how often a socket re-asks for commentary that
// is still being generated.
const maxGeneratingRounds = 3

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams analytics and coach commentary over a WebSocket, so a
// client can wait for a slow AI generation without polling.
type WSHandler struct {
	snapshotService *service.SnapshotService
	coachService    *service.CoachService
	log             zerolog.Logger
	upgrader        websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(snapshotService *service.SnapshotService, coachService *service.CoachService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		snapshotService: snapshotService,
		coachService:    coachService,
		log:             log.With().Str("component", "ws_handler").Logger(),
		upgrader:        buildUpgrader(allowedOrigins),
	}
}

// CoachStream godoc
// WS /ws/v1/exams/:exam_id/students/:student_id/coach
func (h *WSHandler) CoachStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	examID, studentID, ok := parseStudentPath(c)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().
		Int("student_id", studentID).
		Str("exam_id", examID.String()).
		Logger()

	wsLog.Info().Msg("Coach stream connected")

	for {
		var raw json.RawMessage
		if err := ws.ReadJSON(conn, &raw); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			break
		}

		var env ws.RequestEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			ws.WriteError(conn, "invalid message")
			continue
		}

		switch env.Action {
		case ws.ActionPing:
			ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong})
		case ws.ActionAnalytics:
			res := h.snapshotService.GetStudentAnalytics(c.Request.Context(), examID, studentID)
			ws.WriteTyped(conn, ws.AnalyticsResponse{Event: ws.EventAnalytics, Result: res})
		case ws.ActionCoach:
			var req ws.CoachRequest
			if err := json.Unmarshal(raw, &req); err != nil {
				ws.WriteError(conn, "invalid coach request")
				continue
			}
			h.handleCoach(c.Request.Context(), conn, wsLog, claims, examID, studentID, &req)
		default:
			wsLog.Warn().Str("action", string(env.Action)).Msg("Unknown action")
			ws.WriteError(conn, "unknown action: "+string(env.Action))
		}
	}
}

// handleCoach sends generating events until the commentary is ready or the
// round limit is reached.
func (h *WSHandler) handleCoach(ctx context.Context, conn *websocket.Conn, wsLog zerolog.Logger, claims *service.Claims, examID uuid.UUID, studentID int, msg *ws.CoachRequest) {
	aud, ok := service.ParseAudience(msg.Role)
	if !ok {
		ws.WriteError(conn, "unknown role: "+msg.Role)
		return
	}
	if _, forTeacher := aud.(service.Teacher); forTeacher && claims.TokenType == service.TokenTypeStudent {
		ws.WriteError(conn, "role not allowed")
		return
	}

	res := h.snapshotService.GetStudentAnalytics(ctx, examID, studentID)
	if !res.Success {
		ws.WriteTyped(conn, ws.AnalyticsResponse{Event: ws.EventAnalytics, Result: res})
		return
	}

	req := model.CoachRequest{BypassCache: msg.BypassCache, StudentName: msg.StudentName, Goal: msg.Goal}
	for round := 0; round < maxGeneratingRounds; round++ {
		ws.WriteTyped(conn, ws.GeneratingResponse{Event: ws.EventGenerating, Role: aud.Role()})

		commentary := h.coachService.GetCommentary(ctx, res.Snapshot, aud, req)
		if commentary.Status == model.CommentaryReady {
			ws.WriteTyped(conn, ws.CommentaryResponse{Event: ws.EventCommentary, Commentary: commentary})
			return
		}
		// Join the running generation instead of starting another one.
		req.BypassCache = false
	}

	wsLog.Warn().Str("role", aud.Role()).Msg("Commentary still generating after max rounds")
	ws.WriteTyped(conn, ws.GeneratingResponse{Event: ws.EventGenerating, Role: aud.Role()})
}
