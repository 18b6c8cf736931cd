package handler

import (
	"net/http"

	"github.com/damoang/angple-contrib/internal/common"
	"github.com/damoang/angple-contrib/internal/middleware"
	"github.com/damoang/angple-contrib/internal/ws"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// FeedHandler upgrades clients to the live contribution feed
type FeedHandler struct {
	hub            *ws.Hub
	allowedOrigins []string
	reviewerLevel  int
	upgrader       websocket.Upgrader
}

// NewFeedHandler creates a new FeedHandler. An empty origin list or "*"
// allows every origin.
func NewFeedHandler(hub *ws.Hub, allowedOrigins []string, reviewerLevel int) *FeedHandler {
	h := &FeedHandler{
		hub:            hub,
		allowedOrigins: allowedOrigins,
		reviewerLevel:  reviewerLevel,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *FeedHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true // same-origin
	}
	if len(h.allowedOrigins) == 0 {
		return true
	}
	for _, allowed := range h.allowedOrigins {
		if allowed == "*" || origin == allowed {
			return true
		}
	}
	return false
}

// Connect handles GET /api/v1/contributions/feed (WebSocket upgrade)
// @Summary 실시간 기여 상태 피드
// @Description 검토자는 모든 이벤트를, 기여자는 자신의 기여 검토 결과를 받습니다
// @Tags contributions
// @Security BearerAuth
// @Router /contributions/feed [get]
func (h *FeedHandler) Connect(c *gin.Context) {
	actor := middleware.GetActor(c)
	if actor.UserID == "" {
		common.ErrorResponse(c, http.StatusUnauthorized, "로그인이 필요합니다", nil)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	rooms := []string{ws.UserRoom(actor.UserID)}
	if actor.Level >= h.reviewerLevel {
		rooms = append(rooms, ws.ReviewerRoom)
	}
	client := ws.NewClient(h.hub, conn, rooms...)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}
