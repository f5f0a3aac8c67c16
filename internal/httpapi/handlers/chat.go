package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/suPer8Hu/support-widget/internal/auth"
	"github.com/suPer8Hu/support-widget/internal/common"
	"github.com/suPer8Hu/support-widget/internal/conversation"
	"github.com/suPer8Hu/support-widget/internal/reconcile"
	"github.com/suPer8Hu/support-widget/internal/widget"
)

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

// writeErr maps domain errors onto the response envelope.
func writeErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, widget.ErrSessionNotFound):
		common.Fail(c, http.StatusNotFound, 40004, "conversation not found")
	case errors.Is(err, widget.ErrMessageNotFound):
		common.Fail(c, http.StatusNotFound, 40005, "message not found")
	case errors.Is(err, widget.ErrSessionClosed), errors.Is(err, reconcile.ErrClosed):
		common.Fail(c, http.StatusGone, 41001, "conversation closed")
	case errors.Is(err, widget.ErrQuotaExceeded):
		common.Fail(c, http.StatusTooManyRequests, 42901, "message quota exceeded")
	case errors.Is(err, widget.ErrConversationClosed):
		common.Fail(c, http.StatusConflict, 40901, "conversation is not accepting messages")
	case errors.Is(err, conversation.ErrConversationEnded):
		common.Fail(c, http.StatusConflict, 40902, "conversation ended")
	case errors.Is(err, conversation.ErrEndNotRequested):
		common.Fail(c, http.StatusConflict, 40903, "end was not requested")
	case errors.Is(err, widget.ErrEmptyMessage):
		common.Fail(c, http.StatusBadRequest, 10002, "message is empty")
	default:
		log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
	}
}

func (h *Handler) session(c *gin.Context) (*widget.Session, bool) {
	s, err := h.Widgets.Get(c.Param("id"))
	if err != nil {
		writeErr(c, err)
		return nil, false
	}
	return s, true
}

func (h *Handler) CreateConversation(c *gin.Context) {
	s, err := h.Widgets.Open(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("open conversation failed")
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to create conversation")
		return
	}
	token, err := auth.SignConversationToken(h.Cfg.JWTSecret, s.ID(), h.Cfg.ConversationTokenTTL)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50003, "failed to sign token")
		return
	}
	st, err := s.State()
	if err != nil {
		writeErr(c, err)
		return
	}
	common.OK(c, gin.H{
		"conversation_id": s.ID(),
		"token":           token,
		"state":           st,
	})
}

func (h *Handler) GetConversation(c *gin.Context) {
	s, okk := h.session(c)
	if !okk {
		return
	}
	st, err := s.State()
	if err != nil {
		writeErr(c, err)
		return
	}
	msgs, err := s.Messages()
	if err != nil {
		writeErr(c, err)
		return
	}
	common.OK(c, gin.H{"state": st, "messages": msgs})
}

func (h *Handler) ListTransitions(c *gin.Context) {
	s, okk := h.session(c)
	if !okk {
		return
	}
	if h.Transitions != nil {
		limit, _ := strconv.Atoi(c.Query("limit"))
		recs, err := h.Transitions.ListTransitions(c.Request.Context(), s.ID(), limit)
		if err != nil {
			writeErr(c, err)
			return
		}
		common.OK(c, gin.H{"transitions": recs})
		return
	}
	ts, err := s.Transitions()
	if err != nil {
		writeErr(c, err)
		return
	}
	common.OK(c, gin.H{"transitions": ts})
}

type sendMessageReq struct {
	Message string `json:"message" binding:"required"`
}

func (h *Handler) SendMessage(c *gin.Context) {
	s, okk := h.session(c)
	if !okk {
		return
	}
	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	res, err := s.SendMessage(c.Request.Context(), req.Message)
	if err != nil {
		if res.User.ID != "" {
			// user message kept, automated reply failed
			common.FailWithData(c, http.StatusBadGateway, 50201, "automated reply failed", res)
			return
		}
		writeErr(c, err)
		return
	}
	common.OK(c, res)
}

func (h *Handler) RecordActivity(c *gin.Context) {
	s, okk := h.session(c)
	if !okk {
		return
	}
	st, err := s.RecordActivity()
	if err != nil {
		writeErr(c, err)
		return
	}
	common.OK(c, gin.H{"state": st})
}

type identificationReq struct {
	Reference string `json:"reference" binding:"required"`
}

func (h *Handler) InjectIdentification(c *gin.Context) {
	s, okk := h.session(c)
	if !okk {
		return
	}
	var req identificationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	msg, err := s.InjectIdentification(req.Reference)
	if err != nil {
		writeErr(c, err)
		return
	}
	common.OK(c, gin.H{"message": msg})
}

func (h *Handler) SubmitFeedback(c *gin.Context) {
	s, okk := h.session(c)
	if !okk {
		return
	}
	if err := s.SubmitFeedback(c.Request.Context(), c.Param("message_id")); err != nil {
		writeErr(c, err)
		return
	}
	common.OK(c, gin.H{"message_id": c.Param("message_id"), "feedback_submitted": true})
}

type humanReq struct {
	Reason string `json:"reason"`
}

func (h *Handler) RequestHumanAgent(c *gin.Context) {
	s, okk := h.session(c)
	if !okk {
		return
	}
	var req humanReq
	_ = c.ShouldBindJSON(&req) // allow empty {}

	st, err := s.RequestHumanAgent(req.Reason)
	if err != nil {
		writeErr(c, err)
		return
	}
	common.OK(c, gin.H{"state": st})
}

func (h *Handler) RequestEnd(c *gin.Context) {
	h.stateOp(c, (*widget.Session).RequestEnd)
}

func (h *Handler) ConfirmEnd(c *gin.Context) {
	h.stateOp(c, (*widget.Session).ConfirmEnd)
}

func (h *Handler) CancelEnd(c *gin.Context) {
	h.stateOp(c, (*widget.Session).CancelEnd)
}

func (h *Handler) stateOp(c *gin.Context, op func(*widget.Session) (conversation.State, error)) {
	s, okk := h.session(c)
	if !okk {
		return
	}
	st, err := op(s)
	if err != nil {
		writeErr(c, err)
		return
	}
	common.OK(c, gin.H{"state": st})
}

type endReq struct {
	Reason string `json:"reason"`
}

func (h *Handler) EndConversation(c *gin.Context) {
	s, okk := h.session(c)
	if !okk {
		return
	}
	var req endReq
	_ = c.ShouldBindJSON(&req) // allow empty {}

	st, err := s.End(req.Reason)
	if err != nil {
		writeErr(c, err)
		return
	}
	common.OK(c, gin.H{"state": st})
}

func (h *Handler) StartNewChat(c *gin.Context) {
	s, okk := h.session(c)
	if !okk {
		return
	}
	st, err := s.StartNewChat(c.Request.Context())
	if err != nil {
		writeErr(c, err)
		return
	}
	common.OK(c, gin.H{"state": st})
}

func (h *Handler) SyncConversation(c *gin.Context) {
	s, okk := h.session(c)
	if !okk {
		return
	}
	pass, err := s.Sync(c.Request.Context())
	if err != nil {
		writeErr(c, err)
		return
	}
	common.OK(c, gin.H{"pass": pass})
}

func (h *Handler) EmergencyReset(c *gin.Context) {
	s, okk := h.session(c)
	if !okk {
		return
	}
	if err := s.Reset(c.Request.Context()); err != nil {
		writeErr(c, err)
		return
	}
	common.OK(c, gin.H{"reset": true})
}

func (h *Handler) Health(c *gin.Context) {
	s, okk := h.session(c)
	if !okk {
		return
	}
	health, err := s.Health(c.Request.Context())
	if err != nil {
		writeErr(c, err)
		return
	}
	common.OK(c, health)
}

func (h *Handler) CloseConversation(c *gin.Context) {
	if err := h.Widgets.Close(c.Request.Context(), c.Param("id")); err != nil {
		writeErr(c, err)
		return
	}
	common.OK(c, gin.H{"closed": true})
}
