package handlers

import (
	"context"

	"github.com/suPer8Hu/support-widget/internal/chat"
	"github.com/suPer8Hu/support-widget/internal/config"
	"github.com/suPer8Hu/support-widget/internal/widget"
)

// TransitionLister reads the durable transition log.
type TransitionLister interface {
	ListTransitions(ctx context.Context, conversationID string, limit int) ([]chat.TransitionRecord, error)
}

type Handler struct {
	Cfg     config.Config
	Widgets *widget.Manager
	// Transitions is optional; without it the in-memory log of the open
	// session is served.
	Transitions TransitionLister
}

func NewHandler(cfg config.Config, widgets *widget.Manager, transitions TransitionLister) *Handler {
	return &Handler{Cfg: cfg, Widgets: widgets, Transitions: transitions}
}
