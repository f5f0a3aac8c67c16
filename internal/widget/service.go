package widget

import (
	"context"
	"strings"

	"github.com/suPer8Hu/support-widget/internal/ai"
	"github.com/suPer8Hu/support-widget/internal/chat"
)

const (
	defaultProvider = "static"
	defaultModel    = "default"
)

// Service produces automated replies from the recent transcript.
type Service struct {
	registry          *ai.Registry
	provider          string
	model             string
	contextWindowSize int
}

func NewService(registry *ai.Registry, provider, model string, contextWindowSize int) *Service {
	if contextWindowSize <= 0 || contextWindowSize > 100 {
		contextWindowSize = 20
	}
	if strings.TrimSpace(provider) == "" {
		provider = defaultProvider
	}
	if strings.TrimSpace(model) == "" {
		model = defaultModel
	}
	return &Service{
		registry:          registry,
		provider:          provider,
		model:             model,
		contextWindowSize: contextWindowSize,
	}
}

func (s *Service) Provider() string { return s.provider }
func (s *Service) Model() string    { return s.model }

// Reply asks the configured provider to answer the transcript. Only user and
// ai messages are sent; identification and system notices stay local.
func (s *Service) Reply(ctx context.Context, transcript []chat.Message) (string, error) {
	provider, err := s.registry.Get(ctx, s.provider, s.model)
	if err != nil {
		return "", err
	}
	return provider.Chat(ctx, s.contextWindow(transcript))
}

func (s *Service) contextWindow(transcript []chat.Message) []ai.Message {
	out := make([]ai.Message, 0, s.contextWindowSize)
	for i := len(transcript) - 1; i >= 0 && len(out) < s.contextWindowSize; i-- {
		m := transcript[i]
		switch m.Type {
		case chat.MessageUser:
			out = append(out, ai.Message{Role: "user", Content: m.Content})
		case chat.MessageAI:
			out = append(out, ai.Message{Role: "assistant", Content: m.Content})
		}
	}
	// reverse to ASC (oldest -> newest)
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
