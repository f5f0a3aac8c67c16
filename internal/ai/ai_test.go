package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOllamaProvider_Chat(t *testing.T) {
	var got ollamaChatReq
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]string{"role": "assistant", "content": "hello back"},
		})
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL+"/", "tiny")
	reply, err := p.Chat(context.Background(), []Message{{Role: "user", Content: "hello"}})
	require.NoError(t, err)
	require.Equal(t, "hello back", reply)
	require.Equal(t, "tiny", got.Model)
	require.False(t, got.Stream)
	require.Equal(t, []Message{{Role: "user", Content: "hello"}}, got.Messages)
}

func TestOllamaProvider_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewOllamaProvider(srv.URL, "missing").Chat(context.Background(), nil)
	require.ErrorContains(t, err, "model not found")
}

func TestOpenRouterProvider_Chat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		require.Equal(t, "widget", r.Header.Get("X-Title"))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"routed"}}]}`))
	}))
	defer srv.Close()

	p := NewOpenRouterProvider(srv.URL, "k", "auto", "", "widget")
	reply, err := p.Chat(context.Background(), []Message{{Role: "user", Content: "q"}})
	require.NoError(t, err)
	require.Equal(t, "routed", reply)
}

func TestOpenRouterProvider_RequiresKey(t *testing.T) {
	_, err := NewOpenRouterProvider("", "", "auto", "", "").Chat(context.Background(), nil)
	require.ErrorContains(t, err, "api key")
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	reg.Register(" Static ", func(ctx context.Context, model string) (Provider, error) {
		return StaticProvider{Reply: "model=" + model}, nil
	})

	p, err := reg.Get(context.Background(), "STATIC", "faq")
	require.NoError(t, err)
	reply, err := p.Chat(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, "model=faq", reply)
	require.Equal(t, []string{"static"}, reg.Names())

	_, err = reg.Get(context.Background(), "nope", "")
	require.ErrorContains(t, err, "unknown ai provider: nope")
	require.ErrorContains(t, err, "registered: static")
}
