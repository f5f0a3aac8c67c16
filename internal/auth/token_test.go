package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConversationToken_RoundTrip(t *testing.T) {
	tok, err := SignConversationToken("s3cret", "01HZXJ7Q8W6M3V4T5R2N1K0P9A", time.Hour)
	require.NoError(t, err)

	id, err := ParseConversationToken("s3cret", tok)
	require.NoError(t, err)
	require.Equal(t, "01HZXJ7Q8W6M3V4T5R2N1K0P9A", id)
}

func TestConversationToken_Rejects(t *testing.T) {
	tok, err := SignConversationToken("s3cret", "conv-1", time.Hour)
	require.NoError(t, err)
	_, err = ParseConversationToken("other", tok)
	require.ErrorIs(t, err, ErrInvalidToken)

	expired, err := SignConversationToken("s3cret", "conv-1", -time.Minute)
	require.NoError(t, err)
	_, err = ParseConversationToken("s3cret", expired)
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = ParseConversationToken("s3cret", "not-a-token")
	require.ErrorIs(t, err, ErrInvalidToken)
}
