// Package reconcile keeps the live message list of a conversation and its
// persisted copy consistent.
package reconcile

import (
	"encoding/hex"
	"strconv"

	"golang.org/x/crypto/blake2b"

	"github.com/suPer8Hu/support-widget/internal/chat"
)

// FingerprintSize is the digest length in bytes; the hex form is twice that.
const FingerprintSize = 8

// Fingerprint digests the identity, content and timestamp of m. It detects
// divergence between two copies of one message id; it is not a security
// primitive.
func Fingerprint(m chat.Message) string {
	h, err := blake2b.New(FingerprintSize, nil)
	if err != nil {
		// Only reachable with an invalid size or key.
		panic(err)
	}
	body := m.Content
	if body == "" {
		body = "type:" + string(m.Type)
	}
	h.Write([]byte(m.ID))
	h.Write([]byte{0})
	h.Write([]byte(body))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(m.Timestamp.UnixMilli(), 10)))
	return hex.EncodeToString(h.Sum(nil))
}

type fingerprinted struct {
	chat.Message
	fingerprint string
}

func fingerprintAll(msgs []chat.Message) map[string]fingerprinted {
	out := make(map[string]fingerprinted, len(msgs))
	for _, m := range msgs {
		out[m.ID] = fingerprinted{Message: m, fingerprint: Fingerprint(m)}
	}
	return out
}
