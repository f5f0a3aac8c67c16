package common

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewULID returns a 26 character, time-sortable identifier.
func NewULID() (string, error) {
	id, err := ulid.New(ulid.Timestamp(time.Now()), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// MustULID is NewULID for callers that cannot surface an error. The entropy
// source is crypto/rand, which does not fail on supported platforms.
func MustULID() string {
	id, err := NewULID()
	if err != nil {
		panic(err)
	}
	return id
}

// NextULID returns an identifier that sorts after every id previously
// returned by NextULID in this process, even within one millisecond.
func NextULID() string {
	return ulid.Make().String()
}
