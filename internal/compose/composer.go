// Package compose validates and normalizes outgoing message payloads. Both
// the direct sync and the room session run every send through it before any
// crypto or network work happens.
package compose

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Kind selects the per-conversation-type content limit.
type Kind int

const (
	Direct Kind = iota
	Room
)

const (
	// MaxDirectLength bounds a direct message in runes.
	MaxDirectLength = 2000
	// MaxRoomLength bounds a room message in runes. Rooms allow longer
	// bodies because attachments travel inline as ciphertext.
	MaxRoomLength = 4000
)

var (
	// ErrEmptyMessage rejects a submission with no content and no attachment.
	ErrEmptyMessage = errors.New("compose: empty message")
	// ErrTooLong rejects content over the conversation-type limit.
	ErrTooLong = errors.New("compose: message too long")
)

// Compose trims the content and enforces the limits for the conversation
// kind. The returned string is what must be sent; attachment is only
// inspected, never modified.
func Compose(content string, attachment []byte, kind Kind) (string, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" && len(attachment) == 0 {
		return "", ErrEmptyMessage
	}

	limit := MaxDirectLength
	if kind == Room {
		limit = MaxRoomLength
	}
	if n := utf8.RuneCountInString(trimmed); n > limit {
		return "", fmt.Errorf("%w: %d runes over limit %d", ErrTooLong, n, limit)
	}

	return trimmed, nil
}
