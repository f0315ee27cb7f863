package gateway

import (
	"fmt"
	"strings"

	"github.com/samikhalifabe/Pandorabox/pkg/types"
)

const (
	userSuffix      = "@c.us"
	legacySuffix    = "@s.whatsapp.net"
	groupSuffix     = "@g.us"
	broadcastSuffix = "@broadcast"

	minDigits = 8
	maxDigits = 15
)

// NormalizeIdentifier returns the canonical phone identifier: international digits without
// "+", separators or a chat suffix. "+33 6 12 34 56 78", "0033612345678" and
// "33612345678@c.us" all normalize to "33612345678".
func NormalizeIdentifier(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimSuffix(s, userSuffix)
	s = strings.TrimSuffix(s, legacySuffix)

	var b strings.Builder
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')':
		default:
			return "", fmt.Errorf("%w: %q", types.ErrInvalidIdentifier, raw)
		}
	}

	digits := strings.TrimPrefix(b.String(), "00")
	if strings.HasPrefix(digits, "0") {
		return "", fmt.Errorf("%w: %q is not in international format", types.ErrInvalidIdentifier, raw)
	}
	if len(digits) < minDigits || len(digits) > maxDigits {
		return "", fmt.Errorf("%w: %q must have %d to %d digits", types.ErrInvalidIdentifier, raw, minDigits, maxDigits)
	}
	return digits, nil
}

// ChatID returns the WhatsApp chat id of a canonical phone identifier.
func ChatID(phone string) string {
	return phone + userSuffix
}

// isTrackedChat reports whether a chat id belongs to a one-to-one conversation.
func isTrackedChat(chatID string) bool {
	return !strings.HasSuffix(chatID, groupSuffix) && !strings.HasSuffix(chatID, broadcastSuffix)
}
