package services

import (
	types "github.com/threadloom/threadloom-backend/internal/domain"
)

// contentKey fingerprints a message by role and text so a client-side resend
// with a regenerated id still dedups. Messages without text have no key and
// are never deduped on content.
func contentKey(m *types.Message) string {
	text := m.Text()
	if text == "" {
		return ""
	}
	return m.Role + ":" + text
}

// MergeMessages reconciles persisted history with the client-supplied window.
// Stored messages keep their order and win every duplicate; incoming messages
// are dropped when their id or content key was already seen. The result is
// truncated to the last windowCap entries.
func MergeMessages(stored, incoming []types.Message, windowCap int) []types.Message {
	seenIDs := make(map[string]bool, len(stored)+len(incoming))
	seenContent := make(map[string]bool, len(stored)+len(incoming))
	out := make([]types.Message, 0, len(stored)+len(incoming))

	for i := range stored {
		m := stored[i]
		if seenIDs[m.ID] {
			continue
		}
		seenIDs[m.ID] = true
		if key := contentKey(&m); key != "" {
			seenContent[key] = true
		}
		out = append(out, m)
	}

	for i := range incoming {
		m := incoming[i]
		if seenIDs[m.ID] {
			continue
		}
		key := contentKey(&m)
		if key != "" && seenContent[key] {
			continue
		}
		seenIDs[m.ID] = true
		if key != "" {
			seenContent[key] = true
		}
		out = append(out, m)
	}

	if windowCap > 0 && len(out) > windowCap {
		out = out[len(out)-windowCap:]
	}
	return out
}
