package chat

import (
	"encoding/json"
	"strings"
)

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Text returns the concatenated text parts of the message content. Content
// may be a UI-style JSON part array or a bare string; anything that does not
// parse as parts is treated as one text part.
func (m *Message) Text() string {
	trimmed := strings.TrimSpace(m.Content)
	if strings.HasPrefix(trimmed, "[") {
		var parts []contentPart
		if err := json.Unmarshal([]byte(trimmed), &parts); err == nil {
			var b strings.Builder
			for _, p := range parts {
				if p.Type == "text" && p.Text != "" {
					b.WriteString(p.Text)
				}
			}
			return b.String()
		}
	}
	return m.Content
}
