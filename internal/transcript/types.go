package transcript

import (
	"context"

	"github.com/loqalabs/narrator/internal/frame"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// DescribePrompt is the text of the per-iteration user turn carrying the frame.
const DescribePrompt = "Describe this image"

// Entry is one stored turn.
type Entry struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Store is the ordered, append-only turn history. Implementations with a
// positive turn limit evict the oldest entries first.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	Snapshot(ctx context.Context) ([]Entry, error)
	Len(ctx context.Context) (int, error)
	Close() error
}

// Message is one element of an outbound inference request. Image is set only
// on the final user turn.
type Message struct {
	Role  Role
	Text  string
	Image *frame.Payload
}

// Outbound builds [system] + history + [user turn with the current frame].
func Outbound(system string, history []Entry, current frame.Payload) []Message {
	messages := make([]Message, 0, len(history)+2)
	messages = append(messages, Message{Role: RoleSystem, Text: system})
	for _, entry := range history {
		messages = append(messages, Message{Role: entry.Role, Text: entry.Content})
	}
	img := current
	messages = append(messages, Message{Role: RoleUser, Text: DescribePrompt, Image: &img})
	return messages
}
