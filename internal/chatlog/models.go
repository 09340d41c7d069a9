package chatlog

import "time"

type Status string

const (
	StatusUnread  Status = "Unread"
	StatusRead    Status = "Read"
	StatusReplied Status = "Replied"
)

func (s Status) Valid() bool {
	return s == StatusUnread || s == StatusRead || s == StatusReplied
}

// Message is one customer message plus the support reply transcript grown onto it.
//
// Invariants:
// - Email is the sender identity and groups messages into conversations.
// - Reply only grows: turns are joined with ReplySeparator, never replaced.
// - Messages are removed only by explicit moderation.
type Message struct {
	ID            string    `json:"id" db:"id"`
	Name          string    `json:"name" db:"name"`
	Email         string    `json:"email" db:"email"`
	Body          string    `json:"message" db:"body"`
	ImageURL      string    `json:"imageUrl,omitempty" db:"image_url"`
	Status        Status    `json:"status" db:"status"`
	Reply         string    `json:"reply,omitempty" db:"reply"`
	ReplyImageURL string    `json:"replyImageUrl,omitempty" db:"reply_image_url"`
	CreatedAt     time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time `json:"updatedAt" db:"updated_at"`
	// RepliedAt is when the newest reply turn was appended. Status changes
	// leave it alone.
	RepliedAt time.Time `json:"repliedAt,omitzero" db:"replied_at"`
}

// LastActivity is the most recent of creation and last amendment.
func (m Message) LastActivity() time.Time {
	if m.UpdatedAt.After(m.CreatedAt) {
		return m.UpdatedAt
	}
	return m.CreatedAt
}

// Conversation groups one customer's messages oldest-first.
type Conversation struct {
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Messages     []Message `json:"messages"`
	Unread       int       `json:"unread"`
	LastActivity time.Time `json:"lastActivity"`
}
