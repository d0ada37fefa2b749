package domain

import (
	"time"

	"github.com/google/uuid"
)

// Message represents an immutable chat event. Room is zero for direct
// user-to-user messages; To is zero for chatroom messages.
type Message struct {
	ID        uuid.UUID
	Room      ChatroomID
	From      UserID
	FromName  string
	To        UserID
	Content   string
	CreatedAt time.Time
}
