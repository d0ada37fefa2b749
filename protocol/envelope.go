// Package protocol defines the wire envelope exchanged with clients.
// An envelope is either a client request or a server-originated event;
// the two are distinguished only by kind, there is no correlation ID.
package protocol

import (
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"wediscuss/domain"
)

type Kind string

const (
	KindLogin          Kind = "login"
	KindLogout         Kind = "logout"
	KindAddUser        Kind = "add_user"
	KindDeleteUser     Kind = "delete_user"
	KindChangePassword Kind = "change_password"
	KindUserLog        Kind = "get_user_log"
	KindChatroomLog    Kind = "get_chatroom_log"
	KindCreateChatroom Kind = "create_chatroom"
	KindInviteUser     Kind = "invite_user"
	KindJoinChatroom   Kind = "join_chatroom"
	KindLeaveChatroom  Kind = "leave_chatroom"
	KindUserMessage    Kind = "user_message"
	KindRoomMessage    Kind = "chatroom_message"
	KindUserMap        Kind = "user_map_update"
	KindChatroomMap    Kind = "chatroom_map_update"
)

// Outcome strings carried in Content on responses and membership events.
const (
	OutcomeSuccess = "Success"
	OutcomeError   = "Error"
	OutcomeAdd     = "Add"
	OutcomeRemove  = "Remove"
)

// Envelope is the tagged union of the wire protocol. Fields are populated
// depending on Kind; Content doubles as message body and outcome string.
// Envelopes are value objects, constructed fresh per operation and never
// mutated once handed to fan-out.
type Envelope struct {
	Kind         Kind              `json:"kind"`
	FromUserID   int               `json:"from_user_id,omitempty"`
	FromUserName string            `json:"from_user_name,omitempty"`
	ToUserID     int               `json:"to_user_id,omitempty"`
	ToChatroomID int               `json:"to_chatroom_id,omitempty"`
	Content      string            `json:"content,omitempty"`
	Detail       string            `json:"detail,omitempty"`
	Password     string            `json:"password,omitempty"`
	TargetName   string            `json:"target_name,omitempty"`
	Token        string            `json:"token,omitempty"`
	Chatroom     *ChatroomSnapshot `json:"chatroom,omitempty"`
	UserMap      map[int]string    `json:"user_map,omitempty"`
	ChatroomIDs  []int             `json:"chatroom_ids,omitempty"`
	Messages     []MessageRecord   `json:"messages,omitempty"`
	Cursor       string            `json:"cursor,omitempty"`
}

// ChatroomSnapshot is the full room view embedded in direct responses so a
// client can rebuild its local state after create, join, or invite.
type ChatroomSnapshot struct {
	ID      int             `json:"id"`
	OwnerID int             `json:"owner_id"`
	Members []int           `json:"members"`
	Log     []MessageRecord `json:"log,omitempty"`
}

type MessageRecord struct {
	ID         uuid.UUID `json:"id"`
	RoomID     int       `json:"room_id,omitempty"`
	FromUserID int       `json:"from_user_id"`
	FromName   string    `json:"from_name,omitempty"`
	ToUserID   int       `json:"to_user_id,omitempty"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

func SnapshotOf(room *domain.Chatroom) *ChatroomSnapshot {
	return &ChatroomSnapshot{
		ID:      int(room.ID),
		OwnerID: int(room.OwnerID),
		Members: lo.Map(room.Members(), func(id domain.UserID, _ int) int { return int(id) }),
		Log:     RecordsOf(room.Messages()),
	}
}

func RecordsOf(messages []domain.Message) []MessageRecord {
	if len(messages) == 0 {
		return nil
	}
	return lo.Map(messages, func(m domain.Message, _ int) MessageRecord {
		return MessageRecord{
			ID:         m.ID,
			RoomID:     int(m.Room),
			FromUserID: int(m.From),
			FromName:   m.FromName,
			ToUserID:   int(m.To),
			Content:    m.Content,
			CreatedAt:  m.CreatedAt,
		}
	})
}
