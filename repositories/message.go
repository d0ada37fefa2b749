package repositories

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"wediscuss/domain"
)

// MessageRepository persists chatroom and direct messages in BadgerDB so
// clients can replay logs after reconnecting.
type MessageRepository struct {
	db            *badger.DB
	log           *slog.Logger
	limitMessages *int
}

func NewMessageRepository(db *badger.DB, log *slog.Logger, limitMessages *int) MessageRepository {
	return MessageRepository{db: db, log: log, limitMessages: limitMessages}
}

// diskMessage is the stored form; timestamps are kept as nanoseconds so the
// value round-trips exactly with the key ordering.
type diskMessage struct {
	ID       string `json:"id"`
	Room     int    `json:"room,omitempty"`
	From     int    `json:"from"`
	FromName string `json:"from_name"`
	To       int    `json:"to,omitempty"`
	Content  string `json:"content"`
	At       int64  `json:"at"`
}

// StoreRoomMessage persists a chatroom message.
// The key is formatted as "room:{room_id}:{timestamp_padded}:{uuid}" to:
//  1. Ensure chronological sorting using 19-digit zero padding
//     (lexicographical order).
//  2. Prevent data loss by using UUID as a collision disconnector if two
//     messages arrive at the same nanosecond.
func (m MessageRepository) StoreRoomMessage(message domain.Message) error {
	key := fmt.Sprintf("room:%d:%019d:%s",
		message.Room,
		message.CreatedAt.UnixNano(),
		message.ID,
	)
	bytes, err := json.Marshal(fromDomain(message))
	if err != nil {
		return err
	}
	return m.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), bytes)
	})
}

// StoreDirectMessage persists a direct message once per participant, so
// either side's log replay finds it under its own user ID.
func (m MessageRepository) StoreDirectMessage(message domain.Message) error {
	bytes, err := json.Marshal(fromDomain(message))
	if err != nil {
		return err
	}
	suffix := fmt.Sprintf("%019d:%s", message.CreatedAt.UnixNano(), message.ID)
	keys := [][]byte{
		[]byte(fmt.Sprintf("dm:%d:%s", message.From, suffix)),
	}
	if message.To != message.From {
		keys = append(keys, []byte(fmt.Sprintf("dm:%d:%s", message.To, suffix)))
	}
	return m.db.Update(func(txn *badger.Txn) error {
		for _, key := range keys {
			if err := txn.Set(key, bytes); err != nil {
				return err
			}
		}
		return nil
	})
}

// RoomLog retrieves a chatroom's messages, newest first, resuming from
// cursor when one is given.
func (m MessageRepository) RoomLog(roomID domain.ChatroomID, cursor *string) ([]domain.Message, *string, error) {
	return m.scan(fmt.Sprintf("room:%d:", roomID), cursor)
}

// UserLog retrieves a user's direct messages, newest first.
func (m MessageRepository) UserLog(userID domain.UserID, cursor *string) ([]domain.Message, *string, error) {
	return m.scan(fmt.Sprintf("dm:%d:", userID), cursor)
}

// scan walks a key prefix in reverse. Thanks to the padded timestamp in the
// key, messages are naturally sorted by time; the returned cursor is the key
// suffix of the oldest message collected, ready for the next page.
func (m MessageRepository) scan(prefixStr string, cursor *string) ([]domain.Message, *string, error) {
	var byteMessages [][]byte
	var lastKey string

	err := m.db.View(func(txn *badger.Txn) error {
		prefix := []byte(prefixStr)
		prefixLen := len(prefixStr)
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		var seekKey []byte
		switch cursor {
		case nil:
			// Seek past every possible timestamp, then walk backwards.
			seekKey = append(prefix, []byte("9999999999999999999")...)
		default:
			seekKey = append(prefix, []byte(*cursor)...)
		}

		it.Seek(seekKey)

		if cursor != nil && it.ValidForPrefix(prefix) {
			it.Next()
		}

		for ; it.ValidForPrefix(prefix); it.Next() {
			if m.limitMessages != nil && len(byteMessages) == *m.limitMessages {
				m.log.Debug(fmt.Sprintf("Maximum of %d messages reached", *m.limitMessages))
				break
			}
			item := it.Item()
			lastKey = string(item.Key()[prefixLen:])
			err := item.Value(func(value []byte) error {
				byteMessages = append(byteMessages, append([]byte(nil), value...))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if len(byteMessages) == 0 {
		return nil, nil, nil
	}

	messages := make([]domain.Message, 0, len(byteMessages))
	for _, b := range byteMessages {
		var disk diskMessage
		if err = json.Unmarshal(b, &disk); err != nil {
			return nil, nil, err
		}
		message, err := toDomain(disk)
		if err != nil {
			return nil, nil, err
		}
		messages = append(messages, message)
	}
	return messages, lo.ToPtr(lastKey), nil
}

func fromDomain(message domain.Message) diskMessage {
	return diskMessage{
		ID:       message.ID.String(),
		Room:     int(message.Room),
		From:     int(message.From),
		FromName: message.FromName,
		To:       int(message.To),
		Content:  message.Content,
		At:       message.CreatedAt.UnixNano(),
	}
}

func toDomain(disk diskMessage) (domain.Message, error) {
	parsedID, err := uuid.Parse(disk.ID)
	if err != nil {
		return domain.Message{}, err
	}
	return domain.Message{
		ID:        parsedID,
		Room:      domain.ChatroomID(disk.Room),
		From:      domain.UserID(disk.From),
		FromName:  disk.FromName,
		To:        domain.UserID(disk.To),
		Content:   disk.Content,
		CreatedAt: time.Unix(0, disk.At).UTC(),
	}, nil
}
