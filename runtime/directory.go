package runtime

import (
	"fmt"
	"log/slog"
	"sync"

	"wediscuss/domain"
	"wediscuss/errors"
)

// Directory is the authoritative in-memory registry of all chatrooms.
// It never performs network I/O; every operation validates, mutates under
// per-room synchronization, and returns the recipient set the caller needs
// for fan-out. The directory mutex only guards the room map itself, so
// unrelated rooms never serialize on each other.
type Directory struct {
	mu    sync.RWMutex
	rooms map[domain.ChatroomID]*domain.Chatroom
	alloc *IDAllocator
	log   *slog.Logger
}

func NewDirectory(log *slog.Logger) *Directory {
	return &Directory{
		rooms: make(map[domain.ChatroomID]*domain.Chatroom),
		alloc: NewIDAllocator(),
		log:   log,
	}
}

func (d *Directory) get(id domain.ChatroomID) (*domain.Chatroom, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	room, ok := d.rooms[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", errors.ErrChatroomNotFound, id)
	}
	return room, nil
}

func (d *Directory) Get(id domain.ChatroomID) (*domain.Chatroom, error) {
	return d.get(id)
}

// Create allocates the next chatroom ID and registers a room owned by
// ownerID. It always succeeds; IDs are never reused after deletion.
func (d *Directory) Create(ownerID domain.UserID) *domain.Chatroom {
	room := domain.NewChatroom(d.alloc.Next(), ownerID)

	d.mu.Lock()
	d.rooms[room.ID] = room
	d.mu.Unlock()

	d.log.Info("chatroom created", "chatroom_id", room.ID, "owner_id", ownerID)
	return room
}

// Restore registers a room loaded from the bootstrap file under its
// original ID and raises the allocator floor so the ID is never reissued.
func (d *Directory) Restore(id domain.ChatroomID, ownerID domain.UserID) *domain.Chatroom {
	d.alloc.Seed(id)
	room := domain.NewChatroom(id, ownerID)

	d.mu.Lock()
	defer d.mu.Unlock()
	if existing, ok := d.rooms[id]; ok {
		return existing
	}
	d.rooms[id] = room
	return room
}

// Join adds userID to the room. A duplicate join is an error, not a no-op,
// and the check and the insert are indivisible: of N concurrent joins by
// the same user exactly one succeeds. On success it returns the room and
// the members that were present before the join, which is exactly the
// broadcast audience for the "Add" event.
func (d *Directory) Join(id domain.ChatroomID, userID domain.UserID) (*domain.Chatroom, []domain.UserID, error) {
	room, err := d.get(id)
	if err != nil {
		return nil, nil, err
	}
	added, prior := room.AddMemberIfAbsent(userID)
	if !added {
		return nil, nil, fmt.Errorf("%w: user %d in chatroom %d", errors.ErrAlreadyMember, userID, id)
	}
	return room, prior, nil
}

// Invite adds invitedID to the room; inviting an existing member is a
// silent no-op rather than an error. This asymmetry with Join is preserved
// observed behavior. Returns the members present before the add, or nil
// when the invite was a no-op and there is nothing to announce.
func (d *Directory) Invite(id domain.ChatroomID, invitedID domain.UserID) (*domain.Chatroom, []domain.UserID, error) {
	room, err := d.get(id)
	if err != nil {
		return nil, nil, err
	}
	added, prior := room.AddMemberIfAbsent(invitedID)
	if !added {
		return room, nil, nil
	}
	return room, prior, nil
}

// Leave removes userID from the room; removing a non-member is tolerated
// silently. Returns the members remaining after the removal.
func (d *Directory) Leave(id domain.ChatroomID, userID domain.UserID) ([]domain.UserID, error) {
	room, err := d.get(id)
	if err != nil {
		return nil, err
	}
	room.RemoveMember(userID)
	return room.Members(), nil
}

// Delete removes the room entirely. All subsequent operations on the ID
// fail with not-found; the ID itself is never reassigned. Returns the
// members at the moment of deletion so they can be notified.
func (d *Directory) Delete(id domain.ChatroomID) ([]domain.UserID, error) {
	d.mu.Lock()
	room, ok := d.rooms[id]
	if !ok {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: %d", errors.ErrChatroomNotFound, id)
	}
	delete(d.rooms, id)
	d.mu.Unlock()

	d.log.Info("chatroom deleted", "chatroom_id", id)
	return room.Members(), nil
}

// Record appends message to the room sequence and returns the current
// member set as the fan-out audience. The sender is a member and therefore
// part of the audience; clients rely on that echo as the single source of
// truth for message order.
func (d *Directory) Record(id domain.ChatroomID, message domain.Message) ([]domain.UserID, error) {
	room, err := d.get(id)
	if err != nil {
		return nil, err
	}
	room.Append(message)
	return room.Members(), nil
}

// RemoveUserFromAllRooms strips userID from every room it belongs to, as a
// sequence of independent per-room mutations rather than one global
// transaction. The returned map carries, per affected room, the members
// left behind; userID itself is never in an audience.
func (d *Directory) RemoveUserFromAllRooms(userID domain.UserID) map[domain.ChatroomID][]domain.UserID {
	d.mu.RLock()
	rooms := make([]*domain.Chatroom, 0, len(d.rooms))
	for _, room := range d.rooms {
		rooms = append(rooms, room)
	}
	d.mu.RUnlock()

	affected := make(map[domain.ChatroomID][]domain.UserID)
	for _, room := range rooms {
		if !room.HasMember(userID) {
			continue
		}
		room.RemoveMember(userID)
		affected[room.ID] = room.Members()
	}
	return affected
}

// IDs returns a point-in-time list of known chatroom IDs.
func (d *Directory) IDs() []domain.ChatroomID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]domain.ChatroomID, 0, len(d.rooms))
	for id := range d.rooms {
		ids = append(ids, id)
	}
	return ids
}

func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.rooms)
}
