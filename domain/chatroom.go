package domain

import "sync"

type ChatroomID int

// Chatroom is a named group entity: an owner, a member set, and an
// append-only message sequence kept for the life of the process.
//
// A Chatroom guards its own state so that membership checks and mutations
// stay atomic per room; unrelated rooms never contend on a shared lock.
type Chatroom struct {
	mu       sync.RWMutex
	ID       ChatroomID
	OwnerID  UserID
	members  map[UserID]struct{}
	messages []Message
}

// NewChatroom creates a room owned by ownerID. The owner starts as a member.
// A zero ownerID (bootstrap restore) leaves the member set empty.
func NewChatroom(id ChatroomID, ownerID UserID) *Chatroom {
	room := &Chatroom{
		ID:      id,
		OwnerID: ownerID,
		members: make(map[UserID]struct{}),
	}
	if ownerID != 0 {
		room.members[ownerID] = struct{}{}
	}
	return room
}

// AddMember inserts userID into the member set. Adding an existing member
// is a silent no-op at the set level; callers decide whether that is an
// error (join) or tolerated (invite).
func (r *Chatroom) AddMember(userID UserID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[userID] = struct{}{}
}

// AddMemberIfAbsent inserts userID unless already present. The membership
// check, the insert, and the prior-members snapshot all happen under one
// write lock, so two concurrent joins by the same user cannot both observe
// absence. Returns whether the insert happened and, if so, the members that
// were present before it.
func (r *Chatroom) AddMemberIfAbsent(userID UserID) (bool, []UserID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[userID]; ok {
		return false, nil
	}
	prior := make([]UserID, 0, len(r.members))
	for id := range r.members {
		prior = append(prior, id)
	}
	r.members[userID] = struct{}{}
	return true, prior
}

// RemoveMember deletes userID from the member set. Removing a non-member
// is tolerated silently.
func (r *Chatroom) RemoveMember(userID UserID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members, userID)
}

func (r *Chatroom) HasMember(userID UserID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[userID]
	return ok
}

// Members returns a point-in-time copy of the member set.
func (r *Chatroom) Members() []UserID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]UserID, 0, len(r.members))
	for id := range r.members {
		ids = append(ids, id)
	}
	return ids
}

func (r *Chatroom) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Append records a delivered message in the room sequence. The message is
// retained even if some recipients turn out to be unreachable.
func (r *Chatroom) Append(message Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
}

// Messages returns a point-in-time copy of the message sequence.
func (r *Chatroom) Messages() []Message {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Message, len(r.messages))
	copy(out, r.messages)
	return out
}
