package runtime

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"wediscuss/domain"
	"wediscuss/errors"
)

func TestDirectory_Create_Concurrent_IDs_Are_Distinct(t *testing.T) {
	req := require.New(t)
	directory := NewDirectory(testLogger())
	const n = 100

	// When many chatrooms are created concurrently
	var wg sync.WaitGroup
	ids := make(chan domain.ChatroomID, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- directory.Create(domain.UserID(1)).ID
		}()
	}
	wg.Wait()
	close(ids)

	// Then every ID is distinct and positive
	seen := make(map[domain.ChatroomID]struct{})
	for id := range ids {
		req.Greater(int(id), 0)
		_, dup := seen[id]
		req.False(dup, "duplicate id %d", id)
		seen[id] = struct{}{}
	}
	req.Len(seen, n)
	req.Equal(n, directory.Len())
}

func TestDirectory_Create_Adds_Owner_As_Member(t *testing.T) {
	req := require.New(t)
	directory := NewDirectory(testLogger())
	owner := domain.UserID(5)

	room := directory.Create(owner)

	req.True(room.HasMember(owner))
	req.Equal(1, room.MemberCount())
}

func TestDirectory_Join_Duplicate_Is_An_Error(t *testing.T) {
	req := require.New(t)
	directory := NewDirectory(testLogger())
	room := directory.Create(domain.UserID(1))

	// Given a user already in the room
	_, prior, err := directory.Join(room.ID, domain.UserID(2))
	req.NoError(err)
	req.Equal([]domain.UserID{1}, prior)

	// When the same user joins again
	_, _, err = directory.Join(room.ID, domain.UserID(2))

	// Then the join is rejected and membership is unchanged
	req.ErrorIs(err, errors.ErrAlreadyMember)
	req.Equal(2, room.MemberCount())
}

func TestDirectory_Join_Concurrent_Duplicates_Yield_One_Success(t *testing.T) {
	req := require.New(t)
	directory := NewDirectory(testLogger())

	for i := 0; i < 500; i++ {
		room := directory.Create(domain.UserID(1))

		// When the same user joins the room from many goroutines at once
		var wg sync.WaitGroup
		var successes atomic.Int64
		for g := 0; g < 8; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, _, err := directory.Join(room.ID, domain.UserID(2)); err == nil {
					successes.Add(1)
				}
			}()
		}
		wg.Wait()

		// Then exactly one join wins; the rest are AlreadyMember
		req.Equal(int64(1), successes.Load(), "iteration %d", i)
		req.Equal(2, room.MemberCount())
	}
}

func TestDirectory_Join_Unknown_Room(t *testing.T) {
	req := require.New(t)
	directory := NewDirectory(testLogger())

	_, _, err := directory.Join(domain.ChatroomID(99), domain.UserID(1))

	req.ErrorIs(err, errors.ErrChatroomNotFound)
}

func TestDirectory_Invite_Existing_Member_Is_Silent(t *testing.T) {
	req := require.New(t)
	directory := NewDirectory(testLogger())
	room := directory.Create(domain.UserID(1))

	// When the owner is invited despite being a member already
	_, _, err := directory.Invite(room.ID, domain.UserID(1))

	// Then nothing fails and membership is unchanged
	req.NoError(err)
	req.Equal(1, room.MemberCount())
}

func TestDirectory_Leave_Is_Idempotent(t *testing.T) {
	req := require.New(t)
	directory := NewDirectory(testLogger())
	room := directory.Create(domain.UserID(1))
	_, _, err := directory.Join(room.ID, domain.UserID(2))
	req.NoError(err)

	// When a member leaves twice
	remaining, err := directory.Leave(room.ID, domain.UserID(2))
	req.NoError(err)
	req.Equal([]domain.UserID{1}, remaining)

	remaining, err = directory.Leave(room.ID, domain.UserID(2))

	// Then the second leave succeeds with the same outcome
	req.NoError(err)
	req.Equal([]domain.UserID{1}, remaining)
}

func TestDirectory_Delete_Then_Operations_Fail(t *testing.T) {
	req := require.New(t)
	directory := NewDirectory(testLogger())
	room := directory.Create(domain.UserID(1))
	_, _, err := directory.Join(room.ID, domain.UserID(2))
	req.NoError(err)

	// When the room is deleted
	members, err := directory.Delete(room.ID)
	req.NoError(err)
	req.ElementsMatch([]domain.UserID{1, 2}, members)

	// Then subsequent operations report not-found
	_, _, err = directory.Join(room.ID, domain.UserID(3))
	req.ErrorIs(err, errors.ErrChatroomNotFound)
	_, err = directory.Leave(room.ID, domain.UserID(1))
	req.ErrorIs(err, errors.ErrChatroomNotFound)

	// And the ID is never reassigned
	next := directory.Create(domain.UserID(1))
	req.Greater(int(next.ID), int(room.ID))
}

func TestDirectory_Restore_Raises_Allocator_Floor(t *testing.T) {
	req := require.New(t)
	directory := NewDirectory(testLogger())

	// Given rooms restored out of order
	directory.Restore(domain.ChatroomID(7), domain.UserID(0))
	directory.Restore(domain.ChatroomID(3), domain.UserID(1))

	// When a new room is created
	room := directory.Create(domain.UserID(1))

	// Then its ID is above every restored ID
	req.Equal(domain.ChatroomID(8), room.ID)
}

func TestDirectory_RemoveUserFromAllRooms(t *testing.T) {
	req := require.New(t)
	directory := NewDirectory(testLogger())
	first := directory.Create(domain.UserID(1))
	second := directory.Create(domain.UserID(2))
	third := directory.Create(domain.UserID(3))

	_, _, err := directory.Join(first.ID, domain.UserID(9))
	req.NoError(err)
	_, _, err = directory.Join(second.ID, domain.UserID(9))
	req.NoError(err)

	// When the user is stripped from every room
	affected := directory.RemoveUserFromAllRooms(domain.UserID(9))

	// Then only its rooms are reported, with the members left behind
	req.Len(affected, 2)
	req.Equal([]domain.UserID{1}, affected[first.ID])
	req.Equal([]domain.UserID{2}, affected[second.ID])
	req.NotContains(affected, third.ID)
	req.False(first.HasMember(domain.UserID(9)))
}

func TestDirectory_Record_Returns_Audience_Including_Sender(t *testing.T) {
	req := require.New(t)
	directory := NewDirectory(testLogger())
	room := directory.Create(domain.UserID(1))
	_, _, err := directory.Join(room.ID, domain.UserID(2))
	req.NoError(err)

	members, err := directory.Record(room.ID, domain.Message{From: domain.UserID(1), Content: "hi"})

	req.NoError(err)
	req.ElementsMatch([]domain.UserID{1, 2}, members)
	req.Len(room.Messages(), 1)
}
