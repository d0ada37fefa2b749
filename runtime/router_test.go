package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"wediscuss/contract"
	"wediscuss/domain"
	"wediscuss/errors"
	"wediscuss/protocol"
)

type stubAccounts struct {
	users    map[string]domain.User
	byID     map[domain.UserID]domain.User
	password string
	created  []string
	deleted  []domain.UserID
}

func newStubAccounts(password string, users ...domain.User) *stubAccounts {
	s := &stubAccounts{
		users:    make(map[string]domain.User),
		byID:     make(map[domain.UserID]domain.User),
		password: password,
	}
	for _, u := range users {
		s.users[u.Username] = u
		s.byID[u.ID] = u
	}
	return s
}

func (s *stubAccounts) Authenticate(username, password string) (domain.User, string, error) {
	user, ok := s.users[username]
	if !ok || password != s.password {
		return domain.User{}, "", errors.ErrInvalidCredentials
	}
	return user, "token-" + username, nil
}

func (s *stubAccounts) Create(username, _ string) (domain.User, error) {
	if _, ok := s.users[username]; ok {
		return domain.User{}, errors.ErrUserAlreadyExists
	}
	user := domain.User{ID: domain.UserID(len(s.byID) + 1), Username: username}
	s.users[username] = user
	s.byID[user.ID] = user
	s.created = append(s.created, username)
	return user, nil
}

func (s *stubAccounts) Delete(userID domain.UserID) error {
	user, ok := s.byID[userID]
	if !ok {
		return errors.ErrUserNotFound
	}
	delete(s.byID, userID)
	delete(s.users, user.Username)
	s.deleted = append(s.deleted, userID)
	return nil
}

func (s *stubAccounts) ChangePassword(userID domain.UserID, newPassword string) error {
	if _, ok := s.byID[userID]; !ok {
		return errors.ErrUserNotFound
	}
	s.password = newPassword
	return nil
}

func (s *stubAccounts) Resolve(userID domain.UserID) (domain.User, error) {
	user, ok := s.byID[userID]
	if !ok {
		return domain.User{}, errors.ErrUserNotFound
	}
	return user, nil
}

func (s *stubAccounts) All() (map[domain.UserID]string, error) {
	out := make(map[domain.UserID]string, len(s.byID))
	for id, u := range s.byID {
		out[id] = u.Username
	}
	return out, nil
}

type stubMessageLog struct {
	roomMessages   []domain.Message
	directMessages []domain.Message
}

func (s *stubMessageLog) StoreRoomMessage(message domain.Message) error {
	s.roomMessages = append(s.roomMessages, message)
	return nil
}

func (s *stubMessageLog) StoreDirectMessage(message domain.Message) error {
	s.directMessages = append(s.directMessages, message)
	return nil
}

func (s *stubMessageLog) RoomLog(roomID domain.ChatroomID, _ *string) ([]domain.Message, *string, error) {
	var out []domain.Message
	for _, m := range s.roomMessages {
		if m.Room == roomID {
			out = append(out, m)
		}
	}
	return out, nil, nil
}

func (s *stubMessageLog) UserLog(userID domain.UserID, _ *string) ([]domain.Message, *string, error) {
	var out []domain.Message
	for _, m := range s.directMessages {
		if m.From == userID || m.To == userID {
			out = append(out, m)
		}
	}
	return out, nil, nil
}

type routerFixture struct {
	router   *Router
	registry *Registry
	accounts *stubAccounts
	logs     *stubMessageLog
}

func newRouterFixture(users ...domain.User) *routerFixture {
	log := testLogger()
	registry := NewRegistry(log, time.Second)
	directory := NewDirectory(log)
	accounts := newStubAccounts("secret", users...)
	messageLog := &stubMessageLog{}
	fanout := NewFanout(log, registry, 4)
	router := NewRouter(log, registry, directory, accounts, messageLog, fanout, nil)
	return &routerFixture{router: router, registry: registry, accounts: accounts, logs: messageLog}
}

// loggedIn opens a session and authenticates it. The login response goes
// back directly, so the sink only ever sees broadcasts.
func (f *routerFixture) loggedIn(t *testing.T, username string) (*Session, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	session := f.router.NewSession(sink)
	resp := f.router.Handle(context.Background(), session, protocol.Envelope{
		Kind:         protocol.KindLogin,
		FromUserName: username,
		Password:     "secret",
	})
	require.Equal(t, protocol.OutcomeSuccess, resp.Content)
	return session, sink
}

var _ contract.Accounts = (*stubAccounts)(nil)
var _ contract.MessageLog = (*stubMessageLog)(nil)

func TestRouter_Requires_Login_First(t *testing.T) {
	req := require.New(t)
	f := newRouterFixture()
	session := f.router.NewSession(&recordingSink{})

	resp := f.router.Handle(context.Background(), session, protocol.Envelope{Kind: protocol.KindCreateChatroom})

	req.Equal(protocol.OutcomeError, resp.Content)
	req.Equal(StateUnauthenticated, session.State)
}

func TestRouter_Login_Success_And_Failure(t *testing.T) {
	req := require.New(t)
	alice := domain.User{ID: 1, Username: "alice"}
	f := newRouterFixture(alice)

	// Wrong password leaves the session unauthenticated
	sink := &recordingSink{}
	session := f.router.NewSession(sink)
	resp := f.router.Handle(context.Background(), session, protocol.Envelope{
		Kind:         protocol.KindLogin,
		FromUserName: "alice",
		Password:     "wrong",
	})
	req.Equal(protocol.OutcomeError, resp.Content)
	req.Equal(StateUnauthenticated, session.State)

	// Correct credentials authenticate and register the session
	resp = f.router.Handle(context.Background(), session, protocol.Envelope{
		Kind:         protocol.KindLogin,
		FromUserName: "alice",
		Password:     "secret",
	})
	req.Equal(protocol.OutcomeSuccess, resp.Content)
	req.Equal("token-alice", resp.Token)
	req.Equal(map[int]string{1: "alice"}, resp.UserMap)
	req.Equal(StateAuthenticated, session.State)
	req.Equal(1, f.registry.Len())

	// A second login on the same connection is rejected
	resp = f.router.Handle(context.Background(), session, protocol.Envelope{
		Kind:         protocol.KindLogin,
		FromUserName: "alice",
		Password:     "secret",
	})
	req.Equal(protocol.OutcomeError, resp.Content)
}

func TestRouter_Login_Replaces_Previous_Connection(t *testing.T) {
	req := require.New(t)
	alice := domain.User{ID: 1, Username: "alice"}
	f := newRouterFixture(alice)

	_, _ = f.loggedIn(t, "alice")
	second, secondSink := f.loggedIn(t, "alice")

	// The registry points at the newest connection only
	req.Equal(1, f.registry.Len())
	sink, ok := f.registry.Lookup(alice.ID)
	req.True(ok)
	req.Same(secondSink, sink.(*recordingSink))
	req.Equal(StateAuthenticated, second.State)
}

func TestRouter_Create_Join_Message_Delete_Scenario(t *testing.T) {
	req := require.New(t)
	alice := domain.User{ID: 1, Username: "alice"}
	bob := domain.User{ID: 2, Username: "bob"}
	f := newRouterFixture(alice, bob)
	ctx := context.Background()

	aliceSession, aliceSink := f.loggedIn(t, "alice")
	bobSession, bobSink := f.loggedIn(t, "bob")

	// Alice creates a room; nobody is broadcast to
	resp := f.router.Handle(ctx, aliceSession, protocol.Envelope{Kind: protocol.KindCreateChatroom})
	req.Equal(protocol.OutcomeSuccess, resp.Content)
	req.NotNil(resp.Chatroom)
	roomID := resp.ToChatroomID
	req.Greater(roomID, 0)
	req.Empty(bobSink.received)

	// Bob joins; Alice alone hears about it, Bob gets the snapshot
	resp = f.router.Handle(ctx, bobSession, protocol.Envelope{
		Kind:         protocol.KindJoinChatroom,
		ToChatroomID: roomID,
	})
	req.Equal(protocol.OutcomeSuccess, resp.Content)
	req.NotNil(resp.Chatroom)
	req.ElementsMatch([]int{1, 2}, resp.Chatroom.Members)
	req.Len(aliceSink.received, 1)
	req.Equal(protocol.KindJoinChatroom, aliceSink.received[0].Kind)
	req.Equal(protocol.OutcomeAdd, aliceSink.received[0].Content)
	req.Empty(bobSink.received)

	// A duplicate join is an error and triggers no broadcast
	resp = f.router.Handle(ctx, bobSession, protocol.Envelope{
		Kind:         protocol.KindJoinChatroom,
		ToChatroomID: roomID,
	})
	req.Equal(protocol.OutcomeError, resp.Content)
	req.Len(aliceSink.received, 1)

	// Bob posts a message; both members receive the echo
	resp = f.router.Handle(ctx, bobSession, protocol.Envelope{
		Kind:         protocol.KindRoomMessage,
		ToChatroomID: roomID,
		Content:      "hello room",
	})
	req.Equal(protocol.OutcomeSuccess, resp.Content)
	req.Len(aliceSink.received, 2)
	req.Len(bobSink.received, 1)
	req.Equal("hello room", bobSink.received[0].Content)
	req.Len(f.logs.roomMessages, 1)

	// Alice deletes the room; both members are told
	resp = f.router.Handle(ctx, aliceSession, protocol.Envelope{
		Kind:         protocol.KindChatroomMap,
		Content:      protocol.OutcomeRemove,
		ToChatroomID: roomID,
	})
	req.Equal(protocol.OutcomeSuccess, resp.Content)
	req.Len(aliceSink.received, 3)
	req.Len(bobSink.received, 2)
	req.Equal(protocol.OutcomeRemove, bobSink.received[1].Content)

	// Operations on the deleted room fail
	resp = f.router.Handle(ctx, bobSession, protocol.Envelope{
		Kind:         protocol.KindRoomMessage,
		ToChatroomID: roomID,
		Content:      "too late",
	})
	req.Equal(protocol.OutcomeError, resp.Content)
}

func TestRouter_Invite_Notifies_Prior_Members_And_Invitee(t *testing.T) {
	req := require.New(t)
	alice := domain.User{ID: 1, Username: "alice"}
	bob := domain.User{ID: 2, Username: "bob"}
	f := newRouterFixture(alice, bob)
	ctx := context.Background()

	aliceSession, aliceSink := f.loggedIn(t, "alice")
	_, bobSink := f.loggedIn(t, "bob")

	resp := f.router.Handle(ctx, aliceSession, protocol.Envelope{Kind: protocol.KindCreateChatroom})
	roomID := resp.ToChatroomID

	// Alice invites Bob
	resp = f.router.Handle(ctx, aliceSession, protocol.Envelope{
		Kind:         protocol.KindInviteUser,
		ToUserID:     2,
		ToChatroomID: roomID,
	})
	req.Equal(protocol.OutcomeSuccess, resp.Content)

	// Alice (prior member) hears the Add, Bob gets the snapshot
	req.Len(aliceSink.received, 1)
	req.Equal(protocol.OutcomeAdd, aliceSink.received[0].Content)
	req.Len(bobSink.received, 1)
	req.NotNil(bobSink.received[0].Chatroom)

	// Inviting an unknown user fails before any mutation
	resp = f.router.Handle(ctx, aliceSession, protocol.Envelope{
		Kind:         protocol.KindInviteUser,
		ToUserID:     42,
		ToChatroomID: roomID,
	})
	req.Equal(protocol.OutcomeError, resp.Content)
}

func TestRouter_Direct_Message_Offline_Recipient_Still_Succeeds(t *testing.T) {
	req := require.New(t)
	alice := domain.User{ID: 1, Username: "alice"}
	bob := domain.User{ID: 2, Username: "bob"}
	f := newRouterFixture(alice, bob)
	ctx := context.Background()

	aliceSession, _ := f.loggedIn(t, "alice")

	// Bob is offline; the message is logged, the request succeeds
	resp := f.router.Handle(ctx, aliceSession, protocol.Envelope{
		Kind:     protocol.KindUserMessage,
		ToUserID: 2,
		Content:  "see you",
	})
	req.Equal(protocol.OutcomeSuccess, resp.Content)
	req.Len(f.logs.directMessages, 1)

	// An unknown recipient is a validation error instead
	resp = f.router.Handle(ctx, aliceSession, protocol.Envelope{
		Kind:     protocol.KindUserMessage,
		ToUserID: 99,
		Content:  "void",
	})
	req.Equal(protocol.OutcomeError, resp.Content)
	req.Len(f.logs.directMessages, 1)
}

func TestRouter_Admin_Only_Operations(t *testing.T) {
	req := require.New(t)
	alice := domain.User{ID: 1, Username: "alice"}
	root := domain.User{ID: 2, Username: "root", IsAdmin: true}
	f := newRouterFixture(alice, root)
	ctx := context.Background()

	aliceSession, aliceSink := f.loggedIn(t, "alice")
	rootSession, _ := f.loggedIn(t, "root")

	// A regular user cannot create accounts
	resp := f.router.Handle(ctx, aliceSession, protocol.Envelope{
		Kind:       protocol.KindAddUser,
		TargetName: "carol",
		Password:   "Whatever123!x",
	})
	req.Equal(protocol.OutcomeError, resp.Content)
	req.Empty(f.accounts.created)

	// The admin can, and connected users get the refreshed user map
	resp = f.router.Handle(ctx, rootSession, protocol.Envelope{
		Kind:       protocol.KindAddUser,
		TargetName: "carol",
		Password:   "Whatever123!x",
	})
	req.Equal(protocol.OutcomeSuccess, resp.Content)
	req.Equal([]string{"carol"}, f.accounts.created)
	req.Len(aliceSink.received, 1)
	req.Equal(protocol.KindUserMap, aliceSink.received[0].Kind)
	req.Contains(aliceSink.received[0].UserMap[3], "carol")
}

func TestRouter_Delete_User_Cleans_Rooms_And_Session(t *testing.T) {
	req := require.New(t)
	alice := domain.User{ID: 1, Username: "alice"}
	bob := domain.User{ID: 2, Username: "bob"}
	root := domain.User{ID: 3, Username: "root", IsAdmin: true}
	f := newRouterFixture(alice, bob, root)
	ctx := context.Background()

	aliceSession, aliceSink := f.loggedIn(t, "alice")
	_, _ = f.loggedIn(t, "bob")
	rootSession, _ := f.loggedIn(t, "root")

	// Alice and Bob share a room
	resp := f.router.Handle(ctx, aliceSession, protocol.Envelope{Kind: protocol.KindCreateChatroom})
	roomID := resp.ToChatroomID
	f.router.Handle(ctx, rootSession, protocol.Envelope{
		Kind:         protocol.KindInviteUser,
		ToUserID:     2,
		ToChatroomID: roomID,
	})
	aliceSink.received = nil

	// When the admin deletes Bob
	resp = f.router.Handle(ctx, rootSession, protocol.Envelope{
		Kind:     protocol.KindDeleteUser,
		ToUserID: 2,
	})
	req.Equal(protocol.OutcomeSuccess, resp.Content)
	req.Equal([]domain.UserID{2}, f.accounts.deleted)

	// Then Bob's session is gone and Alice heard both removals
	_, ok := f.registry.Lookup(bob.ID)
	req.False(ok)
	kinds := make([]protocol.Kind, 0, len(aliceSink.received))
	for _, e := range aliceSink.received {
		kinds = append(kinds, e.Kind)
	}
	req.Contains(kinds, protocol.KindLeaveChatroom)
	req.Contains(kinds, protocol.KindUserMap)
}

type closableSink struct {
	recordingSink
	closed bool
}

func (s *closableSink) Close() { s.closed = true }

func TestRouter_Delete_User_Tears_Down_Live_Connection(t *testing.T) {
	req := require.New(t)
	bob := domain.User{ID: 1, Username: "bob"}
	root := domain.User{ID: 2, Username: "root", IsAdmin: true}
	f := newRouterFixture(bob, root)
	ctx := context.Background()

	// Given Bob connected through a closable transport sink
	bobSink := &closableSink{}
	bobSession := f.router.NewSession(bobSink)
	resp := f.router.Handle(ctx, bobSession, protocol.Envelope{
		Kind:         protocol.KindLogin,
		FromUserName: "bob",
		Password:     "secret",
	})
	req.Equal(protocol.OutcomeSuccess, resp.Content)

	rootSession, _ := f.loggedIn(t, "root")

	// When the admin deletes Bob
	resp = f.router.Handle(ctx, rootSession, protocol.Envelope{
		Kind:     protocol.KindDeleteUser,
		ToUserID: 1,
	})
	req.Equal(protocol.OutcomeSuccess, resp.Content)

	// Then Bob's connection is closed, not just unregistered
	req.True(bobSink.closed)
	_, ok := f.registry.Lookup(bob.ID)
	req.False(ok)
}

func TestRouter_Sequential_Broadcasts_Arrive_In_Send_Order(t *testing.T) {
	req := require.New(t)
	alice := domain.User{ID: 1, Username: "alice"}
	bob := domain.User{ID: 2, Username: "bob"}
	f := newRouterFixture(alice, bob)
	ctx := context.Background()

	aliceSession, aliceSink := f.loggedIn(t, "alice")
	bobSession, bobSink := f.loggedIn(t, "bob")

	resp := f.router.Handle(ctx, aliceSession, protocol.Envelope{Kind: protocol.KindCreateChatroom})
	roomID := resp.ToChatroomID
	resp = f.router.Handle(ctx, bobSession, protocol.Envelope{
		Kind:         protocol.KindJoinChatroom,
		ToChatroomID: roomID,
	})
	req.Equal(protocol.OutcomeSuccess, resp.Content)

	// When two messages are accepted one after the other
	for _, content := range []string{"first", "second"} {
		resp = f.router.Handle(ctx, aliceSession, protocol.Envelope{
			Kind:         protocol.KindRoomMessage,
			ToChatroomID: roomID,
			Content:      content,
		})
		req.Equal(protocol.OutcomeSuccess, resp.Content)
	}

	// Then every recipient sees them in acceptance order; the fan-out
	// joins before the next request is handled, so order holds end to end
	req.Len(bobSink.received, 2)
	req.Equal("first", bobSink.received[0].Content)
	req.Equal("second", bobSink.received[1].Content)

	req.Len(aliceSink.received, 3)
	req.Equal(protocol.KindJoinChatroom, aliceSink.received[0].Kind)
	req.Equal("first", aliceSink.received[1].Content)
	req.Equal("second", aliceSink.received[2].Content)
}

func TestRouter_Logout_Closes_Session(t *testing.T) {
	req := require.New(t)
	alice := domain.User{ID: 1, Username: "alice"}
	f := newRouterFixture(alice)
	ctx := context.Background()

	session, _ := f.loggedIn(t, "alice")

	resp := f.router.Handle(ctx, session, protocol.Envelope{Kind: protocol.KindLogout})

	req.Equal(protocol.OutcomeSuccess, resp.Content)
	req.Equal(StateClosed, session.State)
	req.Zero(f.registry.Len())

	// Further requests on the closed session are rejected
	resp = f.router.Handle(ctx, session, protocol.Envelope{Kind: protocol.KindCreateChatroom})
	req.Equal(protocol.OutcomeError, resp.Content)
}

func TestRouter_Unknown_Kind_Is_Rejected(t *testing.T) {
	req := require.New(t)
	alice := domain.User{ID: 1, Username: "alice"}
	f := newRouterFixture(alice)

	session, _ := f.loggedIn(t, "alice")
	resp := f.router.Handle(context.Background(), session, protocol.Envelope{Kind: protocol.Kind("frobnicate")})

	req.Equal(protocol.OutcomeError, resp.Content)
}

func TestRouter_Chatroom_Log_Replay(t *testing.T) {
	req := require.New(t)
	alice := domain.User{ID: 1, Username: "alice"}
	f := newRouterFixture(alice)
	ctx := context.Background()

	session, _ := f.loggedIn(t, "alice")
	resp := f.router.Handle(ctx, session, protocol.Envelope{Kind: protocol.KindCreateChatroom})
	roomID := resp.ToChatroomID

	f.router.Handle(ctx, session, protocol.Envelope{
		Kind:         protocol.KindRoomMessage,
		ToChatroomID: roomID,
		Content:      "first",
	})

	resp = f.router.Handle(ctx, session, protocol.Envelope{
		Kind:         protocol.KindChatroomLog,
		ToChatroomID: roomID,
	})

	req.Equal(protocol.OutcomeSuccess, resp.Content)
	req.Len(resp.Messages, 1)
	req.Equal("first", resp.Messages[0].Content)

	// An unknown room is a not-found error
	resp = f.router.Handle(ctx, session, protocol.Envelope{
		Kind:         protocol.KindChatroomLog,
		ToChatroomID: 999,
	})
	req.Equal(protocol.OutcomeError, resp.Content)
}
