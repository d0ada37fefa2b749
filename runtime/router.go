package runtime

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"wediscuss/contract"
	"wediscuss/domain"
	"wediscuss/errors"
	"wediscuss/moderation"
	"wediscuss/protocol"
)

// SessionState is the per-connection protocol state. Only login-kind
// envelopes are accepted while unauthenticated; everything else is accepted
// until logout or channel failure closes the session.
type SessionState int

const (
	StateUnauthenticated SessionState = iota
	StateAuthenticated
	StateClosed
)

// Session is one connection's view of the protocol: its state, the
// authenticated identity, and the outbound sink the registry delivers to.
type Session struct {
	State SessionState
	User  domain.User
	Sink  contract.Sink
}

// Router validates inbound envelopes, invokes directory/registry/account
// operations, and decides the outbound fan-out. Every accepted request
// yields exactly one direct response; broadcasts happen zero or more times
// and never change the response. Validation failures short-circuit before
// any mutation.
type Router struct {
	registry  contract.Registry
	directory *Directory
	accounts  contract.Accounts
	logs      contract.MessageLog
	fanout    *Fanout
	moderator *moderation.Moderator
	handlers  map[protocol.Kind]handlerFunc
	log       *slog.Logger
}

type handlerFunc func(ctx context.Context, s *Session, req protocol.Envelope) protocol.Envelope

// NewRouter wires the dispatch table. The moderator may be nil, which
// disables censoring of chatroom messages.
func NewRouter(
	log *slog.Logger,
	registry contract.Registry,
	directory *Directory,
	accounts contract.Accounts,
	logs contract.MessageLog,
	fanout *Fanout,
	moderator *moderation.Moderator,
) *Router {
	r := &Router{
		registry:  registry,
		directory: directory,
		accounts:  accounts,
		logs:      logs,
		fanout:    fanout,
		moderator: moderator,
		log:       log,
	}
	r.handlers = map[protocol.Kind]handlerFunc{
		protocol.KindLogout:         r.handleLogout,
		protocol.KindAddUser:        r.handleAddUser,
		protocol.KindDeleteUser:     r.handleDeleteUser,
		protocol.KindChangePassword: r.handleChangePassword,
		protocol.KindUserLog:        r.handleUserLog,
		protocol.KindChatroomLog:    r.handleChatroomLog,
		protocol.KindCreateChatroom: r.handleCreateChatroom,
		protocol.KindInviteUser:     r.handleInviteUser,
		protocol.KindJoinChatroom:   r.handleJoinChatroom,
		protocol.KindLeaveChatroom:  r.handleLeaveChatroom,
		protocol.KindUserMessage:    r.handleUserMessage,
		protocol.KindRoomMessage:    r.handleRoomMessage,
		protocol.KindChatroomMap:    r.handleDeleteChatroom,
	}
	return r
}

func (r *Router) NewSession(sink contract.Sink) *Session {
	return &Session{State: StateUnauthenticated, Sink: sink}
}

// Handle processes one inbound envelope and returns the direct response.
// The caller (the transport) is responsible for writing the response to the
// session's own channel; broadcasts are delivered here via fan-out.
func (r *Router) Handle(ctx context.Context, s *Session, req protocol.Envelope) protocol.Envelope {
	if s.State == StateClosed {
		return errorResponse(req.Kind, "session closed")
	}

	if s.State == StateUnauthenticated {
		if req.Kind != protocol.KindLogin {
			return errorResponse(req.Kind, "login required")
		}
		return r.handleLogin(ctx, s, req)
	}

	if req.Kind == protocol.KindLogin {
		return errorResponse(req.Kind, "already logged in")
	}

	handler, ok := r.handlers[req.Kind]
	if !ok {
		return errorResponse(req.Kind, "unknown request kind")
	}
	return handler(ctx, s, req)
}

// Close tears a session down after a transport failure or logout. The
// registry entry is removed; chatroom memberships are left intact so the
// user stays a member of its rooms while offline.
func (r *Router) Close(s *Session) {
	if s.State == StateAuthenticated {
		r.registry.Unregister(s.User.ID, s.Sink)
	}
	s.State = StateClosed
}

func (r *Router) handleLogin(_ context.Context, s *Session, req protocol.Envelope) protocol.Envelope {
	if req.FromUserName == "" || req.Password == "" {
		return errorResponse(protocol.KindLogin, "missing credentials")
	}

	user, token, err := r.accounts.Authenticate(req.FromUserName, req.Password)
	if err != nil {
		r.log.Info("login rejected", "username", req.FromUserName, "error", err)
		return errorResponse(protocol.KindLogin, errors.ErrInvalidCredentials.Error())
	}

	r.registry.Register(user.ID, s.Sink)
	s.State = StateAuthenticated
	s.User = user

	userMap, err := r.accounts.All()
	if err != nil {
		r.log.Error("user map load failed", "error", err)
	}

	r.log.Info("user logged in", "user_id", user.ID, "username", user.Username)
	return protocol.Envelope{
		Kind:         protocol.KindLogin,
		Content:      protocol.OutcomeSuccess,
		FromUserID:   int(user.ID),
		FromUserName: user.Username,
		Token:        token,
		UserMap:      toWireUserMap(userMap),
		ChatroomIDs:  lo.Map(r.directory.IDs(), func(id domain.ChatroomID, _ int) int { return int(id) }),
	}
}

func (r *Router) handleLogout(_ context.Context, s *Session, _ protocol.Envelope) protocol.Envelope {
	r.log.Info("user logged out", "user_id", s.User.ID)
	r.Close(s)
	return successResponse(protocol.KindLogout)
}

func (r *Router) handleAddUser(ctx context.Context, s *Session, req protocol.Envelope) protocol.Envelope {
	if !s.User.IsAdmin {
		return errorResponse(protocol.KindAddUser, errors.ErrAdminRequired.Error())
	}
	if req.TargetName == "" || req.Password == "" {
		return errorResponse(protocol.KindAddUser, "missing username or password")
	}

	user, err := r.accounts.Create(req.TargetName, req.Password)
	if err != nil {
		return errorResponse(protocol.KindAddUser, err.Error())
	}

	r.broadcastUserMap(ctx, protocol.OutcomeAdd, user.ID)

	resp := successResponse(protocol.KindAddUser)
	resp.ToUserID = int(user.ID)
	resp.TargetName = user.Username
	return resp
}

func (r *Router) handleDeleteUser(ctx context.Context, s *Session, req protocol.Envelope) protocol.Envelope {
	if !s.User.IsAdmin {
		return errorResponse(protocol.KindDeleteUser, errors.ErrAdminRequired.Error())
	}
	if req.ToUserID <= 0 {
		return errorResponse(protocol.KindDeleteUser, "missing target user")
	}

	target := domain.UserID(req.ToUserID)
	if err := r.accounts.Delete(target); err != nil {
		return errorResponse(protocol.KindDeleteUser, err.Error())
	}

	// Strip the account from every room, telling the members left behind.
	// The deleted user is never part of these audiences.
	for roomID, remaining := range r.directory.RemoveUserFromAllRooms(target) {
		r.fanout.Broadcast(ctx, remaining, protocol.Envelope{
			Kind:         protocol.KindLeaveChatroom,
			Content:      protocol.OutcomeRemove,
			ToUserID:     int(target),
			ToChatroomID: int(roomID),
		})
	}

	// Tear the deleted account's live connection down as well; a session
	// without an account must not keep issuing requests.
	if sink, ok := r.registry.Lookup(target); ok {
		r.registry.Unregister(target, sink)
		if closer, ok := sink.(interface{ Close() }); ok {
			closer.Close()
		}
	}
	r.broadcastUserMap(ctx, protocol.OutcomeRemove, target)

	r.log.Info("user deleted", "user_id", target, "by", s.User.ID)
	return successResponse(protocol.KindDeleteUser)
}

func (r *Router) handleChangePassword(_ context.Context, s *Session, req protocol.Envelope) protocol.Envelope {
	if req.Password == "" {
		return errorResponse(protocol.KindChangePassword, "missing new password")
	}
	if err := r.accounts.ChangePassword(s.User.ID, req.Password); err != nil {
		return errorResponse(protocol.KindChangePassword, err.Error())
	}
	return successResponse(protocol.KindChangePassword)
}

func (r *Router) handleUserLog(_ context.Context, s *Session, req protocol.Envelope) protocol.Envelope {
	// Admins may fetch any user's log; everyone else gets their own.
	target := s.User.ID
	if s.User.IsAdmin && req.ToUserID > 0 {
		target = domain.UserID(req.ToUserID)
	}

	cursor := cursorOf(req)
	messages, next, err := r.logs.UserLog(target, cursor)
	if err != nil {
		r.log.Error("user log fetch failed", "user_id", target, "error", err)
		return errorResponse(protocol.KindUserLog, "log unavailable")
	}

	resp := successResponse(protocol.KindUserLog)
	resp.ToUserID = int(target)
	resp.Messages = protocol.RecordsOf(messages)
	if next != nil {
		resp.Cursor = *next
	}
	return resp
}

func (r *Router) handleChatroomLog(_ context.Context, _ *Session, req protocol.Envelope) protocol.Envelope {
	if req.ToChatroomID <= 0 {
		return errorResponse(protocol.KindChatroomLog, "missing chatroom id")
	}
	roomID := domain.ChatroomID(req.ToChatroomID)
	if _, err := r.directory.Get(roomID); err != nil {
		return errorResponse(protocol.KindChatroomLog, errors.ErrChatroomNotFound.Error())
	}

	cursor := cursorOf(req)
	messages, next, err := r.logs.RoomLog(roomID, cursor)
	if err != nil {
		r.log.Error("chatroom log fetch failed", "chatroom_id", roomID, "error", err)
		return errorResponse(protocol.KindChatroomLog, "log unavailable")
	}

	resp := successResponse(protocol.KindChatroomLog)
	resp.ToChatroomID = req.ToChatroomID
	resp.Messages = protocol.RecordsOf(messages)
	if next != nil {
		resp.Cursor = *next
	}
	return resp
}

func (r *Router) handleCreateChatroom(_ context.Context, s *Session, _ protocol.Envelope) protocol.Envelope {
	room := r.directory.Create(s.User.ID)

	resp := successResponse(protocol.KindCreateChatroom)
	resp.ToChatroomID = int(room.ID)
	resp.Chatroom = protocol.SnapshotOf(room)
	return resp
}

func (r *Router) handleJoinChatroom(ctx context.Context, s *Session, req protocol.Envelope) protocol.Envelope {
	if req.ToChatroomID <= 0 {
		return errorResponse(protocol.KindJoinChatroom, "missing chatroom id")
	}

	room, prior, err := r.directory.Join(domain.ChatroomID(req.ToChatroomID), s.User.ID)
	if err != nil {
		return errorResponse(protocol.KindJoinChatroom, err.Error())
	}

	// Pre-existing members learn about the join; the joiner itself gets the
	// room snapshot only in the direct response.
	r.fanout.Broadcast(ctx, prior, protocol.Envelope{
		Kind:         protocol.KindJoinChatroom,
		Content:      protocol.OutcomeAdd,
		FromUserID:   int(s.User.ID),
		FromUserName: s.User.Username,
		ToChatroomID: req.ToChatroomID,
	})

	resp := successResponse(protocol.KindJoinChatroom)
	resp.ToChatroomID = req.ToChatroomID
	resp.Chatroom = protocol.SnapshotOf(room)
	return resp
}

func (r *Router) handleInviteUser(ctx context.Context, s *Session, req protocol.Envelope) protocol.Envelope {
	if req.ToChatroomID <= 0 || req.ToUserID <= 0 {
		return errorResponse(protocol.KindInviteUser, "missing chatroom or user id")
	}

	invited := domain.UserID(req.ToUserID)
	if _, err := r.accounts.Resolve(invited); err != nil {
		return errorResponse(protocol.KindInviteUser, errors.ErrUserNotFound.Error())
	}

	room, prior, err := r.directory.Invite(domain.ChatroomID(req.ToChatroomID), invited)
	if err != nil {
		return errorResponse(protocol.KindInviteUser, err.Error())
	}

	r.fanout.Broadcast(ctx, prior, protocol.Envelope{
		Kind:         protocol.KindInviteUser,
		Content:      protocol.OutcomeAdd,
		FromUserID:   int(invited),
		ToChatroomID: req.ToChatroomID,
	})

	// The invited user was not in the audience above; hand them the room
	// snapshot directly if they are online.
	if err := r.registry.Deliver(ctx, invited, protocol.Envelope{
		Kind:         protocol.KindInviteUser,
		Content:      protocol.OutcomeAdd,
		FromUserID:   int(s.User.ID),
		ToChatroomID: req.ToChatroomID,
		Chatroom:     protocol.SnapshotOf(room),
	}); err != nil {
		r.log.Debug("invited user offline", "user_id", invited)
	}

	resp := successResponse(protocol.KindInviteUser)
	resp.ToChatroomID = req.ToChatroomID
	resp.Chatroom = protocol.SnapshotOf(room)
	return resp
}

func (r *Router) handleLeaveChatroom(ctx context.Context, s *Session, req protocol.Envelope) protocol.Envelope {
	if req.ToChatroomID <= 0 {
		return errorResponse(protocol.KindLeaveChatroom, "missing chatroom id")
	}

	remaining, err := r.directory.Leave(domain.ChatroomID(req.ToChatroomID), s.User.ID)
	if err != nil {
		return errorResponse(protocol.KindLeaveChatroom, err.Error())
	}

	r.fanout.Broadcast(ctx, remaining, protocol.Envelope{
		Kind:         protocol.KindLeaveChatroom,
		Content:      protocol.OutcomeRemove,
		ToUserID:     int(s.User.ID),
		ToChatroomID: req.ToChatroomID,
	})

	resp := successResponse(protocol.KindLeaveChatroom)
	resp.ToChatroomID = req.ToChatroomID
	return resp
}

// handleDeleteChatroom services the explicit delete request, which arrives
// as a chatroom-map update with a Remove outcome; members receive the same
// kind back so their room lists stay in sync.
func (r *Router) handleDeleteChatroom(ctx context.Context, s *Session, req protocol.Envelope) protocol.Envelope {
	if req.ToChatroomID <= 0 || req.Content != protocol.OutcomeRemove {
		return errorResponse(protocol.KindChatroomMap, "missing chatroom id or outcome")
	}

	members, err := r.directory.Delete(domain.ChatroomID(req.ToChatroomID))
	if err != nil {
		return errorResponse(protocol.KindChatroomMap, err.Error())
	}

	r.fanout.Broadcast(ctx, members, protocol.Envelope{
		Kind:         protocol.KindChatroomMap,
		Content:      protocol.OutcomeRemove,
		ToChatroomID: req.ToChatroomID,
	})

	r.log.Info("chatroom deleted", "chatroom_id", req.ToChatroomID, "by", s.User.ID)
	resp := successResponse(protocol.KindChatroomMap)
	resp.ToChatroomID = req.ToChatroomID
	return resp
}

func (r *Router) handleUserMessage(ctx context.Context, s *Session, req protocol.Envelope) protocol.Envelope {
	if req.ToUserID <= 0 || req.Content == "" {
		return errorResponse(protocol.KindUserMessage, "missing recipient or content")
	}

	to := domain.UserID(req.ToUserID)
	if _, err := r.accounts.Resolve(to); err != nil {
		return errorResponse(protocol.KindUserMessage, errors.ErrUserNotFound.Error())
	}

	message := domain.Message{
		ID:        uuid.New(),
		From:      s.User.ID,
		FromName:  s.User.Username,
		To:        to,
		Content:   req.Content,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.logs.StoreDirectMessage(message); err != nil {
		r.log.Error("direct message store failed", "error", err)
	}

	// An offline recipient is a delivery failure, not a request failure;
	// the message is already in the log.
	if err := r.registry.Deliver(ctx, to, protocol.Envelope{
		Kind:         protocol.KindUserMessage,
		FromUserID:   int(s.User.ID),
		FromUserName: s.User.Username,
		ToUserID:     req.ToUserID,
		Content:      req.Content,
	}); err != nil {
		r.log.Debug("direct message recipient unreachable", "user_id", to)
	}

	return successResponse(protocol.KindUserMessage)
}

func (r *Router) handleRoomMessage(ctx context.Context, s *Session, req protocol.Envelope) protocol.Envelope {
	if req.ToChatroomID <= 0 || req.Content == "" {
		return errorResponse(protocol.KindRoomMessage, "missing chatroom id or content")
	}

	content := req.Content
	if r.moderator != nil {
		content, _ = r.moderator.Censor(content)
	}

	roomID := domain.ChatroomID(req.ToChatroomID)
	message := domain.Message{
		ID:        uuid.New(),
		Room:      roomID,
		From:      s.User.ID,
		FromName:  s.User.Username,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}

	members, err := r.directory.Record(roomID, message)
	if err != nil {
		return errorResponse(protocol.KindRoomMessage, err.Error())
	}
	if err := r.logs.StoreRoomMessage(message); err != nil {
		r.log.Error("chatroom message store failed", "error", err)
	}

	// Every current member receives the message, the sender included: the
	// echo is the client's single source of truth for ordering.
	r.fanout.Broadcast(ctx, members, protocol.Envelope{
		Kind:         protocol.KindRoomMessage,
		FromUserID:   int(s.User.ID),
		FromUserName: s.User.Username,
		ToChatroomID: req.ToChatroomID,
		Content:      content,
	})

	return successResponse(protocol.KindRoomMessage)
}

func (r *Router) broadcastUserMap(ctx context.Context, outcome string, changed domain.UserID) {
	userMap, err := r.accounts.All()
	if err != nil {
		r.log.Error("user map load failed", "error", err)
		return
	}
	r.fanout.Broadcast(ctx, r.registry.ConnectedIDs(), protocol.Envelope{
		Kind:     protocol.KindUserMap,
		Content:  outcome,
		ToUserID: int(changed),
		UserMap:  toWireUserMap(userMap),
	})
}

func successResponse(kind protocol.Kind) protocol.Envelope {
	return protocol.Envelope{Kind: kind, Content: protocol.OutcomeSuccess}
}

func errorResponse(kind protocol.Kind, detail string) protocol.Envelope {
	return protocol.Envelope{Kind: kind, Content: protocol.OutcomeError, Detail: detail}
}

func cursorOf(req protocol.Envelope) *string {
	if req.Cursor == "" {
		return nil
	}
	return &req.Cursor
}

func toWireUserMap(in map[domain.UserID]string) map[int]string {
	out := make(map[int]string, len(in))
	for id, name := range in {
		out[int(id)] = name
	}
	return out
}
