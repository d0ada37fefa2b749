package errors

import "fmt"

// Request-level failures. These resolve into an "Error" outcome returned to
// the requester and never affect other connections.
var (
	ErrValidation     = fmt.Errorf("invalid request")
	ErrNotLoggedIn    = fmt.Errorf("not authenticated")
	ErrAdminRequired  = fmt.Errorf("admin privileges required")
	ErrChatroomExists = fmt.Errorf("chatroom already exists")

	ErrChatroomNotFound = fmt.Errorf("chatroom not found")
	ErrUserNotFound     = fmt.Errorf("user not found")
	ErrAlreadyMember    = fmt.Errorf("already a member of this chatroom")
)

// Account and credential failures.
var (
	ErrInvalidCredentials = fmt.Errorf("invalid credentials")
	ErrInvalidPassword    = fmt.Errorf("password does not meet complexity rules")
	ErrUserAlreadyExists  = fmt.Errorf("user already exists")
	ErrTokenGeneration    = fmt.Errorf("token generation failed")
)

// Delivery and transport failures. Delivery errors are per recipient and
// never surface to the requester; transport errors tear down one session.
var (
	ErrUnreachable = fmt.Errorf("recipient unreachable")
	ErrSinkClosed  = fmt.Errorf("session sink closed")
)

var ErrWorkerPanic = fmt.Errorf("worker panic")

var ErrEmptyWords = fmt.Errorf("no censored words loaded")
