// Package domain contains core concepts of the chat system.
// No runtime, network, or UI logic should be added here.
package domain

import "time"

type UserID int

// User is the identity attached to a session once authenticated.
// The account store owns the ID; it is assigned once at creation.
type User struct {
	ID        UserID
	Username  string
	IsAdmin   bool
	CreatedAt time.Time
}
