package contract

import (
	"context"
	"reflect"

	"wediscuss/domain"
	"wediscuss/protocol"
)

// Sink is one session's outbound channel. Consume enqueues an envelope for
// delivery; it must respect ctx so a slow consumer cannot stall a caller
// past the configured delivery timeout.
type Sink interface {
	Consume(ctx context.Context, e protocol.Envelope) error
}

// Registry is the directory of live sessions: the only place that knows
// which users are currently reachable.
type Registry interface {
	Register(userID domain.UserID, sink Sink)
	Unregister(userID domain.UserID, sink Sink)
	Lookup(userID domain.UserID) (Sink, bool)
	Deliver(ctx context.Context, userID domain.UserID, e protocol.Envelope) error
	ConnectedIDs() []domain.UserID
}

// Accounts is the user/credential collaborator. The router treats it as an
// opaque service; the concrete implementation lives in services.
type Accounts interface {
	Authenticate(username, password string) (domain.User, string, error)
	Create(username, password string) (domain.User, error)
	Delete(userID domain.UserID) error
	ChangePassword(userID domain.UserID, newPassword string) error
	Resolve(userID domain.UserID) (domain.User, error)
	All() (map[domain.UserID]string, error)
}

// MessageLog persists delivered messages for later replay.
type MessageLog interface {
	StoreRoomMessage(message domain.Message) error
	StoreDirectMessage(message domain.Message) error
	RoomLog(roomID domain.ChatroomID, cursor *string) ([]domain.Message, *string, error)
	UserLog(userID domain.UserID, cursor *string) ([]domain.Message, *string, error)
}

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself; the supervisor recovers its panics.
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker,
// avoiding manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}
