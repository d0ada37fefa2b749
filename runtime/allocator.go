package runtime

import (
	"sync/atomic"

	"wediscuss/domain"
)

// IDAllocator hands out chatroom IDs. IDs are strictly increasing and never
// reused, even under concurrent creators: allocation is a single atomic
// increment-and-read, never a plain read-modify-write on a shared integer.
type IDAllocator struct {
	last atomic.Int64
}

func NewIDAllocator() *IDAllocator {
	return &IDAllocator{}
}

func (a *IDAllocator) Next() domain.ChatroomID {
	return domain.ChatroomID(a.last.Add(1))
}

// Seed raises the allocation floor to at least id. Used while loading the
// bootstrap file so restored IDs are never handed out again.
func (a *IDAllocator) Seed(id domain.ChatroomID) {
	for {
		current := a.last.Load()
		if int64(id) <= current {
			return
		}
		if a.last.CompareAndSwap(current, int64(id)) {
			return
		}
	}
}

func (a *IDAllocator) Last() domain.ChatroomID {
	return domain.ChatroomID(a.last.Load())
}
