// Package scheduler implements the end-of-tick scheduler: a
// process-wide queue of open files ordered by next-tick deadline,
// fired from library entry/exit hooks rather than a background
// goroutine.
package scheduler

import (
	"container/list"
	"sync"
	"time"

	"github.com/tickfile/vfdswmr/internal/logging"
)

// Role identifies which tick-controller variant a queue entry drives.
type Role string

const (
	RoleWriter Role = "writer"
	RoleReader Role = "reader"
)

// Controller is the per-file tick controller the scheduler drives.
// EndOfTick performs one end-of-tick cycle and returns the next
// deadline at which it should run again; a non-nil error means the
// controller is not re-enqueued (the caller surfaces the error and
// the file handle is expected to close).
type Controller interface {
	EndOfTick(now time.Time) (nextDeadline time.Time, err error)
	Role() Role
	FileID() string
	TickNum() uint64
}

// entry is one node of the scheduler's sorted queue.
type entry struct {
	ctrl     Controller
	deadline time.Time
}

// Queue is a process-wide, ascending-deadline sorted queue of open
// files, backed by container/list in the same idiom the host page
// buffer's LRU uses for its own linked structures. Unlike that
// example, the queue is driven synchronously from API entry/exit — no
// goroutine touches it concurrently — but the mutex still guards
// against an embedding host driving entry/exit from multiple threads.
type Queue struct {
	mu           sync.Mutex
	list         *list.List
	byController map[Controller]*list.Element
	entryCount   int
}

// NewQueue returns an empty scheduler queue. Most callers should use
// the process-wide Default queue instead of constructing their own,
// but an explicit Queue is useful for isolating tests.
func NewQueue() *Queue {
	return &Queue{
		list:         list.New(),
		byController: make(map[Controller]*list.Element),
	}
}

// Default is the process-wide scheduler queue. No separate summary of
// the head's role or deadline is cached; Head reads the front of the
// queue under the lock on every call.
var Default = NewQueue()

// Insert adds ctrl to the queue at the given deadline, in ascending
// deadline order. O(n) search, acceptable because n is the number of
// open files in the process.
func (q *Queue) Insert(ctrl Controller, deadline time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.insertLocked(ctrl, deadline)
}

func (q *Queue) insertLocked(ctrl Controller, deadline time.Time) {
	e := entry{ctrl: ctrl, deadline: deadline}

	for el := q.list.Back(); el != nil; el = el.Prev() {
		if el.Value.(entry).deadline.Before(deadline) || el.Value.(entry).deadline.Equal(deadline) {
			inserted := q.list.InsertAfter(e, el)
			q.byController[ctrl] = inserted
			return
		}
	}
	inserted := q.list.PushFront(e)
	q.byController[ctrl] = inserted
}

// Remove unlinks ctrl from the queue, if present.
func (q *Queue) Remove(ctrl Controller) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.removeLocked(ctrl)
}

func (q *Queue) removeLocked(ctrl Controller) {
	if el, ok := q.byController[ctrl]; ok {
		q.list.Remove(el)
		delete(q.byController, ctrl)
	}
}

// Head returns the controller with the earliest deadline, and that
// deadline, or false if the queue is empty.
func (q *Queue) Head() (Controller, time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.headLocked()
}

func (q *Queue) headLocked() (Controller, time.Time, bool) {
	front := q.list.Front()
	if front == nil {
		return nil, time.Time{}, false
	}
	e := front.Value.(entry)
	return e.ctrl, e.deadline, true
}

// Len returns the number of queued controllers.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.list.Len()
}

// fire repeatedly runs the head controller's EndOfTick while its
// deadline has passed, re-inserting it at the returned next deadline.
func (q *Queue) fire(now time.Time) {
	for {
		q.mu.Lock()
		ctrl, deadline, ok := q.headLocked()
		if !ok || now.Before(deadline) {
			q.mu.Unlock()
			return
		}
		q.removeLocked(ctrl)
		q.mu.Unlock()

		logging.SchedulerFired(ctrl.FileID(), string(ctrl.Role()), ctrl.TickNum())
		next, err := ctrl.EndOfTick(now)
		if err != nil {
			logging.Error("tick controller failed", "file_id", ctrl.FileID(), "role", ctrl.Role(), "error", err.Error())
			continue
		}

		q.mu.Lock()
		q.insertLocked(ctrl, next)
		q.mu.Unlock()
	}
}

// OnAPIEntry marks one more API call in flight; on the 0→1 transition
// it fires all due controllers.
func (q *Queue) OnAPIEntry(now time.Time) {
	q.mu.Lock()
	q.entryCount++
	transitioned := q.entryCount == 1
	q.mu.Unlock()

	if transitioned {
		q.fire(now)
	}
}

// OnAPIExit marks one fewer API call in flight; on the 1→0 transition
// it fires all due controllers.
func (q *Queue) OnAPIExit(now time.Time) {
	q.mu.Lock()
	q.entryCount--
	transitioned := q.entryCount == 0
	q.mu.Unlock()

	if transitioned {
		q.fire(now)
	}
}
