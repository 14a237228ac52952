// Package approval routes pending runtime approval requests to the conversation
// thread that owns them. Decisions are surfaced per thread in arrival order.
package approval

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Request is an approval the runtime is blocked on.
type Request struct {
	ID       int
	ThreadID uuid.UUID
	Method   string
	Kind     string
	Detail   string
}

// Router maps request ids to owning threads. Safe for concurrent use.
type Router struct {
	mu       sync.Mutex
	byThread map[uuid.UUID][]Request
	owner    map[int]uuid.UUID
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{
		byThread: make(map[uuid.UUID][]Request),
		owner:    make(map[int]uuid.UUID),
	}
}

// Enqueue appends req to thread's queue. A request id that is already tracked
// is ignored. Returns true if the request was added.
func (r *Router) Enqueue(req Request, thread uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.owner[req.ID]; exists {
		return false
	}
	req.ThreadID = thread
	r.byThread[thread] = append(r.byThread[thread], req)
	r.owner[req.ID] = thread
	return true
}

// Resolve removes the request and returns its owning thread. Unknown ids
// return false.
func (r *Router) Resolve(requestID int) (uuid.UUID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	thread, ok := r.owner[requestID]
	if !ok {
		return uuid.Nil, false
	}
	delete(r.owner, requestID)

	queue := r.byThread[thread]
	for i, req := range queue {
		if req.ID == requestID {
			queue = append(queue[:i:i], queue[i+1:]...)
			break
		}
	}
	if len(queue) == 0 {
		delete(r.byThread, thread)
	} else {
		r.byThread[thread] = queue
	}
	return thread, true
}

// PendingRequest returns the oldest request for thread.
func (r *Router) PendingRequest(thread uuid.UUID) (Request, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	queue := r.byThread[thread]
	if len(queue) == 0 {
		return Request{}, false
	}
	return queue[0], true
}

// FirstPendingRequest returns the oldest request of the thread whose id sorts
// first.
func (r *Router) FirstPendingRequest() (Request, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	threads := r.sortedThreads()
	if len(threads) == 0 {
		return Request{}, false
	}
	return r.byThread[threads[0]][0], true
}

// ThreadID returns the owner of requestID.
func (r *Router) ThreadID(requestID int) (uuid.UUID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	thread, ok := r.owner[requestID]
	return thread, ok
}

// Lookup returns the tracked request with requestID.
func (r *Router) Lookup(requestID int) (Request, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	thread, ok := r.owner[requestID]
	if !ok {
		return Request{}, false
	}
	for _, req := range r.byThread[thread] {
		if req.ID == requestID {
			return req, true
		}
	}
	return Request{}, false
}

// HasPending reports whether thread has undecided requests.
func (r *Router) HasPending(thread uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byThread[thread]) > 0
}

// PendingThreadIDs lists threads with pending requests, sorted.
func (r *Router) PendingThreadIDs() []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sortedThreads()
}

// Count returns the number of tracked requests.
func (r *Router) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.owner)
}

// Clear drops all state, e.g. on logout.
func (r *Router) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byThread = make(map[uuid.UUID][]Request)
	r.owner = make(map[int]uuid.UUID)
}

func (r *Router) sortedThreads() []uuid.UUID {
	threads := make([]uuid.UUID, 0, len(r.byThread))
	for thread := range r.byThread {
		threads = append(threads, thread)
	}
	sort.Slice(threads, func(i, j int) bool {
		return threads[i].String() < threads[j].String()
	})
	return threads
}
