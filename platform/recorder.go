package platform

import (
	"context"
	"sync"
)

// Recorder is an in-memory Caller for tests. It records every call and
// answers sends with synthetic messages.
type Recorder struct {
	mu     sync.Mutex
	calls  []Call
	sent   []*Message
	fail   map[string]error
	nextID int64
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		fail:   make(map[string]error),
		nextID: 9000,
	}
}

// FailOn makes every call to method return err. A nil err clears it.
func (r *Recorder) FailOn(method string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.fail, method)
		return
	}
	r.fail[method] = err
}

// Call records call.
func (r *Recorder) Call(ctx context.Context, call Call) (*Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
	if err := r.fail[call.Method]; err != nil {
		return nil, err
	}
	r.nextID++
	msg := sentMessage(call, r.nextID)
	if msg != nil {
		r.sent = append(r.sent, msg)
	}
	return msg, nil
}

// Sent returns the messages produced by successful sends, oldest first.
func (r *Recorder) Sent() []*Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Message(nil), r.sent...)
}

// Calls returns a copy of every recorded call.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Method returns the recorded calls to method.
func (r *Recorder) Method(method string) []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Call
	for _, c := range r.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// Reset forgets recorded calls.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
	r.sent = nil
}

var _ Caller = (*Recorder)(nil)
