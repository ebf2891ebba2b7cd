package transcribe

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// PendingRequest is an outstanding transcription that can be aborted.
type PendingRequest struct {
	ID         string
	SegmentSeq uint64

	ctx       context.Context
	cancel    context.CancelFunc
	mu        sync.Mutex
	cancelled bool
}

// Context is cancelled when the request is aborted.
func (p *PendingRequest) Context() context.Context {
	return p.ctx
}

// Cancelled reports whether the request was aborted. A cancelled request's
// result must be ignored even if it completed successfully.
func (p *PendingRequest) Cancelled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancelled
}

func (p *PendingRequest) abort() {
	p.mu.Lock()
	p.cancelled = true
	p.mu.Unlock()
	p.cancel()
}

// Registry tracks in-flight transcription requests so that barge-in can
// abort all of them at once.
type Registry struct {
	mu      sync.Mutex
	pending map[string]*PendingRequest
}

func NewRegistry() *Registry {
	return &Registry{pending: make(map[string]*PendingRequest)}
}

// Register creates a cancellable request derived from parent.
func (r *Registry) Register(parent context.Context, segmentSeq uint64) *PendingRequest {
	ctx, cancel := context.WithCancel(parent)
	req := &PendingRequest{
		ID:         uuid.New().String(),
		SegmentSeq: segmentSeq,
		ctx:        ctx,
		cancel:     cancel,
	}

	r.mu.Lock()
	r.pending[req.ID] = req
	r.mu.Unlock()
	return req
}

// Complete removes a finished request and releases its context.
func (r *Registry) Complete(req *PendingRequest) {
	r.mu.Lock()
	delete(r.pending, req.ID)
	r.mu.Unlock()
	req.cancel()
}

// CancelAll aborts every outstanding request and returns how many there
// were.
func (r *Registry) CancelAll() int {
	r.mu.Lock()
	reqs := make([]*PendingRequest, 0, len(r.pending))
	for id, req := range r.pending {
		reqs = append(reqs, req)
		delete(r.pending, id)
	}
	r.mu.Unlock()

	for _, req := range reqs {
		req.abort()
	}
	return len(reqs)
}

// Len returns the number of outstanding requests.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
