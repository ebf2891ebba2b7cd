package synthesis

import (
	"fmt"
	"sync"
)

// Accounting tracks sentences submitted against sentences whose byte stream
// has finished. The reply is complete once input is closed and both
// counters are equal.
type Accounting struct {
	mu          sync.Mutex
	sent        int
	finished    int
	inputClosed bool
}

// MarkSent records one submitted sentence.
func (a *Accounting) MarkSent() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent++
	return a.sent
}

// MarkFinished records one finished sentence. A finish without a matching
// submission is a protocol violation and is not counted.
func (a *Accounting) MarkFinished() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.finished >= a.sent {
		return fmt.Errorf("%w: finished-byte-stream without pending sentence (sent=%d finished=%d)",
			ErrStreamError, a.sent, a.finished)
	}
	a.finished++
	return nil
}

// CloseInput declares that no more sentences will be submitted.
func (a *Accounting) CloseInput() {
	a.mu.Lock()
	a.inputClosed = true
	a.mu.Unlock()
}

// Complete reports whether the whole reply has been received.
func (a *Accounting) Complete() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inputClosed && a.sent == a.finished
}

// Snapshot returns the current counters.
func (a *Accounting) Snapshot() (sent, finished int, inputClosed bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sent, a.finished, a.inputClosed
}

func (a *Accounting) Reset() {
	a.mu.Lock()
	a.sent, a.finished, a.inputClosed = 0, 0, false
	a.mu.Unlock()
}
