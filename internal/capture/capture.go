// Package capture is the boundary with the voice-activity detector. The
// detector is a black box that reports start of speech and hands over the
// buffered speech when it ends.
package capture

import (
	"sync/atomic"
	"time"
)

// Listener receives detector events. SpeechEnd without a preceding
// SpeechStart must be tolerated.
type Listener interface {
	SpeechStart()
	SpeechEnd(samples []float32, sampleRate int)
}

// Segment is one immutable captured utterance. It is consumed exactly once
// by transcription and discarded afterwards.
type Segment struct {
	Seq        uint64
	Samples    []float32
	SampleRate int
	CapturedAt time.Time
}

// Duration is the length of the captured audio.
func (s Segment) Duration() time.Duration {
	if s.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(s.Samples)) * time.Second / time.Duration(s.SampleRate)
}

// Sequencer hands out monotonically increasing segment ids starting at 1.
type Sequencer struct {
	last atomic.Uint64
}

// Next wraps samples into a new Segment. The samples slice is owned by the
// segment from here on.
func (q *Sequencer) Next(samples []float32, sampleRate int) Segment {
	return Segment{
		Seq:        q.last.Add(1),
		Samples:    samples,
		SampleRate: sampleRate,
		CapturedAt: time.Now(),
	}
}
