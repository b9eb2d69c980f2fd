package undo

// Recorder accumulates the undo steps produced by one assistant turn into
// an ordered batch. A recorder belongs to a single turn and is not shared
// across goroutines; the assistant executes tool calls sequentially.
type Recorder struct {
	steps Batch
}

// NewRecorder creates an empty per-turn recorder.
func NewRecorder() *Recorder {
	return &Recorder{steps: make(Batch, 0)}
}

// Record appends one reversal step. Steps are replayed in the order they
// were recorded.
func (r *Recorder) Record(step Step) {
	r.steps = append(r.steps, step)
}

// Len returns the number of recorded steps.
func (r *Recorder) Len() int {
	return len(r.steps)
}

// Batch returns a copy of the recorded steps. The returned batch is
// detached from the recorder so later recording cannot mutate it.
func (r *Recorder) Batch() Batch {
	out := make(Batch, len(r.steps))
	copy(out, r.steps)
	return out
}
