package core

// DefaultStatusUpdateRowCount is how many units pass between progress
// publishes when no batch size is configured.
const DefaultStatusUpdateRowCount = 100

// ProgressReporter publishes {current, total} for a running phase.
//
// Publishing is throttled to every batchSize units plus the final unit.
// Without a publishing task context every method is a no-op. A nil
// *ProgressReporter is valid and does nothing.
type ProgressReporter struct {
	pub       ProgressPublisher
	state     string
	batchSize int
	current   int
	total     int
}

// NewProgressReporter binds a reporter to tc. state is the label published
// with each update (PARSING, IMPORTING, EXPORTING).
func NewProgressReporter(tc TaskContext, state string, batchSize int) *ProgressReporter {
	if batchSize <= 0 {
		batchSize = DefaultStatusUpdateRowCount
	}
	r := &ProgressReporter{state: state, batchSize: batchSize}
	if pub, ok := tc.(ProgressPublisher); ok {
		r.pub = pub
	}
	return r
}

// Initialize resets the counter and publishes {0, total}.
func (r *ProgressReporter) Initialize(total int) {
	if r == nil {
		return
	}
	r.current = 0
	r.total = total
	r.publish()
}

// Advance counts one processed unit.
func (r *ProgressReporter) Advance() {
	if r == nil {
		return
	}
	r.current++
	if r.current%r.batchSize == 0 || r.current == r.total {
		r.publish()
	}
}

// Current returns the number of units counted so far.
func (r *ProgressReporter) Current() int {
	if r == nil {
		return 0
	}
	return r.current
}

func (r *ProgressReporter) publish() {
	if r.pub == nil {
		return
	}
	r.pub.PublishProgress(r.state, r.current, r.total)
}
