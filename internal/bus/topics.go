package bus

// Step execution topics.
const (
	TopicStitchAppended = "stitch.appended"
	TopicStitchFailed   = "stitch.failed"
)

// Feedback cycle topics.
const (
	TopicCycleStarted  = "cycle.started"
	TopicCycleRepeat   = "cycle.repeat"
	TopicCycleReleased = "cycle.released"
	TopicCycleHalted   = "cycle.halted"
	TopicCycleFailed   = "cycle.failed"
)

// TopicStreamMounted is published once per run directory.
const TopicStreamMounted = "stream.mounted"

// StitchEvent is published after a step execution completes or fails.
type StitchEvent struct {
	StitchID string
	Role     string
	Slug     string
	Form     string
	CycleID  string // empty outside a feedback cycle
	Error    string // set on TopicStitchFailed
}

// CycleEvent is published on every feedback cycle transition.
type CycleEvent struct {
	CycleID    string
	Role       string
	Repetition int
	Threshold  int
	Decision   string
	Feedback   string // feedback artifact ref
}
