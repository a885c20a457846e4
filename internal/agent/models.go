// internal/agent/models.go
package agent

// RunState is the lifecycle phase of a Loop. Exactly one task owns the loop
// at a time; Run is rejected unless the state is StateIdle.
type RunState string

const (
	StateIdle         RunState = "IDLE"         // No task is running.
	StateInitializing RunState = "INITIALIZING" // Acquiring the capture resource.
	StateStepping     RunState = "STEPPING"     // Executing observe/plan/act iterations.
	StateAwaiting     RunState = "AWAITING_INTERVENTION"
	StateFinished     RunState = "FINISHED" // The model declared completion.
	StateStopped      RunState = "STOPPED"  // Stop() was called.
	StateFailed       RunState = "FAILED"   // Unrecoverable startup or observation failure.
)

// StepResult is the immutable record of one completed loop iteration,
// delivered to the observer sink.
type StepResult struct {
	Step       int
	Success    bool
	Finished   bool
	Thinking   string
	ActionText string
	Message    string
}

// ActionResult is the dispatcher's verdict for one executed Action.
// ShouldFinish is set only by an explicit Finish action; RequiresTakeover
// signals the loop to pause for a human. The dispatcher never blocks on
// takeover itself.
type ActionResult struct {
	Success          bool
	ShouldFinish     bool
	RequiresTakeover bool
	Message          string
}

// Observation is one acquired snapshot of the device screen. Either field
// may be empty depending on the observation mode; both empty is fatal.
type Observation struct {
	Screenshot []byte // encoded PNG, vision/hybrid modes
	UIDump     string // structured hierarchy dump, accessibility/hybrid modes
	CurrentApp string // display name of the foreground app, best effort
}

// Empty reports whether the observation carries no usable data at all.
func (o Observation) Empty() bool {
	return len(o.Screenshot) == 0 && o.UIDump == ""
}
