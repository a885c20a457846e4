// internal/agent/loop.go
package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/droidpilot/droidpilot/api/schemas"
)

// Fallback screen geometry used when the device cannot report its size.
const (
	fallbackScreenWidth  = 1080
	fallbackScreenHeight = 2400
)

// LoopConfig carries the runtime tunables of one agent loop.
type LoopConfig struct {
	// Mode selects which observation sources are mandatory.
	Mode schemas.ObservationMode
	// CompressThreshold is the context size above which history compression
	// triggers. Zero disables compression.
	CompressThreshold int
	// ReplanAfterFailures is the consecutive-failure count that injects
	// re-plan guidance and resets the counter.
	ReplanAfterFailures int
	// TakeoverHintAfterFailures is the consecutive-failure count that
	// injects a hint to hand control to the user. Checked against the
	// count captured before the re-plan reset, and does not reset it.
	TakeoverHintAfterFailures int
	// StepPacing is the fixed delay between loop iterations.
	StepPacing time.Duration
	// InterventionWait is how long the loop pauses after a take-over
	// before resuming on its own.
	InterventionWait time.Duration
}

func (c *LoopConfig) applyDefaults() {
	if c.Mode == "" {
		c.Mode = schemas.ModeHybrid
	}
	if c.ReplanAfterFailures <= 0 {
		c.ReplanAfterFailures = 2
	}
	if c.TakeoverHintAfterFailures <= 0 {
		c.TakeoverHintAfterFailures = 5
	}
	if c.StepPacing <= 0 {
		c.StepPacing = 500 * time.Millisecond
	}
	if c.InterventionWait <= 0 {
		c.InterventionWait = 15 * time.Second
	}
}

// Loop is the top-level orchestrator. One iteration is: observe the screen,
// extend context, ask the model, decode its reply into an Action, dispatch
// it, and reconcile the verdict back into context. The loop is
// single-threaded by design; Run spawns exactly one goroutine and every
// collaborator is called from it.
type Loop struct {
	logger     *zap.Logger
	cfg        LoopConfig
	gateway    schemas.ModelGateway
	store      *ContextStore
	decoder    *Decoder
	dispatcher *Dispatcher
	device     DeviceController
	screen     ScreenSource
	sink       StepSink

	mu     sync.Mutex
	state  RunState
	task   string
	cancel context.CancelFunc

	screenW int
	screenH int
}

// NewLoop wires an agent loop from its collaborators.
func NewLoop(
	logger *zap.Logger,
	cfg LoopConfig,
	gateway schemas.ModelGateway,
	store *ContextStore,
	decoder *Decoder,
	dispatcher *Dispatcher,
	device DeviceController,
	screen ScreenSource,
	sink StepSink,
) *Loop {
	cfg.applyDefaults()
	return &Loop{
		logger:     logger.Named("loop"),
		cfg:        cfg,
		gateway:    gateway,
		store:      store,
		decoder:    decoder,
		dispatcher: dispatcher,
		device:     device,
		screen:     screen,
		sink:       sink,
		state:      StateIdle,
	}
}

// State returns the current run state.
func (l *Loop) State() RunState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Task returns the task text the loop is currently pursuing.
func (l *Loop) Task() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.task
}

func (l *Loop) setState(s RunState) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// Run starts the loop for one task. It is rejected unless the loop is Idle;
// finished, stopped and failed loops are not reusable. onComplete fires
// exactly once, from the loop goroutine, with the final message or the
// terminal error.
func (l *Loop) Run(ctx context.Context, task string, onComplete func(message string, err error)) error {
	l.mu.Lock()
	if l.state != StateIdle {
		state := l.state
		l.mu.Unlock()
		return fmt.Errorf("agent loop cannot start from state %s", state)
	}
	l.state = StateInitializing
	l.task = task
	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.mu.Unlock()

	if onComplete == nil {
		onComplete = func(string, error) {}
	}

	go l.run(runCtx, task, onComplete)
	return nil
}

// Stop cancels a running loop. The loop goroutine observes the
// cancellation at its next blocking point and transitions to Stopped.
func (l *Loop) Stop() {
	l.mu.Lock()
	cancel := l.cancel
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// UpdateTask appends a steering instruction to the running task's context.
// It takes effect on the next planning turn.
func (l *Loop) UpdateTask(instruction string) {
	l.mu.Lock()
	l.task = instruction
	l.mu.Unlock()
	l.store.Append(schemas.NewTextMessage(schemas.RoleUser,
		"Updated instruction from the user: "+instruction))
	l.logger.Info("Task instruction updated", zap.String("instruction", instruction))
}

func (l *Loop) run(ctx context.Context, task string, onComplete func(string, error)) {
	if l.cfg.Mode.RequiresCapture() {
		if err := l.screen.Initialize(ctx); err != nil {
			l.fail(onComplete, fmt.Errorf("screen capture initialization failed: %w", err))
			return
		}
		// Released no matter how the loop ends.
		defer l.screen.Release()
	}

	l.screenW, l.screenH = l.resolveScreenSize(ctx)

	l.store.Reset()
	l.store.Append(schemas.NewTextMessage(schemas.RoleSystem, BuildSystemPrompt(l.cfg.Mode)))
	l.store.Append(schemas.NewTextMessage(schemas.RoleUser, "Task: "+task))

	l.setState(StateStepping)
	l.logger.Info("Agent loop started",
		zap.String("task", task), zap.String("mode", string(l.cfg.Mode)),
		zap.Int("screen_w", l.screenW), zap.Int("screen_h", l.screenH))

	for {
		if err := ctx.Err(); err != nil {
			l.setState(StateStopped)
			onComplete("", fmt.Errorf("agent loop stopped: %w", err))
			return
		}

		done, msg, err := l.step(ctx)
		if err != nil {
			l.fail(onComplete, err)
			return
		}
		if done {
			l.setState(StateFinished)
			l.logger.Info("Agent loop finished", zap.Int("steps", l.store.Steps()))
			onComplete(msg, nil)
			return
		}

		if !sleepCtx(ctx, l.cfg.StepPacing) {
			l.setState(StateStopped)
			onComplete("", fmt.Errorf("agent loop stopped: %w", ctx.Err()))
			return
		}
	}
}

// step executes one loop iteration. It returns done=true with the final
// message on a real finish, and a non-nil error only on the fatal paths
// that end the run.
func (l *Loop) step(ctx context.Context) (done bool, finalMsg string, err error) {
	step := l.store.NextStep()

	// The failure count is captured once so the takeover hint sees the
	// pre-reset value even when the re-plan guidance fires on the same
	// iteration.
	failures := l.store.Failures()
	if failures >= l.cfg.ReplanAfterFailures {
		l.store.Append(schemas.NewTextMessage(schemas.RoleUser, fmt.Sprintf(
			"The last action %q did not work after %d attempts. Stop repeating it. Re-examine the screen and plan a different approach.",
			l.store.LastFailedAction(), failures)))
		l.store.ResetFailures()
		l.logger.Warn("Injected re-plan guidance", zap.Int("failures", failures))
	}
	if failures >= l.cfg.TakeoverHintAfterFailures {
		l.store.Append(schemas.NewTextMessage(schemas.RoleUser,
			"You have been stuck for several attempts. If the obstacle requires credentials, a CAPTCHA, or another human-only step, hand control to the user with take_over instead of retrying."))
		l.logger.Warn("Injected takeover hint", zap.Int("failures", failures))
	}

	obs := l.observe(ctx)
	if obs.Empty() {
		// Neither pixels nor structure: the agent is blind. Ends the run
		// immediately; escalation counters do not apply here.
		result := StepResult{Step: step, Success: false, Finished: true,
			Message: "observation failed: no screenshot and no UI dump available"}
		l.emit(result)
		return false, "", fmt.Errorf("observation produced neither image nor text at step %d", step)
	}
	l.store.Append(observationMessage(obs, step))

	msgs := l.store.Compressed(ctx, l.cfg.CompressThreshold)

	reply, err := l.gateway.Request(ctx, msgs)
	if err != nil {
		result := StepResult{Step: step, Success: false, Finished: true,
			Message: "model request failed: " + err.Error()}
		l.emit(result)
		return false, "", fmt.Errorf("model request failed at step %d: %w", step, err)
	}

	// The screenshot has served its purpose; collapse it to text so at most
	// one image (the next observation) ever rides in context.
	l.store.StripLastImage()
	l.store.Append(schemas.NewTextMessage(schemas.RoleAssistant, reply.Raw))

	actionText := reply.Action
	if actionText == "" {
		actionText = reply.Raw
	}
	action := l.decoder.Decode(actionText)

	result := l.dispatcher.Execute(ctx, action, l.screenW, l.screenH)
	l.store.RecordDispatch(result.Success, action)

	realFinish := action.Kind == KindFinish && result.ShouldFinish

	l.emit(StepResult{
		Step:       step,
		Success:    result.Success,
		Finished:   realFinish,
		Thinking:   reply.Thinking,
		ActionText: action.String(),
		Message:    result.Message,
	})
	l.logger.Debug("Step completed",
		zap.Int("step", step), zap.String("action", action.String()),
		zap.Bool("success", result.Success), zap.Bool("finished", realFinish))

	if realFinish {
		return true, result.Message, nil
	}

	if result.RequiresTakeover {
		l.setState(StateAwaiting)
		if l.sink != nil {
			l.sink.OnTakeover(result.Message)
		}
		l.logger.Info("Awaiting human intervention", zap.String("message", result.Message))
		if !sleepCtx(ctx, l.cfg.InterventionWait) {
			return false, "", nil
		}
		l.store.Append(schemas.NewTextMessage(schemas.RoleUser,
			"The user has had a chance to intervene on the device. Re-examine the screen and continue the task."))
		l.setState(StateStepping)
		return false, "", nil
	}

	if !result.Success && result.Message != "" {
		l.store.Append(schemas.NewTextMessage(schemas.RoleUser,
			"The previous action failed: "+result.Message))
	} else if result.Message != "" {
		l.store.Append(schemas.NewTextMessage(schemas.RoleUser, result.Message))
	}

	return false, "", nil
}

// observe gathers the observation the configured mode calls for. Individual
// source failures degrade to an empty field; only a fully empty observation
// is fatal, and that verdict belongs to the caller.
func (l *Loop) observe(ctx context.Context) Observation {
	var obs Observation

	if l.cfg.Mode.RequiresCapture() {
		frame, err := l.screen.CaptureFrame(ctx)
		if err != nil {
			l.logger.Warn("Screen capture failed", zap.Error(err))
		}
		obs.Screenshot = frame
	}

	if l.cfg.Mode == schemas.ModeAccessibility || l.cfg.Mode == schemas.ModeHybrid {
		dump, err := l.device.StructuredScreenDump(ctx)
		if err != nil {
			l.logger.Warn("Structured screen dump failed", zap.Error(err))
		}
		obs.UIDump = dump
	}

	if app, err := l.device.CurrentAppDisplayName(ctx); err == nil {
		obs.CurrentApp = app
	}

	return obs
}

// observationMessage renders an Observation as the user turn for this step.
func observationMessage(obs Observation, step int) schemas.Message {
	text := fmt.Sprintf("Observation for step %d.", step)
	if obs.CurrentApp != "" {
		text += " Foreground app: " + obs.CurrentApp + "."
	}
	if obs.UIDump != "" {
		text += "\nUI hierarchy:\n" + obs.UIDump
	}
	if len(obs.Screenshot) == 0 {
		return schemas.NewTextMessage(schemas.RoleUser, text)
	}
	return schemas.NewPartsMessage(schemas.RoleUser,
		schemas.TextPart(text), schemas.ImagePart(obs.Screenshot))
}

func (l *Loop) resolveScreenSize(ctx context.Context) (int, int) {
	w, h, err := l.device.ScreenSize(ctx)
	if err != nil || w <= 0 || h <= 0 {
		l.logger.Warn("Falling back to default screen geometry", zap.Error(err))
		return fallbackScreenWidth, fallbackScreenHeight
	}
	return w, h
}

func (l *Loop) emit(result StepResult) {
	if l.sink != nil {
		l.sink.OnStep(result)
	}
}

func (l *Loop) fail(onComplete func(string, error), err error) {
	l.setState(StateFailed)
	l.logger.Error("Agent loop failed", zap.Error(err))
	onComplete("", err)
}

// sleepCtx pauses for d, returning false if the context ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
