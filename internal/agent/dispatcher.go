// internal/agent/dispatcher.go
package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// maxWaitAction caps the pause a single Wait action may request.
const maxWaitAction = 60 * time.Second

// Dispatcher executes decoded actions against the device-control surface.
// It converts relative coordinates to pixels, awaits gesture completion with
// a bounded wait, and turns every failure mode (including panics) into a
// plain ActionResult. Nothing propagates to the Loop.
type Dispatcher struct {
	logger   *zap.Logger
	device   DeviceController
	resolver AppResolver

	// gestureWait bounds how long Execute waits for the device surface's
	// asynchronous completion signal. On timeout the dispatch reports
	// success anyway: the gesture having been accepted is treated as
	// sufficient evidence of execution. Deliberate policy to tolerate
	// platform callback flakiness; not a correctness guarantee.
	gestureWait time.Duration
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(logger *zap.Logger, device DeviceController, resolver AppResolver, gestureWait time.Duration) *Dispatcher {
	if gestureWait <= 0 {
		gestureWait = 3 * time.Second
	}
	return &Dispatcher{
		logger:      logger.Named("dispatcher"),
		device:      device,
		resolver:    resolver,
		gestureWait: gestureWait,
	}
}

// Execute runs one action and returns its verdict. Never panics and never
// returns an error; every exceptional condition becomes a failed result.
func (d *Dispatcher) Execute(ctx context.Context, action Action, screenW, screenH int) (res ActionResult) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Panic recovered during action dispatch",
				zap.String("action", action.String()), zap.Any("panic_value", r), zap.Stack("stack"))
			res = ActionResult{Success: false, Message: fmt.Sprintf("action %s panicked: %v", action.Kind, r)}
		}
	}()

	switch action.Kind {
	case KindFinish:
		return ActionResult{Success: true, ShouldFinish: true, Message: action.Message}

	case KindTakeOver, KindInteract:
		msg := action.Message
		if msg == "" {
			msg = "The agent needs you to complete a step on the device."
		}
		return ActionResult{Success: true, RequiresTakeover: true, Message: msg}

	case KindNote:
		return ActionResult{Success: true, Message: "noted: " + action.Message}

	case KindCallAPI:
		// No companion service is attached in-loop; the instruction is
		// surfaced back into context so the next planning turn sees it.
		return ActionResult{Success: true, Message: "recorded instruction for companion API: " + action.Message}

	case KindWait:
		return d.execWait(ctx, action)

	case KindUnknown:
		return ActionResult{Success: false, Message: fmt.Sprintf("unsupported action type %q", action.RawType)}
	}

	if d.device == nil || !d.device.Connected() {
		return ActionResult{Success: false, Message: "device control surface is not connected"}
	}

	switch action.Kind {
	case KindTap:
		x, y := ToPixels(action.Target, screenW, screenH)
		return d.execGesture(ctx, action, func() (<-chan error, error) { return d.device.Tap(ctx, x, y) })
	case KindLongPress:
		x, y := ToPixels(action.Target, screenW, screenH)
		return d.execGesture(ctx, action, func() (<-chan error, error) { return d.device.LongPress(ctx, x, y) })
	case KindDoubleTap:
		x, y := ToPixels(action.Target, screenW, screenH)
		return d.execGesture(ctx, action, func() (<-chan error, error) { return d.device.DoubleTap(ctx, x, y) })
	case KindSwipe:
		x1, y1 := ToPixels(action.Start, screenW, screenH)
		x2, y2 := ToPixels(action.End, screenW, screenH)
		return d.execGesture(ctx, action, func() (<-chan error, error) { return d.device.Swipe(ctx, x1, y1, x2, y2) })
	case KindType:
		if err := d.device.TypeText(ctx, action.Text); err != nil {
			return ActionResult{Success: false, Message: "text injection failed: " + err.Error()}
		}
		return ActionResult{Success: true}
	case KindClear:
		if err := d.device.ClearText(ctx); err != nil {
			return ActionResult{Success: false, Message: "clearing text failed: " + err.Error()}
		}
		return ActionResult{Success: true}
	case KindBack:
		if err := d.device.Back(ctx); err != nil {
			return ActionResult{Success: false, Message: "back navigation failed: " + err.Error()}
		}
		return ActionResult{Success: true}
	case KindHome:
		if err := d.device.Home(ctx); err != nil {
			return ActionResult{Success: false, Message: "home navigation failed: " + err.Error()}
		}
		return ActionResult{Success: true}
	case KindLaunch:
		return d.execLaunch(ctx, action)
	}

	return ActionResult{Success: false, Message: fmt.Sprintf("unsupported action type %q", string(action.Kind))}
}

// execGesture dispatches a positional gesture and awaits the device
// surface's completion signal within the bounded wait.
func (d *Dispatcher) execGesture(ctx context.Context, action Action, dispatch func() (<-chan error, error)) ActionResult {
	done, err := dispatch()
	if err != nil {
		return ActionResult{Success: false, Message: fmt.Sprintf("%s dispatch rejected: %v", action.Kind, err)}
	}

	timer := time.NewTimer(d.gestureWait)
	defer timer.Stop()

	select {
	case err, ok := <-done:
		if ok && err != nil {
			return ActionResult{Success: false, Message: fmt.Sprintf("%s failed: %v", action.Kind, err)}
		}
		return ActionResult{Success: true}
	case <-timer.C:
		// Completion callback never fired. The gesture was accepted by the
		// control surface, so report success optimistically.
		d.logger.Debug("Gesture completion timed out, assuming success",
			zap.String("action", action.String()), zap.Duration("wait", d.gestureWait))
		return ActionResult{Success: true}
	case <-ctx.Done():
		return ActionResult{Success: false, Message: "gesture cancelled: " + ctx.Err().Error()}
	}
}

func (d *Dispatcher) execWait(ctx context.Context, action Action) ActionResult {
	dur := time.Duration(action.DurationMS) * time.Millisecond
	if dur <= 0 {
		dur = time.Second
	}
	if dur > maxWaitAction {
		dur = maxWaitAction
	}
	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-timer.C:
		return ActionResult{Success: true}
	case <-ctx.Done():
		return ActionResult{Success: false, Message: "wait cancelled: " + ctx.Err().Error()}
	}
}

func (d *Dispatcher) execLaunch(ctx context.Context, action Action) ActionResult {
	if d.resolver == nil {
		return ActionResult{Success: false, Message: "no app resolver available"}
	}
	target, ok := d.resolver.Resolve(ctx, action.App)
	if !ok {
		msg := fmt.Sprintf("no installed app matches %q", action.App)
		if similar := d.resolver.SuggestSimilar(ctx, action.App, 3); len(similar) > 0 {
			msg += "; closest matches: " + strings.Join(similar, ", ")
		}
		return ActionResult{Success: false, Message: msg}
	}
	if err := d.device.LaunchApp(ctx, target); err != nil {
		return ActionResult{Success: false, Message: fmt.Sprintf("failed to launch %q (%s): %v", action.App, target, err)}
	}
	return ActionResult{Success: true, Message: "launched " + action.App}
}
