// internal/agent/interfaces.go
package agent

import "context"

// DeviceController is the device-control surface the dispatcher acts
// through. The handle is process-global and externally lifecycle-managed;
// "not connected" is a normal precondition, reported by Connected, never a
// crash. Positional primitives take absolute pixel coordinates and report
// completion through the returned channel; the immediate error covers
// dispatch rejection only.
type DeviceController interface {
	Connected() bool
	ScreenSize(ctx context.Context) (width, height int, err error)

	Tap(ctx context.Context, x, y int) (<-chan error, error)
	LongPress(ctx context.Context, x, y int) (<-chan error, error)
	DoubleTap(ctx context.Context, x, y int) (<-chan error, error)
	Swipe(ctx context.Context, x1, y1, x2, y2 int) (<-chan error, error)

	TypeText(ctx context.Context, text string) error
	ClearText(ctx context.Context) error
	Back(ctx context.Context) error
	Home(ctx context.Context) error
	LaunchApp(ctx context.Context, target string) error

	CurrentAppDisplayName(ctx context.Context) (string, error)
	StructuredScreenDump(ctx context.Context) (string, error)
}

// ScreenSource provides raw frames for vision-based observation. A nil
// frame with a nil error is a normal "nothing available" outcome.
type ScreenSource interface {
	Initialize(ctx context.Context) error
	CaptureFrame(ctx context.Context) ([]byte, error)
	Release()
}

// AppResolver maps a human-facing app name onto a launchable target.
type AppResolver interface {
	Resolve(ctx context.Context, displayName string) (target string, ok bool)
	SuggestSimilar(ctx context.Context, displayName string, limit int) []string
}

// StepSink consumes the loop's per-iteration results and the one-shot
// human-intervention notification.
type StepSink interface {
	OnStep(result StepResult)
	OnTakeover(message string)
}
