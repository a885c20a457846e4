// internal/device/adb.go
package device

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/droidpilot/droidpilot/internal/config"
)

// Keycodes used by the controller.
const (
	keycodeHome    = "3"
	keycodeBack    = "4"
	keycodeDel     = "67"
	keycodeMoveEnd = "123"
)

const (
	longPressHoldMs = 600
	swipeDurationMs = 300
	doubleTapGap    = 80 * time.Millisecond
)

var screenSizeRe = regexp.MustCompile(`(?m)(?:Override|Physical) size:\s*(\d+)x(\d+)`)

// AdbController drives a device through the adb binary. Gestures are paced
// by a rate limiter so bursts of model-planned actions do not outrun the
// input pipeline, and each positional gesture reports completion through a
// channel once its shell command returns.
type AdbController struct {
	logger  *zap.Logger
	cfg     config.DeviceConfig
	runner  Runner
	limiter *rate.Limiter
}

// NewAdbController creates a controller for the configured device.
func NewAdbController(cfg config.DeviceConfig, runner Runner, logger *zap.Logger) *AdbController {
	if cfg.AdbPath == "" {
		cfg.AdbPath = "adb"
	}
	if cfg.GestureRate <= 0 {
		cfg.GestureRate = 4.0
	}
	return &AdbController{
		logger:  logger.Named("adb"),
		cfg:     cfg,
		runner:  runner,
		limiter: rate.NewLimiter(rate.Limit(cfg.GestureRate), 1),
	}
}

// adbArgs prefixes the serial selector when one is configured.
func (c *AdbController) adbArgs(args ...string) []string {
	if c.cfg.Serial == "" {
		return args
	}
	return append([]string{"-s", c.cfg.Serial}, args...)
}

func (c *AdbController) run(ctx context.Context, args ...string) ([]byte, error) {
	if c.cfg.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.CommandTimeout)
		defer cancel()
	}
	return c.runner.Run(ctx, c.cfg.AdbPath, c.adbArgs(args...)...)
}

// Connected reports whether the selected device is attached and ready.
func (c *AdbController) Connected() bool {
	out, err := c.run(context.Background(), "get-state")
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(out)) == "device"
}

// ScreenSize reads the device resolution from wm. An override size, when
// present, wins over the physical panel size.
func (c *AdbController) ScreenSize(ctx context.Context) (int, int, error) {
	out, err := c.run(ctx, "shell", "wm", "size")
	if err != nil {
		return 0, 0, fmt.Errorf("querying screen size: %w", err)
	}

	var width, height int
	for _, m := range screenSizeRe.FindAllStringSubmatch(string(out), -1) {
		w, _ := strconv.Atoi(m[1])
		h, _ := strconv.Atoi(m[2])
		width, height = w, h
	}
	if width <= 0 || height <= 0 {
		return 0, 0, fmt.Errorf("could not parse screen size from %q", strings.TrimSpace(string(out)))
	}
	return width, height, nil
}

// gesture paces the dispatch through the rate limiter and runs the shell
// command asynchronously, reporting its outcome on the returned channel.
func (c *AdbController) gesture(ctx context.Context, args ...string) (<-chan error, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("gesture pacing interrupted: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		defer close(done)
		if _, err := c.run(ctx, args...); err != nil {
			done <- err
		}
	}()
	return done, nil
}

// Tap issues a single tap at the given pixel position.
func (c *AdbController) Tap(ctx context.Context, x, y int) (<-chan error, error) {
	return c.gesture(ctx, "shell", "input", "tap", strconv.Itoa(x), strconv.Itoa(y))
}

// LongPress holds a touch at the given position. Implemented as a
// zero-length swipe with a hold duration.
func (c *AdbController) LongPress(ctx context.Context, x, y int) (<-chan error, error) {
	xs, ys := strconv.Itoa(x), strconv.Itoa(y)
	return c.gesture(ctx, "shell", "input", "swipe", xs, ys, xs, ys, strconv.Itoa(longPressHoldMs))
}

// DoubleTap issues two taps in quick succession.
func (c *AdbController) DoubleTap(ctx context.Context, x, y int) (<-chan error, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("gesture pacing interrupted: %w", err)
	}

	xs, ys := strconv.Itoa(x), strconv.Itoa(y)
	done := make(chan error, 1)
	go func() {
		defer close(done)
		if _, err := c.run(ctx, "shell", "input", "tap", xs, ys); err != nil {
			done <- err
			return
		}
		time.Sleep(doubleTapGap)
		if _, err := c.run(ctx, "shell", "input", "tap", xs, ys); err != nil {
			done <- err
		}
	}()
	return done, nil
}

// Swipe drags from one pixel position to another.
func (c *AdbController) Swipe(ctx context.Context, x1, y1, x2, y2 int) (<-chan error, error) {
	return c.gesture(ctx, "shell", "input", "swipe",
		strconv.Itoa(x1), strconv.Itoa(y1), strconv.Itoa(x2), strconv.Itoa(y2),
		strconv.Itoa(swipeDurationMs))
}

// TypeText injects text into the focused field.
func (c *AdbController) TypeText(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	_, err := c.run(ctx, "shell", "input", "text", escapeInputText(text))
	if err != nil {
		return fmt.Errorf("typing text: %w", err)
	}
	return nil
}

// ClearText clears the focused field by jumping to its end and deleting
// backwards. The fixed delete count covers typical field lengths.
func (c *AdbController) ClearText(ctx context.Context) error {
	if _, err := c.run(ctx, "shell", "input", "keyevent", keycodeMoveEnd); err != nil {
		return fmt.Errorf("clearing text: %w", err)
	}
	keys := make([]string, 0, 52)
	keys = append(keys, "shell", "input", "keyevent")
	for i := 0; i < 50; i++ {
		keys = append(keys, keycodeDel)
	}
	if _, err := c.run(ctx, keys...); err != nil {
		return fmt.Errorf("clearing text: %w", err)
	}
	return nil
}

// Back presses the back key.
func (c *AdbController) Back(ctx context.Context) error {
	_, err := c.run(ctx, "shell", "input", "keyevent", keycodeBack)
	return err
}

// Home presses the home key.
func (c *AdbController) Home(ctx context.Context) error {
	_, err := c.run(ctx, "shell", "input", "keyevent", keycodeHome)
	return err
}

// LaunchApp starts the resolved package's launcher activity.
func (c *AdbController) LaunchApp(ctx context.Context, target string) error {
	_, err := c.run(ctx, "shell", "monkey", "-p", target,
		"-c", "android.intent.category.LAUNCHER", "1")
	if err != nil {
		return fmt.Errorf("launching %s: %w", target, err)
	}
	return nil
}

var resumedActivityRe = regexp.MustCompile(`mResumedActivity.*\s([\w.]+)/[\w.$]+`)

// CurrentAppDisplayName reports the package of the foreground activity.
func (c *AdbController) CurrentAppDisplayName(ctx context.Context) (string, error) {
	out, err := c.run(ctx, "shell", "dumpsys", "activity", "activities")
	if err != nil {
		return "", fmt.Errorf("querying foreground activity: %w", err)
	}
	m := resumedActivityRe.FindStringSubmatch(string(out))
	if m == nil {
		return "", fmt.Errorf("no resumed activity in dumpsys output")
	}
	return m[1], nil
}

// StructuredScreenDump captures the UI hierarchy as uiautomator XML.
func (c *AdbController) StructuredScreenDump(ctx context.Context) (string, error) {
	const remotePath = "/sdcard/droidpilot_window_dump.xml"
	if _, err := c.run(ctx, "shell", "uiautomator", "dump", remotePath); err != nil {
		return "", fmt.Errorf("dumping UI hierarchy: %w", err)
	}
	out, err := c.run(ctx, "shell", "cat", remotePath)
	if err != nil {
		return "", fmt.Errorf("reading UI hierarchy dump: %w", err)
	}
	return string(out), nil
}

// escapeInputText encodes text for `input text`, which treats %s as a space
// and chokes on unescaped shell metacharacters.
func escapeInputText(text string) string {
	var b strings.Builder
	for _, r := range text {
		switch r {
		case ' ':
			b.WriteString("%s")
		case '\'', '"', '`', '\\', '(', ')', '<', '>', '|', ';', '&', '*', '~', '$':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
