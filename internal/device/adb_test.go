package device

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/droidpilot/droidpilot/internal/config"
)

// fakeRunner replays canned outputs keyed by the joined argument list and
// records every invocation.
type fakeRunner struct {
	mu      sync.Mutex
	calls   []string
	outputs map[string]string
	errs    map[string]error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		outputs: map[string]string{},
		errs:    map[string]error{},
	}
}

func (r *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	key := strings.Join(args, " ")
	r.mu.Lock()
	r.calls = append(r.calls, key)
	r.mu.Unlock()
	if err, ok := r.errs[key]; ok {
		return nil, err
	}
	return []byte(r.outputs[key]), nil
}

func (r *fakeRunner) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	copy(out, r.calls)
	return out
}

func testDeviceConfig() config.DeviceConfig {
	return config.DeviceConfig{
		AdbPath:     "adb",
		GestureRate: 1000, // effectively unpaced in tests
	}
}

func awaitGesture(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("gesture did not complete in time")
		return nil
	}
}

func TestConnected(t *testing.T) {
	runner := newFakeRunner()
	runner.outputs["get-state"] = "device\n"
	c := NewAdbController(testDeviceConfig(), runner, zap.NewNop())
	assert.True(t, c.Connected())

	runner.outputs["get-state"] = "offline\n"
	assert.False(t, c.Connected())

	runner.errs["get-state"] = errors.New("no devices/emulators found")
	assert.False(t, c.Connected())
}

func TestConnectedWithSerial(t *testing.T) {
	runner := newFakeRunner()
	runner.outputs["-s emulator-5554 get-state"] = "device"

	cfg := testDeviceConfig()
	cfg.Serial = "emulator-5554"
	c := NewAdbController(cfg, runner, zap.NewNop())

	assert.True(t, c.Connected())
}

func TestScreenSize(t *testing.T) {
	t.Run("physical size", func(t *testing.T) {
		runner := newFakeRunner()
		runner.outputs["shell wm size"] = "Physical size: 1080x2400\n"
		c := NewAdbController(testDeviceConfig(), runner, zap.NewNop())

		w, h, err := c.ScreenSize(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1080, w)
		assert.Equal(t, 2400, h)
	})

	t.Run("override wins", func(t *testing.T) {
		runner := newFakeRunner()
		runner.outputs["shell wm size"] = "Physical size: 1080x2400\nOverride size: 720x1600\n"
		c := NewAdbController(testDeviceConfig(), runner, zap.NewNop())

		w, h, err := c.ScreenSize(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 720, w)
		assert.Equal(t, 1600, h)
	})

	t.Run("unparseable output", func(t *testing.T) {
		runner := newFakeRunner()
		runner.outputs["shell wm size"] = "error: no devices"
		c := NewAdbController(testDeviceConfig(), runner, zap.NewNop())

		_, _, err := c.ScreenSize(context.Background())
		assert.Error(t, err)
	})
}

func TestTap(t *testing.T) {
	runner := newFakeRunner()
	c := NewAdbController(testDeviceConfig(), runner, zap.NewNop())

	done, err := c.Tap(context.Background(), 540, 1200)
	require.NoError(t, err)
	require.NoError(t, awaitGesture(t, done))

	assert.Contains(t, runner.Calls(), "shell input tap 540 1200")
}

func TestTapReportsShellFailure(t *testing.T) {
	runner := newFakeRunner()
	runner.errs["shell input tap 10 20"] = errors.New("input service not ready")
	c := NewAdbController(testDeviceConfig(), runner, zap.NewNop())

	done, err := c.Tap(context.Background(), 10, 20)
	require.NoError(t, err)
	err = awaitGesture(t, done)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "input service not ready")
}

func TestLongPressUsesHeldSwipe(t *testing.T) {
	runner := newFakeRunner()
	c := NewAdbController(testDeviceConfig(), runner, zap.NewNop())

	done, err := c.LongPress(context.Background(), 100, 200)
	require.NoError(t, err)
	require.NoError(t, awaitGesture(t, done))

	assert.Contains(t, runner.Calls(), "shell input swipe 100 200 100 200 600")
}

func TestDoubleTapIssuesTwoTaps(t *testing.T) {
	runner := newFakeRunner()
	c := NewAdbController(testDeviceConfig(), runner, zap.NewNop())

	done, err := c.DoubleTap(context.Background(), 50, 60)
	require.NoError(t, err)
	require.NoError(t, awaitGesture(t, done))

	taps := 0
	for _, call := range runner.Calls() {
		if call == "shell input tap 50 60" {
			taps++
		}
	}
	assert.Equal(t, 2, taps)
}

func TestSwipe(t *testing.T) {
	runner := newFakeRunner()
	c := NewAdbController(testDeviceConfig(), runner, zap.NewNop())

	done, err := c.Swipe(context.Background(), 540, 1920, 540, 480)
	require.NoError(t, err)
	require.NoError(t, awaitGesture(t, done))

	assert.Contains(t, runner.Calls(), "shell input swipe 540 1920 540 480 300")
}

func TestTypeTextEscaping(t *testing.T) {
	runner := newFakeRunner()
	c := NewAdbController(testDeviceConfig(), runner, zap.NewNop())

	require.NoError(t, c.TypeText(context.Background(), "hello world"))
	assert.Contains(t, runner.Calls(), "shell input text hello%sworld")

	// Empty input is a no-op, not a shell invocation.
	before := len(runner.Calls())
	require.NoError(t, c.TypeText(context.Background(), ""))
	assert.Len(t, runner.Calls(), before)
}

func TestEscapeInputText(t *testing.T) {
	assert.Equal(t, "hello%sworld", escapeInputText("hello world"))
	assert.Equal(t, `it\'s`, escapeInputText("it's"))
	assert.Equal(t, `a\&b`, escapeInputText("a&b"))
	assert.Equal(t, "plain", escapeInputText("plain"))
}

func TestBackAndHome(t *testing.T) {
	runner := newFakeRunner()
	c := NewAdbController(testDeviceConfig(), runner, zap.NewNop())

	require.NoError(t, c.Back(context.Background()))
	require.NoError(t, c.Home(context.Background()))

	calls := runner.Calls()
	assert.Contains(t, calls, "shell input keyevent 4")
	assert.Contains(t, calls, "shell input keyevent 3")
}

func TestLaunchApp(t *testing.T) {
	runner := newFakeRunner()
	c := NewAdbController(testDeviceConfig(), runner, zap.NewNop())

	require.NoError(t, c.LaunchApp(context.Background(), "com.android.settings"))
	assert.Contains(t, runner.Calls(),
		"shell monkey -p com.android.settings -c android.intent.category.LAUNCHER 1")
}

func TestCurrentAppDisplayName(t *testing.T) {
	runner := newFakeRunner()
	runner.outputs["shell dumpsys activity activities"] =
		"  mResumedActivity: ActivityRecord{af45b2 u0 com.android.settings/.Settings t123}\n"
	c := NewAdbController(testDeviceConfig(), runner, zap.NewNop())

	app, err := c.CurrentAppDisplayName(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "com.android.settings", app)
}

func TestStructuredScreenDump(t *testing.T) {
	runner := newFakeRunner()
	runner.outputs["shell cat /sdcard/droidpilot_window_dump.xml"] = "<hierarchy rotation=\"0\"/>"
	c := NewAdbController(testDeviceConfig(), runner, zap.NewNop())

	dump, err := c.StructuredScreenDump(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `<hierarchy rotation="0"/>`, dump)
	assert.Contains(t, runner.Calls(), "shell uiautomator dump /sdcard/droidpilot_window_dump.xml")
}
