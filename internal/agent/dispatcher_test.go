package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestDispatcher(device DeviceController, resolver AppResolver, wait time.Duration) *Dispatcher {
	return NewDispatcher(zap.NewNop(), device, resolver, wait)
}

func TestExecuteFinish(t *testing.T) {
	d := newTestDispatcher(nil, nil, time.Second)

	res := d.Execute(context.Background(), Action{Kind: KindFinish, Message: "all done"}, 1080, 2400)

	assert.True(t, res.Success)
	assert.True(t, res.ShouldFinish)
	assert.Equal(t, "all done", res.Message)
}

func TestExecuteTakeoverVariants(t *testing.T) {
	d := newTestDispatcher(nil, nil, time.Second)

	res := d.Execute(context.Background(), Action{Kind: KindTakeOver, Message: "enter your PIN"}, 1080, 2400)
	assert.True(t, res.Success)
	assert.True(t, res.RequiresTakeover)
	assert.Equal(t, "enter your PIN", res.Message)

	// Interact behaves like a takeover and gets a default message.
	res = d.Execute(context.Background(), Action{Kind: KindInteract}, 1080, 2400)
	assert.True(t, res.RequiresTakeover)
	assert.NotEmpty(t, res.Message)
}

func TestExecuteTapMapsCoordinates(t *testing.T) {
	device := new(MockDevice)
	device.On("Connected").Return(true)
	device.On("Tap", mock.Anything, 540, 1200).Return(completedGesture(), nil)

	d := newTestDispatcher(device, nil, time.Second)
	res := d.Execute(context.Background(), Action{Kind: KindTap, Target: Point{500, 500}}, 1080, 2400)

	assert.True(t, res.Success)
	device.AssertExpectations(t)
}

func TestExecuteGestureFailure(t *testing.T) {
	device := new(MockDevice)
	device.On("Connected").Return(true)
	device.On("Tap", mock.Anything, mock.Anything, mock.Anything).
		Return(failedGesture(errors.New("injection rejected")), nil)

	d := newTestDispatcher(device, nil, time.Second)
	res := d.Execute(context.Background(), Action{Kind: KindTap, Target: Point{10, 10}}, 1080, 2400)

	require.False(t, res.Success)
	assert.Contains(t, res.Message, "injection rejected")
}

func TestExecuteGestureTimeoutAssumesSuccess(t *testing.T) {
	device := new(MockDevice)
	device.On("Connected").Return(true)
	device.On("Tap", mock.Anything, mock.Anything, mock.Anything).
		Return(pendingGesture(), nil)

	d := newTestDispatcher(device, nil, 20*time.Millisecond)
	res := d.Execute(context.Background(), Action{Kind: KindTap, Target: Point{10, 10}}, 1080, 2400)

	assert.True(t, res.Success, "completion silence within the bounded wait reports success")
}

func TestExecuteSwipeMapsBothEndpoints(t *testing.T) {
	device := new(MockDevice)
	device.On("Connected").Return(true)
	device.On("Swipe", mock.Anything, 540, 1920, 540, 480).Return(completedGesture(), nil)

	d := newTestDispatcher(device, nil, time.Second)
	res := d.Execute(context.Background(),
		Action{Kind: KindSwipe, Start: Point{500, 800}, End: Point{500, 200}}, 1080, 2400)

	assert.True(t, res.Success)
	device.AssertExpectations(t)
}

func TestExecuteDeviceNotConnected(t *testing.T) {
	device := new(MockDevice)
	device.On("Connected").Return(false)

	d := newTestDispatcher(device, nil, time.Second)
	res := d.Execute(context.Background(), Action{Kind: KindTap, Target: Point{1, 1}}, 1080, 2400)

	require.False(t, res.Success)
	assert.Contains(t, res.Message, "not connected")
}

func TestExecuteLaunch(t *testing.T) {
	t.Run("resolved and launched", func(t *testing.T) {
		device := new(MockDevice)
		device.On("Connected").Return(true)
		device.On("LaunchApp", mock.Anything, "com.android.settings").Return(nil)
		resolver := new(MockResolver)
		resolver.On("Resolve", mock.Anything, "Settings").Return("com.android.settings", true)

		d := newTestDispatcher(device, resolver, time.Second)
		res := d.Execute(context.Background(), Action{Kind: KindLaunch, App: "Settings"}, 1080, 2400)

		assert.True(t, res.Success)
		device.AssertExpectations(t)
	})

	t.Run("unresolved with suggestions", func(t *testing.T) {
		device := new(MockDevice)
		device.On("Connected").Return(true)
		resolver := new(MockResolver)
		resolver.On("Resolve", mock.Anything, "Settigns").Return("", false)
		resolver.On("SuggestSimilar", mock.Anything, "Settigns", 3).
			Return([]string{"com.android.settings"})

		d := newTestDispatcher(device, resolver, time.Second)
		res := d.Execute(context.Background(), Action{Kind: KindLaunch, App: "Settigns"}, 1080, 2400)

		require.False(t, res.Success)
		assert.Contains(t, res.Message, "com.android.settings")
	})
}

func TestExecuteWaitHonorsCancellation(t *testing.T) {
	d := newTestDispatcher(nil, nil, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := d.Execute(ctx, Action{Kind: KindWait, DurationMS: 60000}, 1080, 2400)

	assert.False(t, res.Success)
}

func TestExecuteUnknown(t *testing.T) {
	d := newTestDispatcher(nil, nil, time.Second)

	res := d.Execute(context.Background(), Action{Kind: KindUnknown, RawType: "Teleport"}, 1080, 2400)

	require.False(t, res.Success)
	assert.Contains(t, res.Message, "Teleport")
}

func TestExecuteNoteAndCallAPI(t *testing.T) {
	d := newTestDispatcher(nil, nil, time.Second)

	res := d.Execute(context.Background(), Action{Kind: KindNote, Message: "wifi already on"}, 1080, 2400)
	assert.True(t, res.Success)
	assert.Contains(t, res.Message, "wifi already on")

	res = d.Execute(context.Background(), Action{Kind: KindCallAPI, Message: "list unread emails"}, 1080, 2400)
	assert.True(t, res.Success)
	assert.False(t, res.ShouldFinish)
	assert.Contains(t, res.Message, "list unread emails")
}

func TestExecuteClearText(t *testing.T) {
	device := new(MockDevice)
	device.On("Connected").Return(true)
	device.On("ClearText", mock.Anything).Return(nil)

	d := newTestDispatcher(device, nil, time.Second)
	res := d.Execute(context.Background(), Action{Kind: KindClear}, 1080, 2400)

	assert.True(t, res.Success)
	device.AssertCalled(t, "ClearText", mock.Anything)
}

func TestExecuteRecoversFromPanic(t *testing.T) {
	device := new(MockDevice)
	device.On("Connected").Return(true)
	device.On("TypeText", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { panic("surface exploded") }).
		Return(nil)

	d := newTestDispatcher(device, nil, time.Second)
	res := d.Execute(context.Background(), Action{Kind: KindType, Text: "hi"}, 1080, 2400)

	require.False(t, res.Success)
	assert.Contains(t, res.Message, "panicked")
}
