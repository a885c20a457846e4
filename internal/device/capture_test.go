package device

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCaptureInitialize(t *testing.T) {
	runner := newFakeRunner()
	runner.outputs["get-state"] = "device\n"
	s := NewAdbScreenSource(testDeviceConfig(), runner, zap.NewNop())

	assert.NoError(t, s.Initialize(context.Background()))

	runner.outputs["get-state"] = "unauthorized\n"
	assert.Error(t, s.Initialize(context.Background()))
}

func TestCaptureFrame(t *testing.T) {
	png := string([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}) + "imagedata"

	t.Run("valid frame", func(t *testing.T) {
		runner := newFakeRunner()
		runner.outputs["exec-out screencap -p"] = png
		s := NewAdbScreenSource(testDeviceConfig(), runner, zap.NewNop())

		frame, err := s.CaptureFrame(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []byte(png), frame)
	})

	t.Run("non png output degrades to nil frame", func(t *testing.T) {
		runner := newFakeRunner()
		runner.outputs["exec-out screencap -p"] = "error: display not found"
		s := NewAdbScreenSource(testDeviceConfig(), runner, zap.NewNop())

		frame, err := s.CaptureFrame(context.Background())
		require.NoError(t, err)
		assert.Nil(t, frame)
	})

	t.Run("command failure surfaces", func(t *testing.T) {
		runner := newFakeRunner()
		runner.errs["exec-out screencap -p"] = errors.New("device gone")
		s := NewAdbScreenSource(testDeviceConfig(), runner, zap.NewNop())

		_, err := s.CaptureFrame(context.Background())
		assert.Error(t, err)
	})
}
