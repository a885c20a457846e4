// internal/device/capture.go
package device

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/droidpilot/droidpilot/internal/config"
)

// pngMagic is the fixed first eight bytes of any PNG stream.
var pngMagic = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// AdbScreenSource captures PNG frames through `adb exec-out screencap`.
type AdbScreenSource struct {
	logger *zap.Logger
	cfg    config.DeviceConfig
	runner Runner
}

// NewAdbScreenSource creates a screen source for the configured device.
func NewAdbScreenSource(cfg config.DeviceConfig, runner Runner, logger *zap.Logger) *AdbScreenSource {
	if cfg.AdbPath == "" {
		cfg.AdbPath = "adb"
	}
	return &AdbScreenSource{
		logger: logger.Named("capture"),
		cfg:    cfg,
		runner: runner,
	}
}

func (s *AdbScreenSource) args(extra ...string) []string {
	if s.cfg.Serial == "" {
		return extra
	}
	return append([]string{"-s", s.cfg.Serial}, extra...)
}

// Initialize verifies the device is reachable before the first capture.
func (s *AdbScreenSource) Initialize(ctx context.Context) error {
	out, err := s.runner.Run(ctx, s.cfg.AdbPath, s.args("get-state")...)
	if err != nil {
		return fmt.Errorf("screen capture unavailable: %w", err)
	}
	if state := strings.TrimSpace(string(out)); state != "device" {
		return fmt.Errorf("screen capture unavailable: device state is %q", state)
	}
	s.logger.Debug("Screen capture initialized")
	return nil
}

// CaptureFrame returns one PNG screenshot. A frame that is missing or not a
// PNG yields (nil, nil); the caller decides whether a missing frame matters.
func (s *AdbScreenSource) CaptureFrame(ctx context.Context) ([]byte, error) {
	out, err := s.runner.Run(ctx, s.cfg.AdbPath, s.args("exec-out", "screencap", "-p")...)
	if err != nil {
		return nil, fmt.Errorf("screencap failed: %w", err)
	}
	if len(out) < len(pngMagic) || string(out[:len(pngMagic)]) != string(pngMagic) {
		s.logger.Warn("Screencap produced no usable frame", zap.Int("bytes", len(out)))
		return nil, nil
	}
	return out, nil
}

// Release frees capture resources. The adb pipeline holds none, but the
// hook is part of the capture contract and always runs at loop teardown.
func (s *AdbScreenSource) Release() {
	s.logger.Debug("Screen capture released")
}
