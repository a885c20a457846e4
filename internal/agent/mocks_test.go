package agent

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/droidpilot/droidpilot/api/schemas"
)

// -- Model Gateway Mock --

// MockGateway mocks the schemas.ModelGateway interface.
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) Request(ctx context.Context, msgs []schemas.Message) (schemas.ModelReply, error) {
	args := m.Called(ctx, msgs)
	return args.Get(0).(schemas.ModelReply), args.Error(1)
}

// -- Device Controller Mock --

// MockDevice mocks the DeviceController interface. Gesture methods return a
// pre-completed channel unless a test installs its own.
type MockDevice struct {
	mock.Mock
}

// completedGesture is a completion channel that has already signalled success.
func completedGesture() <-chan error {
	ch := make(chan error)
	close(ch)
	return ch
}

// failedGesture is a completion channel that reports err.
func failedGesture(err error) <-chan error {
	ch := make(chan error, 1)
	ch <- err
	close(ch)
	return ch
}

// pendingGesture never completes, forcing the dispatcher's bounded wait.
func pendingGesture() <-chan error {
	return make(chan error)
}

func (m *MockDevice) Connected() bool {
	return m.Called().Bool(0)
}

func (m *MockDevice) ScreenSize(ctx context.Context) (int, int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Int(1), args.Error(2)
}

func gestureReturn(args mock.Arguments) (<-chan error, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(<-chan error), args.Error(1)
}

func (m *MockDevice) Tap(ctx context.Context, x, y int) (<-chan error, error) {
	return gestureReturn(m.Called(ctx, x, y))
}

func (m *MockDevice) LongPress(ctx context.Context, x, y int) (<-chan error, error) {
	return gestureReturn(m.Called(ctx, x, y))
}

func (m *MockDevice) DoubleTap(ctx context.Context, x, y int) (<-chan error, error) {
	return gestureReturn(m.Called(ctx, x, y))
}

func (m *MockDevice) Swipe(ctx context.Context, x1, y1, x2, y2 int) (<-chan error, error) {
	return gestureReturn(m.Called(ctx, x1, y1, x2, y2))
}

func (m *MockDevice) TypeText(ctx context.Context, text string) error {
	return m.Called(ctx, text).Error(0)
}

func (m *MockDevice) ClearText(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockDevice) Back(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockDevice) Home(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockDevice) LaunchApp(ctx context.Context, target string) error {
	return m.Called(ctx, target).Error(0)
}

func (m *MockDevice) CurrentAppDisplayName(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockDevice) StructuredScreenDump(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

// -- Screen Source Mock --

// MockScreen mocks the ScreenSource interface.
type MockScreen struct {
	mock.Mock
}

func (m *MockScreen) Initialize(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockScreen) CaptureFrame(ctx context.Context) ([]byte, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockScreen) Release() {
	m.Called()
}

// -- App Resolver Mock --

// MockResolver mocks the AppResolver interface.
type MockResolver struct {
	mock.Mock
}

func (m *MockResolver) Resolve(ctx context.Context, displayName string) (string, bool) {
	args := m.Called(ctx, displayName)
	return args.String(0), args.Bool(1)
}

func (m *MockResolver) SuggestSimilar(ctx context.Context, displayName string, limit int) []string {
	args := m.Called(ctx, displayName, limit)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]string)
}

// -- Step Sink --

// recordingSink captures emitted step results and takeover notices.
type recordingSink struct {
	mu        sync.Mutex
	steps     []StepResult
	takeovers []string
}

func (s *recordingSink) OnStep(result StepResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, result)
}

func (s *recordingSink) OnTakeover(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.takeovers = append(s.takeovers, message)
}

func (s *recordingSink) Steps() []StepResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StepResult, len(s.steps))
	copy(out, s.steps)
	return out
}

func (s *recordingSink) Takeovers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.takeovers))
	copy(out, s.takeovers)
	return out
}
