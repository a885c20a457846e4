// internal/agent/history.go
package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/droidpilot/droidpilot/api/schemas"
)

// summarizeInstruction is the fixed system prompt for the auxiliary
// compression request.
const summarizeInstruction = `You compress the interaction history of a device-automation agent.
Summarize the conversation below into a short paragraph that preserves: the
steps already performed, what succeeded or failed, and any facts discovered
on screen that later steps will need. Output only the summary text.`

// ContextStore owns the ordered conversation history for one task, together
// with the task's running counters: step number, consecutive dispatch
// failures, and the serialized form of the last failed action. It is mutated
// only by the Loop and by its own compression step.
type ContextStore struct {
	logger     *zap.Logger
	summarizer schemas.ModelGateway
	keepRecent int

	mu         sync.Mutex
	messages   []schemas.Message
	steps      int
	failures   int
	lastFailed string
	summary    string
	// foldedSteps counts messages already folded into the summary, feeding
	// the templated fallback when summarization itself fails.
	foldedSteps int
}

// NewContextStore creates an empty store. keepRecent is the number of most
// recent non-system messages retained verbatim through compression.
func NewContextStore(logger *zap.Logger, summarizer schemas.ModelGateway, keepRecent int) *ContextStore {
	if keepRecent <= 0 {
		keepRecent = 4
	}
	return &ContextStore{
		logger:     logger.Named("context"),
		summarizer: summarizer,
		keepRecent: keepRecent,
	}
}

// Reset clears all history and counters for a new task.
func (s *ContextStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
	s.steps = 0
	s.failures = 0
	s.lastFailed = ""
	s.summary = ""
	s.foldedSteps = 0
}

// Append adds a message to the end of the history.
func (s *ContextStore) Append(msg schemas.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
}

// Messages returns a copy of the stored history.
func (s *ContextStore) Messages() []schemas.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]schemas.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// SizeEstimate sums the character length of all text content plus the
// encoded length of embedded image payloads.
func (s *ContextStore) SizeEstimate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sizeOf(s.messages)
}

func sizeOf(msgs []schemas.Message) int {
	total := 0
	for _, m := range msgs {
		total += m.ApproxSize()
	}
	return total
}

// NextStep increments and returns the step counter.
func (s *ContextStore) NextStep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps++
	return s.steps
}

// Steps returns the current step counter.
func (s *ContextStore) Steps() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.steps
}

// Failures returns the consecutive-failure count.
func (s *ContextStore) Failures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures
}

// ResetFailures zeroes the consecutive-failure count. Called by the Loop
// when the re-plan guidance consumes the threshold trigger.
func (s *ContextStore) ResetFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = 0
}

// RecordDispatch folds one dispatch outcome into the counters: success
// resets the consecutive-failure count, failure increments it and remembers
// the action's serialized form.
func (s *ContextStore) RecordDispatch(success bool, action Action) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if success {
		s.failures = 0
		return
	}
	s.failures++
	s.lastFailed = action.String()
}

// LastFailedAction returns the serialized form of the most recent failed
// action, or "" when the last dispatch succeeded.
func (s *ContextStore) LastFailedAction() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFailed
}

// StripLastImage removes image content from the most recent message that
// carries any, collapsing it to its text content. After any completed step
// at most one message in context holds an image: the latest observation.
func (s *ContextStore) StripLastImage() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.messages) - 1; i >= 0; i-- {
		if !s.messages[i].HasImage() {
			continue
		}
		text := s.messages[i].JoinedText()
		if text == "" {
			text = "(screenshot omitted)"
		}
		s.messages[i] = schemas.NewTextMessage(s.messages[i].Role, text)
		return
	}
}

// Compressed returns the message list to send to the model. Below the
// threshold the stored history is returned untouched. Above it, the System
// message and the keepRecent most recent messages are retained verbatim and
// everything between them is folded into a single synthetic User summary
// message, in which case the stored history is replaced by the compressed
// form. Compression never fails: a broken summarization request falls back
// to a templated summary, and a result that still exceeds the threshold
// (one oversized message) is recorded and returned anyway.
func (s *ContextStore) Compressed(ctx context.Context, threshold int) []schemas.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	if threshold <= 0 || sizeOf(s.messages) <= threshold {
		out := make([]schemas.Message, len(s.messages))
		copy(out, s.messages)
		return out
	}

	// Leading system messages are kept verbatim; in practice there is one.
	head := 0
	for head < len(s.messages) && s.messages[head].Role == schemas.RoleSystem {
		head++
	}
	tailStart := len(s.messages) - s.keepRecent
	if tailStart <= head {
		// Nothing between the system prompt and the retained tail: a single
		// oversized message that compression cannot address.
		s.logger.Warn("Context over threshold but nothing to compress",
			zap.Int("size", sizeOf(s.messages)), zap.Int("threshold", threshold))
		out := make([]schemas.Message, len(s.messages))
		copy(out, s.messages)
		return out
	}

	older := s.messages[head:tailStart]
	summary := s.summarizeLocked(ctx, older)
	s.summary = summary
	s.foldedSteps += len(older)

	compressed := make([]schemas.Message, 0, head+1+s.keepRecent)
	compressed = append(compressed, s.messages[:head]...)
	compressed = append(compressed, schemas.NewTextMessage(schemas.RoleUser, summary))
	compressed = append(compressed, s.messages[tailStart:]...)
	s.messages = compressed

	if size := sizeOf(s.messages); size > threshold {
		s.logger.Warn("Context still over threshold after compression",
			zap.Int("size", size), zap.Int("threshold", threshold))
	} else {
		s.logger.Info("Compressed context history",
			zap.Int("folded_messages", len(older)), zap.Int("size", size))
	}

	out := make([]schemas.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// summarizeLocked issues the auxiliary summarization request over the
// text-bearing content of older messages. Image-only messages contribute
// nothing and are dropped silently. Must be called with s.mu held.
func (s *ContextStore) summarizeLocked(ctx context.Context, older []schemas.Message) string {
	var b strings.Builder
	if s.summary != "" {
		b.WriteString("(previous summary) " + s.summary + "\n\n")
	}
	for _, m := range older {
		text := m.JoinedText()
		if text == "" {
			continue
		}
		b.WriteString(string(m.Role) + ": " + text + "\n\n")
	}

	if b.Len() > 0 && s.summarizer != nil {
		reply, err := s.summarizer.Request(ctx, []schemas.Message{
			schemas.NewTextMessage(schemas.RoleSystem, summarizeInstruction),
			schemas.NewTextMessage(schemas.RoleUser, b.String()),
		})
		if err == nil && strings.TrimSpace(reply.Raw) != "" {
			return "[Earlier history, summarized] " + strings.TrimSpace(reply.Raw)
		}
		if err != nil {
			s.logger.Warn("History summarization failed, using fallback", zap.Error(err))
		}
	}

	// Templated fallback: approximate rather than precise, never an error.
	approx := (s.foldedSteps + len(older) + 1) / 2
	return fmt.Sprintf(
		"[Earlier history omitted] About %d earlier steps were performed and removed to save space. The task is still in progress; rely on the latest screen state below.",
		approx)
}
