// api/schemas/messages.go
package schemas

import (
	"context"
	"strings"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ContentKind distinguishes the payload types a message part can carry.
type ContentKind string

const (
	ContentText  ContentKind = "text"
	ContentImage ContentKind = "image"
)

// ContentItem is one element of a multi-part message body. Exactly one of
// Text or Image is populated, selected by Kind.
type ContentItem struct {
	Kind  ContentKind `json:"kind"`
	Text  string      `json:"text,omitempty"`
	Image []byte      `json:"image,omitempty"` // encoded image payload (PNG)
}

// Message is a single entry in the conversation history sent to the model.
// Plain-text messages use Text; observation messages that embed a screenshot
// use Parts. When Parts is non-nil it takes precedence over Text.
type Message struct {
	Role  Role          `json:"role"`
	Text  string        `json:"text,omitempty"`
	Parts []ContentItem `json:"parts,omitempty"`
}

// NewTextMessage builds a single-part text message.
func NewTextMessage(role Role, text string) Message {
	return Message{Role: role, Text: text}
}

// NewPartsMessage builds a multi-part message.
func NewPartsMessage(role Role, parts ...ContentItem) Message {
	return Message{Role: role, Parts: parts}
}

// TextPart builds a text content item.
func TextPart(text string) ContentItem {
	return ContentItem{Kind: ContentText, Text: text}
}

// ImagePart builds an image content item from an encoded payload.
func ImagePart(data []byte) ContentItem {
	return ContentItem{Kind: ContentImage, Image: data}
}

// JoinedText concatenates all text content of the message, ignoring images.
func (m Message) JoinedText() string {
	if m.Parts == nil {
		return m.Text
	}
	var b strings.Builder
	for _, p := range m.Parts {
		if p.Kind == ContentText && p.Text != "" {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// HasImage reports whether any part of the message carries an image payload.
func (m Message) HasImage() bool {
	for _, p := range m.Parts {
		if p.Kind == ContentImage && len(p.Image) > 0 {
			return true
		}
	}
	return false
}

// ApproxSize estimates the message's contribution to context size: the
// character length of all text plus the encoded length of any image payload.
// Image payloads dominate, which is why the agent strips them after use.
func (m Message) ApproxSize() int {
	if m.Parts == nil {
		return len(m.Text)
	}
	size := 0
	for _, p := range m.Parts {
		switch p.Kind {
		case ContentText:
			size += len(p.Text)
		case ContentImage:
			size += len(p.Image)
		}
	}
	return size
}

// ModelReply is the gateway's normalized view of one model response. Raw is
// the unmodified reply text and is what gets appended back into history;
// Action is the portion carrying the next-action payload; Thinking is the
// optional reasoning channel, where the provider surfaces one.
type ModelReply struct {
	Thinking string
	Action   string
	Raw      string
}

// ModelGateway is the single contract the agent core has with a remote
// language-and-vision model. Provider wire encodings (multi-part content,
// thinking channels) are fully absorbed behind it.
type ModelGateway interface {
	Request(ctx context.Context, messages []Message) (ModelReply, error)
}

// ObservationMode selects which capture sources an agent step requires.
type ObservationMode string

const (
	// ModeVision observes through screenshots only.
	ModeVision ObservationMode = "vision"
	// ModeAccessibility observes through the structured UI dump only.
	ModeAccessibility ObservationMode = "accessibility"
	// ModeHybrid sends both the screenshot and the structured dump.
	ModeHybrid ObservationMode = "hybrid"
)

// RequiresCapture reports whether the mode cannot run without a
// screen-capture resource.
func (m ObservationMode) RequiresCapture() bool {
	return m == ModeVision || m == ModeHybrid
}
