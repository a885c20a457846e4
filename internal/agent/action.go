// internal/agent/action.go
package agent

import (
	"fmt"
	"strings"
)

// ActionKind enumerates every action the model can request. The set is
// closed: anything the decoder cannot recognize becomes KindFinish (with the
// raw text as message) or KindUnknown (recognized grammar, unrecognized verb).
type ActionKind string

const (
	KindFinish    ActionKind = "Finish"    // Declare the task complete.
	KindTap       ActionKind = "Tap"       // Tap at a relative coordinate.
	KindType      ActionKind = "Type"      // Type text into the focused field.
	KindClear     ActionKind = "Clear"     // Clear the focused text field.
	KindSwipe     ActionKind = "Swipe"     // Swipe between two relative coordinates.
	KindLongPress ActionKind = "LongPress" // Press and hold at a relative coordinate.
	KindDoubleTap ActionKind = "DoubleTap" // Double tap at a relative coordinate.
	KindLaunch    ActionKind = "Launch"    // Launch an app by display name.
	KindBack      ActionKind = "Back"      // Navigate back.
	KindHome      ActionKind = "Home"      // Go to the home screen.
	KindWait      ActionKind = "Wait"      // Pause for a duration.
	KindTakeOver  ActionKind = "TakeOver"  // Request human intervention.
	KindNote      ActionKind = "Note"      // Record an observation without acting.
	KindCallAPI   ActionKind = "CallApi"   // Delegate an instruction to a companion service.
	KindInteract  ActionKind = "Interact"  // Ask the user to interact with the device.
	KindUnknown   ActionKind = "Unknown"   // Recognized grammar, unsupported verb.
)

// Point is a position in the relative 0-1000 coordinate space.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Action is the decoded form of one model instruction. Exactly one variant
// is live per decoded instruction, selected by Kind; the remaining fields are
// meaningful only for the kinds that use them.
type Action struct {
	Kind ActionKind

	// Target is the primary coordinate for Tap, LongPress and DoubleTap.
	Target Point
	// Start and End bound a Swipe.
	Start Point
	End   Point

	Text       string // KindType: text to inject.
	App        string // KindLaunch: display name to resolve.
	Message    string // Finish, TakeOver, Note, Interact, CallApi: payload.
	DurationMS int    // KindWait: pause length.
	RawType    string // KindUnknown: the unrecognized verb, verbatim.

	// Note annotates positional actions when the model labels the element it
	// is touching. Informational only.
	Note string
}

// String renders a compact one-line form used for logging and for the
// last-failed-action context hint.
func (a Action) String() string {
	switch a.Kind {
	case KindTap, KindLongPress, KindDoubleTap:
		s := fmt.Sprintf("%s(%d,%d)", a.Kind, a.Target.X, a.Target.Y)
		if a.Note != "" {
			s += fmt.Sprintf(" [%s]", a.Note)
		}
		return s
	case KindSwipe:
		return fmt.Sprintf("Swipe(%d,%d -> %d,%d)", a.Start.X, a.Start.Y, a.End.X, a.End.Y)
	case KindType:
		return fmt.Sprintf("Type(%q)", truncate(a.Text, 64))
	case KindLaunch:
		return fmt.Sprintf("Launch(%q)", a.App)
	case KindWait:
		return fmt.Sprintf("Wait(%dms)", a.DurationMS)
	case KindFinish, KindTakeOver, KindNote, KindInteract, KindCallAPI:
		return fmt.Sprintf("%s(%q)", a.Kind, truncate(a.Message, 64))
	case KindUnknown:
		return fmt.Sprintf("Unknown(%q)", a.RawType)
	default:
		return string(a.Kind)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.ToValidUTF8(s[:n], "") + "..."
}
