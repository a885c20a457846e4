package agent

import (
	"testing"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestDecoder() *Decoder {
	return NewDecoder(zap.NewNop())
}

func TestDecodeJSONObject(t *testing.T) {
	d := newTestDecoder()

	t.Run("tap with element array", func(t *testing.T) {
		action := d.Decode(`{"action": "Tap", "element": [500, 500]}`)
		assert.Equal(t, KindTap, action.Kind)
		assert.Equal(t, Point{500, 500}, action.Target)
	})

	t.Run("click normalizes to tap", func(t *testing.T) {
		action := d.Decode(`{"action": "Click", "element": [10, 20]}`)
		assert.Equal(t, KindTap, action.Kind)
		assert.Equal(t, Point{10, 20}, action.Target)
	})

	t.Run("tap with x y fields", func(t *testing.T) {
		action := d.Decode(`{"type": "tap", "x": 100, "y": 200}`)
		assert.Equal(t, KindTap, action.Kind)
		assert.Equal(t, Point{100, 200}, action.Target)
	})

	t.Run("out of range coordinates are clamped", func(t *testing.T) {
		action := d.Decode(`{"action": "Tap", "element": [1000, -3]}`)
		assert.Equal(t, Point{999, 0}, action.Target)
	})

	t.Run("swipe", func(t *testing.T) {
		action := d.Decode(`{"action": "Swipe", "start": [100, 800], "end": [100, 200]}`)
		require.Equal(t, KindSwipe, action.Kind)
		assert.Equal(t, Point{100, 800}, action.Start)
		assert.Equal(t, Point{100, 200}, action.End)
	})

	t.Run("type", func(t *testing.T) {
		action := d.Decode(`{"action": "Type", "text": "hello world"}`)
		require.Equal(t, KindType, action.Kind)
		assert.Equal(t, "hello world", action.Text)
	})

	t.Run("launch", func(t *testing.T) {
		action := d.Decode(`{"action": "Launch", "app": "Settings"}`)
		require.Equal(t, KindLaunch, action.Kind)
		assert.Equal(t, "Settings", action.App)
	})

	t.Run("finish", func(t *testing.T) {
		action := d.Decode(`{"action": "finish", "message": "done"}`)
		require.Equal(t, KindFinish, action.Kind)
		assert.Equal(t, "done", action.Message)
	})

	t.Run("unknown verb is preserved", func(t *testing.T) {
		action := d.Decode(`{"action": "Teleport", "element": [1, 2]}`)
		require.Equal(t, KindUnknown, action.Kind)
		assert.Equal(t, "Teleport", action.RawType)
	})

	t.Run("object embedded in prose", func(t *testing.T) {
		action := d.Decode(`Sure, tapping now: {"action": "Tap", "element": [5, 6]} as requested.`)
		assert.Equal(t, KindTap, action.Kind)
	})

	t.Run("braces inside string values do not skew extraction", func(t *testing.T) {
		action := d.Decode(`{"action": "Type", "text": "set {\"a\": 1}"}`)
		require.Equal(t, KindType, action.Kind)
		assert.Equal(t, `set {"a": 1}`, action.Text)
	})
}

func TestDecodeCallGrammar(t *testing.T) {
	d := newTestDecoder()

	t.Run("finish call", func(t *testing.T) {
		action := d.Decode(`finish(message="Task completed successfully")`)
		require.Equal(t, KindFinish, action.Kind)
		assert.Equal(t, "Task completed successfully", action.Message)
	})

	t.Run("do tap", func(t *testing.T) {
		action := d.Decode(`do(action="Tap", element=[320, 480])`)
		require.Equal(t, KindTap, action.Kind)
		assert.Equal(t, Point{320, 480}, action.Target)
	})

	t.Run("do long press with spaces in verb", func(t *testing.T) {
		action := d.Decode(`do(action="Long Press", element=[320, 480])`)
		assert.Equal(t, KindLongPress, action.Kind)
	})

	t.Run("do swipe", func(t *testing.T) {
		action := d.Decode(`do(action="Swipe", start=[500, 800], end=[500, 200])`)
		require.Equal(t, KindSwipe, action.Kind)
		assert.Equal(t, Point{500, 800}, action.Start)
		assert.Equal(t, Point{500, 200}, action.End)
	})

	t.Run("do type with multiline text", func(t *testing.T) {
		action := d.Decode("do(action=\"Type\", text=\"line one\nline two\")")
		require.Equal(t, KindType, action.Kind)
		assert.Equal(t, "line one\nline two", action.Text)
	})

	t.Run("do clear text", func(t *testing.T) {
		action := d.Decode(`do(action="Clear Text")`)
		assert.Equal(t, KindClear, action.Kind)
	})

	t.Run("do launch", func(t *testing.T) {
		action := d.Decode(`do(action="Launch", app="Chrome")`)
		require.Equal(t, KindLaunch, action.Kind)
		assert.Equal(t, "Chrome", action.App)
	})

	t.Run("do wait", func(t *testing.T) {
		action := d.Decode(`do(action="Wait", duration="1500")`)
		require.Equal(t, KindWait, action.Kind)
		assert.Equal(t, 1500, action.DurationMS)
	})

	t.Run("do back without arguments", func(t *testing.T) {
		action := d.Decode(`do(action="Back")`)
		assert.Equal(t, KindBack, action.Kind)
	})

	t.Run("do take over", func(t *testing.T) {
		action := d.Decode(`do(action="Take Over", message="please log in")`)
		require.Equal(t, KindTakeOver, action.Kind)
		assert.Equal(t, "please log in", action.Message)
	})

	t.Run("do call api", func(t *testing.T) {
		action := d.Decode(`do(action="Call API", instruction="fetch today's agenda")`)
		require.Equal(t, KindCallAPI, action.Kind)
		assert.Equal(t, "fetch today's agenda", action.Message)
	})

	t.Run("surrounding reasoning text is tolerated", func(t *testing.T) {
		action := d.Decode("The button is near the bottom.\ndo(action=\"Tap\", element=[480, 920])\n")
		assert.Equal(t, KindTap, action.Kind)
	})
}

func TestDecodeCatchAll(t *testing.T) {
	d := newTestDecoder()

	testCases := []string{
		"",
		"I am not sure what to do here.",
		"do(action=",
		`{"action": }`,
		"{{{{",
		`do(action="Tap")`, // tap without coordinates cannot be executed
	}

	for _, raw := range testCases {
		action := d.Decode(raw)
		assert.Equal(t, KindFinish, action.Kind, "input %q", raw)
		assert.Equal(t, raw, action.Message, "catch-all must carry the raw text")
	}
}

// Decode must be total: arbitrary input never panics and always yields an
// action.
func TestDecodeTotalOnGeneratedInput(t *testing.T) {
	d := newTestDecoder()

	for i := 0; i < 500; i++ {
		data := make([]byte, 64)
		for j := range data {
			data[j] = byte((i*31 + j*17) % 256)
		}
		consumer := fuzz.NewConsumer(data)
		raw, err := consumer.GetString()
		if err != nil {
			continue
		}
		action := d.Decode(raw)
		assert.NotEmpty(t, action.Kind)
	}
}

func FuzzDecode(f *testing.F) {
	f.Add(`{"action": "Tap", "element": [500, 500]}`)
	f.Add(`finish(message="done")`)
	f.Add(`do(action="Swipe", start=[1,2], end=[3,4])`)
	f.Add("random model chatter")

	d := NewDecoder(zap.NewNop())
	f.Fuzz(func(t *testing.T, raw string) {
		action := d.Decode(raw)
		if action.Kind == "" {
			t.Fatalf("Decode returned empty kind for %q", raw)
		}
	})
}
