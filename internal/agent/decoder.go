// internal/agent/decoder.go
package agent

import (
	"regexp"
	"strings"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"
)

// Decoder turns raw model text into exactly one Action. Decode is total: it
// never fails. The strategies, in order:
//
//  1. Balanced-brace scan: extract the first well-formed JSON object and
//     read its duck-typed fields.
//  2. Function-call grammar: tolerant regex extraction of the
//     `finish(message="...")` / `do(action="...", ...)` form.
//  3. Catch-all: synthesize Finish carrying the raw text verbatim. An
//     unparseable reply is an implicit, low-confidence completion signal,
//     never a hard error.
type Decoder struct {
	logger *zap.Logger
}

// NewDecoder creates a Decoder.
func NewDecoder(logger *zap.Logger) *Decoder {
	return &Decoder{logger: logger.Named("decoder")}
}

// Decode parses raw model output into a typed Action.
func (d *Decoder) Decode(raw string) Action {
	trimmed := strings.TrimSpace(raw)

	if blob := extractBalancedObject(trimmed); blob != "" {
		if action, ok := d.fromJSONObject(blob); ok {
			return action
		}
	}

	if action, ok := d.fromCallGrammar(trimmed); ok {
		return action
	}

	d.logger.Debug("Unparseable model reply, treating as implicit finish",
		zap.String("raw", truncate(trimmed, 200)))
	return Action{Kind: KindFinish, Message: raw}
}

// extractBalancedObject returns the first balanced-brace region of s,
// starting at the first '{' and ending when the depth returns to zero.
// String literals are honored so braces inside quoted values do not skew
// the depth count. Returns "" when no balanced region exists.
func extractBalancedObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// fromJSONObject interprets a JSON blob with duck-typed fields. The action
// verb may live under "action", "type" or "_type"; coordinates under
// "element" ([x,y]), "x"/"y", or "start"/"end" pairs.
func (d *Decoder) fromJSONObject(blob string) (Action, bool) {
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(blob), &obj); err != nil {
		return Action{}, false
	}

	verb := stringField(obj, "action", "type", "_type")
	if verb == "" {
		return Action{}, false
	}

	kind, ok := canonicalKind(verb)
	if !ok {
		return Action{Kind: KindUnknown, RawType: verb}, true
	}

	action := Action{Kind: kind}
	switch kind {
	case KindTap, KindLongPress, KindDoubleTap:
		pt, ok := pointField(obj, "element")
		if !ok {
			pt, ok = xyField(obj)
		}
		if !ok {
			return Action{}, false
		}
		action.Target = ClampRel(pt)
		action.Note = stringField(obj, "note", "description")
	case KindSwipe:
		start, okS := pointField(obj, "start", "from")
		end, okE := pointField(obj, "end", "to")
		if !okS || !okE {
			return Action{}, false
		}
		action.Start = ClampRel(start)
		action.End = ClampRel(end)
	case KindType:
		action.Text = stringField(obj, "text", "value")
	case KindLaunch:
		action.App = stringField(obj, "app", "name", "value")
	case KindWait:
		action.DurationMS = intField(obj, "duration", "duration_ms", "ms")
	case KindFinish, KindTakeOver, KindNote, KindInteract:
		action.Message = stringField(obj, "message", "text", "value")
	case KindCallAPI:
		action.Message = stringField(obj, "instruction", "message", "text")
	}
	return action, true
}

var (
	finishRe      = regexp.MustCompile(`(?s)finish\s*\(\s*message\s*=\s*"(.*?)"\s*\)`)
	doVerbRe      = regexp.MustCompile(`do\s*\(\s*action\s*=\s*"([^"]+)"`)
	elementRe     = regexp.MustCompile(`element\s*=\s*\[\s*(-?\d+)\s*,\s*(-?\d+)\s*\]`)
	startRe       = regexp.MustCompile(`start\s*=\s*\[\s*(-?\d+)\s*,\s*(-?\d+)\s*\]`)
	endRe         = regexp.MustCompile(`end\s*=\s*\[\s*(-?\d+)\s*,\s*(-?\d+)\s*\]`)
	textArgRe     = regexp.MustCompile(`(?s)text\s*=\s*"(.*?)"`)
	appArgRe      = regexp.MustCompile(`app\s*=\s*"([^"]*)"`)
	messageArgRe  = regexp.MustCompile(`(?s)message\s*=\s*"(.*?)"`)
	instructionRe = regexp.MustCompile(`(?s)instruction\s*=\s*"(.*?)"`)
	durationRe    = regexp.MustCompile(`duration\s*=\s*"?(\d+)`)
	noteArgRe     = regexp.MustCompile(`note\s*=\s*"([^"]*)"`)
)

// fromCallGrammar matches the function-call shaped fallback grammar.
func (d *Decoder) fromCallGrammar(s string) (Action, bool) {
	if m := finishRe.FindStringSubmatch(s); m != nil {
		return Action{Kind: KindFinish, Message: m[1]}, true
	}

	m := doVerbRe.FindStringSubmatch(s)
	if m == nil {
		return Action{}, false
	}

	kind, ok := canonicalKind(m[1])
	if !ok {
		return Action{Kind: KindUnknown, RawType: m[1]}, true
	}

	action := Action{Kind: kind}
	switch kind {
	case KindTap, KindLongPress, KindDoubleTap:
		pt, ok := regexPoint(elementRe, s)
		if !ok {
			return Action{}, false
		}
		action.Target = ClampRel(pt)
		if n := noteArgRe.FindStringSubmatch(s); n != nil {
			action.Note = n[1]
		}
	case KindSwipe:
		start, okS := regexPoint(startRe, s)
		end, okE := regexPoint(endRe, s)
		if !okS || !okE {
			return Action{}, false
		}
		action.Start = ClampRel(start)
		action.End = ClampRel(end)
	case KindType:
		if t := textArgRe.FindStringSubmatch(s); t != nil {
			action.Text = t[1]
		}
	case KindLaunch:
		a := appArgRe.FindStringSubmatch(s)
		if a == nil {
			return Action{}, false
		}
		action.App = a[1]
	case KindWait:
		if dm := durationRe.FindStringSubmatch(s); dm != nil {
			action.DurationMS = atoiSafe(dm[1])
		}
	case KindFinish, KindTakeOver, KindNote, KindInteract:
		if mm := messageArgRe.FindStringSubmatch(s); mm != nil {
			action.Message = mm[1]
		}
	case KindCallAPI:
		if im := instructionRe.FindStringSubmatch(s); im != nil {
			action.Message = im[1]
		} else if mm := messageArgRe.FindStringSubmatch(s); mm != nil {
			action.Message = mm[1]
		}
	}
	return action, true
}

// canonicalKind maps the model's loosely spelled verbs onto the closed
// ActionKind set. Click and Tap are the same gesture.
func canonicalKind(verb string) (ActionKind, bool) {
	switch strings.ToLower(strings.TrimSpace(strings.ReplaceAll(verb, " ", "_"))) {
	case "tap", "click":
		return KindTap, true
	case "type", "input", "input_text":
		return KindType, true
	case "clear", "clear_text", "cleartext":
		return KindClear, true
	case "swipe":
		return KindSwipe, true
	case "long_press", "longpress":
		return KindLongPress, true
	case "double_tap", "doubletap":
		return KindDoubleTap, true
	case "launch", "launch_app", "open_app":
		return KindLaunch, true
	case "back", "press_back":
		return KindBack, true
	case "home", "press_home":
		return KindHome, true
	case "wait", "sleep":
		return KindWait, true
	case "finish", "finished", "done", "complete":
		return KindFinish, true
	case "take_over", "takeover":
		return KindTakeOver, true
	case "note":
		return KindNote, true
	case "call_api", "callapi":
		return KindCallAPI, true
	case "interact":
		return KindInteract, true
	default:
		return "", false
	}
}

func stringField(obj map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if v, ok := obj[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func intField(obj map[string]interface{}, keys ...string) int {
	for _, k := range keys {
		switch v := obj[k].(type) {
		case float64:
			return int(v)
		case string:
			if n := atoiSafe(v); n > 0 {
				return n
			}
		}
	}
	return 0
}

func xyField(obj map[string]interface{}) (Point, bool) {
	xv, okX := obj["x"].(float64)
	yv, okY := obj["y"].(float64)
	if !okX || !okY {
		return Point{}, false
	}
	return Point{X: int(xv), Y: int(yv)}, true
}

func pointField(obj map[string]interface{}, keys ...string) (Point, bool) {
	for _, k := range keys {
		arr, ok := obj[k].([]interface{})
		if !ok || len(arr) < 2 {
			continue
		}
		x, okX := arr[0].(float64)
		y, okY := arr[1].(float64)
		if okX && okY {
			return Point{X: int(x), Y: int(y)}, true
		}
	}
	return Point{}, false
}

func regexPoint(re *regexp.Regexp, s string) (Point, bool) {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return Point{}, false
	}
	return Point{X: atoiSafe(m[1]), Y: atoiSafe(m[2])}, true
}

func atoiSafe(s string) int {
	n := 0
	neg := false
	for i, c := range s {
		if i == 0 && c == '-' {
			neg = true
			continue
		}
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int(c-'0')
	}
	if neg {
		return -n
	}
	return n
}
