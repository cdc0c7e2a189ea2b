package webhook

import (
	"strings"
	"unicode"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
)

type Kind int

const (
	KindSuccess Kind = iota
	KindFailure
)

// UnrecognizedFormat is the failure reason for payloads no probe matched.
const UnrecognizedFormat = "unrecognized response format"

// Result is the normalized webhook reply. For KindFailure, Content may hold
// text worth showing anyway and Raw keeps the payload for diagnostics.
type Result struct {
	Kind    Kind
	Content string
	Reason  string
	Raw     string
}

func (r Result) OK() bool { return r.Kind == KindSuccess }

func Success(content string) Result {
	return Result{Kind: KindSuccess, Content: content}
}

func Failure(reason, content, raw string) Result {
	return Result{Kind: KindFailure, Reason: reason, Content: content, Raw: raw}
}

// Probe order for text-bearing fields.
var (
	elementTextFields = []string{"output", "response", "message", "text", "content"}
	objectTextFields  = []string{"response", "output", "message", "text", "content"}
)

// NormalizeBody classifies a raw 2xx body. Bodies that are not JSON are
// taken as plain text; so is JSON-looking text that does not parse.
func NormalizeBody(body []byte) Result {
	text := strings.TrimSpace(string(body))
	if text == "" {
		return Failure(ErrEmptyBody.Error(), "", "")
	}
	if !looksLikeJSON(text) || !gjson.Valid(text) {
		return Success(text)
	}
	return Normalize(gjson.Parse(text))
}

// Normalize classifies a decoded payload into exactly one Result.
func Normalize(payload gjson.Result) Result {
	switch {
	case payload.IsArray():
		if r, ok := normalizeArray(payload); ok {
			return r
		}
	case payload.IsObject():
		if r, ok := normalizeObject(payload); ok {
			return r
		}
	case payload.Type == gjson.String:
		if s := strings.TrimSpace(payload.String()); s != "" {
			return Success(s)
		}
	}
	return Failure(UnrecognizedFormat, diagnostic(payload.Raw), payload.Raw)
}

func normalizeArray(arr gjson.Result) (Result, bool) {
	var (
		out   Result
		found bool
	)
	arr.ForEach(func(_, el gjson.Result) bool {
		switch {
		case el.IsObject():
			if reason, isErr := errorIndicator(el); isErr {
				out, found = Failure(reason, "", arr.Raw), true
				return false
			}
			if s, ok := firstText(el, elementTextFields); ok {
				out, found = Success(s), true
				return false
			}
		case el.Type == gjson.String:
			if s := strings.TrimSpace(el.String()); s != "" {
				out, found = Success(s), true
				return false
			}
		}
		return true
	})
	return out, found
}

func normalizeObject(obj gjson.Result) (Result, bool) {
	if reason, isErr := errorIndicator(obj); isErr {
		return Failure(reason, "", obj.Raw), true
	}
	if resp := obj.Get("response"); resp.IsObject() {
		return Success(FormatStructured(resp)), true
	}
	if s, ok := firstText(obj, objectTextFields); ok {
		return Success(s), true
	}

	var (
		keys int
		only gjson.Result
	)
	obj.ForEach(func(_, v gjson.Result) bool {
		keys++
		only = v
		return keys < 2
	})
	if keys == 1 && only.Type == gjson.String {
		if s := strings.TrimSpace(only.String()); s != "" {
			return Success(s), true
		}
	}
	return Result{}, false
}

// errorIndicator reports an explicit "error" field or a "message" that
// mentions an error.
func errorIndicator(obj gjson.Result) (string, bool) {
	if e := obj.Get("error"); e.Exists() {
		switch e.Type {
		case gjson.Null, gjson.False:
		case gjson.String:
			if s := strings.TrimSpace(e.String()); s != "" {
				return s, true
			}
		case gjson.True:
			if m := obj.Get("message"); m.Type == gjson.String && strings.TrimSpace(m.String()) != "" {
				return m.String(), true
			}
			return "remote reported an error", true
		default:
			if m := e.Get("message"); m.Type == gjson.String && m.String() != "" {
				return m.String(), true
			}
			return e.Raw, true
		}
	}
	if m := obj.Get("message"); m.Type == gjson.String && hasErrorMarker(m.String()) {
		return m.String(), true
	}
	return "", false
}

// "erro" also matches "error".
func hasErrorMarker(s string) bool {
	return strings.Contains(strings.ToLower(s), "erro")
}

func firstText(obj gjson.Result, fields []string) (string, bool) {
	for _, f := range fields {
		v := obj.Get(f)
		if v.Type != gjson.String {
			continue
		}
		if s := strings.TrimSpace(v.String()); s != "" {
			return s, true
		}
	}
	return "", false
}

func looksLikeJSON(s string) bool {
	return strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[") || strings.HasPrefix(s, `"`)
}

func diagnostic(raw string) string {
	if raw == "" {
		return ""
	}
	return "*Unprocessed response format:*\n```json\n" + strings.TrimSpace(string(pretty.Pretty([]byte(raw)))) + "\n```"
}

// FormatStructured renders a structured reply object as markdown. Keys keep
// their document order and become bold headings; arrays become bullet
// lists. Falls back to indented JSON when nothing renders.
func FormatStructured(obj gjson.Result) string {
	var b strings.Builder
	writeStructured(&b, obj)
	if out := strings.TrimSpace(b.String()); out != "" {
		return out
	}
	return strings.TrimSpace(string(pretty.Pretty([]byte(obj.Raw))))
}

func writeStructured(b *strings.Builder, obj gjson.Result) {
	obj.ForEach(func(key, value gjson.Result) bool {
		title := heading(key.String())
		switch {
		case value.Type == gjson.Null:
		case value.Type == gjson.String:
			if s := strings.TrimSpace(value.String()); s != "" {
				b.WriteString("**" + title + ":**\n" + s + "\n\n")
			}
		case value.IsArray():
			items := value.Array()
			if len(items) == 0 {
				break
			}
			b.WriteString("**" + title + ":**\n")
			for _, it := range items {
				if it.Type == gjson.String {
					b.WriteString("- " + it.String() + "\n")
				} else {
					b.WriteString("- " + it.Raw + "\n")
				}
			}
			b.WriteString("\n")
		case value.IsObject():
			b.WriteString("**" + title + ":**\n")
			writeStructured(b, value)
		default:
			b.WriteString("**" + title + ":** " + value.Raw + "\n\n")
		}
		return true
	})
}

// heading turns snake_case keys into title words.
func heading(key string) string {
	words := strings.Fields(strings.ReplaceAll(key, "_", " "))
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
