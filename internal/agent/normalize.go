package agent

import (
	"bytes"
	"encoding/json"

	"github.com/tidwall/gjson"
)

// textFields are probed in order after "response" and a bare JSON string.
var textFields = []string{"text", "content", "message", "result"}

// Normalize extracts display text from a webhook response body. It probes
// "response", a raw string payload, then "text", "content", "message" and
// "result". Only non-empty string values match. Any other JSON payload is
// rendered as a fenced, pretty-printed json block.
func Normalize(body []byte) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return ""
	}
	if !gjson.ValidBytes(trimmed) {
		return string(body)
	}

	res := gjson.ParseBytes(trimmed)
	if v := res.Get("response"); isText(v) {
		return v.Str
	}
	if res.Type == gjson.String {
		return res.Str
	}
	if res.IsObject() {
		for _, field := range textFields {
			if v := res.Get(field); isText(v) {
				return v.Str
			}
		}
	}
	return fencedJSON(trimmed)
}

func isText(v gjson.Result) bool {
	return v.Type == gjson.String && v.Str != ""
}

func fencedJSON(raw []byte) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		buf.Reset()
		buf.Write(raw)
	}
	return "```json\n" + buf.String() + "\n```"
}
