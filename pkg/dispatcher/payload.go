package dispatcher

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	paramsKey            = "params"
	additionalContextKey = "_additionalContext"
	originKey            = "origin"
)

// extractListen returns the boolean "listen" field of a subscription payload.
// Empty, non-object, or non-boolean payloads all report ok=false.
func extractListen(payload string) (listen bool, ok bool) {
	if strings.TrimSpace(payload) == "" || !gjson.Valid(payload) {
		return false, false
	}
	doc := gjson.Parse(payload)
	if !doc.IsObject() {
		return false, false
	}
	field := doc.Get("listen")
	switch field.Type {
	case gjson.True:
		return true, true
	case gjson.False:
		return false, true
	default:
		return false, false
	}
}

// wrapWithContext builds the outgoing payload for includeContext methods:
//
//	{"params": <payload>, "_additionalContext": {<additional>..., "origin": <origin>}}
//
// An empty payload is forwarded as an empty object; an unparseable one as null.
func wrapWithContext(payload, origin string, additional map[string]interface{}) (string, error) {
	params := strings.TrimSpace(payload)
	switch {
	case params == "":
		params = "{}"
	case !gjson.Valid(params):
		params = "null"
	}

	ctxMap := make(map[string]interface{}, len(additional)+1)
	for k, v := range additional {
		ctxMap[k] = v
	}
	ctxMap[originKey] = origin

	out, err := sjson.SetRaw(`{}`, paramsKey, params)
	if err != nil {
		return "", fmt.Errorf("set params: %w", err)
	}
	out, err = sjson.Set(out, additionalContextKey, ctxMap)
	if err != nil {
		return "", fmt.Errorf("set context: %w", err)
	}
	return out, nil
}

// rawResult turns a service result into raw JSON for the wire envelope.
// Results that are not JSON are sent as JSON strings.
func rawResult(result string) json.RawMessage {
	if result == "" {
		return nil
	}
	if gjson.Valid(result) {
		return json.RawMessage(result)
	}
	quoted, _ := json.Marshal(result)
	return json.RawMessage(quoted)
}
