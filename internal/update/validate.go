package update

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mymmrac/telego"
)

// ValidationError reports a structurally unacceptable payload. It is the
// only error Validate returns; the webhook maps it to 400 Bad Request.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid update: " + e.Reason
}

func invalid(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// Validate checks that raw is a JSON object with a positive integer
// update_id and exactly one populated field from Kinds, then builds the
// normalized event. It has no side effects.
func Validate(raw []byte) (*Event, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, invalid("payload is not a JSON object")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, invalid("malformed JSON: %v", err)
	}

	idRaw, ok := fields["update_id"]
	if !ok || isNull(idRaw) {
		return nil, invalid("missing update_id")
	}
	if _, err := parseUpdateID(idRaw); err != nil {
		return nil, err
	}

	var found []Kind
	for _, k := range Kinds {
		if v, ok := fields[string(k)]; ok && !isNull(v) {
			found = append(found, k)
		}
	}
	switch len(found) {
	case 0:
		return nil, invalid("no recognized event kind")
	case 1:
	default:
		names := make([]string, len(found))
		for i, k := range found {
			names[i] = string(k)
		}
		return nil, invalid("multiple event kinds: %s", strings.Join(names, ", "))
	}

	var u telego.Update
	if err := json.Unmarshal(trimmed, &u); err != nil {
		return nil, invalid("decode %s: %v", found[0], err)
	}

	return Build(&u, found[0], json.RawMessage(trimmed)), nil
}

func parseUpdateID(raw json.RawMessage) (int64, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] == '"' {
		return 0, invalid("update_id is not a number")
	}
	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return 0, invalid("update_id is not a number")
	}
	id, err := n.Int64()
	if err != nil {
		return 0, invalid("update_id must be an integer, got %s", n)
	}
	if id <= 0 {
		return 0, invalid("update_id must be positive, got %d", id)
	}
	return id, nil
}

func isNull(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null"
}
