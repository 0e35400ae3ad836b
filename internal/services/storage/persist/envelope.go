package persist

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/louisbranch/tierstore/internal/services/storage/tier"
)

// envelope is the persisted form of an expiring entry.
type envelope struct {
	Value   json.RawMessage `json:"value"`
	Expires int64           `json:"expires"`
}

// encodeValue returns the JSON form of value. json.RawMessage values and byte
// slices holding JSON are already encoded and are embedded as they are.
func encodeValue(value any) (json.RawMessage, error) {
	switch v := value.(type) {
	case json.RawMessage:
		if !json.Valid(v) {
			return nil, fmt.Errorf("raw value is not valid JSON")
		}
		return v, nil
	case []byte:
		if json.Valid(v) {
			return json.RawMessage(v), nil
		}
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	return raw, nil
}

// encodeItem produces the stored string. Entries that never expire are
// written as the bare JSON value.
func encodeItem(value json.RawMessage, expiresAt time.Time) (string, error) {
	if expiresAt.IsZero() {
		return string(value), nil
	}
	data, err := json.Marshal(envelope{Value: value, Expires: tier.UnixMillis(expiresAt)})
	if err != nil {
		return "", fmt.Errorf("encode envelope: %w", err)
	}
	return string(data), nil
}

// decodeItem reverses encodeItem. A stored string that is neither an envelope
// nor JSON is a legacy entry whose value is the string itself.
func decodeItem(stored string) (json.RawMessage, time.Time) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(stored), &fields); err == nil && isEnvelope(fields) {
		var expires int64
		if err := json.Unmarshal(fields["expires"], &expires); err == nil {
			return fields["value"], tier.FromUnixMillis(expires)
		}
	}
	if json.Valid([]byte(stored)) {
		return json.RawMessage(stored), time.Time{}
	}
	legacy, _ := json.Marshal(stored)
	return legacy, time.Time{}
}

func isEnvelope(fields map[string]json.RawMessage) bool {
	if len(fields) != 2 {
		return false
	}
	_, hasValue := fields["value"]
	_, hasExpires := fields["expires"]
	return hasValue && hasExpires
}

func decodeValue(raw json.RawMessage) (any, error) {
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return value, nil
}
