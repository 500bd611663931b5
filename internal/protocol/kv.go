package protocol

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrMalformedValue is returned when a numeric token cannot be parsed.
var ErrMalformedValue = errors.New("malformed value")

// KeyValue is one token of a status, reply, or meter body. Keys are lower-cased;
// a token without '=' carries its text in Key and an empty Value.
type KeyValue struct {
	Key   string
	Value string
}

// KeyValues is an ordered list of tokens. Position 0 frequently carries an
// object id rather than a semantic key.
type KeyValues []KeyValue

// ParseKeyValues splits s on delimiter (a single space when empty) and each
// token on its first '='. Surrounding whitespace is trimmed and empty tokens
// are dropped.
func ParseKeyValues(s, delimiter string) KeyValues {
	if delimiter == "" {
		delimiter = " "
	}

	tokens := strings.Split(s, delimiter)
	kvs := make(KeyValues, 0, len(tokens))
	for _, token := range tokens {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		key, value, _ := strings.Cut(token, "=")
		kvs = append(kvs, KeyValue{
			Key:   strings.ToLower(strings.TrimSpace(key)),
			Value: strings.TrimSpace(value),
		})
	}
	return kvs
}

// ParseValues splits s on delimiter, trimming and dropping empty entries.
func ParseValues(s, delimiter string) []string {
	if delimiter == "" {
		delimiter = " "
	}
	var values []string
	for _, v := range strings.Split(s, delimiter) {
		if v = strings.TrimSpace(v); v != "" {
			values = append(values, v)
		}
	}
	return values
}

// Get returns the value of the first token with the given key.
func (kvs KeyValues) Get(key string) (string, bool) {
	for _, kv := range kvs {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return "", false
}

// Has reports whether any token matches key and value exactly.
func (kvs KeyValues) Has(key, value string) bool {
	for _, kv := range kvs {
		if kv.Key == key && kv.Value == value {
			return true
		}
	}
	return false
}

// String re-encodes the tokens space-delimited.
func (kvs KeyValues) String() string {
	parts := make([]string, 0, len(kvs))
	for _, kv := range kvs {
		if kv.Value == "" {
			parts = append(parts, kv.Key)
			continue
		}
		parts = append(parts, kv.Key+"="+kv.Value)
	}
	return strings.Join(parts, " ")
}

// StreamID normalizes a radio stream handle: the "0x" prefix is removed and
// hex digits are upper-cased so status ids match VITA stream ids.
func StreamID(token string) string {
	token = strings.TrimSpace(token)
	if len(token) > 2 && (token[:2] == "0x" || token[:2] == "0X") {
		token = token[2:]
	}
	return strings.ToUpper(token)
}

// FormatStreamID renders a VITA stream id the way StreamID normalizes it.
func FormatStreamID(id uint32) string {
	return fmt.Sprintf("%08X", id)
}

// ParseBool decodes a radio boolean ("1"/"0"; "on", "true" and "enabled" are
// also accepted as true).
func ParseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "on", "true", "enabled":
		return true
	}
	return false
}

// FormatBool encodes a boolean for an outbound command.
func FormatBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// ParseInt decodes a decimal integer token.
func ParseInt(s string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: int %q", ErrMalformedValue, s)
	}
	return v, nil
}

// ParseFloat decodes a decimal floating point token.
func ParseFloat(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: float %q", ErrMalformedValue, s)
	}
	return v, nil
}

// MHzToHz converts a MHz decimal string (e.g. "14.250000") to integer Hz.
func MHzToHz(s string) (int, error) {
	mhz, err := ParseFloat(s)
	if err != nil {
		return 0, err
	}
	return int(math.Round(mhz * 1e6)), nil
}

// HzToMHz renders integer Hz as a MHz string with 6 decimals.
func HzToMHz(hz int) string {
	return strconv.FormatFloat(float64(hz)/1e6, 'f', 6, 64)
}
