package models

import (
	"encoding/json"
	"maps"
	"strconv"
	"strings"
	"time"
)

// Well-known settings keys shared by every sensor.
const (
	KeyServiceURL     = "service_url"
	KeyLastUsed       = "last_used"
	KeyRequestDelta   = "request_delta"
	KeyRequestTimeout = "request_timeout"
	KeyFeaturedImage  = "featured_image"
	KeyAbout          = "about"
)

// DefaultRequestTimeout applies when a sensor has no request_timeout setting.
const DefaultRequestTimeout = 10 * time.Second

// Settings is a sensor's flat key/value configuration as persisted on disk.
// Values come from JSON, so numbers may be json.Number, float64, or strings
// written by hand.
type Settings map[string]any

// Clone returns a shallow copy.
func (s Settings) Clone() Settings {
	out := make(Settings, len(s))
	maps.Copy(out, s)
	return out
}

// String returns the value at key formatted as a string ("" when absent).
func (s Settings) String(key string) string {
	switch v := s[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

// Int64 returns the value at key as an integer, truncating fractions.
// ok is false when the key is absent or not numeric.
func (s Settings) Int64(key string) (int64, bool) {
	switch v := s[key].(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, true
		}
		f, err := v.Float64()
		return int64(f), err == nil
	case float64:
		return int64(v), true
	case int:
		return int64(v), true
	case int64:
		return v, true
	case string:
		str := strings.TrimSpace(v)
		if n, err := strconv.ParseInt(str, 10, 64); err == nil {
			return n, true
		}
		f, err := strconv.ParseFloat(str, 64)
		return int64(f), err == nil
	}
	return 0, false
}

// Float64 returns the value at key as a float.
func (s Settings) Float64(key string) (float64, bool) {
	switch v := s[key].(type) {
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	}
	return 0, false
}

// Seconds returns a duration stored as a number of seconds.
func (s Settings) Seconds(key string) (time.Duration, bool) {
	f, ok := s.Float64(key)
	if !ok {
		return 0, false
	}
	return time.Duration(f * float64(time.Second)), true
}

// LastUsed is the time of the most recent successful remote fetch.
// The zero time means the sensor never fetched.
func (s Settings) LastUsed() time.Time {
	n, ok := s.Int64(KeyLastUsed)
	if !ok || n <= 0 {
		return time.Time{}
	}
	return time.Unix(n, 0)
}

// SetLastUsed records t with second precision.
func (s Settings) SetLastUsed(t time.Time) {
	s[KeyLastUsed] = t.Unix()
}

// RequestDelta is the minimum interval between remote fetches.
func (s Settings) RequestDelta() time.Duration {
	d, _ := s.Seconds(KeyRequestDelta)
	if d < 0 {
		return 0
	}
	return d
}

// RequestTimeout bounds a single remote call.
func (s Settings) RequestTimeout() time.Duration {
	d, ok := s.Seconds(KeyRequestTimeout)
	if !ok || d <= 0 {
		return DefaultRequestTimeout
	}
	return d
}
