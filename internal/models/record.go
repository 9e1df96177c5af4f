// Package models defines the domain types for sensorhub.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Key is the opaque record identifier. Providers hand out either strings or
// numbers; both decode into Key and it always encodes as a JSON string.
type Key string

// UnmarshalJSON accepts a JSON string or number.
func (k *Key) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*k = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*k = Key(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("record key: %w", err)
	}
	*k = Key(n.String())
	return nil
}

// KeyFromInt formats an integer key (epoch seconds, provider ids).
func KeyFromInt(n int64) Key {
	return Key(strconv.FormatInt(n, 10))
}

// Record is a normalized unit of content produced by a sensor.
type Record struct {
	K       Key    `json:"k"`
	Date    string `json:"date,omitempty"`
	Caption string `json:"caption"`
	Summary string `json:"summary"`
	Story   string `json:"story,omitempty"`
	Img     string `json:"img,omitempty"`
	Origin  string `json:"origin,omitempty"`
}

// Publishable reports whether the record carries the fields a downstream
// publisher requires.
func (r Record) Publishable() bool {
	return r.K != "" && r.Caption != "" && r.Summary != ""
}

// IndexOf returns the position of the record keyed k, or -1.
func IndexOf(records []Record, k Key) int {
	for i, r := range records {
		if r.K == k {
			return i
		}
	}
	return -1
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
