package auth

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// minAbsoluteEpoch is 2001-09-09. Smaller expiry values are relative TTLs.
const minAbsoluteEpoch = 1_000_000_000

// NormalizeExpiry turns a server expiry value into absolute Unix seconds.
// The server sends either an epoch or a time-to-live, inconsistently.
func NormalizeExpiry(v int64, now time.Time) int64 {
	if v < minAbsoluteEpoch {
		return now.Unix() + v
	}
	return v
}

// epochValue decodes an expiry sent as a JSON integer, float, numeric string
// or null. Zero means absent.
type epochValue int64

func (e *epochValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*e = 0
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*e = 0
			return nil
		}
		data = []byte(s)
	}

	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("invalid expiry value %q: %w", data, err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("invalid expiry value %q", data)
	}
	*e = epochValue(int64(f))
	return nil
}
