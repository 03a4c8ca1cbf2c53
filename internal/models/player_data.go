package models

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// DefaultPlayerData is the built-in per-round stat payload for FPS-style
// games: per-weapon shot and hit counts, a headshot total, and optionally
// the raw shot timestamps for timing analysis.
type DefaultPlayerData struct {
	ShotsFired       map[string]uint32 `json:"shots_fired"`
	Hits             map[string]uint32 `json:"hits"`
	Headshots        uint32            `json:"headshots"`
	ShotTimestampsMS []uint64          `json:"shot_timestamps_ms,omitempty"`
	// TrainingLabel is only read by the trainer (1.0 cheater, 0.0 legitimate)
	// and ignored during inference.
	TrainingLabel *float64 `json:"training_label,omitempty"`
}

// TotalShots sums shots across all weapons.
func (d DefaultPlayerData) TotalShots() uint64 {
	var total uint64
	for _, n := range d.ShotsFired {
		total += uint64(n)
	}
	return total
}

// TotalHits sums hits across all weapons.
func (d DefaultPlayerData) TotalHits() uint64 {
	var total uint64
	for _, n := range d.Hits {
		total += uint64(n)
	}
	return total
}

// UnmarshalJSON implements flexible decoding that accepts both native JSON
// numbers and string-encoded values. Game scripts routinely serialize every
// value as a quoted string; coercion happens here so the rest of the engine
// only sees typed counts.
func (d *DefaultPlayerData) UnmarshalJSON(data []byte) error {
	// Fast path: all types match natively.
	type alias DefaultPlayerData
	var a alias
	if err := json.Unmarshal(data, &a); err == nil {
		*d = DefaultPlayerData(a)
		return nil
	}

	// Slow path: decode through coercing shadow types.
	var flex struct {
		ShotsFired       map[string]flexCount `json:"shots_fired"`
		Hits             map[string]flexCount `json:"hits"`
		Headshots        flexCount            `json:"headshots"`
		ShotTimestampsMS []flexTimestamp      `json:"shot_timestamps_ms"`
		TrainingLabel    *flexFloat           `json:"training_label"`
	}
	if err := json.Unmarshal(data, &flex); err != nil {
		return fmt.Errorf("flex decode player data: %w", err)
	}

	d.ShotsFired = countMap(flex.ShotsFired)
	d.Hits = countMap(flex.Hits)
	d.Headshots = uint32(flex.Headshots)
	d.ShotTimestampsMS = nil
	for _, ts := range flex.ShotTimestampsMS {
		d.ShotTimestampsMS = append(d.ShotTimestampsMS, uint64(ts))
	}
	d.TrainingLabel = nil
	if flex.TrainingLabel != nil {
		v := float64(*flex.TrainingLabel)
		d.TrainingLabel = &v
	}
	return nil
}

func countMap(m map[string]flexCount) map[string]uint32 {
	if m == nil {
		return nil
	}
	out := make(map[string]uint32, len(m))
	for k, v := range m {
		out[k] = uint32(v)
	}
	return out
}

// flexCount decodes a non-negative count from a JSON number or a quoted
// numeric string ("100", "28.5" truncates). Negative values are rejected.
type flexCount uint32

func (c *flexCount) UnmarshalJSON(b []byte) error {
	n, err := flexNumber(b)
	if err != nil {
		return err
	}
	if n < 0 {
		return fmt.Errorf("count must be non-negative, got %v", n)
	}
	*c = flexCount(n)
	return nil
}

type flexTimestamp uint64

func (t *flexTimestamp) UnmarshalJSON(b []byte) error {
	n, err := flexNumber(b)
	if err != nil {
		return err
	}
	if n < 0 {
		return fmt.Errorf("timestamp must be non-negative, got %v", n)
	}
	*t = flexTimestamp(n)
	return nil
}

type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	n, err := flexNumber(b)
	if err != nil {
		return err
	}
	*f = flexFloat(n)
	return nil
}

func flexNumber(b []byte) (float64, error) {
	var n float64
	if err := json.Unmarshal(b, &n); err == nil {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return 0, fmt.Errorf("expected number or numeric string, got %s", b)
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid numeric string %q: %w", s, err)
	}
	return n, nil
}
