// Package extract recovers the single JSON measurement object from a
// probe's raw stdout. Probes print progress lines and banners around
// the object; the extractor tolerates that noise and fails softly:
// a failed extraction excludes the probe from consensus, nothing more.
package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"codeberg.org/iklabib/vmsense/model"
)

// ErrNoJSON is returned when no top-level JSON object can be located
// in the output.
var ErrNoJSON = errors.New("no JSON object found in probe output")

// Extract locates and parses the first top-level JSON object in raw
// probe output. Lines are scanned top-down for the first one whose
// trimmed text starts with "{", then bottom-up (at or after that line)
// for the last one whose trimmed text ends with "}"; the inclusive
// range is parsed as one JSON value.
func Extract(raw []byte) (model.ProbePayload, error) {
	var payload model.ProbePayload

	lines := strings.Split(string(raw), "\n")

	start := -1
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "{") {
			start = i
			break
		}
	}
	if start < 0 {
		return payload, ErrNoJSON
	}

	end := -1
	for i := len(lines) - 1; i >= start; i-- {
		if strings.HasSuffix(strings.TrimSpace(lines[i]), "}") {
			end = i
			break
		}
	}
	if end < 0 {
		return payload, ErrNoJSON
	}

	text := strings.Join(lines[start:end+1], "\n")
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return payload, fmt.Errorf("parsing probe output: %w", err)
	}
	return payload, nil
}

// MissingKeys returns the fixed measurement keys absent from the
// payload, in the canonical key order. Missing keys read as zero
// downstream; a non-empty list excludes the probe from consensus
// without failing it.
func MissingKeys(payload model.ProbePayload) []string {
	var missing []string
	for _, key := range model.MeasurementKeys {
		if _, ok := payload.Measurements[key]; !ok {
			missing = append(missing, key)
		}
	}
	return missing
}
