package config

import (
	"fmt"
	"strings"
	"time"
)

// Duration is a Go duration string as it appears in the config file
// ("500ms", "30s", "1h"). It decodes as a plain string in both YAML and
// JSON; parsing happens in Resolve so an error can name the offending field.
type Duration string

// Resolve parses the field, substituting def when it is empty or an explicit
// zero. Negative durations are rejected; none of the knobs backed by this
// type (timeouts, backoff, grace windows) have a meaningful negative value.
func (d Duration) Resolve(path string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(string(d))
	if s == "" {
		return def, nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, string(d), err)
	}
	if v < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	if v == 0 {
		return def, nil
	}
	return v, nil
}
