package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseDurationField reads a duration-valued config field named path.
// "90" means ninety minutes, matching how qBittorrent reports seeding time;
// anything else must be a Go duration ("36h", "90s"). Blank is zero.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	var d time.Duration
	switch n, err := strconv.Atoi(s); {
	case s == "":
		return 0, nil
	case err == nil:
		d = time.Duration(n) * time.Minute
	default:
		if d, err = time.ParseDuration(s); err != nil {
			return 0, fmt.Errorf("%s: %q is neither minutes nor a duration: %w", path, raw, err)
		}
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: %s is negative", path, raw)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def standing in for a
// blank or zero value.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err == nil && d == 0 {
		d = def
	}
	return d, err
}
