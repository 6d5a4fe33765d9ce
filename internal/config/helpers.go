package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/vshulcz/hostmqtt/internal/domain"
	"github.com/vshulcz/hostmqtt/internal/misc"
)

// resolveString picks the first non-blank of env, flag and file values, then def.
func resolveString(envKey, flagVal, fileVal, def string) string {
	for _, v := range []string{misc.Getenv(envKey, ""), flagVal, fileVal} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return def
}

// resolveInt treats zero as "not set" for flag and file values. A malformed env value is an error.
func resolveInt(envKey string, flagVal, fileVal, def int) (int, error) {
	n, ok, err := misc.LookupInt(envKey)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", domain.ErrConfiguration, envKey, err)
	}
	switch {
	case ok:
		return n, nil
	case flagVal != 0:
		return flagVal, nil
	case fileVal != 0:
		return fileVal, nil
	default:
		return def, nil
	}
}

// resolveBool lets the environment switch a flag either way.
func resolveBool(envKey string, flagVal bool) bool {
	return misc.GetBool(envKey, flagVal)
}

// resolveSeconds reads env as seconds or Go duration syntax, else the flag in seconds, else def seconds.
func resolveSeconds(envKey string, flagSeconds, defSeconds int) (time.Duration, error) {
	if raw := misc.Getenv(envKey, ""); raw != "" {
		d := misc.GetDuration(envKey, -1)
		if d < 0 {
			return 0, fmt.Errorf("%w: %s: bad duration %q", domain.ErrConfiguration, envKey, raw)
		}
		return d, nil
	}
	if flagSeconds != 0 {
		return time.Duration(flagSeconds) * time.Second, nil
	}
	return time.Duration(defSeconds) * time.Second, nil
}
