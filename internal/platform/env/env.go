// Package env reads service configuration from the process environment.
// Absent or blank keys fall back to the caller's default; a key that is set
// but unparsable is always an error, never a silent fallback.
package env

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

func parsed[T any](key string, def T, parse func(string) (T, error)) (T, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return def, nil
	}
	v, err := parse(strings.TrimSpace(raw))
	if err != nil {
		var zero T
		return zero, fmt.Errorf("env %s: %w", key, err)
	}
	return v, nil
}

func String(key string, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func Duration(key string, def time.Duration) (time.Duration, error) {
	return parsed(key, def, time.ParseDuration)
}

func Bool(key string, def bool) (bool, error) {
	return parsed(key, def, strconv.ParseBool)
}

func Int(key string, def int) (int, error) {
	return parsed(key, def, strconv.Atoi)
}
