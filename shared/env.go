package shared

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// EnvParser converts a raw environment value.
type EnvParser[T any] func(string) (T, error)

var (
	GetenvString   EnvParser[string]        = func(s string) (string, error) { return s, nil }
	GetenvInt      EnvParser[int]           = strconv.Atoi
	GetenvBool     EnvParser[bool]          = strconv.ParseBool
	GetenvDuration EnvParser[time.Duration] = time.ParseDuration
)

// Getenv reads key and parses it. An unset or empty key yields def unless
// required is set.
func Getenv[T any](parse EnvParser[T], key string, required bool, def T) (T, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		if required {
			return def, fmt.Errorf("environment variable %s is required", key)
		}
		return def, nil
	}
	v, err := parse(raw)
	if err != nil {
		return def, fmt.Errorf("environment variable %s: %w", key, err)
	}
	return v, nil
}

func MustGetenv[T any](parse EnvParser[T], key string, required bool, def T) T {
	v, err := Getenv(parse, key, required, def)
	if err != nil {
		panic(err)
	}
	return v
}
