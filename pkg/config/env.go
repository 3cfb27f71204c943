package config

import (
	"fmt"
	"strconv"
	"time"
)

// LookupFunc matches os.LookupEnv
type LookupFunc func(key string) (string, bool)

func envString(lookup LookupFunc, key string, def string) string {
	if v, ok := lookup(key); ok {
		return v
	}
	return def
}

func envInt(lookup LookupFunc, key string, def int) (int, error) {
	if v, ok := lookup(key); ok {
		i, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("parse %s: %w", key, err)
		}
		return i, nil
	}
	return def, nil
}

func envBool(lookup LookupFunc, key string, def bool) (bool, error) {
	if v, ok := lookup(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("parse %s: %w", key, err)
		}
		return b, nil
	}
	return def, nil
}

func envDuration(lookup LookupFunc, key string, def time.Duration) (time.Duration, error) {
	if v, ok := lookup(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("parse %s: %w", key, err)
		}
		return d, nil
	}
	return def, nil
}
