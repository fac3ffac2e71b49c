package main

import (
	"os"
	"strconv"
	"strings"
)

// demoConfig holds the settings specific to this demo binary's consumer
// wiring. Connection, pool, timeout, and logging settings live in
// store.Config and are loaded via store.LoadConfigFromEnv instead, so there
// is exactly one place that owns MESSAGESTORE_* env vars for those.
type demoConfig struct {
	Category   string
	ConsumerID string
}

func loadDemoConfig() demoConfig {
	return demoConfig{
		Category:   envString("MESSAGESTORE_DEMO_CATEGORY", "demo"),
		ConsumerID: envString("MESSAGESTORE_DEMO_CONSUMER_ID", "msdemo"),
	}
}

func envString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}
