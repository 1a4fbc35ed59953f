// Package env provides utilities for working with environment variables.
package env

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Get returns the value of the environment variable or the default if not set.
func Get(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetInt returns the integer value of the environment variable, or the default
// if it is unset or not a valid integer.
func GetInt(key string, defaultValue int) int {
	v, err := strconv.Atoi(Get(key, ""))
	if err != nil {
		return defaultValue
	}
	return v
}

// GetDuration parses the environment variable with time.ParseDuration.
func GetDuration(key string, defaultValue time.Duration) time.Duration {
	v, err := time.ParseDuration(Get(key, ""))
	if err != nil {
		return defaultValue
	}
	return v
}

// GetBool accepts "1", "true", "yes" and "0", "false", "no", case-insensitively.
func GetBool(key string, defaultValue bool) bool {
	switch strings.ToLower(Get(key, "")) {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	default:
		return defaultValue
	}
}
