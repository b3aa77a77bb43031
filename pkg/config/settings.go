package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Settings are the operational knobs of the binary, distinct from the
// validation bundle. Flags set the baseline; environment variables override.
type Settings struct {
	BundlePath       string
	ListenAddr       string
	LogLevel         string
	LogFormat        string
	OTLPEndpoint     string
	Environment      string
	ResourceTags     map[string]string
	CompiledCapacity int
	ResultCapacity   int
	DefaultResultTTL time.Duration
}

// DefaultSettings returns the baseline configuration.
func DefaultSettings() Settings {
	return Settings{
		ListenAddr:       ":8080",
		LogLevel:         "info",
		LogFormat:        "json",
		CompiledCapacity: 256,
		ResultCapacity:   1024,
		DefaultResultTTL: 5 * time.Minute,
	}
}

// ApplyEnvOverrides folds VERITY_* environment variables into the settings.
func ApplyEnvOverrides(s *Settings) {
	if v := os.Getenv("VERITY_BUNDLE"); v != "" {
		s.BundlePath = v
	}
	if v := os.Getenv("VERITY_LISTEN_ADDR"); v != "" {
		s.ListenAddr = v
	}
	if v := os.Getenv("VERITY_LOG_LEVEL"); v != "" {
		s.LogLevel = v
	}
	if v := os.Getenv("VERITY_LOG_FORMAT"); v != "" {
		s.LogFormat = v
	}
	if v := os.Getenv("VERITY_OTLP_ENDPOINT"); v != "" {
		s.OTLPEndpoint = v
	}
	if v := os.Getenv("VERITY_ENVIRONMENT"); v != "" {
		s.Environment = v
	}
	if v := os.Getenv("VERITY_RESOURCE_TAGS"); v != "" {
		s.ResourceTags = parseTags(v)
	}
	if v := os.Getenv("VERITY_COMPILED_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			s.CompiledCapacity = n
		}
	}
	if v := os.Getenv("VERITY_RESULT_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			s.ResultCapacity = n
		}
	}
	if v := os.Getenv("VERITY_RESULT_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			s.DefaultResultTTL = d
		}
	}
}

// parseTags splits a comma-separated key=value list into resource tags.
// Malformed pairs are dropped.
func parseTags(raw string) map[string]string {
	tags := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || key == "" {
			continue
		}
		tags[key] = value
	}
	if len(tags) == 0 {
		return nil
	}
	return tags
}
