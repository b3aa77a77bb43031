package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("VERITY_BUNDLE", "/etc/verity/bundle.yaml")
	t.Setenv("VERITY_LISTEN_ADDR", ":9090")
	t.Setenv("VERITY_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("VERITY_ENVIRONMENT", "staging")
	t.Setenv("VERITY_RESOURCE_TAGS", "team=payments, region=eu-west-1")
	t.Setenv("VERITY_RESULT_TTL", "90s")

	s := DefaultSettings()
	ApplyEnvOverrides(&s)

	assert.Equal(t, "/etc/verity/bundle.yaml", s.BundlePath)
	assert.Equal(t, ":9090", s.ListenAddr)
	assert.Equal(t, "collector:4317", s.OTLPEndpoint)
	assert.Equal(t, "staging", s.Environment)
	assert.Equal(t, map[string]string{"team": "payments", "region": "eu-west-1"}, s.ResourceTags)
	assert.Equal(t, 90*time.Second, s.DefaultResultTTL)
}

func TestApplyEnvOverridesIgnoresBadValues(t *testing.T) {
	t.Setenv("VERITY_COMPILED_CAPACITY", "not-a-number")
	t.Setenv("VERITY_RESULT_TTL", "sometime")
	t.Setenv("VERITY_RESOURCE_TAGS", ",,=nokey,")

	s := DefaultSettings()
	ApplyEnvOverrides(&s)

	assert.Equal(t, DefaultSettings().CompiledCapacity, s.CompiledCapacity)
	assert.Equal(t, DefaultSettings().DefaultResultTTL, s.DefaultResultTTL)
	assert.Nil(t, s.ResourceTags)
}
