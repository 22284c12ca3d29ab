package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fuelsh/fuel/pkg/models"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const validConfig = `
primary: sonnet
review: reviewer
complexity:
  trivial: haiku
  complex: opus
agents:
  sonnet:
    driver: claude
    model: claude-sonnet-4-5
    max_concurrent: 3
  haiku:
    driver: claude
    model: claude-haiku-4-5
  opus:
    driver: claude
    model: claude-opus-4-1
  reviewer:
    driver: codex
epic_mirrors: true
`

func TestLoadValid(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	assert.Equal(t, "sonnet", cfg.Primary)
	assert.Equal(t, "reviewer", cfg.Review)
	assert.True(t, cfg.EpicMirrors)
	assert.True(t, cfg.TaskReview, "task_review defaults on")
	assert.Equal(t, DefaultMaxRetries, cfg.MaxRetries)
	assert.Equal(t, DefaultIntervalSeconds, cfg.IntervalSeconds)
	assert.Equal(t, 3, cfg.Agents["sonnet"].MaxConcurrent)
	assert.Equal(t, DefaultMaxConcurrent, cfg.Agents["haiku"].MaxConcurrent)
}

func TestComplexityRouting(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	assert.Equal(t, "haiku", cfg.AgentForComplexity(models.ComplexityTrivial))
	assert.Equal(t, "opus", cfg.AgentForComplexity(models.ComplexityComplex))
	// Unrouted buckets fall back to primary.
	assert.Equal(t, "sonnet", cfg.AgentForComplexity(models.ComplexitySimple))
	assert.Equal(t, "sonnet", cfg.AgentForComplexity(models.ComplexityModerate))
}

func TestReviewEnabled(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)
	assert.True(t, cfg.ReviewEnabled())

	// No reviewer means no review stage, even with task_review on.
	cfg.Review = ""
	assert.False(t, cfg.ReviewEnabled())

	cfg.Review = "reviewer"
	cfg.TaskReview = false
	assert.False(t, cfg.ReviewEnabled())
}

func TestRealityFallsBackToPrimary(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)
	assert.Equal(t, "sonnet", cfg.RealityAgent())
}

func TestValidateRejectsUnknownAgents(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing primary", "agents:\n  a:\n    driver: claude\n"},
		{"primary undefined", "primary: ghost\nagents:\n  a:\n    driver: claude\n"},
		{"review undefined", "primary: a\nreview: ghost\nagents:\n  a:\n    driver: claude\n"},
		{"complexity undefined", "primary: a\ncomplexity:\n  trivial: ghost\nagents:\n  a:\n    driver: claude\n"},
		{"agent without driver", "primary: a\nagents:\n  a: {}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFileUsesDefaultsButFailsValidation(t *testing.T) {
	// No primary agent means no valid config can exist without a file.
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
