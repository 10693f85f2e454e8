package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seqlab/nanotrack/pkg/models"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nanotrack.yaml"), []byte(content), 0o644))
	return dir
}

func TestInitializeWithDefaults(t *testing.T) {
	cfg, err := Initialize(context.Background(), t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.Orchestrator.ReconcileInterval)
	assert.Equal(t, 4, cfg.Orchestrator.MaxInFlightPerStage)
	assert.Equal(t, 2.0, cfg.Orchestrator.LeaseTTLMultiplier)
	assert.Equal(t, 30*time.Second, cfg.Orchestrator.VisibilityTimeout)
	assert.Equal(t, 8, cfg.Stages.Len())
}

func TestInitializeMergesYAML(t *testing.T) {
	dir := writeConfig(t, `
orchestrator:
  reconcile_interval: 10s
  max_in_flight_per_stage: 8
stages:
  sequencing_run:
    estimated_duration_hours: 72
`)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 10*time.Second, cfg.Orchestrator.ReconcileInterval)
	assert.Equal(t, 8, cfg.Orchestrator.MaxInFlightPerStage)
	// Untouched settings keep their defaults.
	assert.Equal(t, 2.0, cfg.Orchestrator.LeaseTTLMultiplier)

	run, err := cfg.Stages.Get(models.StageSequencingRun)
	require.NoError(t, err)
	assert.Equal(t, 72.0, run.EstimatedDurationHours)
}

func TestInitializeQueueOrderingOverride(t *testing.T) {
	cfg, err := Initialize(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.True(t, cfg.Orchestrator.StableQueueOrdering())

	dir := writeConfig(t, `
orchestrator:
  queue_ordering_stable: false
`)
	cfg, err = Initialize(context.Background(), dir)
	require.NoError(t, err)
	assert.False(t, cfg.Orchestrator.StableQueueOrdering())
}

func TestInitializeRejectsUnknownStage(t *testing.T) {
	dir := writeConfig(t, `
stages:
  pcr_amplification:
    estimated_duration_hours: 2
`)

	_, err := Initialize(context.Background(), dir)
	assert.Error(t, err)
}

func TestInitializeRejectsInvalidSettings(t *testing.T) {
	dir := writeConfig(t, `
orchestrator:
  max_in_flight_per_stage: -1
`)

	_, err := Initialize(context.Background(), dir)
	assert.Error(t, err)
}

func TestInitializeRejectsMalformedYAML(t *testing.T) {
	dir := writeConfig(t, "orchestrator: [")

	_, err := Initialize(context.Background(), dir)
	assert.Error(t, err)
}

func TestStageRegistryDependencies(t *testing.T) {
	stages, err := NewStageRegistry(nil)
	require.NoError(t, err)

	qc, err := stages.Get(models.StageSampleQC)
	require.NoError(t, err)
	assert.Empty(t, qc.Dependencies)
	assert.True(t, qc.QCRequired)

	prep, err := stages.Get(models.StageLibraryPrep)
	require.NoError(t, err)
	assert.Equal(t, []models.Stage{models.StageSampleQC}, prep.Dependencies)

	_, err = stages.Get("unknown_stage")
	assert.Error(t, err)
}

func TestStageLeaseTTL(t *testing.T) {
	stages, err := NewStageRegistry(nil)
	require.NoError(t, err)

	run, err := stages.Get(models.StageSequencingRun)
	require.NoError(t, err)
	assert.Equal(t, 96*time.Hour, run.LeaseTTL(2.0))
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("NANOTRACK_TEST_INTERVAL", "15s")

	out := ExpandEnv([]byte("reconcile_interval: {{.NANOTRACK_TEST_INTERVAL}}"))
	assert.Equal(t, "reconcile_interval: 15s", string(out))

	// Literal dollar signs pass through untouched.
	out = ExpandEnv([]byte("password: pa$$word"))
	assert.Equal(t, "password: pa$$word", string(out))

	// Missing variables expand to empty.
	out = ExpandEnv([]byte("value: {{.NANOTRACK_TEST_MISSING}}"))
	assert.Equal(t, "value: ", string(out))
}
