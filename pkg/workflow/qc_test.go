package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seqlab/nanotrack/pkg/models"
)

func f(v float64) *float64 { return &v }

func TestEvaluateQC_GoodSample(t *testing.T) {
	sample := &models.Sample{
		SampleType:    models.SampleTypeDNA,
		Concentration: f(50),
		Volume:        f(20),
	}

	result := EvaluateQC(sample)

	require.NotNil(t, result)
	assert.True(t, result.Passed)
	assert.Equal(t, 100, result.Score)
	assert.Empty(t, result.Issues)
	assert.Equal(t, 50.0, result.Metrics["concentration"])
	assert.Equal(t, 20.0, result.Metrics["volume"])
	assert.Equal(t, 1000.0, result.Metrics["total_amount"])
}

func TestEvaluateQC_MissingConcentrationIsCritical(t *testing.T) {
	sample := &models.Sample{
		SampleType: models.SampleTypeDNA,
		Volume:     f(20),
	}

	result := EvaluateQC(sample)

	assert.False(t, result.Passed)
	require.Len(t, result.Issues, 1)
	assert.Equal(t, models.QCSeverityCritical, result.Issues[0].Severity)
	assert.Equal(t, "concentration", result.Issues[0].Field)
	assert.NotEmpty(t, result.Recommendations)
}

func TestEvaluateQC_MissingSampleTypeIsCritical(t *testing.T) {
	sample := &models.Sample{
		Concentration: f(50),
		Volume:        f(20),
	}

	result := EvaluateQC(sample)

	assert.False(t, result.Passed)
	require.Len(t, result.Issues, 1)
	assert.Equal(t, models.QCSeverityCritical, result.Issues[0].Severity)
	assert.Equal(t, "sample_type", result.Issues[0].Field)
	// Critical findings fail regardless of score.
	assert.Equal(t, 100, result.Score)
}

func TestEvaluateQC_LowConcentration(t *testing.T) {
	sample := &models.Sample{
		SampleType:    models.SampleTypeDNA,
		Concentration: f(0.5),
		Volume:        f(20),
	}

	result := EvaluateQC(sample)

	// -30 for low concentration, -20 for total amount 10 ng.
	assert.False(t, result.Passed)
	assert.Equal(t, 50, result.Score)
	require.Len(t, result.Issues, 2)
	assert.Equal(t, models.QCSeverityHigh, result.Issues[0].Severity)
	assert.Equal(t, models.QCSeverityMedium, result.Issues[1].Severity)
}

func TestEvaluateQC_HighConcentrationPenalty(t *testing.T) {
	sample := &models.Sample{
		SampleType:    models.SampleTypeDNA,
		Concentration: f(1500),
		Volume:        f(20),
	}

	result := EvaluateQC(sample)

	assert.True(t, result.Passed)
	assert.Equal(t, 85, result.Score)
	require.Len(t, result.Issues, 1)
	assert.Equal(t, models.QCSeverityMedium, result.Issues[0].Severity)
	assert.Contains(t, result.Recommendations[0], "Dilute")
}

func TestEvaluateQC_MissingVolume(t *testing.T) {
	sample := &models.Sample{
		SampleType:    models.SampleTypeRNA,
		Concentration: f(50),
	}

	result := EvaluateQC(sample)

	assert.True(t, result.Passed)
	assert.Equal(t, 70, result.Score)
	require.Len(t, result.Issues, 1)
	assert.Equal(t, "volume", result.Issues[0].Field)
	// No total amount metric without volume.
	_, ok := result.Metrics["total_amount"]
	assert.False(t, ok)
}

func TestEvaluateQC_ExcessVolumeIsLowSeverity(t *testing.T) {
	sample := &models.Sample{
		SampleType:    models.SampleTypeDNA,
		Concentration: f(50),
		Volume:        f(150),
	}

	result := EvaluateQC(sample)

	assert.True(t, result.Passed)
	assert.Equal(t, 95, result.Score)
	require.Len(t, result.Issues, 1)
	assert.Equal(t, models.QCSeverityLow, result.Issues[0].Severity)
}

func TestEvaluateQC_ScoreNeverNegative(t *testing.T) {
	sample := &models.Sample{
		SampleType:    models.SampleTypeDNA,
		Concentration: f(0.1),
		Volume:        f(0.5),
	}

	result := EvaluateQC(sample)

	assert.False(t, result.Passed)
	assert.GreaterOrEqual(t, result.Score, 0)
}
