package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/seqlab/nanotrack/pkg/models"
	testdb "github.com/seqlab/nanotrack/test/database"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	client := testdb.NewSQLiteClient(t)
	return New(client.Gorm, DefaultRetryConfig())
}

func seedSubmission(t *testing.T, st *Store, number string, priority models.Priority) *models.Submission {
	t.Helper()
	sub := &models.Submission{
		SubmissionNumber: number,
		PDFFilename:      number + ".pdf",
		Priority:         priority,
		SubmissionDate:   time.Now(),
	}
	require.NoError(t, st.CreateSubmission(context.Background(), sub))
	return sub
}

func seedSample(t *testing.T, st *Store, submissionID, name string) *models.Sample {
	t.Helper()
	sample := &models.Sample{SampleName: name, SampleType: models.SampleTypeDNA}
	_, err := st.CreateSamplesBulk(context.Background(), submissionID, []*models.Sample{sample})
	require.NoError(t, err)
	return sample
}

func seedSteps(t *testing.T, st *Store, sampleID string) []*models.ProcessingStep {
	t.Helper()
	steps := make([]*models.ProcessingStep, len(models.CanonicalStages))
	for i, stage := range models.CanonicalStages {
		steps[i] = &models.ProcessingStep{
			StepName:               stage,
			StepOrder:              i + 1,
			StepStatus:             models.StepStatusPending,
			EstimatedDurationHours: 1,
		}
	}
	require.NoError(t, st.CreateStepsBulk(context.Background(), sampleID, steps))
	return steps
}

func TestCreateSubmissionDefaults(t *testing.T) {
	st := newTestStore(t)

	sub := seedSubmission(t, st, "HTSF-001", "")
	assert.NotEmpty(t, sub.ID)
	assert.Equal(t, models.PriorityNormal, sub.Priority)
	assert.Equal(t, models.SubmissionStatusPending, sub.Status)
}

func TestCreateSubmissionValidation(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	err := st.CreateSubmission(ctx, &models.Submission{PDFFilename: "a.pdf"})
	assert.True(t, IsValidationError(err))

	err = st.CreateSubmission(ctx, &models.Submission{SubmissionNumber: "HTSF-002"})
	assert.True(t, IsValidationError(err))

	err = st.CreateSubmission(ctx, &models.Submission{
		SubmissionNumber: "HTSF-003",
		PDFFilename:      "a.pdf",
		Priority:         "asap",
	})
	assert.True(t, IsValidationError(err))
}

func TestCreateSubmissionDuplicateNumber(t *testing.T) {
	st := newTestStore(t)

	seedSubmission(t, st, "HTSF-DUP", models.PriorityNormal)
	err := st.CreateSubmission(context.Background(), &models.Submission{
		SubmissionNumber: "HTSF-DUP",
		PDFFilename:      "b.pdf",
	})
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestGetSubmissionNotFound(t *testing.T) {
	st := newTestStore(t)

	_, err := st.GetSubmission(context.Background(), "missing", false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateSamplesBulkDefaults(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	sub := seedSubmission(t, st, "HTSF-010", models.PriorityNormal)

	samples := []*models.Sample{
		{SampleName: "a", SampleType: models.SampleTypeDNA},
		{SampleName: "b", SampleType: models.SampleTypeRNA},
	}
	ids, err := st.CreateSamplesBulk(ctx, sub.ID, samples)
	require.NoError(t, err)
	require.Len(t, ids, 2)

	got, err := st.GetSubmissionSamples(ctx, sub.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].SampleNumber)
	assert.Equal(t, 2, got[1].SampleNumber)
	assert.Equal(t, models.SampleStatusSubmitted, got[0].Status)
	assert.Equal(t, models.StageSampleQC, got[0].WorkflowStage)
	assert.Equal(t, models.PriorityNormal, got[0].Priority)
	assert.False(t, got[0].SubmittedAt.IsZero())
}

func TestCreateSamplesBulkValidation(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	sub := seedSubmission(t, st, "HTSF-011", models.PriorityNormal)

	_, err := st.CreateSamplesBulk(ctx, sub.ID, []*models.Sample{{SampleType: models.SampleTypeDNA}})
	assert.True(t, IsValidationError(err))

	_, err = st.CreateSamplesBulk(ctx, sub.ID, []*models.Sample{{SampleName: "a", SampleType: "Plasmid"}})
	assert.True(t, IsValidationError(err))
}

func TestGetSampleStepsOrdered(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	sub := seedSubmission(t, st, "HTSF-020", models.PriorityNormal)
	sample := seedSample(t, st, sub.ID, "a")
	seedSteps(t, st, sample.ID)

	steps, err := st.GetSampleSteps(ctx, sample.ID)
	require.NoError(t, err)
	require.Len(t, steps, 8)
	for i, step := range steps {
		assert.Equal(t, models.CanonicalStages[i], step.StepName)
		assert.Equal(t, i+1, step.StepOrder)
		assert.Equal(t, sample.ID, step.SampleID)
	}
}

func TestTransitionStepConditional(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	sub := seedSubmission(t, st, "HTSF-030", models.PriorityNormal)
	sample := seedSample(t, st, sub.ID, "a")
	steps := seedSteps(t, st, sample.ID)
	stepID := steps[0].ID

	started := time.Now()
	holder := "worker-1"
	ok, err := st.TransitionStep(ctx, stepID,
		models.StepStatusPending, models.StepStatusInProgress,
		StepPatch{StartedAt: &started, AssignedTo: &holder})
	require.NoError(t, err)
	assert.True(t, ok)

	step, err := st.GetStep(ctx, stepID)
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusInProgress, step.StepStatus)
	assert.Equal(t, "worker-1", step.AssignedTo)
	assert.NotNil(t, step.StartedAt)

	// A second identical transition finds the step no longer pending.
	ok, err = st.TransitionStep(ctx, stepID,
		models.StepStatusPending, models.StepStatusInProgress, StepPatch{})
	require.NoError(t, err)
	assert.False(t, ok)

	step, err = st.GetStep(ctx, stepID)
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusInProgress, step.StepStatus)
}

func TestUpdateStepOptimistic(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	sub := seedSubmission(t, st, "HTSF-031", models.PriorityNormal)
	sample := seedSample(t, st, sub.ID, "a")
	steps := seedSteps(t, st, sample.ID)
	stepID := steps[0].ID

	step, err := st.GetStep(ctx, stepID)
	require.NoError(t, err)

	notes := "first writer"
	require.NoError(t, st.UpdateStep(ctx, stepID, StepPatch{
		Notes:             &notes,
		ExpectedUpdatedAt: &step.UpdatedAt,
	}))

	stale := "second writer with stale read"
	err = st.UpdateStep(ctx, stepID, StepPatch{
		Notes:             &stale,
		ExpectedUpdatedAt: &step.UpdatedAt,
	})
	assert.ErrorIs(t, err, ErrConcurrentModification)
}

func TestUpdateStepNotFound(t *testing.T) {
	st := newTestStore(t)

	notes := "x"
	err := st.UpdateStep(context.Background(), "missing", StepPatch{Notes: &notes})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetPendingStepsOrdering(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	older := &models.Submission{
		SubmissionNumber: "HTSF-OLD",
		PDFFilename:      "old.pdf",
		Priority:         models.PriorityNormal,
		SubmissionDate:   time.Now().Add(-24 * time.Hour),
	}
	require.NoError(t, st.CreateSubmission(ctx, older))
	newer := &models.Submission{
		SubmissionNumber: "HTSF-NEW",
		PDFFilename:      "new.pdf",
		Priority:         models.PriorityUrgent,
		SubmissionDate:   time.Now(),
	}
	require.NoError(t, st.CreateSubmission(ctx, newer))

	normalSample := &models.Sample{SampleName: "n", SampleType: models.SampleTypeDNA, Priority: models.PriorityNormal}
	_, err := st.CreateSamplesBulk(ctx, older.ID, []*models.Sample{normalSample})
	require.NoError(t, err)
	urgentSample := &models.Sample{SampleName: "u", SampleType: models.SampleTypeDNA, Priority: models.PriorityUrgent}
	_, err = st.CreateSamplesBulk(ctx, newer.ID, []*models.Sample{urgentSample})
	require.NoError(t, err)

	seedSteps(t, st, normalSample.ID)
	seedSteps(t, st, urgentSample.ID)

	pending, err := st.GetPendingSteps(ctx, models.StageSampleQC, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	// Urgent wins despite the newer submission date.
	assert.Equal(t, urgentSample.ID, pending[0].SampleID)
	assert.Equal(t, models.PriorityUrgent, pending[0].Priority)
	assert.Equal(t, normalSample.ID, pending[1].SampleID)
}

func TestListSubmissionsFilter(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	seedSubmission(t, st, "HTSF-040", models.PriorityNormal)
	completed := seedSubmission(t, st, "HTSF-041", models.PriorityNormal)
	require.NoError(t, st.UpdateSubmissionAggregate(ctx, completed.ID, 1, 1, models.SubmissionStatusCompleted))

	subs, total, err := st.ListSubmissions(ctx, SubmissionFilters{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Len(t, subs, 2)

	subs, total, err = st.ListSubmissions(ctx, SubmissionFilters{Status: models.SubmissionStatusCompleted})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, subs, 1)
	assert.Equal(t, "HTSF-041", subs[0].SubmissionNumber)
}

func TestCountSamplesByStatus(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	sub := seedSubmission(t, st, "HTSF-050", models.PriorityNormal)

	a := seedSample(t, st, sub.ID, "a")
	seedSample(t, st, sub.ID, "b")
	require.NoError(t, st.UpdateSampleStatus(ctx, a.ID, models.SampleStatusCompleted))

	counts, err := st.CountSamplesByStatus(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[models.SampleStatusCompleted])
	assert.Equal(t, 1, counts[models.SampleStatusSubmitted])
}

func TestWithTxRollsBack(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := st.WithTx(ctx, func(tx *Store) error {
		if err := tx.CreateSubmission(ctx, &models.Submission{
			SubmissionNumber: "HTSF-TX",
			PDFFilename:      "tx.pdf",
		}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, total, err := st.ListSubmissions(ctx, SubmissionFilters{})
	require.NoError(t, err)
	assert.EqualValues(t, 0, total)
}

func TestMarkSampleCompleted(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	sub := seedSubmission(t, st, "HTSF-060", models.PriorityNormal)
	sample := seedSample(t, st, sub.ID, "a")

	now := time.Now()
	require.NoError(t, st.MarkSampleCompleted(ctx, sample.ID, now))

	got, err := st.GetSample(ctx, sample.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SampleStatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
}

func TestCountSamples(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	sub := seedSubmission(t, st, "HTSF-070", models.PriorityNormal)

	a := seedSample(t, st, sub.ID, "a")
	seedSample(t, st, sub.ID, "b")
	require.NoError(t, st.UpdateSampleStatus(ctx, a.ID, models.SampleStatusSequencing))

	total, byStatus, err := st.CountSamples(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.EqualValues(t, 1, byStatus[models.SampleStatusSequencing])
	assert.EqualValues(t, 1, byStatus[models.SampleStatusSubmitted])
}

func TestTransientErrorsAreRetried(t *testing.T) {
	client := testdb.NewSQLiteClient(t)
	st := New(client.Gorm, RetryConfig{Attempts: 3, BaseDelay: time.Millisecond})
	ctx := context.Background()

	sub := seedSubmission(t, st, "HTSF-080", models.PriorityNormal)
	sample := seedSample(t, st, sub.ID, "a")
	steps := seedSteps(t, st, sample.ID)

	// Fail the first two reads with a connection-class error; the third
	// attempt goes through.
	queryFailures := 2
	require.NoError(t, client.Gorm.Callback().Query().Before("gorm:query").
		Register("flaky_query", func(tx *gorm.DB) {
			if queryFailures > 0 {
				queryFailures--
				tx.AddError(errors.New("connection reset by peer"))
			}
		}))
	t.Cleanup(func() { _ = client.Gorm.Callback().Query().Remove("flaky_query") })

	step, err := st.GetStep(ctx, steps[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageSampleQC, step.StepName)
	assert.Equal(t, 0, queryFailures)

	updateFailures := 2
	require.NoError(t, client.Gorm.Callback().Update().Before("gorm:update").
		Register("flaky_update", func(tx *gorm.DB) {
			if updateFailures > 0 {
				updateFailures--
				tx.AddError(errors.New("connection reset by peer"))
			}
		}))
	t.Cleanup(func() { _ = client.Gorm.Callback().Update().Remove("flaky_update") })

	transitioned, err := st.TransitionStep(ctx, steps[0].ID,
		models.StepStatusPending, models.StepStatusInProgress, StepPatch{})
	require.NoError(t, err)
	assert.True(t, transitioned)
	assert.Equal(t, 0, updateFailures)
}

func TestLogicErrorsAreNotRetried(t *testing.T) {
	client := testdb.NewSQLiteClient(t)
	st := New(client.Gorm, RetryConfig{Attempts: 3, BaseDelay: time.Millisecond})
	ctx := context.Background()

	attempts := 0
	require.NoError(t, client.Gorm.Callback().Query().Before("gorm:query").
		Register("count_attempts", func(tx *gorm.DB) { attempts++ }))
	t.Cleanup(func() { _ = client.Gorm.Callback().Query().Remove("count_attempts") })

	_, err := st.GetStep(ctx, "no-such-step")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, attempts)
}
