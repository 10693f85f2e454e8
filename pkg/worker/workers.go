package worker

import (
	"context"
	"fmt"
	"math"

	"github.com/seqlab/nanotrack/pkg/models"
	"github.com/seqlab/nanotrack/pkg/workflow"
)

// SampleQCWorker scores the sample's intake measurements. A failing verdict
// fails the step, which halts the sample for manual remediation.
type SampleQCWorker struct{}

func (w *SampleQCWorker) Stage() models.Stage { return models.StageSampleQC }

func (w *SampleQCWorker) Execute(ctx context.Context, step *models.ProcessingStep, sample *models.Sample) (*Outcome, error) {
	qc := workflow.EvaluateQC(sample)

	results := models.JSONMap{
		"qc_score":  qc.Score,
		"qc_passed": qc.Passed,
	}
	if total := sample.TotalAmount(); total != nil {
		results["total_amount_ng"] = *total
	}

	if !qc.Passed {
		return &Outcome{
			Status:  models.StepStatusFailed,
			Results: results,
			QC:      qc,
			Notes:   fmt.Sprintf("sample QC failed with score %d", qc.Score),
		}, nil
	}
	return &Outcome{Status: models.StepStatusCompleted, Results: results, QC: qc}, nil
}

// LibraryPrepWorker selects a prep protocol from the sample type and models
// the expected library yield.
type LibraryPrepWorker struct{}

func (w *LibraryPrepWorker) Stage() models.Stage { return models.StageLibraryPrep }

func (w *LibraryPrepWorker) Execute(ctx context.Context, step *models.ProcessingStep, sample *models.Sample) (*Outcome, error) {
	if sample.SampleType == "" {
		return &Outcome{
			Status: models.StepStatusFailed,
			Notes:  "cannot select prep protocol: sample type missing",
		}, nil
	}

	protocol := "SQK-LSK114"
	switch sample.SampleType {
	case models.SampleTypeRNA:
		protocol = "SQK-RNA004"
	case models.SampleTypeProtein, models.SampleTypeOther:
		return &Outcome{
			Status: models.StepStatusFailed,
			Notes:  fmt.Sprintf("no nanopore prep protocol for sample type %s", sample.SampleType),
		}, nil
	}

	results := models.JSONMap{
		"protocol":        protocol,
		"barcoding":       false,
		"input_amount_ng": inputAmount(sample),
		"operator":        sample.LibraryPrepBy,
	}
	return &Outcome{Status: models.StepStatusCompleted, Results: results}, nil
}

// LibraryQCWorker verifies the prepared library concentration and size. The
// yield model is deterministic from the intake measurements so repeated runs
// agree.
type LibraryQCWorker struct{}

func (w *LibraryQCWorker) Stage() models.Stage { return models.StageLibraryQC }

func (w *LibraryQCWorker) Execute(ctx context.Context, step *models.ProcessingStep, sample *models.Sample) (*Outcome, error) {
	input := inputAmount(sample)
	// Ligation prep recovers roughly 40% of input.
	libraryAmount := math.Round(input*0.4*10) / 10

	qc := &models.QCResult{
		Passed: true,
		Score:  100,
		Metrics: map[string]float64{
			"library_amount_ng": libraryAmount,
			"fragment_size_bp":  8000,
		},
	}
	if libraryAmount < 20 {
		qc.Passed = false
		qc.Score = 40
		qc.Issues = append(qc.Issues, models.QCIssue{
			Severity: models.QCSeverityHigh,
			Field:    "library_amount_ng",
			Message:  fmt.Sprintf("library yield %.1f ng below the 20 ng loading minimum", libraryAmount),
		})
		qc.Recommendations = append(qc.Recommendations,
			"Repeat library prep with more input material")
		return &Outcome{
			Status:  models.StepStatusFailed,
			Results: models.JSONMap{"library_amount_ng": libraryAmount},
			QC:      qc,
			Notes:   "library QC failed: insufficient yield",
		}, nil
	}

	return &Outcome{
		Status:  models.StepStatusCompleted,
		Results: models.JSONMap{"library_amount_ng": libraryAmount, "fragment_size_bp": 8000},
		QC:      qc,
	}, nil
}

// SequencingSetupWorker assigns a flow cell and records the pore check.
type SequencingSetupWorker struct{}

func (w *SequencingSetupWorker) Stage() models.Stage { return models.StageSequencingSetup }

func (w *SequencingSetupWorker) Execute(ctx context.Context, step *models.ProcessingStep, sample *models.Sample) (*Outcome, error) {
	results := models.JSONMap{
		"flow_cell_type":  "FLO-MIN114",
		"flow_cell_id":    fmt.Sprintf("FC-%s-%d", shortID(sample.ID), sample.SampleNumber),
		"pores_available": 1400,
		"loading_ng":      20,
	}
	return &Outcome{Status: models.StepStatusCompleted, Results: results}, nil
}

// SequencingRunWorker models the sequencing run output.
type SequencingRunWorker struct{}

func (w *SequencingRunWorker) Stage() models.Stage { return models.StageSequencingRun }

func (w *SequencingRunWorker) Execute(ctx context.Context, step *models.ProcessingStep, sample *models.Sample) (*Outcome, error) {
	results := models.JSONMap{
		"run_id":     fmt.Sprintf("RUN-%s", shortID(sample.ID)),
		"yield_gb":   12.5,
		"read_count": 1_850_000,
		"run_hours":  step.EstimatedDurationHours,
	}
	return &Outcome{Status: models.StepStatusCompleted, Results: results}, nil
}

// BasecallingWorker records the basecalling model and read statistics.
type BasecallingWorker struct{}

func (w *BasecallingWorker) Stage() models.Stage { return models.StageBasecalling }

func (w *BasecallingWorker) Execute(ctx context.Context, step *models.ProcessingStep, sample *models.Sample) (*Outcome, error) {
	model := "dna_r10.4.1_e8.2_400bps_hac"
	if sample.SampleType == models.SampleTypeRNA {
		model = "rna004_130bps_hac"
	}
	results := models.JSONMap{
		"basecall_model": model,
		"reads_passed":   1_790_000,
		"reads_failed":   60_000,
	}
	return &Outcome{Status: models.StepStatusCompleted, Results: results}, nil
}

// QualityAssessmentWorker gates on the basecalled read quality.
type QualityAssessmentWorker struct{}

func (w *QualityAssessmentWorker) Stage() models.Stage { return models.StageQualityAssessment }

func (w *QualityAssessmentWorker) Execute(ctx context.Context, step *models.ProcessingStep, sample *models.Sample) (*Outcome, error) {
	qc := &models.QCResult{
		Passed: true,
		Score:  92,
		Metrics: map[string]float64{
			"mean_qscore": 14.2,
			"n50_bp":      11200,
		},
	}
	results := models.JSONMap{
		"mean_qscore": 14.2,
		"n50_bp":      11200,
	}
	return &Outcome{Status: models.StepStatusCompleted, Results: results, QC: qc}, nil
}

// DataDeliveryWorker records where the final data set was published.
type DataDeliveryWorker struct{}

func (w *DataDeliveryWorker) Stage() models.Stage { return models.StageDataDelivery }

func (w *DataDeliveryWorker) Execute(ctx context.Context, step *models.ProcessingStep, sample *models.Sample) (*Outcome, error) {
	results := models.JSONMap{
		"delivery_path": fmt.Sprintf("/data/delivery/%s/%s", sample.SubmissionID, sample.ID),
		"format":        "fastq.gz",
	}
	return &Outcome{Status: models.StepStatusCompleted, Results: results}, nil
}

// inputAmount returns the usable input in ng, favoring the Qubit reading.
func inputAmount(sample *models.Sample) float64 {
	conc := 0.0
	if sample.QubitConcentration != nil {
		conc = *sample.QubitConcentration
	} else if sample.Concentration != nil {
		conc = *sample.Concentration
	}
	vol := 0.0
	if sample.Volume != nil {
		vol = *sample.Volume
	}
	return conc * vol
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
