package workflow

import (
	"fmt"

	"github.com/seqlab/nanotrack/pkg/models"
)

// QC scoring thresholds.
const (
	qcPassScore = 70

	minConcentration = 1.0    // ng/uL
	maxConcentration = 1000.0 // ng/uL
	minVolume        = 1.0    // uL
	maxVolume        = 100.0  // uL
	minTotalAmount   = 50.0   // ng
)

// EvaluateQC scores a sample's intake measurements. The score starts at 100
// and each finding subtracts its penalty; any critical finding fails the
// sample regardless of score.
func EvaluateQC(sample *models.Sample) *models.QCResult {
	result := &models.QCResult{
		Score:   100,
		Metrics: make(map[string]float64),
	}

	critical := false
	addIssue := func(severity models.QCIssueSeverity, field, message string, penalty int) {
		result.Issues = append(result.Issues, models.QCIssue{
			Severity: severity,
			Field:    field,
			Message:  message,
		})
		result.Score -= penalty
		if severity == models.QCSeverityCritical {
			critical = true
		}
	}

	if sample.Concentration == nil {
		addIssue(models.QCSeverityCritical, "concentration", "concentration not provided", 0)
		result.Recommendations = append(result.Recommendations,
			"Measure sample concentration (Qubit preferred) before proceeding")
	} else {
		conc := *sample.Concentration
		result.Metrics["concentration"] = conc
		switch {
		case conc < minConcentration:
			addIssue(models.QCSeverityHigh, "concentration",
				fmt.Sprintf("concentration %.2f ng/uL below minimum %.0f ng/uL", conc, minConcentration), 30)
			result.Recommendations = append(result.Recommendations,
				"Concentrate the sample or resubmit with higher input")
		case conc > maxConcentration:
			addIssue(models.QCSeverityMedium, "concentration",
				fmt.Sprintf("concentration %.2f ng/uL above %.0f ng/uL", conc, maxConcentration), 15)
			result.Recommendations = append(result.Recommendations,
				"Dilute the sample before library prep")
		}
	}

	if sample.Volume == nil {
		addIssue(models.QCSeverityHigh, "volume", "volume not provided", 30)
	} else {
		vol := *sample.Volume
		result.Metrics["volume"] = vol
		switch {
		case vol < minVolume:
			addIssue(models.QCSeverityHigh, "volume",
				fmt.Sprintf("volume %.2f uL below minimum %.0f uL", vol, minVolume), 25)
			result.Recommendations = append(result.Recommendations,
				"Provide at least 1 uL of sample material")
		case vol > maxVolume:
			addIssue(models.QCSeverityLow, "volume",
				fmt.Sprintf("volume %.2f uL above typical maximum %.0f uL", vol, maxVolume), 5)
		}
	}

	if sample.SampleType == "" {
		addIssue(models.QCSeverityCritical, "sample_type", "sample type not provided", 0)
		result.Recommendations = append(result.Recommendations,
			"Specify the sample type so the correct prep protocol can be chosen")
	}

	if total := sample.TotalAmount(); total != nil {
		result.Metrics["total_amount"] = *total
		if *total < minTotalAmount {
			addIssue(models.QCSeverityMedium, "total_amount",
				fmt.Sprintf("total amount %.1f ng below recommended %.0f ng", *total, minTotalAmount), 20)
			result.Recommendations = append(result.Recommendations,
				"Low input may reduce library yield; consider a low-input protocol")
		}
	}

	if result.Score < 0 {
		result.Score = 0
	}
	result.Passed = !critical && result.Score >= qcPassScore
	return result
}
