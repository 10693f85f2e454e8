package models

// QCResult is the verdict produced by the Sample QC stage worker.
// Passed is true only when no critical issue was found and the score is at
// least the pass threshold.
type QCResult struct {
	Passed          bool               `json:"passed"`
	Score           int                `json:"score"` // 0–100
	Metrics         map[string]float64 `json:"metrics,omitempty"`
	Issues          []QCIssue          `json:"issues,omitempty"`
	Recommendations []string           `json:"recommendations,omitempty"`
}

// QCIssueSeverity grades a QC finding.
type QCIssueSeverity string

// QC issue severities.
const (
	QCSeverityCritical QCIssueSeverity = "critical"
	QCSeverityHigh     QCIssueSeverity = "high"
	QCSeverityMedium   QCIssueSeverity = "medium"
	QCSeverityLow      QCIssueSeverity = "low"
)

// QCIssue is a single finding from the QC evaluation.
type QCIssue struct {
	Severity QCIssueSeverity `json:"severity"`
	Field    string          `json:"field"`
	Message  string          `json:"message"`
}
