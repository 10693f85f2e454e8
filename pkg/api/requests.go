package api

import (
	"time"

	"github.com/seqlab/nanotrack/pkg/models"
)

// ingestRequest is the intake payload produced by the submission document
// extractor: one submission with its samples.
type ingestRequest struct {
	SubmissionNumber string    `json:"submission_number" binding:"required"`
	PDFFilename      string    `json:"pdf_filename" binding:"required"`
	SubmitterName    string    `json:"submitter_name"`
	SubmitterEmail   string    `json:"submitter_email"`
	Organization     string    `json:"organization"`
	ProjectName      string    `json:"project_name"`
	Priority         string    `json:"priority"`
	SubmissionDate   time.Time `json:"submission_date"`

	Samples []ingestSample `json:"samples" binding:"required,min=1,dive"`
}

type ingestSample struct {
	SampleName            string   `json:"sample_name" binding:"required"`
	SampleType            string   `json:"sample_type"`
	Concentration         *float64 `json:"concentration"`
	Volume                *float64 `json:"volume"`
	QubitConcentration    *float64 `json:"qubit_concentration"`
	NanodropConcentration *float64 `json:"nanodrop_concentration"`
	A260280               *float64 `json:"a260_280"`
	A260230               *float64 `json:"a260_230"`
	Priority              string   `json:"priority"`
	ChartField            string   `json:"chart_field"`
}

func (r *ingestRequest) submission() *models.Submission {
	priority := models.Priority(r.Priority)
	if priority == "" {
		priority = models.PriorityNormal
	}
	date := r.SubmissionDate
	if date.IsZero() {
		date = time.Now()
	}
	return &models.Submission{
		SubmissionNumber: r.SubmissionNumber,
		PDFFilename:      r.PDFFilename,
		SubmitterName:    r.SubmitterName,
		SubmitterEmail:   r.SubmitterEmail,
		Organization:     r.Organization,
		ProjectName:      r.ProjectName,
		Priority:         priority,
		SubmissionDate:   date,
	}
}

func (r *ingestRequest) samples() []*models.Sample {
	samples := make([]*models.Sample, len(r.Samples))
	for i, in := range r.Samples {
		samples[i] = &models.Sample{
			SampleName:            in.SampleName,
			SampleType:            models.SampleType(in.SampleType),
			Concentration:         in.Concentration,
			Volume:                in.Volume,
			QubitConcentration:    in.QubitConcentration,
			NanodropConcentration: in.NanodropConcentration,
			A260280:               in.A260280,
			A260230:               in.A260230,
			Priority:              models.Priority(in.Priority),
			ChartField:            in.ChartField,
		}
	}
	return samples
}

// priorityRequest is the body of PATCH /api/samples/:id/priority.
type priorityRequest struct {
	Priority string `json:"priority" binding:"required"`
}
