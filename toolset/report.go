package toolset

import (
	stdjson "encoding/json"
	"errors"

	"github.com/jonwraymond/geoexec/pipeline"
)

// Status values of a Report.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Report is the wire shape of an analysis, shared by the tools and the HTTP
// surface.
type Report struct {
	Status     string             `json:"status"`
	Prompt     string             `json:"prompt,omitempty"`
	PythonCode string             `json:"python_code,omitempty"`
	GISResult  stdjson.RawMessage `json:"gis_result,omitempty"`
	ResultType string             `json:"result_type,omitempty"`
	CRS        string             `json:"crs,omitempty"`
	Stdout     string             `json:"stdout,omitempty"`
	Error      *ReportError       `json:"error,omitempty"`
}

// ReportError carries the sanitized failure of a Report.
type ReportError struct {
	Kind    pipeline.Kind `json:"kind"`
	Message string        `json:"message"`
}

// NewReport builds a Report from a pipeline outcome. Partial results of a
// failed run are kept so callers can see the code that failed.
func NewReport(res pipeline.Result, err error) Report {
	r := Report{
		Status:     StatusSuccess,
		Prompt:     res.Prompt,
		PythonCode: res.Code,
		Stdout:     res.Stdout,
	}
	if !res.Value.IsZero() {
		r.GISResult = res.Value.Data
		r.ResultType = res.Value.Type
		r.CRS = res.Value.CRS
	}
	if err == nil {
		return r
	}

	r.Status = StatusError
	var pe *pipeline.Error
	if errors.As(err, &pe) {
		r.Error = &ReportError{Kind: pe.Kind, Message: pe.Message}
	} else {
		r.Error = &ReportError{Kind: pipeline.KindInternal, Message: err.Error()}
	}
	return r
}
