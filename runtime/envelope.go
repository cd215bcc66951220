package runtime

import (
	"encoding/json"

	"github.com/google/uuid"
)

// EnvelopeEnv names the environment variable that points a worker at an
// envelope file instead of stdin.
const EnvelopeEnv = "GEOEXEC_ENVELOPE"

// FramePrefix starts the single result line a worker writes.
const FramePrefix = "__GEOEXEC__"

// Envelope is the document a worker reads before running a program.
type Envelope struct {
	Nonce          string          `json:"nonce"`
	Program        string          `json:"program"`
	ResultName     string          `json:"result_name"`
	AllowedImports []string        `json:"allowed_imports"`
	Requires       []string        `json:"requires,omitempty"`
	Input          json.RawMessage `json:"input,omitempty"`
	Limits         EnvelopeLimits  `json:"limits"`

	// CodeOffset is the number of preamble lines before the code. Not sent.
	CodeOffset int `json:"-"`
}

// EnvelopeLimits are the ceilings the driver applies to itself.
type EnvelopeLimits struct {
	CPUSeconds  int64 `json:"cpu_seconds,omitempty"`
	MemoryBytes int64 `json:"memory_bytes,omitempty"`
	PidsMax     int64 `json:"pids,omitempty"`
	OutputBytes int64 `json:"output_bytes,omitempty"`
}

// NewEnvelope builds the envelope for req. req should already carry defaults.
func NewEnvelope(req ExecuteRequest) Envelope {
	env := Envelope{
		Nonce:          uuid.NewString(),
		Program:        req.Program(),
		ResultName:     req.ResultName,
		AllowedImports: req.AllowedImports,
		Requires:       req.Requires,
		Limits: EnvelopeLimits{
			CPUSeconds:  req.Limits.CPUSeconds,
			MemoryBytes: req.Limits.MemoryBytes,
			PidsMax:     req.Limits.PidsMax,
			OutputBytes: req.Limits.OutputBytes,
		},
		CodeOffset: req.CodeLineOffset(),
	}
	if len(req.Input) > 0 {
		env.Input = json.RawMessage(req.Input)
	}
	return env
}

// Marshal encodes the envelope for the worker.
func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}
