package executor

import (
	"encoding/json"
	"fmt"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Kind classifies why a scan failed.
type Kind string

const (
	KindTimeout           Kind = "timeout"
	KindExecutionFailed   Kind = "execution_failed"
	KindReportMissing     Kind = "report_missing"
	KindReportUnparseable Kind = "report_unparseable"
	KindUnexpected        Kind = "unexpected"
)

// Reasons stored alongside the failure kind.
const (
	ReasonTimeout         = "timeout"
	ReasonExecutionFailed = "execution failed"
	ReasonReportMissing   = "report file not found"
	ReasonUnexpected      = "unexpected error"
)

// Failure is the structured error payload persisted for failed scans. Stdout
// and Stderr are always sanitized.
type Failure struct {
	Kind   Kind   `json:"kind"`
	Reason string `json:"reason"`
	Error  string `json:"error"`
	Stdout string `json:"stdout,omitempty"`
	Stderr string `json:"stderr,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// Outcome is the result of one scan attempt: either a forensic document or a
// failure, never both.
type Outcome struct {
	Status   Status
	Document map[string]any
	Failure  *Failure
}

func success(doc map[string]any) Outcome {
	return Outcome{Status: StatusSuccess, Document: doc}
}

func fail(f Failure) Outcome {
	return Outcome{Status: StatusFailed, Failure: &f}
}

func unexpected(err error) Outcome {
	return fail(Failure{
		Kind:   KindUnexpected,
		Reason: ReasonUnexpected,
		Error:  fmt.Sprintf("Unexpected error: %v", err),
		Detail: err.Error(),
	})
}

func (o Outcome) Succeeded() bool {
	return o.Status == StatusSuccess
}

// Data encodes the outcome the way it is stored with the snapshot.
func (o Outcome) Data() ([]byte, error) {
	if o.Succeeded() {
		return json.Marshal(o.Document)
	}
	if o.Failure == nil {
		return json.Marshal(Failure{Kind: KindUnexpected, Reason: ReasonUnexpected, Error: "Unexpected error"})
	}
	return json.Marshal(o.Failure)
}
