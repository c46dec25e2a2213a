package main

import (
	"encoding/json"
	"time"

	"github.com/jward/livescope/internal/protocol"
	"github.com/jward/livescope/internal/store"
)

// CLIResult is the top-level JSON envelope for run and history.
type CLIResult struct {
	Command    string `json:"command"`
	Results    any    `json:"results"`
	TotalCount *int   `json:"total_count,omitempty"`
	Error      string `json:"error,omitempty"`
}

// CLIRunResult is a run Result with the snapshot decoded for readability.
type CLIRunResult struct {
	Variables     json.RawMessage       `json:"variables"`
	Error         *protocol.ErrorReport `json:"error,omitempty"`
	Traceback     string                `json:"traceback,omitempty"`
	InternalError string                `json:"internal_error,omitempty"`
	ExecTime      float64               `json:"exec_time"`
	TotalTime     float64               `json:"total_time"`
}

// CLIRun is a JSON-friendly journal entry.
type CLIRun struct {
	ID            string    `json:"id"`
	SessionID     string    `json:"session_id,omitempty"`
	File          string    `json:"file"`
	StartedAt     time.Time `json:"started_at"`
	ExecTime      float64   `json:"exec_time"`
	TotalTime     float64   `json:"total_time"`
	ReusedScope   bool      `json:"reused_scope"`
	ErrorType     string    `json:"error_type,omitempty"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	InternalError string    `json:"internal_error,omitempty"`
}

func resultToCLI(r *protocol.Result) CLIRunResult {
	out := CLIRunResult{
		Variables: json.RawMessage(r.UserVariables),
		Error:     r.UserError,
		ExecTime:  r.ExecTime,
		TotalTime: r.TotalTime,
	}
	if !json.Valid(out.Variables) {
		out.Variables = json.RawMessage("{}")
	}
	if r.UserErrorMsg != nil {
		out.Traceback = *r.UserErrorMsg
	}
	if r.InternalError != nil {
		out.InternalError = *r.InternalError
	}
	return out
}

func runToCLI(r *store.Run) CLIRun {
	return CLIRun{
		ID:            r.ID,
		SessionID:     deref(r.SessionID),
		File:          r.FilePath,
		StartedAt:     r.StartedAt,
		ExecTime:      r.ExecTime,
		TotalTime:     r.TotalTime,
		ReusedScope:   r.ReusedScope,
		ErrorType:     deref(r.ErrorType),
		ErrorMessage:  deref(r.ErrorMessage),
		InternalError: deref(r.InternalError),
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
