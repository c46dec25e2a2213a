package store

import "time"

// Journal domain types

type Session struct {
	ID           string
	StartedAt    time.Time
	PID          int
	LibraryPaths []string
}

type Run struct {
	ID            string
	SessionID     *string
	FilePath      string
	EvalHash      string
	SavedHash     string
	ReusedScope   bool
	StartedAt     time.Time
	ExecTime      float64
	TotalTime     float64
	ErrorType     *string
	ErrorMessage  *string
	InternalError *string
	Variables     string
}

// Failed reports whether the run ended with a user or internal error.
func (r *Run) Failed() bool {
	return r.ErrorType != nil || r.InternalError != nil
}
