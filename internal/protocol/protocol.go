// Package protocol defines the JSON documents exchanged with the presentation
// layer: one Request per run and one Result per response line.
package protocol

// Request is one run request. Field names follow the camelCase convention of
// the presentation layer.
type Request struct {
	EvalCode             string    `json:"evalCode"`
	SavedCode            string    `json:"savedCode"`
	FilePath             string    `json:"filePath"`
	UsePreviousVariables bool      `json:"usePreviousVariables"`
	Settings             *Settings `json:"settings,omitempty"`
}

// Settings is the settings sub-document of a Request. The same shape is used
// for defaults in the configuration file.
type Settings struct {
	ShowGlobalVars     *bool    `json:"show_global_vars,omitempty" yaml:"show_global_vars"`
	DefaultFilterVars  []string `json:"default_filter_vars,omitempty" yaml:"default_filter_vars"`
	DefaultFilterTypes []string `json:"default_filter_types,omitempty" yaml:"default_filter_types"`
}

// ShowGlobals reports whether the snapshot should contain the scope.
// Defaults to true when s or its field is unset.
func (s *Settings) ShowGlobals() bool {
	return s == nil || s.ShowGlobalVars == nil || *s.ShowGlobalVars
}

// Merge returns a copy of s with every field set in override replacing the
// corresponding field of s. Either side may be nil.
func (s *Settings) Merge(override *Settings) *Settings {
	out := &Settings{}
	if s != nil {
		*out = *s
	}
	if override == nil {
		return out
	}
	if override.ShowGlobalVars != nil {
		v := *override.ShowGlobalVars
		out.ShowGlobalVars = &v
	}
	if override.DefaultFilterVars != nil {
		out.DefaultFilterVars = override.DefaultFilterVars
	}
	if override.DefaultFilterTypes != nil {
		out.DefaultFilterTypes = override.DefaultFilterTypes
	}
	return out
}

// Result is one response line. Results produced by a finished run have
// Done set; manual dumps emitted mid-run do not.
type Result struct {
	UserError     *ErrorReport `json:"userError"`
	UserErrorMsg  *string      `json:"userErrorMsg"`
	UserVariables string       `json:"userVariables"`
	ExecTime      float64      `json:"execTime"`
	TotalTime     float64      `json:"totalTime"`
	InternalError *string      `json:"internalError"`
	Caller        string       `json:"caller"`
	LineNo        int          `json:"lineno"`
	Done          bool         `json:"done"`
	Count         int          `json:"count"`
	StartResult   bool         `json:"startResult"`
}

// NewResult returns a Result with the echo fields at their defaults and an
// empty snapshot.
func NewResult() *Result {
	return &Result{
		UserVariables: "{}",
		Caller:        "<module>",
		LineNo:        -1,
		Done:          true,
		Count:         -1,
	}
}

// StartupResult is the handshake emitted before the first request is read.
func StartupResult() *Result {
	r := NewResult()
	r.StartResult = true
	return r
}

// ErrorReport is the structured, transport-safe form of a user error.
type ErrorReport struct {
	Type    string       `json:"type"`
	Message string       `json:"message"`
	Stack   []Frame      `json:"stack"`
	Cause   *ErrorReport `json:"cause,omitempty"`
}

// Frame is one traceback entry.
type Frame struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Function string `json:"function"`
	Source   string `json:"source,omitempty"`
}
