package livescope

import (
	"github.com/jward/livescope/internal/protocol"
	"github.com/jward/livescope/internal/scope"
)

// Public type aliases for the internal wire and scope types used in the
// Engine API. External consumers use these names; no conversion is needed.

type Request = protocol.Request
type Result = protocol.Result
type Settings = protocol.Settings
type ErrorReport = protocol.ErrorReport
type Frame = protocol.Frame
type Scope = scope.Scope
