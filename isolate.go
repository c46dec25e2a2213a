package livescope

import (
	"log/slog"
	"os"
)

// SearchPath is the module search path the isolator extends.
type SearchPath interface {
	Path() []string
	SetPath([]string)
}

// WithScriptDirectory runs fn with dir at the front of the module search path
// and as the working directory, then restores both however fn returns. An
// empty dir runs fn as is, and so does a dir that cannot be entered, after a
// warning. Failures to restore are logged, not returned.
func WithScriptDirectory(dir string, path SearchPath, logger *slog.Logger, fn func() error) error {
	if dir == "" {
		return fn()
	}

	prevWD, err := os.Getwd()
	if err != nil {
		logger.Warn("running without script directory", "dir", dir, "error", err)
		return fn()
	}
	if err := os.Chdir(dir); err != nil {
		logger.Warn("running without script directory", "dir", dir, "error", err)
		return fn()
	}
	prevPath := path.Path()
	path.SetPath(append([]string{dir}, prevPath...))

	defer func() {
		path.SetPath(prevPath)
		if err := os.Chdir(prevWD); err != nil {
			logger.Warn("restore working directory", "dir", prevWD, "error", err)
		}
	}()
	return fn()
}
