package cli

import "fmt"

// ExitError carries the process exit code a failed command wants.
// Command RunE funcs return it and main translates it into os.Exit.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string { return e.Message }

func exitError(code int, format string, args ...any) *ExitError {
	return &ExitError{Code: code, Message: fmt.Sprintf(format, args...)}
}
