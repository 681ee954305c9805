package filemeta

import (
	"errors"
	"fmt"
)

// Sentinel error kinds, one per taxonomy entry in spec.md §7. Use
// errors.Is against these to classify a failure; wrapf attaches
// path/operand context without losing the sentinel.
var (
	ErrInvalidPath      = errors.New("filemeta: invalid path")
	ErrFileAccess       = errors.New("filemeta: file access error")
	ErrDuplicateRecord  = errors.New("filemeta: duplicate record")
	ErrPlugin           = errors.New("filemeta: plugin error")
	ErrStorage          = errors.New("filemeta: storage error")
	ErrQuery            = errors.New("filemeta: query error")
	ErrTransactionAbort = errors.New("filemeta: transaction aborted")
)

// wrapf formats a diagnostic message and joins it with a sentinel kind so
// callers can both read a human message and errors.Is(err, ErrX).
func wrapf(kind error, format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), kind)
}
