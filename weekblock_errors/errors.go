// Provides common weekblock error definitions.
package weekblock_errors

import "errors"

var (
	ErrNotFound       = errors.New("weekblock: block not found")
	ErrMalformedBlock = errors.New("weekblock: malformed block pattern")
	ErrStoreAccess    = errors.New("weekblock: store access failed")
	ErrDuplicateBlock = errors.New("weekblock: duplicate block key")
	ErrScopeUnknown   = errors.New("weekblock: unknown scope")
	ErrBadCell        = errors.New("weekblock: cell reference out of range")
	ErrClosed         = errors.New("weekblock: no store open")
)
