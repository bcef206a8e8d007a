package parser

import (
	"errors"
	"fmt"
)

// ParseError reports markup that did not match the expected shape. It is
// treated as transient by the worker (the page may have loaded partially)
// and retried.
type ParseError struct {
	Source string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error (%s): %s", e.Source, e.Reason)
}

// SetNotFoundError is the source telling us the item genuinely does not
// exist there (e.g. a search with no product link). It is a terminal,
// success-like outcome: the record is parked with a long retry horizon and
// never retried within the job.
type SetNotFoundError struct {
	Identifier string
}

func (e *SetNotFoundError) Error() string {
	return fmt.Sprintf("set %s not found on source", e.Identifier)
}

// IsSetNotFound reports whether err carries a SetNotFoundError.
func IsSetNotFound(err error) bool {
	var nf *SetNotFoundError
	return errors.As(err, &nf)
}
