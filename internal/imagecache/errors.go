package imagecache

import "fmt"

// SchemeError reports a URI whose scheme is unknown or which is malformed. It is not
// retried until the URI changes.
type SchemeError struct {
	URI    string
	Reason string
}

func (e *SchemeError) Error() string {
	return fmt.Sprintf("imagecache: bad uri %q: %s", e.URI, e.Reason)
}

// LoadError reports a failed fetch or decode. The next Get for the URI retries.
type LoadError struct {
	URI string
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("imagecache: load %q: %v", e.URI, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }
