package templates

import "fmt"

// GeometryError reports a template whose image does not fit its slot table
// or is too small to sample.
type GeometryError struct {
	Path   string
	Reason string
	Err    error
}

func (e *GeometryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("template %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("template %s: %s", e.Path, e.Reason)
}

func (e *GeometryError) Unwrap() error { return e.Err }
