package compose

import "fmt"

// TemplateDecodeError aborts a compose call: without a background there is
// nothing to return.
type TemplateDecodeError struct {
	Template string
	Err      error
}

func (e *TemplateDecodeError) Error() string {
	return fmt.Sprintf("decode template %s: %v", e.Template, e.Err)
}

func (e *TemplateDecodeError) Unwrap() error { return e.Err }

// PhotoDecodeError marks a slot left showing the template background.
type PhotoDecodeError struct {
	Slot  int
	Photo string
	Err   error
}

func (e *PhotoDecodeError) Error() string {
	return fmt.Sprintf("slot %d: photo %s: %v", e.Slot, e.Photo, e.Err)
}

func (e *PhotoDecodeError) Unwrap() error { return e.Err }

// EncodeError reports a composite that could not be written.
type EncodeError struct {
	Path string
	Err  error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("write composite %s: %v", e.Path, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }
