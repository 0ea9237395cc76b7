package imageio

import "fmt"

// AssetLoadError reports an image file that could not be opened or decoded.
type AssetLoadError struct {
	Path string
	Err  error
}

func (e *AssetLoadError) Error() string {
	return fmt.Sprintf("load asset %s: %v", e.Path, e.Err)
}

func (e *AssetLoadError) Unwrap() error { return e.Err }
