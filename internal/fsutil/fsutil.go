package fsutil

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var imageExts = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".tif":  {},
	".tiff": {},
	".bmp":  {},
	".webp": {},
}

// engineOutputs are file name markers of images the engine writes into a
// session folder; they are never treated as captured photos.
var engineOutputs = []string{"final_composite", "composite_template"}

// PreviewSuffix ends the stem of blended preview frames.
const PreviewSuffix = "_preview"

// SessionPrefix names capture session directories.
const SessionPrefix = "session_"

// ListImages returns all image-like files under root.
func ListImages(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if IsImageFile(d.Name()) {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// SessionPhotos returns the captured PNG photos of a session directory in
// name order, leaving out images the engine wrote there. outputs names the
// configured output stems and prefixes (final composite name, strip and
// composite prefixes); a file is an output when its stem equals one of them
// or starts with it followed by "_".
func SessionPhotos(dir string, outputs ...string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.png"))
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(dir); err != nil {
		return nil, err
	}

	photos := make([]string, 0, len(matches))
	for _, m := range matches {
		if IsEngineOutput(filepath.Base(m), outputs...) {
			continue
		}
		photos = append(photos, m)
	}
	sort.Strings(photos)
	return photos, nil
}

// IsEngineOutput reports whether name is an image the engine writes rather
// than a captured photo.
func IsEngineOutput(name string, outputs ...string) bool {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	if strings.HasSuffix(stem, PreviewSuffix) {
		return true
	}
	for _, marker := range engineOutputs {
		if strings.Contains(stem, marker) {
			return true
		}
	}
	for _, o := range outputs {
		o = strings.TrimSuffix(o, filepath.Ext(o))
		if o != "" && (stem == o || strings.HasPrefix(stem, o+"_")) {
			return true
		}
	}
	return false
}

// LatestSession returns the most recently modified session_* directory
// under base.
func LatestSession(base string) (string, error) {
	entries, err := os.ReadDir(base)
	if err != nil {
		return "", err
	}

	var latest string
	var latestMod int64
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), SessionPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		mod := info.ModTime().UnixNano()
		// ties go to the lexically later name, which sorts by timestamp
		if latest == "" || mod > latestMod || (mod == latestMod && e.Name() > filepath.Base(latest)) {
			latest, latestMod = filepath.Join(base, e.Name()), mod
		}
	}
	if latest == "" {
		return "", errors.New("no session directories found in " + base)
	}
	return latest, nil
}

// FirstExisting returns the first path that exists.
func FirstExisting(paths ...string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// IsImageFile checks if a file is any supported image format.
func IsImageFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	_, isImage := imageExts[ext]
	return isImage
}
