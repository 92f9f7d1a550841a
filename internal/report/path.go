package report

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"sky/pkg/fileops"

	"github.com/google/uuid"
)

const maxSlugLen = 50

var slugInvalid = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// Slugify turns a query into a file name stem.
func Slugify(text string) string {
	slug := strings.Trim(slugInvalid.ReplaceAllString(text, "_"), "_")
	if slug == "" {
		slug = "report"
	}
	if len(slug) > maxSlugLen {
		slug = slug[:maxSlugLen]
	}
	return slug
}

// BuildReportPath returns dir/<slug>_<id>.html. newID defaults to a random
// UUID.
func BuildReportPath(query, dir string, newID func() string) string {
	if newID == nil {
		newID = func() string { return uuid.NewString() }
	}
	return filepath.Join(dir, fmt.Sprintf("%s_%s.html", Slugify(query), newID()))
}

// Writer stores HTML reports under a directory.
type Writer struct {
	Dir string
	// Base, when set, makes returned paths relative to it.
	Base  string
	NewID func() string
}

// Write stores content atomically and returns its path.
func (w *Writer) Write(query, content string) (string, error) {
	path := BuildReportPath(query, w.Dir, w.NewID)
	if err := fileops.AtomicWriteText(path, content); err != nil {
		return "", err
	}
	if w.Base == "" {
		return path, nil
	}
	rel, err := filepath.Rel(w.Base, path)
	if err != nil {
		return path, nil
	}
	return rel, nil
}

// DirWritable reports whether reports can be created in dir: either dir is
// a writable directory or it does not exist yet and its parent is writable.
func DirWritable(dir string) bool {
	return fileops.ValidateDirectoryWritable(dir) == nil
}
