package analysis

import (
	"fmt"
	"io"
	"mime"
	"path"
	"strings"
	"unicode/utf8"

	"mrv/models"
)

const (
	// MaxExcerpts caps how many uploaded files go into one prompt.
	MaxExcerpts = 3
	// MaxExcerptBytes caps the bytes read from each file.
	MaxExcerptBytes = 4 << 10
)

// Excerpt is the leading part of an uploaded text file.
type Excerpt struct {
	Name      string
	Text      string
	Truncated bool
}

var textExtensions = map[string]bool{
	".csv":  true,
	".json": true,
	".txt":  true,
	".tsv":  true,
	".md":   true,
}

// IsText reports whether ref looks like field data the model can read.
func IsText(ref models.FileRef) bool {
	mediaType, _, err := mime.ParseMediaType(ref.ContentType)
	if err == nil {
		switch {
		case strings.HasPrefix(mediaType, "text/"):
			return true
		case mediaType == "application/json", mediaType == "application/csv":
			return true
		}
	}
	return textExtensions[strings.ToLower(path.Ext(ref.Name))]
}

// ReadExcerpt reads at most MaxExcerptBytes from r. A cut that lands inside
// a multi-byte rune drops the partial rune.
func ReadExcerpt(name string, r io.Reader) (Excerpt, error) {
	buf, err := io.ReadAll(io.LimitReader(r, MaxExcerptBytes+1))
	if err != nil {
		return Excerpt{}, fmt.Errorf("read %s: %w", name, err)
	}
	e := Excerpt{Name: name}
	if len(buf) > MaxExcerptBytes {
		buf = buf[:MaxExcerptBytes]
		e.Truncated = true
		for i := 1; i < utf8.UTFMax && len(buf) > 0 && !utf8.Valid(buf); i++ {
			buf = buf[:len(buf)-1]
		}
	}
	if !utf8.Valid(buf) {
		return Excerpt{}, fmt.Errorf("read %s: not UTF-8 text", name)
	}
	e.Text = string(buf)
	return e, nil
}
