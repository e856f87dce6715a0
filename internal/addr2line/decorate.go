package addr2line

import (
	"path/filepath"
	"strings"
)

// DefaultSeparator introduces every decoration.
const DefaultSeparator = '@'

// Decorator rewrites resolver locations into symbol-name-safe
// decorations: separator, then the location with every byte outside
// [0-9A-Za-z] mapped to '_'.
type Decorator struct {
	Separator byte
	BaseDir   string

	absBase string
}

// NewDecorator builds a Decorator that strips baseDir both as given and
// as an absolute path, so relative and absolute locations normalize the
// same way.
func NewDecorator(separator byte, baseDir string) Decorator {
	d := Decorator{Separator: separator, BaseDir: baseDir}
	if baseDir != "" {
		if abs, err := filepath.Abs(baseDir); err == nil {
			d.absBase = abs
		}
	}
	return d
}

// Decorate turns a resolved location into a decoration. ok is false when
// the location carries no disambiguating information: empty resolver
// output, or the all-underscore form produced by an unknown "?:??"
// answer.
func (d Decorator) Decorate(location string) (string, bool) {
	if location == "" {
		return "", false
	}
	loc := filepath.Clean(location)
	if d.BaseDir != "" {
		if rest, ok := strings.CutPrefix(loc, d.BaseDir); ok {
			loc = rest
		} else if d.absBase != "" {
			if rest, ok := strings.CutPrefix(loc, d.absBase); ok {
				loc = rest
			}
		}
	}
	loc = strings.TrimPrefix(loc, "/")
	if loc == "" {
		return "", false
	}
	var b strings.Builder
	b.Grow(len(loc) + 1)
	b.WriteByte(d.Separator)
	for i := 0; i < len(loc); i++ {
		c := loc[i]
		if isAlnum(c) {
			b.WriteByte(c)
		} else {
			b.WriteByte('_')
		}
	}
	dec := b.String()
	if dec == string(d.Separator)+"____" {
		return "", false
	}
	return dec, true
}

func isAlnum(c byte) bool {
	return c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}
