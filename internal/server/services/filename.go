package services

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"github.com/dmitrijs2005/gophdrive/internal/common"
	"golang.org/x/text/unicode/norm"
)

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// SecureFilename reduces name to a portable ASCII form that can be joined
// onto a server path: accents are decomposed and dropped, separators become
// underscores and anything outside [A-Za-z0-9_.-] is removed. The result may
// be empty.
func SecureFilename(name string) string {
	decomposed := norm.NFKD.String(name)
	ascii := strings.Map(func(r rune) rune {
		if r > unicode.MaxASCII {
			return -1
		}
		return r
	}, decomposed)

	ascii = strings.NewReplacer("/", " ", `\`, " ").Replace(ascii)
	ascii = strings.Join(strings.Fields(ascii), "_")
	ascii = unsafeFilenameChars.ReplaceAllString(ascii, "")
	return strings.Trim(ascii, "._")
}

// cleanName sanitizes a client supplied file or directory name.
func cleanName(kind, name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("%s name is required: %w", kind, common.ErrValidation)
	}
	clean := SecureFilename(name)
	if clean == "" {
		return "", fmt.Errorf("%s name %q has no usable characters: %w", kind, name, common.ErrValidation)
	}
	return clean, nil
}

// ExtensionPolicy restricts uploads to a set of extensions. An empty policy
// allows everything.
type ExtensionPolicy map[string]struct{}

func NewExtensionPolicy(exts []string) ExtensionPolicy {
	p := ExtensionPolicy{}
	for _, e := range exts {
		e = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(e), "."))
		if e != "" {
			p[e] = struct{}{}
		}
	}
	return p
}

// Check returns common.ErrValidation when name's extension is not allowed.
func (p ExtensionPolicy) Check(name string) error {
	if len(p) == 0 {
		return nil
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	if _, ok := p[ext]; !ok {
		return fmt.Errorf("file type %q is not allowed: %w", ext, common.ErrValidation)
	}
	return nil
}
