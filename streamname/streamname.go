// Package streamname implements the message store's stream-name grammar:
//
//	name     = category ("-" id)?
//	category = base (":" type ("+" type)*)?
//
// Separators: "-" separates category from id; ":" introduces category type
// qualifiers; "+" concatenates additional type qualifiers. All functions here
// are pure and side-effect free.
package streamname

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// ValidationError reports a malformed input to a stream-name function.
// The grammar itself never rejects a name; this is only raised for input
// that isn't valid UTF-8.
type ValidationError struct {
	Msg string
}

func (e ValidationError) Error() string { return "streamname: " + e.Msg }

func checkUTF8(op, s string) error {
	if !utf8.ValidString(s) {
		return ValidationError{Msg: fmt.Sprintf("%s: input is not valid UTF-8", op)}
	}
	return nil
}

// Category returns the prefix of name up to the first "-", or the entire
// name if it contains no "-".
func Category(name string) string {
	if i := strings.IndexByte(name, '-'); i >= 0 {
		return name[:i]
	}
	return name
}

// ID returns the suffix of name after the first "-", or "" with ok=false if
// name contains no "-".
func ID(name string) (id string, ok bool) {
	i := strings.IndexByte(name, '-')
	if i < 0 {
		return "", false
	}
	return name[i+1:], true
}

// CardinalID returns the first "-"-separated segment of ID(name).
func CardinalID(name string) (id string, ok bool) {
	rest, ok := ID(name)
	if !ok {
		return "", false
	}
	if i := strings.IndexByte(rest, '-'); i >= 0 {
		return rest[:i], true
	}
	return rest, true
}

// IsCategory reports whether name contains no "-", i.e. names a category
// rather than a specific stream.
func IsCategory(name string) bool {
	return !strings.ContainsRune(name, '-')
}

// GetCategoryTypes splits the category's type qualifiers on "+". It returns
// nil if the category carries no ":" qualifier section.
func GetCategoryTypes(name string) []string {
	cat := Category(name)
	i := strings.IndexByte(cat, ':')
	if i < 0 {
		return nil
	}
	return strings.Split(cat[i+1:], "+")
}

// GetBaseCategory returns the category with any ":"-qualifier section
// stripped.
func GetBaseCategory(name string) string {
	cat := Category(name)
	if i := strings.IndexByte(cat, ':'); i >= 0 {
		return cat[:i]
	}
	return cat
}

// Validate checks that name is valid UTF-8, returning ValidationError
// otherwise. Callers that accept stream names from untrusted byte sources
// should call this before passing the name to Category/ID/etc.
func Validate(name string) error {
	return checkUTF8("streamname.Validate", name)
}
