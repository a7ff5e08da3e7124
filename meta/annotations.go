package meta

import (
	"strconv"
	"strings"
	"unicode"
)

// Annotation keywords recognised in method doc comments.
const (
	KeyTest                     = "test"
	KeyDepends                  = "depends"
	KeyDataProvider             = "dataProvider"
	KeyGroup                    = "group"
	KeyExpectedException        = "expectedException"
	KeyExpectedExceptionMessage = "expectedExceptionMessage"
	KeyExpectedExceptionCode    = "expectedExceptionCode"
	KeyBefore                   = "before"
	KeyAfter                    = "after"
	KeyBeforeClass              = "beforeClass"
	KeyAfterClass               = "afterClass"
)

// Annotations is the raw keyword data extracted from one doc comment.
type Annotations struct {
	Test              bool
	Depends           []string
	DataProvider      string
	Groups            []string
	ExpectedException string
	ExpectedMessage   string
	ExpectedCode      *int
	Before            bool
	After             bool
	BeforeClass       bool
	AfterClass        bool
}

// ParseAnnotations extracts annotations from doc text. Comment markers are
// tolerated so raw comment blocks can be passed as well as ast.CommentGroup
// text. Unknown keywords are ignored.
func ParseAnnotations(doc string) Annotations {
	var a Annotations
	for _, line := range strings.Split(doc, "\n") {
		line = stripCommentMarkers(line)
		if !strings.HasPrefix(line, "@") {
			continue
		}
		key, value := line[1:], ""
		if i := strings.IndexFunc(key, unicode.IsSpace); i >= 0 {
			key, value = key[:i], strings.TrimSpace(key[i:])
		}

		switch key {
		case KeyTest:
			a.Test = true
		case KeyDepends:
			a.Depends = append(a.Depends, splitList(value)...)
		case KeyDataProvider:
			if fields := strings.Fields(value); len(fields) > 0 {
				a.DataProvider = trimName(fields[0])
			}
		case KeyGroup:
			a.Groups = append(a.Groups, splitList(value)...)
		case KeyExpectedException:
			if fields := strings.Fields(value); len(fields) > 0 {
				a.ExpectedException = fields[0]
			}
		case KeyExpectedExceptionMessage:
			a.ExpectedMessage = value
		case KeyExpectedExceptionCode:
			if code, err := strconv.Atoi(value); err == nil {
				a.ExpectedCode = &code
			}
		case KeyBefore:
			a.Before = true
		case KeyAfter:
			a.After = true
		case KeyBeforeClass:
			a.BeforeClass = true
		case KeyAfterClass:
			a.AfterClass = true
		}
	}
	return a
}

func stripCommentMarkers(line string) string {
	line = strings.TrimSpace(line)
	for _, prefix := range []string{"//", "/**", "/*", "*/", "*"} {
		if strings.HasPrefix(line, prefix) {
			line = strings.TrimSpace(strings.TrimPrefix(line, prefix))
			break
		}
	}
	return strings.TrimSpace(strings.TrimSuffix(line, "*/"))
}

// splitList splits a list value on whitespace, commas and semicolons.
func splitList(value string) []string {
	fields := strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\t'
	})
	var out []string
	for _, f := range fields {
		if name := trimName(f); name != "" {
			out = append(out, name)
		}
	}
	return out
}

// trimName removes punctuation commonly found around method references.
func trimName(s string) string {
	return strings.Trim(s, "()\"'`:.[]{}")
}
