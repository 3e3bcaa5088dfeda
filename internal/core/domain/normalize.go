package domain

import (
	"regexp"
	"strings"
)

var (
	blockCommentRe = regexp.MustCompile(`(?s)/\*.*?\*/`)
	lineCommentRe  = regexp.MustCompile(`(?:--|#)[^\r\n]*`)
	whitespaceRe   = regexp.MustCompile(`\s+`)
)

// Normalize strips block and line comments and collapses whitespace so every
// validation rule sees the text the database would execute.
//
// Comments are replaced by a single space rather than removed outright: a
// comment wedged between two tokens (UNION/**/SELECT) must still separate them.
func Normalize(raw string) string {
	s := blockCommentRe.ReplaceAllString(raw, " ")
	s = lineCommentRe.ReplaceAllString(s, " ")
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
