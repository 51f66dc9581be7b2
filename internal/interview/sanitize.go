package interview

import (
	"strings"

	"golang.org/x/net/html"
)

// SanitizeAnswer strips HTML markup from a submitted answer, returning plain
// text. Answers arrive from web clients and occasionally carry pasted markup;
// tags must not inflate the depth score or leak into prompts.
func SanitizeAnswer(raw string) string {
	if !strings.ContainsAny(raw, "<>") {
		return strings.TrimSpace(raw)
	}

	tok := html.NewTokenizer(strings.NewReader(raw))
	var sb strings.Builder
	for {
		tt := tok.Next()
		switch tt {
		case html.ErrorToken:
			return collapseWhitespace(sb.String())
		case html.TextToken:
			sb.WriteString(string(tok.Text()))
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			// Block-level boundaries become whitespace so words don't fuse.
			sb.WriteByte(' ')
		}
	}
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
