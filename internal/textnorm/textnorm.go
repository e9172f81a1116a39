// Package textnorm cleans raw text fetched from feeds and thread endpoints.
//
// Normalize removes HTML markup, inline markdown formatting, entities, bare URLs and
// reddit feed boilerplate, then collapses whitespace. It has no side effects and
// normalizing already-normalized text returns it unchanged.
package textnorm

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/text/unicode/norm"
)

var (
	markdownLink   = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	bareURL        = regexp.MustCompile(`(?i)\b(?:https?://|www\.)\S+`)
	boldItalic     = regexp.MustCompile(`(\*{1,3}|_{2,3})([^*_\n]+?)(\*{1,3}|_{2,3})`)
	strike         = regexp.MustCompile(`~~([^~]+)~~`)
	superParen     = regexp.MustCompile(`\^+\(([^)]*)\)`)
	superWord      = regexp.MustCompile(`(^|\s)\^+`)
	submittedBy    = regexp.MustCompile(`(?i)submitted\s+by\s+/?u/\S+(\s*\[link\])?(\s*\[comments\])?`)
	bracketTags    = regexp.MustCompile(`(?i)\[(link|comments)\]`)
	headingMarkers = regexp.MustCompile(`(?m)^\s*#{1,6}\s+`)
	quoteMarkers   = regexp.MustCompile(`(?m)^\s*(?:(?:&gt;|>)\s?)+`)
)

// maxPasses bounds the cleaning loop for pathologically nested input
const maxPasses = 64

// blockTags break text when stripped so words from adjacent blocks don't merge
var blockTags = map[string]bool{
	"br": true, "p": true, "div": true, "li": true, "tr": true, "td": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"blockquote": true, "pre": true, "table": true, "ul": true, "ol": true,
}

// skipTags have content that is never user-visible text
var skipTags = map[string]bool{"script": true, "style": true}

// Normalize returns s with markup, formatting markers, entities and URLs removed and whitespace collapsed.
// Cleaning repeats until the text stops changing, so nested markers are fully removed.
func Normalize(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}

	s = strings.ToValidUTF8(s, "")
	for i := 0; i < maxPasses; i++ {
		next := clean(s)
		if next == s {
			break
		}
		s = next
	}
	return s
}

// clean runs one pass of every rule
func clean(s string) string {
	s = norm.NFC.String(s)
	s = unescape(s)
	s = stripTags(s)
	s = submittedBy.ReplaceAllString(s, " ")
	s = bracketTags.ReplaceAllString(s, " ")
	s = markdownLink.ReplaceAllString(s, "$1")
	s = bareURL.ReplaceAllString(s, " ")
	s = headingMarkers.ReplaceAllString(s, "")
	s = quoteMarkers.ReplaceAllString(s, "")
	s = boldItalic.ReplaceAllString(s, "$2")
	s = strike.ReplaceAllString(s, "$1")
	s = superParen.ReplaceAllString(s, "$1")
	s = superWord.ReplaceAllString(s, "$1")
	return strings.Join(strings.Fields(s), " ")
}

// unescape decodes entities until none are left; feeds often escape twice or more (&amp;lt;p&amp;gt;)
func unescape(s string) string {
	for {
		un := html.UnescapeString(s)
		if un == s {
			return s
		}
		s = un
	}
}

// stripTags walks the HTML token stream and keeps text nodes only
func stripTags(s string) string {
	if !strings.ContainsAny(s, "<>") {
		return s
	}

	var sb strings.Builder
	z := html.NewTokenizer(strings.NewReader(s))
	skipDepth := 0

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return sb.String()
		case html.TextToken:
			if skipDepth == 0 {
				sb.Write(z.Text())
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if skipTags[tag] && tt == html.StartTagToken {
				skipDepth++
			}
			if blockTags[tag] {
				sb.WriteByte(' ')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if skipTags[tag] && skipDepth > 0 {
				skipDepth--
			}
			if blockTags[tag] {
				sb.WriteByte(' ')
			}
		}
	}
}
