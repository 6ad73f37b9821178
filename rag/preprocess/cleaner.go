package preprocess

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
)

var (
	reSpaces     = regexp.MustCompile(`[ \t]+`)
	reNewlines   = regexp.MustCompile(`\n{3,}`)
	reHyphenWrap = regexp.MustCompile(`(\p{L})-\n(\p{L})`)
	reHTMLTag    = regexp.MustCompile(`(?i)<\s*(p|div|span|br|li|h[1-6]|a|table)\b`)

	ligatures = strings.NewReplacer(
		"ﬁ", "fi", "ﬂ", "fl", "ﬀ", "ff",
		"—", "-", "–", "-",
		"·", ".", "•", "-",
		" ", " ",
	)
)

// CleanBasic strips control characters, repairs common PDF extraction
// artifacts (ligatures, hyphenated line wraps) and collapses whitespace.
func CleanBasic(text string) string {
	if text == "" {
		return ""
	}

	b := strings.Map(func(r rune) rune {
		switch {
		case r == '\n':
			return r
		case r == '\t':
			return ' '
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, strings.ReplaceAll(text, "\r\n", "\n"))

	b = ligatures.Replace(b)
	b = reHyphenWrap.ReplaceAllString(b, "$1$2")
	b = reSpaces.ReplaceAllString(b, " ")
	b = reNewlines.ReplaceAllString(b, "\n\n")

	return strings.TrimSpace(b)
}

// HTMLToText keeps headings, paragraphs, list items and tables of an HTML page.
func HTMLToText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}
	doc.Find("script,style,nav,footer,header,aside").Remove()

	var out []string
	doc.Find("h1,h2,h3,h4,p,li,table").Each(func(i int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if text == "" {
			return
		}
		switch goquery.NodeName(s) {
		case "h1", "h2", "h3", "h4":
			out = append(out, "# "+text)
		case "li":
			out = append(out, "- "+text)
		case "table":
			out = append(out, parseTable(s))
		default:
			out = append(out, text)
		}
	})
	if len(out) == 0 {
		return CleanBasic(doc.Text()), nil
	}
	return strings.Join(out, "\n\n"), nil
}

func parseTable(sel *goquery.Selection) string {
	var rows []string
	sel.Find("tr").Each(func(i int, tr *goquery.Selection) {
		var cols []string
		tr.Find("th,td").Each(func(j int, td *goquery.Selection) {
			cols = append(cols, strings.TrimSpace(td.Text()))
		})
		if len(cols) > 0 {
			rows = append(rows, "| "+strings.Join(cols, " | ")+" |")
		}
	})
	return strings.Join(rows, "\n")
}

// RemoveDuplicateParagraphs dedupes by exact paragraph text, keeping order.
func RemoveDuplicateParagraphs(text string) string {
	parts := strings.Split(text, "\n\n")
	seen := map[string]struct{}{}
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return strings.Join(out, "\n\n")
}

var webNoise = []string{
	"cookie", "privacy policy", "subscribe to our newsletter",
	"advertisement", "all rights reserved", "sign up for",
}

// RemoveWebNoise drops boilerplate lines commonly scraped from web pages.
func RemoveWebNoise(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		lower := strings.ToLower(l)
		skip := false
		for _, p := range webNoise {
			if strings.Contains(lower, p) {
				skip = true
				break
			}
		}
		if !skip {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

// CleanSnippet normalises a web search snippet: HTML is reduced to text,
// boilerplate dropped and the result cut to at most maxRunes runes on a word boundary.
func CleanSnippet(raw string, maxRunes int) string {
	text := raw
	if reHTMLTag.MatchString(raw) {
		if t, err := HTMLToText(raw); err == nil {
			text = t
		}
	}
	text = CleanBasic(RemoveWebNoise(text))
	if maxRunes <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= maxRunes {
		return text
	}
	cut := string(runes[:maxRunes])
	if i := strings.LastIndexAny(cut, " \n"); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimSpace(cut) + "..."
}

// Preprocess is the page pipeline used before chunking.
func Preprocess(raw string) string {
	return RemoveDuplicateParagraphs(CleanBasic(raw))
}
