package htmltext

import (
	"html"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
)

var (
	blankLines = regexp.MustCompile(`\n\s*\n`)
	spaceRun   = regexp.MustCompile(`[ \t\f\v]+`)
	manyBreaks = regexp.MustCompile(`\n{3,}`)
)

// FromPlain turns plain text into paragraph HTML. Blank lines separate
// paragraphs and single newlines become <br>.
func FromPlain(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.TrimSpace(fixControlCharacters(text))
	if text == "" {
		return ""
	}
	var b strings.Builder
	for _, para := range blankLines.Split(text, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		lines := strings.Split(para, "\n")
		for i, line := range lines {
			lines[i] = html.EscapeString(strings.TrimSpace(spaceRun.ReplaceAllString(line, " ")))
		}
		b.WriteString("<p>")
		b.WriteString(strings.Join(lines, "<br>"))
		b.WriteString("</p>")
	}
	return b.String()
}

// Sanitize drops elements the catalog does not render (scripts, media,
// forms) and returns the remaining body HTML.
func Sanitize(fragment string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return ""
	}
	body := doc.Find("body")
	body.Find("script, style, noscript, iframe, svg, img, video, audio, form, input, button").Each(func(_ int, s *goquery.Selection) { s.Remove() })
	out, err := body.Html()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(out)
}

// ToPlain extracts readable text from an HTML fragment, keeping paragraph
// and line breaks.
func ToPlain(fragment string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return ""
	}
	body := doc.Find("body")
	body.Find("br").Each(func(_ int, s *goquery.Selection) { s.ReplaceWithHtml("\n") })
	body.Find("p, li, div, h1, h2, h3, h4").Each(func(_ int, s *goquery.Selection) { s.AppendHtml("\n\n") })

	text := body.Text()
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(spaceRun.ReplaceAllString(l, " "))
	}
	text = strings.Join(lines, "\n")
	text = manyBreaks.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// Truncate shortens s to at most max runes, cutting at a word boundary and
// appending an ellipsis when anything was dropped.
func Truncate(s string, max int) string {
	r := []rune(s)
	if max <= 0 || len(r) <= max {
		return s
	}
	cut := string(r[:max-1])
	if i := strings.LastIndexAny(cut, " \n"); i > max/2 {
		cut = cut[:i]
	}
	return strings.TrimSpace(cut) + "…"
}

// ToMarkdown renders an HTML fragment as markdown for terminal previews.
func ToMarkdown(fragment string) string {
	conv := md.NewConverter("", true, nil)
	out, err := conv.ConvertString(fragment)
	if err != nil {
		return ToPlain(fragment)
	}
	out = manyBreaks.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}

// fixControlCharacters strips control and invisible characters that the
// metadata feed occasionally carries.
func fixControlCharacters(text string) string {
	controlChars := regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F]`)
	text = controlChars.ReplaceAllString(text, "")

	invisibleChars := []string{
		"\u200B", // zero-width space
		"\u200C", // zero-width non-joiner
		"\u200D", // zero-width joiner
		"\u2028", // line separator
		"\u2029", // paragraph separator
		"\uFEFF", // byte order mark
		"\uFFFD", // replacement character
	}
	for _, char := range invisibleChars {
		text = strings.ReplaceAll(text, char, "")
	}
	return text
}
