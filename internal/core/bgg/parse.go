package bgg

import (
	"bytes"
	"fmt"
	"html"
	"strconv"
	"strings"

	"github.com/antchfx/xmlquery"

	"bggsync/internal/syncerr"
	"bggsync/internal/utils/htmltext"
)

func parseSearch(body []byte) ([]Candidate, error) {
	doc, err := xmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, syncerr.Wrap(syncerr.ErrUpstream, "bgg", "parse search response", err)
	}
	if msg := errorMessage(doc); msg != "" {
		return nil, syncerr.Wrap(syncerr.ErrUpstream, "bgg", msg, nil)
	}
	seen := make(map[int]struct{})
	var out []Candidate
	for _, item := range xmlquery.Find(doc, "//items/item") {
		id, err := strconv.Atoi(strings.TrimSpace(item.SelectAttr("id")))
		if err != nil || id <= 0 {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, Candidate{
			ExternalID:    id,
			Name:          primaryName(item),
			YearPublished: yearPublished(item),
		})
	}
	return out, nil
}

func parseThing(body []byte) (*Detail, error) {
	doc, err := xmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, syncerr.Wrap(syncerr.ErrUpstream, "bgg", "parse thing response", err)
	}
	if msg := errorMessage(doc); msg != "" {
		return nil, syncerr.Wrap(syncerr.ErrUpstream, "bgg", msg, nil)
	}
	item := xmlquery.FindOne(doc, "//items/item")
	if item == nil {
		return nil, nil
	}
	id, err := strconv.Atoi(strings.TrimSpace(item.SelectAttr("id")))
	if err != nil {
		return nil, syncerr.Wrap(syncerr.ErrUpstream, "bgg", fmt.Sprintf("bad item id %q", item.SelectAttr("id")), err)
	}
	d := &Detail{
		ExternalID:      id,
		Name:            primaryName(item),
		YearPublished:   yearPublished(item),
		ImageURL:        childText(item, "image"),
		DescriptionHTML: htmltext.FromPlain(html.UnescapeString(childText(item, "description"))),
	}
	for _, link := range xmlquery.Find(item, "link[@type='boardgamepublisher']") {
		if v := strings.TrimSpace(link.SelectAttr("value")); v != "" {
			d.Publishers = append(d.Publishers, v)
		}
	}
	return d, nil
}

// primaryName prefers the name element typed "primary" and falls back to
// the first name of any type.
func primaryName(item *xmlquery.Node) string {
	n := xmlquery.FindOne(item, "name[@type='primary']")
	if n == nil {
		n = xmlquery.FindOne(item, "name")
	}
	if n == nil {
		return ""
	}
	if v := n.SelectAttr("value"); v != "" {
		return strings.TrimSpace(v)
	}
	return strings.TrimSpace(n.InnerText())
}

func yearPublished(item *xmlquery.Node) *int {
	n := xmlquery.FindOne(item, "yearpublished")
	if n == nil {
		return nil
	}
	y, err := strconv.Atoi(strings.TrimSpace(n.SelectAttr("value")))
	if err != nil || y == 0 {
		return nil
	}
	return &y
}

func childText(item *xmlquery.Node, name string) string {
	n := xmlquery.FindOne(item, name)
	if n == nil {
		return ""
	}
	return strings.TrimSpace(n.InnerText())
}

func errorMessage(doc *xmlquery.Node) string {
	n := xmlquery.FindOne(doc, "//error/message")
	if n == nil {
		n = xmlquery.FindOne(doc, "/error")
	}
	if n == nil {
		return ""
	}
	if msg := strings.TrimSpace(n.InnerText()); msg != "" {
		return msg
	}
	return "bgg returned an error document"
}
