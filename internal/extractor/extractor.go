// Package extractor turns rendered discussion HTML into ranked message records.
package extractor

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/starford/sift/internal/models"
)

var digitsRe = regexp.MustCompile(`\d+`)

// Selectors names the structural markers of a message card.
type Selectors struct {
	Card  string `yaml:"card_selector"`
	Time  string `yaml:"time_selector"`
	Likes string `yaml:"likes_selector"`
	Text  string `yaml:"text_selector"`
}

// DefaultSelectors matches the markup of the discussion pages Sift scrapes.
func DefaultSelectors() Selectors {
	return Selectors{
		Card:  ".message-card",
		Time:  ".sent-time",
		Likes: ".likes",
		Text:  ".message-text",
	}
}

// Extractor parses message cards out of HTML.
type Extractor struct {
	sel compiled
}

// New builds an Extractor for the given CSS selectors. Any selector
// cascadia accepts may be used, combinators included.
func New(sel Selectors) (*Extractor, error) {
	c, err := sel.compile()
	if err != nil {
		return nil, err
	}
	return &Extractor{sel: c}, nil
}

// Default returns an Extractor for DefaultSelectors.
func Default() *Extractor {
	e, err := New(DefaultSelectors())
	if err != nil {
		panic(err)
	}
	return e
}

// Extract returns the records found in doc, ordered by likes descending and
// numbered by rank starting at 1. Unparseable input yields no records.
func (e *Extractor) Extract(doc string) []models.Record {
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return []models.Record{}
	}

	out := []models.Record{}
	for _, card := range outermost(root, e.sel.card) {
		ts := textOf(cascadia.Query(card, e.sel.time))
		body := textOf(cascadia.Query(card, e.sel.text))
		if ts == "" && body == "" {
			continue
		}
		out = append(out, models.Record{
			Timestamp: ts,
			Text:      body,
			Likes:     ParseLikes(textOf(cascadia.Query(card, e.sel.likes))),
		})
	}

	models.SortByLikes(out)
	for i := range out {
		out[i].ID = i + 1
	}
	return out
}

// ParseLikes reads the first run of digits in s. No digits, or a value too
// large to represent, yields 0.
func ParseLikes(s string) int {
	m := digitsRe.FindString(s)
	if m == "" {
		return 0
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0
	}
	return n
}

// textOf returns the whitespace-collapsed text content of n.
func textOf(n *html.Node) string {
	if n == nil {
		return ""
	}
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		case html.ElementNode:
			if n.Data == "script" || n.Data == "style" {
				return
			}
			if n.Data == "br" {
				sb.WriteByte(' ')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}
