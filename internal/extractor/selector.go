package extractor

import (
	"fmt"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// Validate compiles every selector and reports the first one that is not
// valid CSS.
func (s Selectors) Validate() error {
	_, err := s.compile()
	return err
}

type compiled struct {
	card, time, likes, text cascadia.Selector
}

func (s Selectors) compile() (compiled, error) {
	var c compiled
	fields := []struct {
		name string
		sel  string
		dst  *cascadia.Selector
	}{
		{"card_selector", s.Card, &c.card},
		{"time_selector", s.Time, &c.time},
		{"likes_selector", s.Likes, &c.likes},
		{"text_selector", s.Text, &c.text},
	}
	for _, f := range fields {
		sel, err := cascadia.Compile(f.sel)
		if err != nil {
			return compiled{}, fmt.Errorf("extractor: %s %q: %w", f.name, f.sel, err)
		}
		*f.dst = sel
	}
	return c, nil
}

// outermost returns the nodes under root matching sel in document order,
// skipping matches nested inside an earlier match.
func outermost(root *html.Node, sel cascadia.Selector) []*html.Node {
	matches := cascadia.QueryAll(root, sel)
	taken := make(map[*html.Node]struct{}, len(matches))
	out := matches[:0]
	for _, n := range matches {
		if insideAny(n, taken) {
			continue
		}
		taken[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

func insideAny(n *html.Node, set map[*html.Node]struct{}) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		if _, ok := set[p]; ok {
			return true
		}
	}
	return false
}
