package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"github.com/starford/sift/internal/models"
	"github.com/starford/sift/internal/reconcile"
)

const previewWidth = 60

func sentimentColor(s models.Sentiment) *color.Color {
	switch s {
	case models.SentimentPositive:
		return color.New(color.FgHiGreen)
	case models.SentimentNegative:
		return color.New(color.FgRed)
	case models.SentimentQuestion:
		return color.New(color.FgYellow)
	case models.SentimentNeutral:
		return color.New(color.FgWhite)
	default:
		return color.New(color.FgHiBlack)
	}
}

// printBoard writes each category in display order with its top records.
func printBoard(w io.Writer, b *models.Board, st reconcile.Stats, top int) {
	header := color.New(color.Bold)
	fmt.Fprintf(w, "%s %s records, %s batches\n",
		header.Sprint("Board:"), humanize.Comma(int64(st.Records)), humanize.Comma(int64(st.Batches)))

	for _, id := range b.Order {
		c := b.Categories[id]
		fmt.Fprintf(w, "\n%s %s\n",
			color.New(color.FgHiCyan, color.Bold).Sprint(c.Title),
			color.New(color.FgHiBlack).Sprintf("(%d)", len(c.Items)))
		for i, r := range c.Items {
			if top > 0 && i >= top {
				fmt.Fprintf(w, "  %s\n", color.New(color.FgHiBlack).Sprintf("… %d more", len(c.Items)-top))
				break
			}
			label := string(r.Sentiment)
			if label == "" {
				label = "-"
			}
			fmt.Fprintf(w, "  #%-4d %5s ♥  %s  %s\n",
				r.ID, humanize.Comma(int64(r.Likes)), sentimentColor(r.Sentiment).Sprintf("%-8s", label), preview(r.Text))
		}
	}
}

func preview(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= previewWidth {
		return text
	}
	return string(runes[:previewWidth-1]) + "…"
}
