// Package models defines the domain types for Sift.
package models

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Sentiment is the tone assigned to a record by classification.
// The zero value means no sentiment has been assigned yet.
type Sentiment string

// Sentiment vocabulary.
const (
	SentimentAbsent   Sentiment = ""
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentQuestion Sentiment = "question"
	SentimentNeutral  Sentiment = "neutral"
)

// Sentiments lists the assignable sentiment values.
var Sentiments = []Sentiment{SentimentPositive, SentimentNegative, SentimentQuestion, SentimentNeutral}

// ParseSentiment normalizes s and reports whether it belongs to the vocabulary.
func ParseSentiment(s string) (Sentiment, bool) {
	v := Sentiment(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Sentiments {
		if v == known {
			return v, true
		}
	}
	return SentimentAbsent, false
}

// Record is one normalized message extracted from a discussion page.
type Record struct {
	ID        int       `json:"id"`
	Timestamp string    `json:"timestamp"`
	Text      string    `json:"text"`
	Likes     int       `json:"likes"`
	Sentiment Sentiment `json:"sentiment,omitempty"`
}

// UnmarshalJSON decodes a record, normalizing a missing, null, negative or
// non-numeric likes value to 0 instead of failing.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID        json.RawMessage `json:"id"`
		Timestamp string          `json:"timestamp"`
		Text      string          `json:"text"`
		Likes     json.RawMessage `json:"likes"`
		Sentiment Sentiment       `json:"sentiment"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	id, _ := numericValue(raw.ID)
	likes, _ := numericValue(raw.Likes)
	*r = Record{
		ID:        id,
		Timestamp: raw.Timestamp,
		Text:      raw.Text,
		Likes:     NormalizeLikes(likes),
		Sentiment: raw.Sentiment,
	}
	return nil
}

// NormalizeLikes clamps a like count to the non-negative range.
func NormalizeLikes(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

// numericValue reads a JSON number or numeric string. Anything else yields 0.
func numericValue(raw json.RawMessage) (int, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		if math.IsNaN(f) || f > math.MaxInt32 || f < math.MinInt32 {
			return 0, false
		}
		return int(f), true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return n, true
		}
	}
	return 0, false
}

var clockRe = regexp.MustCompile(`\b(\d{1,2}:\d{2})\b`)

// ClockTime returns the HH:MM part of a timestamp such as "12 March 2025 14:05",
// or the timestamp unchanged when it carries no clock time.
func ClockTime(ts string) string {
	if m := clockRe.FindStringSubmatch(ts); m != nil {
		return m[1]
	}
	return ts
}

// RawBatch is one entry of the ingestion ledger.
type RawBatch struct {
	ID         string    `json:"id"`
	IngestedAt time.Time `json:"ingested_at"`
	Source     string    `json:"source,omitempty"`
	HTMLSum    string    `json:"html_sha256,omitempty"`
	Records    []Record  `json:"records"`
}

// RawLog is the append-only sequence of every ingested batch.
type RawLog []RawBatch

// Records flattens the log into ingestion order.
func (l RawLog) Records() []Record {
	var out []Record
	for _, b := range l {
		out = append(out, b.Records...)
	}
	return out
}

// Clone returns a deep copy of the log.
func (l RawLog) Clone() RawLog {
	if l == nil {
		return nil
	}
	out := make(RawLog, len(l))
	for i, b := range l {
		b.Records = append([]Record(nil), b.Records...)
		out[i] = b
	}
	return out
}
