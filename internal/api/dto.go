package api

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/sift/internal/models"
	"github.com/starford/sift/internal/reconcile"
	"github.com/starford/sift/internal/scrape"
)

// ScrapeRequest is the body of POST /api/scrape.
type ScrapeRequest struct {
	URL    string `json:"url" example:"https://forum.example.com/thread/42"`
	Ingest bool   `json:"ingest"`
}

// Validate implements validation.Validatable.
func (r ScrapeRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.URL, validation.By(func(any) error { return scrape.ValidateURL(r.URL) })),
	)
}

// IngestRequest is the body of POST /api/board/ingest. Messages lets the
// output of POST /api/scrape be posted back unchanged.
type IngestRequest struct {
	Source   string          `json:"source"`
	HTMLSum  string          `json:"htmlSha256"`
	Records  []models.Record `json:"records"`
	Messages []models.Record `json:"messages"`
}

// Validate implements validation.Validatable.
func (r IngestRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Source, validation.Length(0, 2048)),
		validation.Field(&r.Records, validation.When(r.Messages == nil, validation.NotNil.Error("records or messages is required"))),
	)
}

func (r IngestRequest) records() []models.Record {
	if r.Records != nil {
		return r.Records
	}
	return r.Messages
}

// MoveRequest is the body of POST /api/board/move.
type MoveRequest struct {
	SourceCategory string `json:"sourceCategory" example:"uncategorized"`
	SourceIndex    int    `json:"sourceIndex" example:"0"`
	DestCategory   string `json:"destCategory" example:"ai"`
	DestIndex      int    `json:"destIndex" example:"0"`
}

// Validate implements validation.Validatable.
func (r MoveRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.SourceCategory, validation.Required),
		validation.Field(&r.DestCategory, validation.Required),
	)
}

// MoveResponse reports whether the board changed.
type MoveResponse struct {
	Changed bool          `json:"changed"`
	Board   *models.Board `json:"board"`
}

// ResetRequest guards the destructive reset.
type ResetRequest struct {
	Confirm bool `json:"confirm"`
}

// Validate implements validation.Validatable.
func (r ResetRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Confirm, validation.Required.Error("must be true")),
	)
}

// RawLogResponse wraps the ingestion ledger.
type RawLogResponse struct {
	Batches models.RawLog `json:"batches"`
	Total   int           `json:"total"`
}

// ExportResponse is the read-only snapshot served by GET /api/export.
type ExportResponse struct {
	Board      *models.Board   `json:"board"`
	RawLog     models.RawLog   `json:"rawLog"`
	Stats      reconcile.Stats `json:"stats"`
	ExportedAt time.Time       `json:"exportedAt"`
}
