package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/sift/internal/apperr"
	"github.com/starford/sift/internal/classifier"
	"github.com/starford/sift/internal/models"
	"github.com/starford/sift/internal/reconcile"
	"github.com/starford/sift/internal/scrape"
)

// BoardService is the engine surface the handlers drive.
type BoardService interface {
	classifier.Board
	Board() *models.Board
	RawLog() models.RawLog
	Stats() reconcile.Stats
	Ingest(ctx context.Context, source, htmlSum string, records []models.Record) (reconcile.IngestResult, error)
	Move(ctx context.Context, srcCat string, srcIdx int, dstCat string, dstIdx int) (bool, error)
	Reset(ctx context.Context) error
}

// Scraper fetches and extracts a page.
type Scraper interface {
	Scrape(ctx context.Context, url string) (*scrape.Result, error)
	ScrapeAndIngest(ctx context.Context, url string) (*scrape.Result, error)
}

// Handler holds API route handlers.
type Handler struct {
	board      BoardService
	scraper    Scraper
	classifier classifier.Classifier
	logger     *slog.Logger
	now        func() time.Time
}

// NewHandler creates a Handler. scraper and cls may be nil; the matching
// routes then answer 503.
func NewHandler(board BoardService, scraper Scraper, cls classifier.Classifier, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{board: board, scraper: scraper, classifier: cls, logger: logger, now: time.Now}
}

func invalid(err error) error {
	return fmt.Errorf("%w: %v", apperr.ErrInvalidRequest, err)
}

// GetBoard handles GET /api/board.
//
//	@Summary		Current board
//	@Tags			board
//	@Produce		json
//	@Success		200	{object}	models.Board
//	@Security		BearerAuth
//	@Router			/board [get]
func (h *Handler) GetBoard(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.board.Board())
}

// GetStats handles GET /api/board/stats.
func (h *Handler) GetStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.board.Stats())
}

// GetRawLog handles GET /api/rawlog.
func (h *Handler) GetRawLog(w http.ResponseWriter, _ *http.Request) {
	raw := h.board.RawLog()
	writeJSON(w, http.StatusOK, RawLogResponse{Batches: raw, Total: len(raw)})
}

// Export handles GET /api/export.
//
//	@Summary		Read-only snapshot of board and raw log
//	@Tags			board
//	@Produce		json
//	@Success		200	{object}	ExportResponse
//	@Security		BearerAuth
//	@Router			/export [get]
func (h *Handler) Export(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Disposition", `attachment; filename="sift-export.json"`)
	writeJSON(w, http.StatusOK, ExportResponse{
		Board:      h.board.Board(),
		RawLog:     h.board.RawLog(),
		Stats:      h.board.Stats(),
		ExportedAt: h.now().UTC(),
	})
}

// Ingest handles POST /api/board/ingest.
//
//	@Summary		Merge records into the board
//	@Tags			board
//	@Accept			json
//	@Produce		json
//	@Param			body	body		IngestRequest	true	"Records to merge"
//	@Success		200		{object}	reconcile.IngestResult
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/board/ingest [post]
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, "ingest", err)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, h.logger, "ingest", invalid(err))
		return
	}
	source := req.Source
	if source == "" {
		source = "api"
	}
	res, err := h.board.Ingest(r.Context(), source, req.HTMLSum, req.records())
	if err != nil {
		writeError(w, h.logger, "ingest", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Move handles POST /api/board/move.
func (h *Handler) Move(w http.ResponseWriter, r *http.Request) {
	var req MoveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, "move", err)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, h.logger, "move", invalid(err))
		return
	}
	changed, err := h.board.Move(r.Context(), req.SourceCategory, req.SourceIndex, req.DestCategory, req.DestIndex)
	if err != nil {
		writeError(w, h.logger, "move", err)
		return
	}
	writeJSON(w, http.StatusOK, MoveResponse{Changed: changed, Board: h.board.Board()})
}

// ApplyClassification handles POST /api/board/classification. The body is
// the raw id → {category, sentiment} mapping.
func (h *Handler) ApplyClassification(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, h.logger, "classification", invalid(err))
		return
	}
	results, err := reconcile.ParseClassification(body)
	if err != nil {
		writeError(w, h.logger, "classification", err)
		return
	}
	res, err := h.board.ApplyClassification(r.Context(), results)
	if err != nil {
		writeError(w, h.logger, "classification", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Classify handles POST /api/board/classify by running the configured classifier.
func (h *Handler) Classify(w http.ResponseWriter, r *http.Request) {
	if h.classifier == nil {
		writeError(w, h.logger, "classify", apperr.ErrClassifierDisabled)
		return
	}
	res, err := classifier.ClassifyBoard(r.Context(), h.classifier, h.board)
	if errors.Is(err, apperr.ErrInvalidClassification) {
		h.logger.Error("classify failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadGateway, errorBody(err.Error()))
		return
	}
	if err != nil {
		writeError(w, h.logger, "classify", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Reset handles POST /api/board/reset.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	var req ResetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, "reset", err)
		return
	}
	if err := validation.Validate(req); err != nil {
		writeError(w, h.logger, "reset", invalid(err))
		return
	}
	if err := h.board.Reset(r.Context()); err != nil {
		writeError(w, h.logger, "reset", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// Scrape handles POST /api/scrape.
//
//	@Summary		Fetch a page and extract its messages
//	@Tags			scrape
//	@Accept			json
//	@Produce		json
//	@Param			body	body		ScrapeRequest	true	"Page to scrape"
//	@Success		200		{object}	scrape.Result
//	@Failure		400		{object}	errResponse
//	@Failure		429		{object}	errResponse
//	@Failure		502		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/scrape [post]
func (h *Handler) Scrape(w http.ResponseWriter, r *http.Request) {
	if h.scraper == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("scraping disabled"))
		return
	}
	var req ScrapeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, "scrape", err)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, h.logger, "scrape", invalid(err))
		return
	}
	run := h.scraper.Scrape
	if req.Ingest {
		run = h.scraper.ScrapeAndIngest
	}
	res, err := run(r.Context(), req.URL)
	if err != nil {
		writeError(w, h.logger, "scrape", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
