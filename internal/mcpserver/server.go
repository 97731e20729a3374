// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the Sift board to LLM agents over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/sift/internal/models"
	"github.com/starford/sift/internal/reconcile"
	"github.com/starford/sift/internal/scrape"
)

// Board is the engine surface the tools drive.
type Board interface {
	Board() *models.Board
	Categories() []string
	ApplyClassification(ctx context.Context, results map[int]models.Classification) (reconcile.ClassifyResult, error)
	MoveRecord(ctx context.Context, recordID int, dstCat string) (bool, error)
}

// Scraper fetches and extracts a page.
type Scraper interface {
	Scrape(ctx context.Context, url string) (*scrape.Result, error)
	ScrapeAndIngest(ctx context.Context, url string) (*scrape.Result, error)
}

// Server wraps the MCP server with Sift tools.
type Server struct {
	mcp     *server.MCPServer
	board   Board
	scraper Scraper
	logger  *slog.Logger
}

// New creates an MCP server with all tools registered. scraper may be nil,
// in which case scrape_url reports an error.
func New(board Board, scraper Scraper, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{board: board, scraper: scraper, logger: logger}

	s.mcp = server.NewMCPServer(
		"Sift",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("scrape_url",
		mcp.WithDescription("Render a discussion page in a headless browser and extract its messages, "+
			"ranked by likes. Set ingest to merge them into the board."),
		mcp.WithString("url", mcp.Required(), mcp.Description("Absolute http(s) URL of the page")),
		mcp.WithBoolean("ingest", mcp.Description("Merge extracted messages into the board (default false)")),
	), s.scrapeURL)

	s.mcp.AddTool(mcp.NewTool("get_board",
		mcp.WithDescription("Return the whole board: categories with their records and the display order."),
	), s.getBoard)

	s.mcp.AddTool(mcp.NewTool("list_unclassified",
		mcp.WithDescription("List records still in the uncategorized column as {id, text, likes}."),
	), s.listUnclassified)

	s.mcp.AddTool(mcp.NewTool("apply_classification",
		mcp.WithDescription("Apply a classification mapping to the board. Read "+ContractURI+
			" or call get_classification_contract first. Records not in the mapping return to uncategorized."),
		mcp.WithString("mapping", mcp.Required(), mcp.Description(`JSON object: {"<id>": {"category": "...", "sentiment": "..."}}`)),
	), s.applyClassification)

	s.mcp.AddTool(mcp.NewTool("move_record",
		mcp.WithDescription("Move one record to another category."),
		mcp.WithNumber("record_id", mcp.Required(), mcp.Description("Record id")),
		mcp.WithString("category", mcp.Required(), mcp.Description("Destination category id")),
	), s.moveRecord)

	s.mcp.AddTool(mcp.NewTool("get_classification_contract",
		mcp.WithDescription("Returns the classification reply contract with the current category ids."),
	), s.getContract)

	s.mcp.AddResource(
		mcp.NewResource(ContractURI, "Classification Contract",
			mcp.WithResourceDescription("Shape and vocabulary accepted by apply_classification."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readContractResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) scrapeURL(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.scraper == nil {
		return mcp.NewToolResultError("scraping is not configured"), nil
	}
	url, err := req.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	run := s.scraper.Scrape
	if req.GetBool("ingest", false) {
		run = s.scraper.ScrapeAndIngest
	}
	res, err := run(ctx, url)
	if err != nil {
		s.logger.Warn("mcp: scrape failed", slog.String("url", url), slog.String("error", err.Error()))
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res)
}

func (s *Server) getBoard(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.board.Board())
}

type unclassified struct {
	ID    int    `json:"id"`
	Text  string `json:"text"`
	Likes int    `json:"likes"`
}

func (s *Server) listUnclassified(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	b := s.board.Board()
	items := b.Categories[models.UncategorizedID].Items
	out := make([]unclassified, len(items))
	for i, r := range items {
		out[i] = unclassified{ID: r.ID, Text: r.Text, Likes: r.Likes}
	}
	return jsonResult(out)
}

func (s *Server) applyClassification(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	mapping, err := req.RequireString("mapping")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := reconcile.ParseClassification([]byte(mapping))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.board.ApplyClassification(ctx, results)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res)
}

func (s *Server) moveRecord(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireInt("record_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	category, err := req.RequireString("category")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	changed, err := s.board.MoveRecord(ctx, id, category)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !changed {
		return mcp.NewToolResultText(fmt.Sprintf("record %d not moved (unknown record or category, or already there)", id)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("moved record %d to %s", id, category)), nil
}

func (s *Server) getContract(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(ClassificationContract(s.board.Categories())), nil
}

func (s *Server) readContractResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      ContractURI,
			MIMEType: "text/markdown",
			Text:     ClassificationContract(s.board.Categories()),
		},
	}, nil
}
