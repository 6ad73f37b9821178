// Package mcp exposes the assistant core as MCP tools: process_turn for
// conversation turns and build_index for offline indexing.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sweetpotato0/carebridge/pkg/logging"
	"github.com/sweetpotato0/carebridge/rag/indexer"
	"github.com/sweetpotato0/carebridge/router"
)

// TurnProcessor runs conversation turns.
type TurnProcessor interface {
	ProcessTurn(ctx context.Context, sessionID, userID, message string) (router.Result, error)
}

// IndexBuilder builds the reference index from a file or directory.
type IndexBuilder interface {
	Build(ctx context.Context, path string) (indexer.Report, error)
}

// ServerInfo describes the server to MCP clients.
type ServerInfo struct {
	Name    string
	Title   string
	Version string
}

type TurnArgs struct {
	SessionID string `json:"session_id" jsonschema:"Conversation identifier chosen by the caller"`
	UserID    string `json:"user_id" jsonschema:"Identifier of the user owning the session"`
	Message   string `json:"message" jsonschema:"The user's message"`
}

type TurnOutput struct {
	ResponseText    string   `json:"response_text"`
	Sources         []string `json:"sources"`
	AgentName       string   `json:"agent_name"`
	Handoffs        []string `json:"handoffs"`
	UsedWebFallback bool     `json:"used_web_fallback"`
}

type IndexArgs struct {
	DocumentPath string `json:"document_path" jsonschema:"Reference document or directory of documents to index"`
}

type IndexOutput struct {
	ChunksIndexed int `json:"chunks_indexed"`
	Documents     int `json:"documents"`
	Pages         int `json:"pages"`
}

// NewServer builds an MCP server. builder may be nil, in which case
// build_index is not offered.
func NewServer(info ServerInfo, turns TurnProcessor, builder IndexBuilder, logger *slog.Logger) *sdkmcp.Server {
	if logger == nil {
		logger = logging.WithComponent("mcp")
	}
	server := sdkmcp.NewServer(&sdkmcp.Implementation{
		Name:    info.Name,
		Title:   info.Title,
		Version: info.Version,
	}, nil)

	addTurnTool(server, turns, logger)
	if builder != nil {
		addIndexTool(server, builder, logger)
	}
	return server
}

func addTurnTool(server *sdkmcp.Server, turns TurnProcessor, logger *slog.Logger) {
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "process_turn",
		Description: "Send one patient message to the post-discharge assistant and get its reply with sources",
	}, func(ctx context.Context, req *sdkmcp.CallToolRequest, a TurnArgs) (*sdkmcp.CallToolResult, TurnOutput, error) {
		res, err := turns.ProcessTurn(ctx, strings.TrimSpace(a.SessionID), strings.TrimSpace(a.UserID), a.Message)
		if err != nil {
			logger.Warn("process_turn failed", "session_id", a.SessionID, "error", err)
			// Clients only see the user-facing message.
			return nil, TurnOutput{}, errors.New(router.Message(err))
		}

		out := TurnOutput{
			ResponseText:    res.Response,
			Sources:         res.Sources,
			AgentName:       string(res.Agent),
			Handoffs:        res.Handoffs,
			UsedWebFallback: res.UsedWebFallback,
		}
		return &sdkmcp.CallToolResult{
			Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: res.Response}},
		}, out, nil
	})
}

func addIndexTool(server *sdkmcp.Server, builder IndexBuilder, logger *slog.Logger) {
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "build_index",
		Description: "Index a reference document (PDF, text, markdown or HTML) or a directory of them",
	}, func(ctx context.Context, req *sdkmcp.CallToolRequest, a IndexArgs) (*sdkmcp.CallToolResult, IndexOutput, error) {
		path := strings.TrimSpace(a.DocumentPath)
		if path == "" {
			return nil, IndexOutput{}, fmt.Errorf("document_path is required")
		}
		report, err := builder.Build(ctx, path)
		if err != nil {
			return nil, IndexOutput{}, fmt.Errorf("build index: %w", err)
		}
		logger.Info("index built via mcp", "path", path, "chunks", report.ChunksIndexed)

		return &sdkmcp.CallToolResult{
			Content: []sdkmcp.Content{&sdkmcp.TextContent{
				Text: fmt.Sprintf("Indexed %d chunks from %d documents (%d pages).", report.ChunksIndexed, report.Documents, report.Pages),
			}},
		}, IndexOutput{ChunksIndexed: report.ChunksIndexed, Documents: report.Documents, Pages: report.Pages}, nil
	})
}

// ServeStdio runs the server over stdin/stdout until ctx is done or the client disconnects.
func ServeStdio(ctx context.Context, server *sdkmcp.Server) error {
	return server.Run(ctx, &sdkmcp.StdioTransport{})
}
