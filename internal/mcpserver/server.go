// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes sensor tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/sensorhub/internal/models"
	"github.com/starford/sensorhub/internal/parser"
	"github.com/starford/sensorhub/internal/sensorservice"
	"github.com/starford/sensorhub/internal/storage"
)

const aboutFormatURI = "sensorhub://about-format"

// Server wraps the MCP server with sensor tools.
type Server struct {
	mcp     *server.MCPServer
	svc     *sensorservice.Service
	files   storage.Provider
	fetcher *imageFetcher
}

// New creates a new MCP server with all sensor tools registered.
func New(svc *sensorservice.Service, files storage.Provider) *Server {
	s := &Server{svc: svc, files: files, fetcher: newImageFetcher()}

	s.mcp = server.NewMCPServer(
		"sensorhub",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_sensors",
		mcp.WithDescription("List every sensor with its rate-limit state and buffered record count."),
	), s.listSensors)

	s.mcp.AddTool(mcp.NewTool("get_records",
		mcp.WithDescription("Return a sensor's records. Fetches fresh data when the rate limit allows, "+
			"otherwise returns the buffered records."),
		mcp.WithString("sensor", mcp.Required(), mcp.Description("Sensor id (e.g. EarthQuakeSensor)")),
	), s.getRecords)

	s.mcp.AddTool(mcp.NewTool("has_updates",
		mcp.WithDescription("Count the records that follow the record keyed k. "+
			"An unknown or empty k counts every record."),
		mcp.WithString("sensor", mcp.Required(), mcp.Description("Sensor id")),
		mcp.WithString("k", mcp.Description("Key of the last record already seen")),
	), s.hasUpdates)

	s.mcp.AddTool(mcp.NewTool("get_content",
		mcp.WithDescription("Return the records that follow the record keyed k."),
		mcp.WithString("sensor", mcp.Required(), mcp.Description("Sensor id")),
		mcp.WithString("k", mcp.Description("Key of the last record already seen")),
	), s.getContent)

	s.mcp.AddTool(mcp.NewTool("search_records",
		mcp.WithDescription("Full-text search through every record the driver has seen."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 20)")),
	), s.searchRecords)

	s.mcp.AddTool(mcp.NewTool("get_about",
		mcp.WithDescription("Read a sensor's about document (Markdown)."),
		mcp.WithString("sensor", mcp.Required(), mcp.Description("Sensor id")),
	), s.getAbout)

	s.mcp.AddTool(mcp.NewTool("write_about",
		mcp.WithDescription("Create or replace a sensor's about document. "+
			"Content MUST follow the about document format. Read it first via "+
			"the sensorhub://about-format resource."),
		mcp.WithString("sensor", mcp.Required(), mcp.Description("Sensor id")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Markdown content with optional YAML frontmatter")),
	), s.writeAbout)

	s.mcp.AddTool(mcp.NewTool("upload_image",
		mcp.WithDescription("Store an image in the images directory from an http(s) URL or a base64 data URI. "+
			"The returned savedPath can be used as a featured_image or post_image setting."),
		mcp.WithString("url", mcp.Required(), mcp.Description("http(s) URL or data:image/...;base64,... URI")),
		mcp.WithString("filename", mcp.Description("Optional file name; derived from the URL when empty")),
	), s.uploadImage)

	s.mcp.AddResource(
		mcp.NewResource(aboutFormatURI, "About Document Format",
			mcp.WithResourceDescription("Format of the optional per-sensor about document."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readAboutFormatResource,
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

// optionalString returns the named argument or "".
func optionalString(req mcp.CallToolRequest, name string) string {
	if v, err := req.RequireString(name); err == nil {
		return v
	}
	return ""
}

func (s *Server) listSensors(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.svc.ListSensors(ctx))
}

func (s *Server) getRecords(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("sensor")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	recs, err := s.svc.Records(ctx, name)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(recs)
}

func (s *Server) hasUpdates(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("sensor")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	n, err := s.svc.HasUpdates(ctx, name, models.Key(optionalString(req, "k")))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("%d", n)), nil
}

func (s *Server) getContent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("sensor")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	recs, err := s.svc.Content(ctx, name, models.Key(optionalString(req, "k")))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(recs)
}

func (s *Server) searchRecords(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	limit := req.GetInt("limit", 20)
	if limit <= 0 {
		limit = 20
	}
	results, err := s.svc.Search(ctx, query, limit)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(results)
}

func (s *Server) getAbout(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("sensor")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if _, err := s.svc.Sensor(name); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, err := s.files.Read(parser.FileName(name))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("no about document for %s", name)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) writeAbout(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("sensor")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if _, err := s.svc.Sensor(name); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if strings.TrimSpace(content) == "" {
		return mcp.NewToolResultError("content is empty"), nil
	}

	data := []byte(content)
	about, err := parser.Parse(data)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid about document: %v", err)), nil
	}
	if err := s.files.Write(parser.FileName(name), data); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("saved %s (title %q, %d tags)", parser.FileName(name), about.Title, len(about.Tags))), nil
}

func (s *Server) readAboutFormatResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      aboutFormatURI,
			MIMEType: "text/markdown",
			Text:     AboutFormatContract,
		},
	}, nil
}
