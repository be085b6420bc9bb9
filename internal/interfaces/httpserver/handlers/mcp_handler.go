package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"github.com/ateska/markdown-notes-mcp/internal/domain/notes"
	"github.com/ateska/markdown-notes-mcp/internal/infrastructure/metrics"
)

const (
	noteURIPrefix    = "note://"
	pictureURIPrefix = "img://"
	noteMIMEType     = "text/markdown"
)

// mcpInstructions is handed to clients during the MCP handshake.
const mcpInstructions = "This MCP server can be used to manage Markdown notes. " +
	"You can create, update, delete, and read Markdown notes. " +
	"Markdown notes are stored in the directory structure of the notes directory."

var allowedMCPMethods = map[string]bool{
	// Initialization / handshake
	"initialize":                true,
	"notifications/initialized": true,
	"ping":                      true,

	// Tools
	"tools/list": true,
	"tools/call": true,

	// Resources
	"resources/list":           true,
	"resources/templates/list": true,
	"resources/read":           true,
}

// tenantContextKey carries the notes tenant through the request context
// into the MCP tool handlers.
type tenantContextKey struct{}

func tenantFromContext(ctx context.Context) (string, error) {
	tenant, _ := ctx.Value(tenantContextKey{}).(string)
	if tenant == "" {
		return "", errors.New("tenant is not resolved")
	}
	return tenant, nil
}

// MCPHandler exposes the notes storage as a Model Context Protocol server:
// note management tools plus a note:// resource template, served over the
// streamable HTTP transport in stateless mode.
type MCPHandler struct {
	service     *notes.Service
	log         zerolog.Logger
	mcpServer   *mcp.Server
	httpHandler http.Handler
}

func NewMCPHandler(service *notes.Service, log zerolog.Logger) *MCPHandler {
	h := &MCPHandler{
		service: service,
		log:     log.With().Str("handler", "mcp").Logger(),
	}

	impl := &mcp.Implementation{
		Name:    "markdown-notes-mcp",
		Version: "1.0.0",
	}
	server := mcp.NewServer(impl, &mcp.ServerOptions{
		Instructions: mcpInstructions,
	})
	h.registerTools(server)
	h.registerResources(server)

	h.mcpServer = server
	h.httpHandler = mcp.NewStreamableHTTPHandler(func(_ *http.Request) *mcp.Server {
		return server
	}, &mcp.StreamableHTTPOptions{Stateless: true})
	return h
}

// Serve handles POST /:tenant/mcp. The tenant path segment is injected
// into the request context so the tool handlers can scope storage access.
func (h *MCPHandler) Serve(c *gin.Context) {
	bodyBytes, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"result": "ERROR", "error": "Cannot read MCP request body."})
		return
	}
	_ = c.Request.Body.Close()
	c.Request.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))

	var payload struct {
		Method string `json:"method"`
	}
	if err := json.Unmarshal(bodyBytes, &payload); err != nil || payload.Method == "" {
		c.JSON(http.StatusBadRequest, gin.H{"result": "ERROR", "error": "Body is not a valid MCP request."})
		return
	}
	if !allowedMCPMethods[payload.Method] {
		c.JSON(http.StatusBadRequest, gin.H{"result": "ERROR", "error": "Unsupported MCP method: " + payload.Method})
		return
	}

	ctx := context.WithValue(c.Request.Context(), tenantContextKey{}, c.Param("tenant"))
	c.Request = c.Request.WithContext(ctx)

	// Force acceptable content types for the streamable handler even when
	// the client omits Accept.
	c.Request.Header.Set("Accept", "application/json, text/event-stream")
	h.httpHandler.ServeHTTP(c.Writer, c.Request)
}

type noteWriteArgs struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type notePathArgs struct {
	Path string `json:"path"`
}

type listNotesArgs struct {
	Directory   string `json:"directory"`
	Directories bool   `json:"directories"`
}

func (h *MCPHandler) registerTools(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "create_or_update_note",
		Description: "Create a new Markdown note or update an existing Markdown note at the given path with the provided content. The path can include subdirectories separated by '/'; the '.md' extension is automatically appended if not provided and missing subdirectories are created. Paths containing '..' are not allowed. Returns a resource link that can be used to reference the created or updated note.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":    map[string]any{"type": "string"},
				"content": map[string]any{"type": "string", "format": "markdown"},
			},
			"required": []string{"path", "content"},
		},
	}, h.createOrUpdateNote)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "delete_note",
		Description: "Delete a Markdown note at the specified path. The '.md' extension is automatically appended if not provided. Only the note file is deleted; empty subdirectories are left intact. If the note does not exist, an error is raised.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{"type": "string"},
			},
			"required": []string{"path"},
		},
	}, h.deleteNote)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "read_note",
		Description: "Read and return the full content of a Markdown note at the specified path. The '.md' extension is automatically appended if not provided. Returns the raw Markdown content of the note; if the note does not exist, an error suggests using 'list_notes' to find available notes.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{"type": "string"},
			},
			"required": []string{"path"},
		},
	}, h.readNote)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "upload_picture",
		Description: "Upload an image file to the notes directory. The path must end with one of the supported extensions (" + strings.Join(pictureExtensions(), ", ") + ") and can include subdirectories; missing subdirectories are created. The content parameter carries the base64-encoded image data. Returns a resource link referencing the uploaded image.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":    map[string]any{"type": "string"},
				"content": map[string]any{"type": "string", "format": "binary"},
			},
			"required": []string{"path", "content"},
		},
	}, h.uploadPicture)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_notes",
		Description: "List all Markdown notes (.md files) in the specified directory, optionally including directories. Use an empty string or '/' as the directory to list the root notes directory. Only direct children are listed and hidden files are excluded. Returns a text summary plus resource links for each note; the resource link name can be used as the path parameter in other operations.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"directory":   map[string]any{"type": "string", "default": ""},
				"directories": map[string]any{"type": "boolean", "default": false},
			},
		},
	}, h.listNotes)
}

func pictureExtensions() []string {
	exts := make([]string, 0, len(notes.PictureMIMETypes))
	for ext := range notes.PictureMIMETypes {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

func (h *MCPHandler) createOrUpdateNote(ctx context.Context, _ *mcp.CallToolRequest, input noteWriteArgs) (*mcp.CallToolResult, map[string]any, error) {
	tenant, err := tenantFromContext(ctx)
	if err != nil {
		return nil, nil, h.toolError("create_or_update_note", err)
	}
	if input.Path == "" {
		return nil, nil, h.toolError("create_or_update_note", errors.New("path is required"))
	}

	note, created, err := h.service.WriteNote(tenant, input.Path, input.Content)
	if err != nil {
		return nil, nil, h.toolError("create_or_update_note", err)
	}

	verb := "Updated"
	if created {
		verb = "Created"
	}
	h.log.Info().Str("tenant", tenant).Str("path", note.Path).Msg(verb + " a Markdown note")
	metrics.MCPToolCallsTotal.WithLabelValues("create_or_update_note", "ok").Inc()

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.ResourceLink{
			URI:         noteURIPrefix + "/" + note.Path,
			Name:        note.Path,
			Description: verb + " a Markdown note",
			MIMEType:    noteMIMEType,
		}},
	}, nil, nil
}

func (h *MCPHandler) deleteNote(ctx context.Context, _ *mcp.CallToolRequest, input notePathArgs) (*mcp.CallToolResult, map[string]any, error) {
	tenant, err := tenantFromContext(ctx)
	if err != nil {
		return nil, nil, h.toolError("delete_note", err)
	}

	path, err := h.service.DeleteNote(tenant, input.Path)
	if err != nil {
		if errors.Is(err, notes.ErrNotFound) {
			err = fmt.Errorf("note %q does not exist. Use 'list_notes' to see available notes", input.Path)
		}
		return nil, nil, h.toolError("delete_note", err)
	}

	h.log.Info().Str("tenant", tenant).Str("path", path).Msg("Deleted a Markdown note")
	metrics.MCPToolCallsTotal.WithLabelValues("delete_note", "ok").Inc()

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: "Successfully deleted note: " + path}},
	}, nil, nil
}

func (h *MCPHandler) readNote(ctx context.Context, _ *mcp.CallToolRequest, input notePathArgs) (*mcp.CallToolResult, map[string]any, error) {
	tenant, err := tenantFromContext(ctx)
	if err != nil {
		return nil, nil, h.toolError("read_note", err)
	}

	note, err := h.service.ReadNote(tenant, input.Path)
	if err != nil {
		return nil, nil, h.toolError("read_note",
			fmt.Errorf("note %q does not exist. Use 'list_notes' to see available notes", input.Path))
	}

	metrics.MCPToolCallsTotal.WithLabelValues("read_note", "ok").Inc()
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: note.Content}},
	}, nil, nil
}

type pictureUploadArgs struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func (h *MCPHandler) uploadPicture(ctx context.Context, _ *mcp.CallToolRequest, input pictureUploadArgs) (*mcp.CallToolResult, map[string]any, error) {
	tenant, err := tenantFromContext(ctx)
	if err != nil {
		return nil, nil, h.toolError("upload_picture", err)
	}

	data, err := base64.StdEncoding.DecodeString(input.Content)
	if err != nil {
		return nil, nil, h.toolError("upload_picture", errors.New("content is not valid base64 data"))
	}

	mimeType, err := h.service.SavePicture(tenant, input.Path, data)
	if err != nil {
		if errors.Is(err, notes.ErrInvalidRequest) {
			err = fmt.Errorf("unsupported picture extension. The path must end with one of: %s",
				strings.Join(pictureExtensions(), ", "))
		}
		return nil, nil, h.toolError("upload_picture", err)
	}

	h.log.Info().Str("tenant", tenant).Str("path", input.Path).Msg("Uploaded a picture")
	metrics.MCPToolCallsTotal.WithLabelValues("upload_picture", "ok").Inc()

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.ResourceLink{
			URI:         pictureURIPrefix + "/" + strings.TrimLeft(input.Path, "/"),
			Name:        input.Path,
			Description: "Uploaded image: " + input.Path,
			MIMEType:    mimeType,
		}},
	}, nil, nil
}

func (h *MCPHandler) listNotes(ctx context.Context, _ *mcp.CallToolRequest, input listNotesArgs) (*mcp.CallToolResult, map[string]any, error) {
	tenant, err := tenantFromContext(ctx)
	if err != nil {
		return nil, nil, h.toolError("list_notes", err)
	}

	listing, err := h.service.ListDirectory(tenant, input.Directory, input.Directories)
	if err != nil {
		if errors.Is(err, notes.ErrNotFound) {
			err = fmt.Errorf("directory %q does not exist. Use an empty string to list the root directory", input.Directory)
		}
		return nil, nil, h.toolError("list_notes", err)
	}

	dirDisplay := "root directory"
	if input.Directory != "" {
		dirDisplay = fmt.Sprintf("directory '%s'", input.Directory)
	}

	var summary strings.Builder
	if len(listing.Notes) == 0 {
		fmt.Fprintf(&summary, "No Markdown notes found in %s.\n", dirDisplay)
	} else {
		fmt.Fprintf(&summary, "Found %d note%s in %s:\n\n", len(listing.Notes), plural(len(listing.Notes), "s"), dirDisplay)
		for _, note := range listing.Notes {
			fmt.Fprintf(&summary, " * `%s`\n", note)
		}
	}
	if input.Directories {
		fmt.Fprintf(&summary, "\nFound %d director%s in %s:\n\n", len(listing.Directories), pluralY(len(listing.Directories)), dirDisplay)
		for _, dir := range listing.Directories {
			fmt.Fprintf(&summary, " * `%s`\n", dir)
		}
	}

	uriPrefix := noteURIPrefix
	namePrefix := ""
	if input.Directory != "" {
		uriPrefix = noteURIPrefix + "/" + input.Directory
		namePrefix = input.Directory + "/"
	}

	content := []mcp.Content{&mcp.TextContent{Text: summary.String()}}
	for _, note := range listing.Notes {
		content = append(content, &mcp.ResourceLink{
			URI:         uriPrefix + "/" + note,
			Name:        namePrefix + note,
			Description: "Markdown note: " + namePrefix + note,
			MIMEType:    noteMIMEType,
		})
	}

	metrics.MCPToolCallsTotal.WithLabelValues("list_notes", "ok").Inc()
	return &mcp.CallToolResult{Content: content}, nil, nil
}

func plural(n int, suffix string) string {
	if n == 1 {
		return ""
	}
	return suffix
}

func pluralY(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}

// toolError records the failed call and maps domain errors onto tool-facing
// messages. Tool errors surface to the client as isError results.
func (h *MCPHandler) toolError(tool string, err error) error {
	if errors.Is(err, notes.ErrInvalidPath) {
		err = errors.New("Path is not within the notes directory")
	}
	h.log.Warn().Err(err).Str("tool", tool).Msg("MCP tool call failed")
	metrics.MCPToolCallsTotal.WithLabelValues(tool, "error").Inc()
	return err
}

func (h *MCPHandler) registerResources(server *mcp.Server) {
	server.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: noteURIPrefix + "/{+path}",
		Name:        "notes",
		Description: "Markdown notes stored in directories",
		MIMEType:    noteMIMEType,
	}, h.readNoteResource)
}

// readNoteResource serves resources/read for note:// URIs.
func (h *MCPHandler) readNoteResource(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	tenant, err := tenantFromContext(ctx)
	if err != nil {
		return nil, err
	}

	uri := req.Params.URI
	if !strings.HasPrefix(uri, noteURIPrefix) {
		return nil, fmt.Errorf("invalid URI scheme: %q; must be %q", uri, noteURIPrefix)
	}
	path := strings.TrimPrefix(uri, noteURIPrefix)

	note, err := h.service.ReadNote(tenant, path)
	if err != nil {
		h.log.Warn().Str("uri", uri).Msg("note resource not found")
		return nil, fmt.Errorf("note %q does not exist", path)
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      uri,
			MIMEType: noteMIMEType,
			Text:     note.Content,
		}},
	}, nil
}
