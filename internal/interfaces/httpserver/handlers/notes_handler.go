package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/ateska/markdown-notes-mcp/internal/domain/notes"
)

// treeRefreshInterval paces the SSE variant of the tree endpoint.
const treeRefreshInterval = 5 * time.Second

// NotesHandler exposes the markdown notes REST surface. Responses carry
// the {"result": "OK"|"ERROR"|"NOT-FOUND"} envelope.
type NotesHandler struct {
	service *notes.Service
	log     zerolog.Logger
}

func NewNotesHandler(service *notes.Service, log zerolog.Logger) *NotesHandler {
	return &NotesHandler{
		service: service,
		log:     log.With().Str("handler", "notes").Logger(),
	}
}

func respondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"result": "OK", "data": data})
}

func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, notes.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"result": "NOT-FOUND", "error": err.Error()})
	case errors.Is(err, notes.ErrInvalidPath),
		errors.Is(err, notes.ErrInvalidRequest),
		errors.Is(err, notes.ErrAlreadyExists):
		c.JSON(http.StatusBadRequest, gin.H{"result": "ERROR", "error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"result": "ERROR", "error": err.Error()})
	}
}

// wildcardPath strips the leading slash gin keeps on *path parameters.
func wildcardPath(c *gin.Context) string {
	return strings.TrimPrefix(c.Param("path"), "/")
}

// Tree handles GET /:tenant/tree. With Accept: text/event-stream the
// full tree is pushed as an SSE "tree" event every few seconds until the
// client disconnects; otherwise it is returned once.
func (h *NotesHandler) Tree(c *gin.Context) {
	tenant := c.Param("tenant")

	if c.GetHeader("Accept") == "text/event-stream" {
		h.streamTree(c, tenant)
		return
	}

	tree, err := h.service.Tree(tenant)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"result":    "OK",
		"data":      tree,
		"timestamp": float64(time.Now().UnixNano()) / 1e9,
	})
}

func (h *NotesHandler) streamTree(c *gin.Context, tenant string) {
	if _, err := h.service.Tree(tenant); err != nil {
		respondError(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	ticker := time.NewTicker(treeRefreshInterval)
	defer ticker.Stop()

	c.Stream(func(w io.Writer) bool {
		tree, err := h.service.Tree(tenant)
		if err != nil {
			return false
		}
		payload, err := json.Marshal(tree)
		if err != nil {
			return false
		}
		c.SSEvent("tree", string(payload))

		select {
		case <-ticker.C:
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// ListDirectory handles GET /:tenant/directory/*path. The `directories`
// query flag adds subdirectories to the listing.
func (h *NotesHandler) ListDirectory(c *gin.Context) {
	includeDirs := false
	if raw, ok := c.GetQuery("directories"); ok {
		switch strings.ToLower(raw) {
		case "true", "1", "t", "y", "yes", "":
			includeDirs = true
		}
	}

	listing, err := h.service.ListDirectory(c.Param("tenant"), wildcardPath(c), includeDirs)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, listing)
}

// ReadNote handles GET /:tenant/note/*path.
func (h *NotesHandler) ReadNote(c *gin.Context) {
	note, err := h.service.ReadNote(c.Param("tenant"), wildcardPath(c))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, note)
}

type saveNoteRequest struct {
	Content *string `json:"content"`
}

// SaveNote handles PUT /:tenant/note/*path.
func (h *NotesHandler) SaveNote(c *gin.Context) {
	var req saveNoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"result": "ERROR", "error": "Body is not a valid JSON object."})
		return
	}
	if req.Content == nil {
		c.JSON(http.StatusBadRequest, gin.H{"result": "ERROR", "error": "Content is not provided."})
		return
	}

	note, err := h.service.SaveNote(c.Param("tenant"), wildcardPath(c), *req.Content)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, note)
}

type createNoteRequest struct {
	Directory string `json:"directory"`
	Name      string `json:"name"`
}

// CreateNote handles POST /:tenant/note-create.
func (h *NotesHandler) CreateNote(c *gin.Context) {
	var req createNoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"result": "ERROR", "error": "Body is not a valid JSON object."})
		return
	}

	note, err := h.service.CreateNote(c.Param("tenant"), req.Directory, req.Name)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, note)
}

type renameRequest struct {
	OldPath string `json:"old_path"`
	NewName string `json:"new_name"`
}

// RenameNote handles POST /:tenant/note-rename.
func (h *NotesHandler) RenameNote(c *gin.Context) {
	var req renameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"result": "ERROR", "error": "Body is not a valid JSON object."})
		return
	}

	renamed, err := h.service.RenameNote(c.Param("tenant"), req.OldPath, req.NewName)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, renamed)
}

// DeleteNote handles DELETE /:tenant/note/*path.
func (h *NotesHandler) DeleteNote(c *gin.Context) {
	path, err := h.service.DeleteNote(c.Param("tenant"), wildcardPath(c))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"path": path})
}

type createDirectoryRequest struct {
	ParentDirectory string `json:"parent_directory"`
	Name            string `json:"name"`
}

// CreateDirectory handles POST /:tenant/directory-create.
func (h *NotesHandler) CreateDirectory(c *gin.Context) {
	var req createDirectoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"result": "ERROR", "error": "Body is not a valid JSON object."})
		return
	}

	dir, err := h.service.CreateDirectory(c.Param("tenant"), req.ParentDirectory, req.Name)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, dir)
}

// RenameDirectory handles POST /:tenant/directory-rename.
func (h *NotesHandler) RenameDirectory(c *gin.Context) {
	var req renameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"result": "ERROR", "error": "Body is not a valid JSON object."})
		return
	}

	renamed, err := h.service.RenameDirectory(c.Param("tenant"), req.OldPath, req.NewName)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, renamed)
}

// DeleteDirectory handles DELETE /:tenant/directory/*path.
func (h *NotesHandler) DeleteDirectory(c *gin.Context) {
	path, err := h.service.DeleteDirectory(c.Param("tenant"), wildcardPath(c))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"path": path})
}
