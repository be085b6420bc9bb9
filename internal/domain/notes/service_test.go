package notes_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ateska/markdown-notes-mcp/internal/domain/notes"
)

const tenant = "alice"

// newTestService seeds a tenant directory with a small tree:
//
//	projects/alpha.md
//	projects/drafts/
//	readme.md
//	.hidden.md
//	notes.txt
func newTestService(t *testing.T) *notes.Service {
	t.Helper()
	baseDir := t.TempDir()

	root := filepath.Join(baseDir, tenant)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "projects", "drafts"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "projects", "alpha.md"), []byte("# Alpha"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "readme.md"), []byte("# Readme"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".hidden.md"), []byte("secret"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("not a note"), 0o644))

	s, err := notes.NewService(baseDir, zerolog.Nop())
	require.NoError(t, err)
	return s
}

func TestService_Tree(t *testing.T) {
	s := newTestService(t)

	tree, err := s.Tree(tenant)
	require.NoError(t, err)

	// Directories come first, then notes; hidden files and non-notes are
	// absent.
	require.Len(t, tree, 2)
	assert.Equal(t, "projects", tree[0].Name)
	assert.Equal(t, "directory", tree[0].Type)
	assert.Equal(t, "readme.md", tree[1].Name)
	assert.Equal(t, "note", tree[1].Type)
	assert.Greater(t, tree[1].MTime, float64(0))

	require.Len(t, tree[0].Children, 2)
	assert.Equal(t, "drafts", tree[0].Children[0].Name)
	assert.Equal(t, "projects/drafts", tree[0].Children[0].Path)
	assert.Equal(t, "alpha.md", tree[0].Children[1].Name)
	assert.Equal(t, "projects/alpha.md", tree[0].Children[1].Path)

	// A directory carries the freshest mtime of its subtree.
	assert.Equal(t, tree[0].Children[1].MTime, tree[0].MTime)
}

func TestService_Tree_UnknownTenant(t *testing.T) {
	s := newTestService(t)
	_, err := s.Tree("nobody")
	assert.ErrorIs(t, err, notes.ErrNotFound)
}

func TestService_ListDirectory(t *testing.T) {
	s := newTestService(t)

	listing, err := s.ListDirectory(tenant, "", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"readme.md"}, listing.Notes)
	assert.Nil(t, listing.Directories)

	listing, err = s.ListDirectory(tenant, "", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"projects"}, listing.Directories)

	_, err = s.ListDirectory(tenant, "missing", true)
	assert.ErrorIs(t, err, notes.ErrNotFound)
}

func TestService_ReadNote(t *testing.T) {
	s := newTestService(t)

	note, err := s.ReadNote(tenant, "projects/alpha.md")
	require.NoError(t, err)
	assert.Equal(t, "# Alpha", note.Content)
	assert.Equal(t, "projects/alpha.md", note.Path)
	assert.Greater(t, note.MTime, float64(0))

	// Extension is appended on demand.
	note, err = s.ReadNote(tenant, "readme")
	require.NoError(t, err)
	assert.Equal(t, "readme.md", note.Path)

	_, err = s.ReadNote(tenant, "missing.md")
	assert.ErrorIs(t, err, notes.ErrNotFound)
}

func TestService_RejectsTraversal(t *testing.T) {
	s := newTestService(t)

	_, err := s.ReadNote(tenant, "../other/readme.md")
	assert.ErrorIs(t, err, notes.ErrNotFound)

	_, err = s.SaveNote(tenant, "../../etc/passwd", "boom")
	assert.ErrorIs(t, err, notes.ErrInvalidPath)

	_, err = s.DeleteNote(tenant, "../readme")
	assert.ErrorIs(t, err, notes.ErrNotFound)
}

func TestService_RejectsBadTenant(t *testing.T) {
	s := newTestService(t)

	for _, bad := range []string{"", ".", "..", "a/b", `a\b`} {
		_, err := s.Tree(bad)
		assert.ErrorIs(t, err, notes.ErrInvalidPath, "tenant %q", bad)

		_, err = s.SaveNote(bad, "readme", "boom")
		assert.ErrorIs(t, err, notes.ErrInvalidPath, "tenant %q", bad)
	}
}

func TestService_WriteNote(t *testing.T) {
	s := newTestService(t)

	// Missing parent directories are created.
	note, created, err := s.WriteNote(tenant, "journal/2026/august", "# Entry")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "journal/2026/august.md", note.Path)

	read, err := s.ReadNote(tenant, "journal/2026/august.md")
	require.NoError(t, err)
	assert.Equal(t, "# Entry", read.Content)

	_, created, err = s.WriteNote(tenant, "journal/2026/august.md", "# Revised")
	require.NoError(t, err)
	assert.False(t, created)

	_, _, err = s.WriteNote(tenant, "../../escape", "boom")
	assert.ErrorIs(t, err, notes.ErrInvalidPath)
}

func TestService_SavePicture(t *testing.T) {
	s := newTestService(t)

	mimeType, err := s.SavePicture(tenant, "projects/diagram.PNG", []byte{0x89, 0x50})
	require.NoError(t, err)
	assert.Equal(t, "image/png", mimeType)

	_, err = s.SavePicture(tenant, "projects/diagram.bmp", []byte{0x42})
	assert.ErrorIs(t, err, notes.ErrInvalidRequest)

	_, err = s.SavePicture(tenant, "../escape.png", []byte{0x89})
	assert.ErrorIs(t, err, notes.ErrInvalidPath)
}

func TestService_SaveNote(t *testing.T) {
	s := newTestService(t)

	note, err := s.SaveNote(tenant, "readme", "# Updated")
	require.NoError(t, err)
	assert.Equal(t, "readme.md", note.Path)

	read, err := s.ReadNote(tenant, "readme.md")
	require.NoError(t, err)
	assert.Equal(t, "# Updated", read.Content)
}

func TestService_CreateNote(t *testing.T) {
	s := newTestService(t)

	note, err := s.CreateNote(tenant, "projects", "beta")
	require.NoError(t, err)
	assert.Equal(t, "projects/beta.md", note.Path)
	assert.Equal(t, "", note.Content)

	_, err = s.CreateNote(tenant, "projects", "beta")
	assert.ErrorIs(t, err, notes.ErrAlreadyExists)

	_, err = s.CreateNote(tenant, "missing", "gamma")
	assert.ErrorIs(t, err, notes.ErrNotFound)

	_, err = s.CreateNote(tenant, "", "")
	assert.ErrorIs(t, err, notes.ErrInvalidRequest)

	// Separators in the name cannot relocate the note.
	note, err = s.CreateNote(tenant, "", "../escape")
	require.NoError(t, err)
	assert.Equal(t, "escape.md", note.Path)
}

func TestService_RenameNote(t *testing.T) {
	s := newTestService(t)

	renamed, err := s.RenameNote(tenant, "projects/alpha.md", "omega")
	require.NoError(t, err)
	assert.Equal(t, "projects/alpha.md", renamed.OldPath)
	assert.Equal(t, "projects/omega.md", renamed.Path)

	_, err = s.ReadNote(tenant, "projects/omega.md")
	require.NoError(t, err)
	_, err = s.ReadNote(tenant, "projects/alpha.md")
	assert.ErrorIs(t, err, notes.ErrNotFound)

	// Root-level note keeps a bare path.
	renamed, err = s.RenameNote(tenant, "readme.md", "index")
	require.NoError(t, err)
	assert.Equal(t, "index.md", renamed.Path)

	_, err = s.RenameNote(tenant, "missing.md", "anything")
	assert.ErrorIs(t, err, notes.ErrNotFound)

	_, err = s.RenameNote(tenant, "", "anything")
	assert.ErrorIs(t, err, notes.ErrInvalidRequest)
}

func TestService_RenameNote_Collision(t *testing.T) {
	s := newTestService(t)

	_, err := s.CreateNote(tenant, "projects", "omega")
	require.NoError(t, err)

	_, err = s.RenameNote(tenant, "projects/alpha.md", "omega")
	assert.ErrorIs(t, err, notes.ErrAlreadyExists)
}

func TestService_DeleteNote(t *testing.T) {
	s := newTestService(t)

	path, err := s.DeleteNote(tenant, "readme")
	require.NoError(t, err)
	assert.Equal(t, "readme.md", path)

	_, err = s.ReadNote(tenant, "readme.md")
	assert.ErrorIs(t, err, notes.ErrNotFound)

	_, err = s.DeleteNote(tenant, "readme")
	assert.ErrorIs(t, err, notes.ErrNotFound)

	// Directories are not deletable through the note operation.
	_, err = s.DeleteNote(tenant, "projects")
	assert.ErrorIs(t, err, notes.ErrNotFound)
}

func TestService_Directories(t *testing.T) {
	s := newTestService(t)

	dir, err := s.CreateDirectory(tenant, "projects", "archive")
	require.NoError(t, err)
	assert.Equal(t, "projects/archive", dir.Path)
	assert.Equal(t, "archive", dir.Name)

	_, err = s.CreateDirectory(tenant, "projects", "archive")
	assert.ErrorIs(t, err, notes.ErrAlreadyExists)

	renamed, err := s.RenameDirectory(tenant, "projects/archive", "attic")
	require.NoError(t, err)
	assert.Equal(t, "projects/attic", renamed.Path)

	path, err := s.DeleteDirectory(tenant, "projects/attic")
	require.NoError(t, err)
	assert.Equal(t, "projects/attic", path)

	_, err = s.DeleteDirectory(tenant, "projects/attic")
	assert.ErrorIs(t, err, notes.ErrNotFound)

	_, err = s.DeleteDirectory(tenant, "")
	assert.ErrorIs(t, err, notes.ErrInvalidRequest)
}

func TestService_DeleteDirectory_Recursive(t *testing.T) {
	s := newTestService(t)

	_, err := s.DeleteDirectory(tenant, "projects")
	require.NoError(t, err)

	_, err = s.ReadNote(tenant, "projects/alpha.md")
	assert.ErrorIs(t, err, notes.ErrNotFound)
}
