// Package notes implements the tenant-scoped markdown note storage: a
// plain directory tree on disk with one subdirectory per tenant, notes as
// .md files and browsing via a recursive tree structure.
package notes

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// NoteExtension is the mandatory suffix of every note file.
const NoteExtension = ".md"

// PictureMIMETypes maps the accepted picture file extensions to their
// MIME types.
var PictureMIMETypes = map[string]string{
	".jpg": "image/jpeg",
	".png": "image/png",
	".gif": "image/gif",
}

var (
	// ErrNotFound signals a note or directory missing on disk, or a path
	// escaping the tenant's notes directory on a read operation.
	ErrNotFound = errors.New("not found")
	// ErrInvalidPath signals a path escaping the tenant's notes directory.
	ErrInvalidPath = errors.New("path is not within the notes directory")
	// ErrAlreadyExists signals a create or rename onto an existing entry.
	ErrAlreadyExists = errors.New("already exists")
	// ErrInvalidRequest signals a missing required field.
	ErrInvalidRequest = errors.New("invalid request")
)

// TreeNode is one entry of the recursive browse tree. MTime is seconds
// since the epoch; a directory reports the freshest mtime of its subtree.
type TreeNode struct {
	Name     string     `json:"name"`
	Path     string     `json:"path"`
	Type     string     `json:"type"`
	MTime    float64    `json:"mtime"`
	Children []TreeNode `json:"children,omitempty"`
}

// Note is the content payload returned by read/write operations.
type Note struct {
	Content string  `json:"content"`
	Path    string  `json:"path"`
	MTime   float64 `json:"mtime"`
}

// Renamed reports the outcome of a rename operation.
type Renamed struct {
	OldPath string  `json:"old_path"`
	Path    string  `json:"path"`
	MTime   float64 `json:"mtime,omitempty"`
}

// Directory reports a freshly created directory.
type Directory struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

// Listing is a flat view of a single directory.
type Listing struct {
	Notes       []string `json:"notes"`
	Directories []string `json:"directories,omitempty"`
}

// Service owns the notes base directory.
type Service struct {
	baseDir string
	log     zerolog.Logger
}

// NewService creates the base directory when missing.
func NewService(baseDir string, log zerolog.Logger) (*Service, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create notes directory: %w", err)
	}
	return &Service{
		baseDir: baseDir,
		log:     log.With().Str("component", "notes-service").Logger(),
	}, nil
}

// resolve maps a user-supplied relative path into the tenant's notes
// directory, rejecting anything that escapes it. The tenant segment must
// be a single plain directory name.
func (s *Service) resolve(tenant, userPath string) (string, error) {
	if tenant == "" || tenant == "." || tenant == ".." || strings.ContainsAny(tenant, "/\\") {
		return "", ErrInvalidPath
	}
	userPath = strings.TrimLeft(userPath, "/")

	base, err := filepath.Abs(filepath.Join(s.baseDir, tenant))
	if err != nil {
		return "", fmt.Errorf("resolve base path: %w", err)
	}
	target, err := filepath.Abs(filepath.Join(base, userPath))
	if err != nil {
		return "", fmt.Errorf("resolve note path: %w", err)
	}

	if target != base && !strings.HasPrefix(target, base+string(filepath.Separator)) {
		return "", ErrInvalidPath
	}
	return target, nil
}

// ensureExtension appends the note suffix when missing.
func ensureExtension(path string) string {
	if !strings.HasSuffix(path, NoteExtension) {
		return path + NoteExtension
	}
	return path
}

func mtimeOf(path string) float64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return float64(info.ModTime().UnixNano()) / 1e9
}

// Tree builds the full browse tree of the tenant's notes directory.
func (s *Service) Tree(tenant string) ([]TreeNode, error) {
	root, err := s.resolve(tenant, "")
	if err != nil {
		return nil, err
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return nil, ErrNotFound
	}
	return buildTree(root, ""), nil
}

// buildTree lists directories first, then notes, both sorted by name.
// Hidden entries are skipped. Unreadable directories yield empty subtrees.
func buildTree(dir, base string) []TreeNode {
	items := []TreeNode{}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return items
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") || !entry.IsDir() {
			continue
		}
		relative := name
		if base != "" {
			relative = base + "/" + name
		}
		children := buildTree(filepath.Join(dir, name), relative)
		var dirMTime float64
		for _, child := range children {
			if child.MTime > dirMTime {
				dirMTime = child.MTime
			}
		}
		items = append(items, TreeNode{
			Name:     name,
			Path:     relative,
			Type:     "directory",
			MTime:    dirMTime,
			Children: children,
		})
	}

	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") || entry.IsDir() || !strings.HasSuffix(name, NoteExtension) {
			continue
		}
		relative := name
		if base != "" {
			relative = base + "/" + name
		}
		items = append(items, TreeNode{
			Name:  name,
			Path:  relative,
			Type:  "note",
			MTime: mtimeOf(filepath.Join(dir, name)),
		})
	}

	return items
}

// ListDirectory returns the notes (and optionally the subdirectories) of
// one directory. An empty path lists the tenant root.
func (s *Service) ListDirectory(tenant, path string, includeDirectories bool) (*Listing, error) {
	dir, err := s.resolve(tenant, path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: directory %q does not exist", ErrNotFound, path)
	}

	listing := &Listing{Notes: []string{}}
	if includeDirectories {
		listing.Directories = []string{}
	}
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		switch {
		case !entry.IsDir() && strings.HasSuffix(name, NoteExtension):
			listing.Notes = append(listing.Notes, name)
		case entry.IsDir() && includeDirectories:
			listing.Directories = append(listing.Directories, name)
		}
	}
	return listing, nil
}

// ReadNote loads one note. The extension is appended when the caller
// omitted it.
func (s *Service) ReadNote(tenant, path string) (*Note, error) {
	path = ensureExtension(path)
	notePath, err := s.resolve(tenant, path)
	if err != nil {
		return nil, ErrNotFound
	}
	content, err := os.ReadFile(notePath)
	if err != nil {
		return nil, ErrNotFound
	}
	return &Note{
		Content: string(content),
		Path:    path,
		MTime:   mtimeOf(notePath),
	}, nil
}

// SaveNote overwrites one note with the provided content.
func (s *Service) SaveNote(tenant, path, content string) (*Note, error) {
	path = ensureExtension(path)
	notePath, err := s.resolve(tenant, path)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(notePath, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("write note: %w", err)
	}
	return &Note{
		Content: content,
		Path:    path,
		MTime:   mtimeOf(notePath),
	}, nil
}

// WriteNote writes a note, creating missing parent directories. It
// reports whether the note was freshly created.
func (s *Service) WriteNote(tenant, path, content string) (*Note, bool, error) {
	path = ensureExtension(path)
	notePath, err := s.resolve(tenant, path)
	if err != nil {
		return nil, false, err
	}
	_, statErr := os.Stat(notePath)
	created := os.IsNotExist(statErr)
	if err := os.MkdirAll(filepath.Dir(notePath), 0o755); err != nil {
		return nil, false, fmt.Errorf("create note directory: %w", err)
	}
	if err := os.WriteFile(notePath, []byte(content), 0o644); err != nil {
		return nil, false, fmt.Errorf("write note: %w", err)
	}
	return &Note{
		Content: content,
		Path:    path,
		MTime:   mtimeOf(notePath),
	}, created, nil
}

// SavePicture stores a binary picture, creating missing parent
// directories. The path must carry one of the accepted picture
// extensions. It returns the MIME type of the stored picture.
func (s *Service) SavePicture(tenant, path string, data []byte) (string, error) {
	mimeType, ok := PictureMIMETypes[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return "", fmt.Errorf("%w: unsupported picture extension", ErrInvalidRequest)
	}
	picturePath, err := s.resolve(tenant, path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(picturePath), 0o755); err != nil {
		return "", fmt.Errorf("create picture directory: %w", err)
	}
	if err := os.WriteFile(picturePath, data, 0o644); err != nil {
		return "", fmt.Errorf("write picture: %w", err)
	}
	return mimeType, nil
}

// CreateNote creates an empty note named name inside directory (tenant
// root when empty). Path separators in name are stripped.
func (s *Service) CreateNote(tenant, directory, name string) (*Note, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidRequest)
	}
	name = filepath.Base(name)

	dirPath, err := s.resolve(tenant, directory)
	if err != nil {
		return nil, ErrNotFound
	}
	if info, err := os.Stat(dirPath); err != nil || !info.IsDir() {
		return nil, ErrNotFound
	}

	filename := ensureExtension(name)
	notePath := filepath.Join(dirPath, filename)
	if _, err := os.Stat(notePath); err == nil {
		return nil, fmt.Errorf("%w: note %q", ErrAlreadyExists, filename)
	}
	if err := os.WriteFile(notePath, nil, 0o644); err != nil {
		return nil, fmt.Errorf("create note: %w", err)
	}

	relative := filename
	if directory != "" {
		relative = directory + "/" + filename
	}
	return &Note{
		Content: "",
		Path:    relative,
		MTime:   mtimeOf(notePath),
	}, nil
}

// RenameNote renames a note within its directory.
func (s *Service) RenameNote(tenant, oldPath, newName string) (*Renamed, error) {
	if oldPath == "" || newName == "" {
		return nil, fmt.Errorf("%w: old_path and new_name are required", ErrInvalidRequest)
	}
	oldPath = ensureExtension(oldPath)

	oldNotePath, err := s.resolve(tenant, oldPath)
	if err != nil {
		return nil, ErrNotFound
	}
	if info, err := os.Stat(oldNotePath); err != nil || info.IsDir() {
		return nil, ErrNotFound
	}

	newName = ensureExtension(filepath.Base(newName))
	newPath := newName
	if dir := strings.TrimSuffix(filepath.ToSlash(filepath.Dir(oldPath)), "."); dir != "" && dir != "/" {
		newPath = dir + "/" + newName
	}

	newNotePath, err := s.resolve(tenant, newPath)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(newNotePath); err == nil {
		return nil, fmt.Errorf("%w: note %q", ErrAlreadyExists, newPath)
	}
	if err := os.Rename(oldNotePath, newNotePath); err != nil {
		return nil, fmt.Errorf("rename note: %w", err)
	}
	return &Renamed{
		OldPath: oldPath,
		Path:    newPath,
		MTime:   mtimeOf(newNotePath),
	}, nil
}

// DeleteNote removes one note.
func (s *Service) DeleteNote(tenant, path string) (string, error) {
	path = ensureExtension(path)
	notePath, err := s.resolve(tenant, path)
	if err != nil {
		return "", ErrNotFound
	}
	if info, err := os.Stat(notePath); err != nil || info.IsDir() {
		return "", ErrNotFound
	}
	if err := os.Remove(notePath); err != nil {
		return "", fmt.Errorf("delete note: %w", err)
	}
	return path, nil
}

// CreateDirectory creates a directory named name under parent (tenant
// root when empty).
func (s *Service) CreateDirectory(tenant, parent, name string) (*Directory, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidRequest)
	}
	dirname := filepath.Base(name)

	parentPath, err := s.resolve(tenant, parent)
	if err != nil {
		return nil, ErrNotFound
	}
	if info, err := os.Stat(parentPath); err != nil || !info.IsDir() {
		return nil, ErrNotFound
	}

	dirPath := filepath.Join(parentPath, dirname)
	if _, err := os.Stat(dirPath); err == nil {
		return nil, fmt.Errorf("%w: directory %q", ErrAlreadyExists, dirname)
	}
	if err := os.MkdirAll(dirPath, 0o755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	relative := dirname
	if parent != "" {
		relative = parent + "/" + dirname
	}
	return &Directory{Path: relative, Name: dirname}, nil
}

// RenameDirectory renames a directory within its parent.
func (s *Service) RenameDirectory(tenant, oldPath, newName string) (*Renamed, error) {
	if oldPath == "" || newName == "" {
		return nil, fmt.Errorf("%w: old_path and new_name are required", ErrInvalidRequest)
	}

	oldDirPath, err := s.resolve(tenant, oldPath)
	if err != nil {
		return nil, ErrNotFound
	}
	if info, err := os.Stat(oldDirPath); err != nil || !info.IsDir() {
		return nil, ErrNotFound
	}

	newName = filepath.Base(newName)
	newPath := newName
	if dir := strings.TrimSuffix(filepath.ToSlash(filepath.Dir(oldPath)), "."); dir != "" && dir != "/" {
		newPath = dir + "/" + newName
	}

	newDirPath, err := s.resolve(tenant, newPath)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(newDirPath); err == nil {
		return nil, fmt.Errorf("%w: directory %q", ErrAlreadyExists, newPath)
	}
	if err := os.Rename(oldDirPath, newDirPath); err != nil {
		return nil, fmt.Errorf("rename directory: %w", err)
	}
	return &Renamed{OldPath: oldPath, Path: newPath}, nil
}

// DeleteDirectory removes a directory and everything inside it.
func (s *Service) DeleteDirectory(tenant, path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("%w: path is required", ErrInvalidRequest)
	}
	dirPath, err := s.resolve(tenant, path)
	if err != nil {
		return "", ErrNotFound
	}
	if info, err := os.Stat(dirPath); err != nil || !info.IsDir() {
		return "", ErrNotFound
	}
	if err := os.RemoveAll(dirPath); err != nil {
		return "", fmt.Errorf("delete directory: %w", err)
	}
	return path, nil
}
