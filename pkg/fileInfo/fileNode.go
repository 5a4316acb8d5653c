package fileInfo

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rescp17/meshxfer/pkg/transfer"
)

// FileNode describes one regular file offered for sending or written by the
// receiver.
type FileNode struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	MimeType string    `json:"mime_type,omitempty"`
	Checksum string    `json:"checksum,omitempty"`
	ModTime  time.Time `json:"mod_time"`
	Path     string    `json:"-"`
}

// CreateNode stats path and fills in type and checksum. Directories are
// rejected: a transfer carries exactly one file.
func CreateNode(path string) (FileNode, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileNode{}, err
	}
	if info.IsDir() {
		return FileNode{}, fmt.Errorf("%s: %w", path, transfer.ErrIsDir)
	}
	if !info.Mode().IsRegular() {
		return FileNode{}, fmt.Errorf("%s is not a regular file", path)
	}

	node := FileNode{
		Name:    filepath.Base(path),
		Size:    info.Size(),
		ModTime: info.ModTime(),
		Path:    path,
	}

	mime, err := mimetype.DetectFile(path)
	if err != nil {
		node.MimeType = "application/octet-stream"
	} else {
		node.MimeType = mime.String()
	}

	if _, err := node.CalcChecksum(); err != nil {
		return FileNode{}, err
	}
	return node, nil
}

// ReadContent loads the whole file. Radio transfers are small enough that
// the sender encodes the content in one piece.
func (n *FileNode) ReadContent() ([]byte, error) {
	data, err := os.ReadFile(n.Path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", n.Name, err)
	}
	return data, nil
}
