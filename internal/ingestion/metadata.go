package ingestion

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/54b3r/convrag/internal/rag"
)

// Metadata keys added to every chunk by the loader, alongside the identity
// keys defined by package rag.
const (
	MetaSource   = "source"
	MetaFileType = "file_type"
)

// FileType is the normalised kind of a source file.
type FileType string

const (
	FileTypeText     FileType = "txt"
	FileTypeMarkdown FileType = "md"
	FileTypeCSV      FileType = "csv"
	FileTypePDF      FileType = "pdf"
	FileTypeDOCX     FileType = "docx"
	FileTypeImage    FileType = "image"
)

// ErrUnsupportedType is returned for files whose type cannot be read as text
// by this package.
var ErrUnsupportedType = errors.New("ingestion: unsupported file type")

// extensionAliases maps a lowercase file extension (without the dot) to its
// canonical FileType.
var extensionAliases = map[string]FileType{
	"txt":      FileTypeText,
	"text":     FileTypeText,
	"log":      FileTypeText,
	"md":       FileTypeMarkdown,
	"markdown": FileTypeMarkdown,
	"csv":      FileTypeCSV,
	"pdf":      FileTypePDF,
	"doc":      FileTypeDOCX,
	"docx":     FileTypeDOCX,
	"png":      FileTypeImage,
	"jpg":      FileTypeImage,
	"jpeg":     FileTypeImage,
}

// InferFileType returns the FileType of path from its extension. An explicit
// hint such as "markdown" or ".CSV" takes precedence over the extension.
func InferFileType(path, hint string) (FileType, error) {
	key := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(hint)), ".")
	if key == "" {
		key = strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	}
	ft, ok := extensionAliases[key]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, key)
	}
	return ft, nil
}

// Readable reports whether the loader can extract text from t without an
// external extraction step.
func (t FileType) Readable() bool {
	switch t {
	case FileTypeText, FileTypeMarkdown, FileTypeCSV:
		return true
	default:
		return false
	}
}

// BaseMetadata returns the metadata attached to every chunk of a file: its
// source path, type, display name and the conversation and file identity.
// A blank displayName falls back to the base name of path.
func BaseMetadata(path string, ft FileType, displayName, conversationID, fileID string) rag.Metadata {
	if strings.TrimSpace(displayName) == "" {
		displayName = filepath.Base(path)
	}
	return rag.Metadata{
		MetaSource:             path,
		MetaFileType:           string(ft),
		rag.MetaFileName:       displayName,
		rag.MetaConversationID: conversationID,
		rag.MetaFileID:         fileID,
	}
}
