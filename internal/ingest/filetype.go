package ingest

import (
	"path/filepath"
	"strings"
)

// FileType identifies the kind of uploaded file, resolved once from the
// filename extension and dispatched through the extractor table.
type FileType int

const (
	FileTypeUnsupported FileType = iota
	FileTypePDF
	FileTypeTxt
	FileTypeDocx
)

func (t FileType) String() string {
	switch t {
	case FileTypePDF:
		return "pdf"
	case FileTypeTxt:
		return "txt"
	case FileTypeDocx:
		return "docx"
	default:
		return "unsupported"
	}
}

// FileTypeOf resolves the file type from the filename's extension.
func FileTypeOf(filename string) FileType {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return FileTypePDF
	case ".txt":
		return FileTypeTxt
	case ".docx":
		return FileTypeDocx
	default:
		return FileTypeUnsupported
	}
}

// extractFunc turns a file's raw bytes into plain text.
type extractFunc func(data []byte) (string, error)

var extractors = map[FileType]extractFunc{
	FileTypePDF:  extractPDF,
	FileTypeTxt:  extractTxt,
	FileTypeDocx: extractDocx,
}
