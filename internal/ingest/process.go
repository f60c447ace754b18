package ingest

import (
	"path/filepath"

	"github.com/docuchat/docuchat/internal/store"
	"github.com/sirupsen/logrus"
)

// UploadedFile is a file as received from the upload surface: a name and its
// raw byte content.
type UploadedFile struct {
	Name string
	Data []byte
}

// RawDocument is the extracted plain text of one uploaded file, tagged with
// its provenance. The owner is injected later, by the splitter.
type RawDocument struct {
	Text     string
	Metadata map[string]string
}

// Process extracts plain text from each uploaded file. Files with unsupported
// extensions are silently skipped; a file that fails extraction is logged and
// skipped without aborting the batch. The result preserves the input order of
// the files that succeeded.
func Process(files []UploadedFile) []RawDocument {
	var docs []RawDocument
	for _, file := range files {
		fileType := FileTypeOf(file.Name)
		if fileType == FileTypeUnsupported {
			logrus.Warnf("Unsupported file type for %q, skipping", file.Name)
			continue
		}

		text, err := extractors[fileType](file.Data)
		if err != nil {
			logrus.Warnf("Failed to extract text from %q: %v. Skipping.", file.Name, err)
			continue
		}

		docs = append(docs, RawDocument{
			Text: text,
			Metadata: map[string]string{
				store.MetaSource: filepath.Base(file.Name),
			},
		})
	}
	return docs
}
