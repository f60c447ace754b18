package ingest

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"baliance.com/gooxml/document"
	"github.com/ledongthuc/pdf"
)

func extractPDF(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to open pdf: %w", err)
	}

	plainText, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("failed to extract pdf text: %w", err)
	}

	var builder strings.Builder
	if _, err := io.Copy(&builder, plainText); err != nil {
		return "", fmt.Errorf("failed to read pdf text: %w", err)
	}
	return builder.String(), nil
}

func extractTxt(data []byte) (string, error) {
	return string(data), nil
}

func extractDocx(data []byte) (string, error) {
	doc, err := document.Read(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to open docx: %w", err)
	}

	var builder strings.Builder
	for _, paragraph := range doc.Paragraphs() {
		for _, run := range paragraph.Runs() {
			builder.WriteString(run.Text())
		}
		builder.WriteString("\n")
	}
	return builder.String(), nil
}
