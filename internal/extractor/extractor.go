// Package extractor turns an uploaded resume document into a best-effort
// candidate profile. Text comes from the PDF or DOCX text layer; the
// name, email and phone fields are regex heuristics over that text.
package extractor

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/fumiama/go-docx"
	"github.com/ledongthuc/pdf"

	"github.com/crispai/crisp/internal/domain"
	"github.com/crispai/crisp/internal/errors"
)

const (
	MediaTypePDF  = "application/pdf"
	MediaTypeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

	// MaxDocumentSize is the upload ceiling: 10 MiB.
	MaxDocumentSize = 10 << 20
)

// Document is an uploaded resume blob with its declared media type.
type Document struct {
	Data      []byte
	MediaType string
}

// Extract reads the document's text layer and runs the field heuristics.
// Returns CodeInvalidArgument for an unsupported media type or an
// oversized document, CodeDataLoss when the text layer cannot be read.
func Extract(doc Document) (domain.Profile, error) {
	if len(doc.Data) > MaxDocumentSize {
		return domain.Profile{}, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("document exceeds %d MiB limit", MaxDocumentSize>>20))
	}

	var (
		text string
		err  error
	)

	switch doc.MediaType {
	case MediaTypePDF:
		text, err = pdfText(doc.Data)
	case MediaTypeDOCX:
		text, err = docxText(doc.Data)
	default:
		return domain.Profile{}, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("unsupported media type %q, only PDF and DOCX are accepted", doc.MediaType))
	}

	if err != nil {
		return domain.Profile{}, errors.New(errors.CodeDataLoss,
			errors.WithMessagef("cannot read document text"),
			errors.WithCause(err))
	}

	p := ExtractFields(text)
	p.RawText = text
	return p, nil
}

func pdfText(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	var b strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}

		rows, err := page.GetTextByRow()
		if err != nil {
			return "", fmt.Errorf("read pdf page %d: %w", i, err)
		}

		for _, row := range rows {
			for j, word := range row.Content {
				if j > 0 {
					b.WriteString(" ")
				}
				b.WriteString(word.S)
			}
			b.WriteString("\n")
		}
	}

	return b.String(), nil
}

func docxText(data []byte) (string, error) {
	doc, err := docx.Parse(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}

	var b strings.Builder
	for _, item := range doc.Document.Body.Items {
		if p, ok := item.(*docx.Paragraph); ok {
			b.WriteString(p.String())
			b.WriteString("\n")
		}
	}

	return b.String(), nil
}
