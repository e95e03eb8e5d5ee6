package extractor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rrbip/batirama-connect-sub002/internal/pkg/logger"
	"github.com/rrbip/batirama-connect-sub002/pkg/ragerr"
	"github.com/rrbip/batirama-connect-sub002/pkg/storage"
)

var (
	ErrUnsupportedFormat = errors.New("extractor: unsupported format")
	ErrCorruptFile       = errors.New("extractor: corrupt file")
	ErrEmptyExtraction   = errors.New("extractor: no text could be extracted")
)

type FileType string

const (
	TypePDF      FileType = "pdf"
	TypeDOCX     FileType = "docx"
	TypeHTML     FileType = "html"
	TypeText     FileType = "txt"
	TypeMarkdown FileType = "md"
)

// FileRef points at a stored upload. Type may be empty, in which case it is derived from the
// path extension.
type FileRef struct {
	Path string
	Type FileType
}

func (f FileRef) resolvedType() FileType {
	t := FileType(strings.ToLower(strings.TrimPrefix(string(f.Type), ".")))
	if t == "" {
		t = FileType(strings.ToLower(strings.TrimPrefix(filepath.Ext(f.Path), ".")))
	}
	switch t {
	case "htm", "text/html":
		return TypeHTML
	case "text", "text/plain":
		return TypeText
	case "markdown", "text/markdown":
		return TypeMarkdown
	case "application/pdf":
		return TypePDF
	}
	return t
}

type Extractor struct {
	blobs  storage.BlobStore
	pdf    *pdfExtractor
	logger logger.ILogger
}

func NewExtractor(blobs storage.BlobStore, runner CommandRunner, log logger.ILogger) *Extractor {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Extractor{
		blobs:  blobs,
		pdf:    &pdfExtractor{runner: runner, logger: log},
		logger: log,
	}
}

// Extract returns normalized text. Content failures are ragerr extraction errors wrapping
// ErrUnsupportedFormat, ErrCorruptFile or ErrEmptyExtraction. Storage I/O errors come back
// unwrapped so the caller can retry them.
func (e *Extractor) Extract(ctx context.Context, ref FileRef) (string, error) {
	fileType := ref.resolvedType()
	switch fileType {
	case TypePDF, TypeDOCX, TypeHTML, TypeText, TypeMarkdown:
	default:
		return "", ragerr.New(ragerr.KindExtraction, "extract", fmt.Errorf("%w: %q", ErrUnsupportedFormat, fileType))
	}

	data, err := e.blobs.Read(ctx, ref.Path)
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrInvalidPath):
		return "", ragerr.New(ragerr.KindExtraction, "extract", fmt.Errorf("%w: read %s: %v", ErrCorruptFile, ref.Path, err))
	case err != nil:
		return "", fmt.Errorf("read %s: %w", ref.Path, err)
	}

	raw, err := e.extractBytes(ctx, fileType, data)
	if err != nil {
		return "", ragerr.New(ragerr.KindExtraction, "extract", err)
	}

	text := Normalize(raw)
	if text == "" {
		return "", ragerr.New(ragerr.KindExtraction, "extract", ErrEmptyExtraction)
	}

	e.logger.Info("EXTRACTOR", "Text extracted", map[string]interface{}{
		"path":  ref.Path,
		"type":  string(fileType),
		"chars": len(text),
	})
	return text, nil
}

func (e *Extractor) extractBytes(ctx context.Context, fileType FileType, data []byte) (string, error) {
	switch fileType {
	case TypePDF:
		return e.pdf.extract(ctx, data)
	case TypeDOCX:
		return extractDOCX(data)
	case TypeHTML:
		return extractHTML(data)
	default:
		return string(data), nil
	}
}
