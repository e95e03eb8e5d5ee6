package extractor

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rrbip/batirama-connect-sub002/internal/pkg/logger"
	"github.com/rrbip/batirama-connect-sub002/pkg/ragerr"
	"github.com/rrbip/batirama-connect-sub002/pkg/storage"
)

type mockRunner struct {
	output []byte
	err    error
	calls  int
}

func (m *mockRunner) Run(_ context.Context, _ string, _ ...string) ([]byte, error) {
	m.calls++
	return m.output, m.err
}

func newTestExtractor(t *testing.T, runner CommandRunner, files map[string][]byte) *Extractor {
	t.Helper()
	store := storage.NewLocalStore(t.TempDir())
	for path, data := range files {
		require.NoError(t, store.Write(context.Background(), path, data))
	}
	return NewExtractor(store, runner, logger.NewNopLogger())
}

func buildDOCX(t *testing.T, documentXML string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(documentXML))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"crlf", "a\r\nb\rc", "a\nb\nc"},
		{"collapse spaces", "a   \t b", "a b"},
		{"trim lines", "  a  \n   b ", "a\nb"},
		{"cap blank runs", "a\n\n\n\n\nb", "a\n\nb"},
		{"whitespace-only lines count as blank", "a\n   \n \t \nb", "a\n\nb"},
		{"leading and trailing blanks", "\n\n a \n\n", "a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestExtract_PlainText(t *testing.T) {
	e := newTestExtractor(t, &mockRunner{}, map[string][]byte{
		"notes.txt": []byte("Hello   world\r\n\r\n\r\nSecond   paragraph  "),
	})

	text, err := e.Extract(context.Background(), FileRef{Path: "notes.txt"})
	require.NoError(t, err)
	assert.Equal(t, "Hello world\n\nSecond paragraph", text)
}

func TestExtract_UnsupportedFormat(t *testing.T) {
	e := newTestExtractor(t, &mockRunner{}, nil)

	_, err := e.Extract(context.Background(), FileRef{Path: "image.png"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
	assert.ErrorIs(t, err, ragerr.ErrExtraction)
	assert.False(t, ragerr.Retryable(err))
}

func TestExtract_EmptyResult(t *testing.T) {
	e := newTestExtractor(t, &mockRunner{}, map[string][]byte{
		"blank.md": []byte("  \n\n \t "),
	})

	_, err := e.Extract(context.Background(), FileRef{Path: "blank.md"})
	assert.ErrorIs(t, err, ErrEmptyExtraction)
}

func TestExtract_HTML(t *testing.T) {
	page := `<html><head><title>T</title><style>p{}</style></head>
<body><h1>Title</h1><p>First &amp; only</p><script>alert(1)</script><p>Next</p></body></html>`
	e := newTestExtractor(t, &mockRunner{}, map[string][]byte{"page.html": []byte(page)})

	text, err := e.Extract(context.Background(), FileRef{Path: "page.html"})
	require.NoError(t, err)
	assert.Equal(t, "Title\n\nFirst & only\n\nNext", text)
	assert.NotContains(t, text, "alert")
}

func TestExtract_DOCX(t *testing.T) {
	doc := buildDOCX(t, `<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
<w:body>
<w:p><w:r><w:t>Hello</w:t></w:r><w:r><w:t xml:space="preserve"> world</w:t></w:r></w:p>
<w:p><w:r><w:t>Second</w:t></w:r></w:p>
</w:body></w:document>`)
	e := newTestExtractor(t, &mockRunner{}, map[string][]byte{"file.docx": doc})

	text, err := e.Extract(context.Background(), FileRef{Path: "file.docx", Type: TypeDOCX})
	require.NoError(t, err)
	assert.Equal(t, "Hello world\n\nSecond", text)
}

func TestExtract_CorruptDOCX(t *testing.T) {
	e := newTestExtractor(t, &mockRunner{}, map[string][]byte{"bad.docx": []byte("not a zip")})

	_, err := e.Extract(context.Background(), FileRef{Path: "bad.docx"})
	assert.ErrorIs(t, err, ErrCorruptFile)
}

func TestExtract_PDFUsesToolOutput(t *testing.T) {
	runner := &mockRunner{output: []byte("Invoice\n\n\n\nTotal   42")}
	e := newTestExtractor(t, runner, map[string][]byte{"doc.pdf": []byte("%PDF-1.4 fake")})

	text, err := e.Extract(context.Background(), FileRef{Path: "doc.pdf"})
	require.NoError(t, err)
	assert.Equal(t, "Invoice\n\nTotal 42", text)
	assert.Equal(t, 1, runner.calls)
}

func TestExtract_PDFToolAndFallbackFail(t *testing.T) {
	runner := &mockRunner{err: errors.New("pdftotext crashed")}
	e := newTestExtractor(t, runner, map[string][]byte{"doc.pdf": []byte("%PDF-1.4 fake")})

	_, err := e.Extract(context.Background(), FileRef{Path: "doc.pdf"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCorruptFile)
	assert.Contains(t, err.Error(), "pdftotext failed")
}

func TestExtract_MissingFile(t *testing.T) {
	e := newTestExtractor(t, &mockRunner{}, nil)

	_, err := e.Extract(context.Background(), FileRef{Path: "gone.txt"})
	assert.ErrorIs(t, err, ErrCorruptFile)
}

type brokenStore struct {
	storage.BlobStore
	err error
}

func (b brokenStore) Read(context.Context, string) ([]byte, error) {
	return nil, b.err
}

func TestExtract_StorageErrorIsRetryable(t *testing.T) {
	ioErr := errors.New("read /data/blobs/doc.txt: input/output error")
	e := NewExtractor(brokenStore{err: ioErr}, &mockRunner{}, logger.NewNopLogger())

	_, err := e.Extract(context.Background(), FileRef{Path: "doc.txt"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ioErr)
	assert.NotErrorIs(t, err, ErrCorruptFile)
	assert.NotErrorIs(t, err, ragerr.ErrExtraction)
	assert.True(t, ragerr.Retryable(err))
}
