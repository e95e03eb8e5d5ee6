package extractor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/rrbip/batirama-connect-sub002/internal/pkg/logger"
)

// CommandRunner runs an external tool and returns its stdout.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

type pdfExtractor struct {
	runner CommandRunner
	logger logger.ILogger
}

// extract tries pdftotext -layout first and falls back to the pure Go parser when the tool is
// missing, fails or yields only whitespace.
func (p *pdfExtractor) extract(ctx context.Context, data []byte) (string, error) {
	text, toolErr := p.withTool(ctx, data)
	if toolErr == nil && strings.TrimSpace(text) != "" {
		return text, nil
	}
	if toolErr != nil {
		p.logger.Warn("EXTRACTOR", "pdftotext failed, using library fallback", map[string]interface{}{
			"error": toolErr.Error(),
		})
	}

	text, libErr := withLibrary(data)
	if libErr != nil {
		if toolErr != nil {
			return "", fmt.Errorf("%w: pdftotext: %v; parser: %v", ErrCorruptFile, toolErr, libErr)
		}
		return "", fmt.Errorf("%w: %v", ErrCorruptFile, libErr)
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyExtraction
	}
	return text, nil
}

func (p *pdfExtractor) withTool(ctx context.Context, data []byte) (string, error) {
	tmp, err := os.CreateTemp("", "extract-*.pdf")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}

	out, err := p.runner.Run(ctx, "pdftotext", "-layout", "-enc", "UTF-8", tmp.Name(), "-")
	if err != nil {
		return "", fmt.Errorf("pdftotext failed: %w", err)
	}
	return string(out), nil
}

func withLibrary(data []byte) (text string, err error) {
	// The parser panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf parser panic: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", err
	}
	return buf.String(), nil
}
