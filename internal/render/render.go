// Package render turns an uploaded document into page images.
// PDFs are rasterized page by page with pdftoppm; single images pass through.
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"golang.org/x/sync/errgroup"

	// Decoders for uploaded page images.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrUnsupportedFormat is returned for bytes that are neither a PDF nor a
// decodable image.
var ErrUnsupportedFormat = errors.New("unsupported document format")

// Page is one rendered page. Index is 0-based. Err is set, and Image is
// empty, when this page alone could not be rasterized.
type Page struct {
	Index  int
	Image  []byte
	Format string // "png" for rasterized PDF pages, else the decoded image format
	Err    error
}

// Renderer splits a document into page images. A page that fails on its
// own is returned with Err set; an error return means no page is usable.
type Renderer interface {
	Render(ctx context.Context, doc []byte) ([]Page, error)
}

// Config configures a Rasterizer.
type Config struct {
	DPI      int    // Rasterization resolution (default 300)
	Workers  int    // Concurrent pdftoppm processes (default NumCPU)
	PDFToPPM string // pdftoppm binary (default "pdftoppm")
	Logger   *slog.Logger
}

// Rasterizer is the default Renderer.
type Rasterizer struct {
	dpi      int
	workers  int
	pdftoppm string
	logger   *slog.Logger
}

// New creates a Rasterizer.
func New(cfg Config) *Rasterizer {
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.PDFToPPM == "" {
		cfg.PDFToPPM = "pdftoppm"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Rasterizer{
		dpi:      cfg.DPI,
		workers:  cfg.Workers,
		pdftoppm: cfg.PDFToPPM,
		logger:   cfg.Logger,
	}
}

// IsPDF reports whether doc starts with the PDF magic bytes.
func IsPDF(doc []byte) bool {
	return bytes.HasPrefix(doc, []byte("%PDF-"))
}

// Render returns the pages of doc in order.
func (r *Rasterizer) Render(ctx context.Context, doc []byte) ([]Page, error) {
	if len(doc) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrUnsupportedFormat)
	}
	if IsPDF(doc) {
		return r.renderPDF(ctx, doc)
	}

	_, format, err := image.DecodeConfig(bytes.NewReader(doc))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	return []Page{{Index: 0, Image: doc, Format: format}}, nil
}

func (r *Rasterizer) renderPDF(ctx context.Context, doc []byte) ([]Page, error) {
	pageCount, err := api.PageCount(bytes.NewReader(doc), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get page count: %w", err)
	}
	if pageCount == 0 {
		return nil, fmt.Errorf("PDF has no pages")
	}

	tmpDir, err := os.MkdirTemp("", "grader-doc-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	pdfPath := filepath.Join(tmpDir, "document.pdf")
	if err := os.WriteFile(pdfPath, doc, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write PDF: %w", err)
	}

	r.logger.Debug("rasterizing PDF", "pages", pageCount, "dpi", r.dpi)

	pages := r.rasterize(ctx, pageCount, func(ctx context.Context, page int) ([]byte, error) {
		return r.renderPage(ctx, pdfPath, tmpDir, page)
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return pages, nil
}

// rasterize renders pages 1..count with at most r.workers at a time. A page
// that fails keeps its slot with Err set.
func (r *Rasterizer) rasterize(ctx context.Context, count int, fn func(ctx context.Context, page int) ([]byte, error)) []Page {
	pages := make([]Page, count)
	var g errgroup.Group
	g.SetLimit(r.workers)
	for i := 0; i < count; i++ {
		g.Go(func() error {
			pages[i] = Page{Index: i, Format: "png"}
			data, err := fn(ctx, i+1)
			if err != nil {
				r.logger.Warn("failed to render page", "page", i, "error", err)
				pages[i].Err = fmt.Errorf("render page %d: %w", i+1, err)
				return nil
			}
			pages[i].Image = data
			return nil
		})
	}
	_ = g.Wait()
	return pages
}

// renderPage renders a single 1-based page using pdftoppm (poppler-utils).
func (r *Rasterizer) renderPage(ctx context.Context, pdfPath, tmpDir string, pageInPDF int) ([]byte, error) {
	outputPrefix := filepath.Join(tmpDir, fmt.Sprintf("page_%04d", pageInPDF))

	// -singlefile: don't add page number suffix
	pageStr := strconv.Itoa(pageInPDF)
	cmd := exec.CommandContext(ctx, r.pdftoppm,
		"-png",
		"-f", pageStr,
		"-l", pageStr,
		"-r", strconv.Itoa(r.dpi),
		"-singlefile",
		pdfPath,
		outputPrefix,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("pdftoppm failed: %w (output: %s)", err, string(output))
	}

	data, err := os.ReadFile(outputPrefix + ".png")
	if err != nil {
		return nil, fmt.Errorf("pdftoppm did not create expected output: %w", err)
	}
	return data, nil
}

var _ Renderer = (*Rasterizer)(nil)
