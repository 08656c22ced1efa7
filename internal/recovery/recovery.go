// Package recovery converts rendered pages into cleaned plain text:
// grayscale, Otsu binarization, OCR, then cleansing.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackzampolin/grader/internal/providers"
	"github.com/jackzampolin/grader/internal/render"
)

// ErrRecovery marks a page whose text could not be recovered.
var ErrRecovery = errors.New("text recovery failed")

// RecoveryError reports a failed page. Callers skip the page and continue.
type RecoveryError struct {
	Page int
	Err  error
}

func (e *RecoveryError) Error() string {
	return fmt.Sprintf("page %d: %v", e.Page, e.Err)
}

func (e *RecoveryError) Unwrap() []error { return []error{ErrRecovery, e.Err} }

// Page is a page index plus its cleaned text.
type Page struct {
	Index int    `json:"index" yaml:"index"`
	Text  string `json:"text" yaml:"text"`
}

// Config configures a Recoverer.
type Config struct {
	OCR providers.OCRProvider

	// SkipPreprocess sends page images to OCR unmodified. Useful for OCR
	// providers that do their own image cleanup.
	SkipPreprocess bool

	Logger *slog.Logger
}

// Recoverer runs text recovery for one page at a time.
type Recoverer struct {
	ocr            providers.OCRProvider
	skipPreprocess bool
	logger         *slog.Logger
}

// New creates a Recoverer.
func New(cfg Config) *Recoverer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Recoverer{
		ocr:            cfg.OCR,
		skipPreprocess: cfg.SkipPreprocess,
		logger:         cfg.Logger,
	}
}

// Recover returns the cleaned text of page. Every failure is a *RecoveryError.
func (r *Recoverer) Recover(ctx context.Context, page render.Page) (Page, error) {
	fail := func(err error) (Page, error) {
		return Page{Index: page.Index}, &RecoveryError{Page: page.Index, Err: err}
	}

	if page.Err != nil {
		return fail(page.Err)
	}
	if r.ocr == nil {
		return fail(errors.New("no OCR provider configured"))
	}

	img := page.Image
	if !r.skipPreprocess {
		var err error
		if img, err = Preprocess(page.Image); err != nil {
			return fail(err)
		}
	}

	// OCR providers number pages from 1.
	result, err := r.ocr.ProcessImage(ctx, img, page.Index+1)
	if err != nil {
		return fail(fmt.Errorf("%s: %w", r.ocr.Name(), err))
	}
	if result == nil || !result.Success {
		msg := "no result"
		if result != nil && result.ErrorMessage != "" {
			msg = result.ErrorMessage
		}
		return fail(fmt.Errorf("%s: %s", r.ocr.Name(), msg))
	}

	text := Cleanse(result.Text)
	r.logger.Debug("recovered page text", "page", page.Index, "ocr", r.ocr.Name(), "chars", len(text))
	return Page{Index: page.Index, Text: text}, nil
}
