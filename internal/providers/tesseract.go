package providers

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const TesseractName = "tesseract"

// TesseractConfig configures the local tesseract CLI.
type TesseractConfig struct {
	Binary   string // Path or name of the tesseract executable (default: "tesseract")
	Language string // Traineddata language (default: "eng")
	PSM      int    // Page segmentation mode (default: 3, fully automatic)
	Timeout  time.Duration
}

// TesseractOCR implements OCRProvider by shelling out to tesseract.
// The image is piped on stdin and text read from stdout.
type TesseractOCR struct {
	binary   string
	language string
	psm      int
	timeout  time.Duration
}

// NewTesseractOCR creates a new tesseract-backed OCR provider.
func NewTesseractOCR(cfg TesseractConfig) *TesseractOCR {
	if cfg.Binary == "" {
		cfg.Binary = "tesseract"
	}
	if cfg.Language == "" {
		cfg.Language = "eng"
	}
	if cfg.PSM == 0 {
		cfg.PSM = 3
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &TesseractOCR{
		binary:   cfg.Binary,
		language: cfg.Language,
		psm:      cfg.PSM,
		timeout:  cfg.Timeout,
	}
}

// Name returns the provider identifier.
func (t *TesseractOCR) Name() string {
	return TesseractName
}

// Args returns the command-line arguments passed to tesseract.
func (t *TesseractOCR) Args() []string {
	return []string{"stdin", "stdout", "-l", t.language, "--psm", strconv.Itoa(t.psm)}
}

// ProcessImage runs tesseract over a single page image.
func (t *TesseractOCR) ProcessImage(ctx context.Context, image []byte, pageNum int) (*OCRResult, error) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, t.binary, t.Args()...)
	cmd.Stdin = bytes.NewReader(image)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		return &OCRResult{
			ErrorMessage:  msg,
			ExecutionTime: time.Since(start),
		}, fmt.Errorf("tesseract page %d: %w: %s", pageNum, err, msg)
	}

	return &OCRResult{
		Success: true,
		Text:    stdout.String(),
		Metadata: map[string]any{
			"page_num": pageNum,
			"language": t.language,
			"psm":      t.psm,
		},
		ExecutionTime: time.Since(start),
	}, nil
}

// Verify interface
var _ OCRProvider = (*TesseractOCR)(nil)
