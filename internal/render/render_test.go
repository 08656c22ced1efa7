package render

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 4))
	for x := 0; x < 8; x++ {
		img.Set(x, 1, color.Black)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestIsPDF(t *testing.T) {
	if !IsPDF([]byte("%PDF-1.7\n...")) {
		t.Error("IsPDF(pdf) = false, want true")
	}
	if IsPDF(pngBytes(t)) {
		t.Error("IsPDF(png) = true, want false")
	}
}

func TestRender_Image(t *testing.T) {
	doc := pngBytes(t)
	pages, err := New(Config{}).Render(context.Background(), doc)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if len(pages) != 1 {
		t.Fatalf("len(pages) = %d, want 1", len(pages))
	}
	if pages[0].Index != 0 {
		t.Errorf("Index = %d, want 0", pages[0].Index)
	}
	if pages[0].Format != "png" {
		t.Errorf("Format = %q, want png", pages[0].Format)
	}
	if !bytes.Equal(pages[0].Image, doc) {
		t.Error("image bytes were modified")
	}
}

func TestRender_Unsupported(t *testing.T) {
	for name, doc := range map[string][]byte{
		"empty": nil,
		"text":  []byte("Q: what is 2+2? A: 4"),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := New(Config{}).Render(context.Background(), doc)
			if !errors.Is(err, ErrUnsupportedFormat) {
				t.Errorf("Render() error = %v, want ErrUnsupportedFormat", err)
			}
		})
	}
}

func TestRender_CorruptPDF(t *testing.T) {
	_, err := New(Config{}).Render(context.Background(), []byte("%PDF-1.4\nnot really a pdf"))
	if err == nil {
		t.Error("Render() error = nil, want page count failure")
	}
}

func TestNew_Defaults(t *testing.T) {
	r := New(Config{})
	if r.dpi != 300 {
		t.Errorf("dpi = %d, want 300", r.dpi)
	}
	if r.workers < 1 {
		t.Errorf("workers = %d, want >= 1", r.workers)
	}
	if r.pdftoppm != "pdftoppm" {
		t.Errorf("pdftoppm = %q, want pdftoppm", r.pdftoppm)
	}
}

func TestRasterize_FailedPageKeepsOthers(t *testing.T) {
	r := New(Config{Workers: 2})
	errBoom := errors.New("pdftoppm exited 1")

	pages := r.rasterize(context.Background(), 3, func(_ context.Context, page int) ([]byte, error) {
		if page == 2 {
			return nil, errBoom
		}
		return []byte{byte(page)}, nil
	})

	if len(pages) != 3 {
		t.Fatalf("len(pages) = %d, want 3", len(pages))
	}
	for i, p := range pages {
		if p.Index != i {
			t.Errorf("pages[%d].Index = %d", i, p.Index)
		}
	}
	if !errors.Is(pages[1].Err, errBoom) {
		t.Errorf("pages[1].Err = %v, want %v", pages[1].Err, errBoom)
	}
	if pages[1].Image != nil {
		t.Errorf("pages[1].Image = %v, want nil", pages[1].Image)
	}
	for _, i := range []int{0, 2} {
		if pages[i].Err != nil {
			t.Errorf("pages[%d].Err = %v, want nil", i, pages[i].Err)
		}
		if !bytes.Equal(pages[i].Image, []byte{byte(i + 1)}) {
			t.Errorf("pages[%d].Image = %v", i, pages[i].Image)
		}
	}
}
