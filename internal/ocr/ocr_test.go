package ocr

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls [][]string
	fn    func(name string, args []string) ([]byte, []byte, error)
}

func (f *fakeRunner) Run(_ context.Context, name string, _ *slog.Logger, args ...string) ([]byte, []byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string{name}, args...))
	f.mu.Unlock()
	return f.fn(name, args)
}

const pancakeOCR = "Ingredients\n2 cups  flour\n1 cup milk\n|\n\n\n\n\nInstructions\nWhisk the batter and bake until golden."

func touch(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	return p
}

func TestNormalize(t *testing.T) {
	got := Normalize("Ingredients\r\n2 cups\t\tflour\n|\n_____\nl/2 tsp salt\n\n\n\n\n\nSteps")
	assert.Equal(t, "Ingredients\n2 cups flour\n\n1/2 tsp salt\n\n\nSteps", got)
	assert.Equal(t, "", Normalize(""))
}

func TestRecognize_UsesTesseractArgs(t *testing.T) {
	dir := t.TempDir()
	img := touch(t, dir, "card.jpg")
	r := &fakeRunner{fn: func(string, []string) ([]byte, []byte, error) {
		return []byte(pancakeOCR), nil, nil
	}}
	e := NewEngine(Config{DisablePreprocess: true, TessdataDir: "/td"}, r, nil)

	res, err := e.Recognize(context.Background(), img)
	require.NoError(t, err)
	require.Len(t, r.calls, 1)
	assert.Equal(t, []string{"tesseract", img, "stdout", "-l", "eng", "--psm", "6", "--tessdata-dir", "/td"}, r.calls[0])
	assert.Contains(t, res.Text, "2 cups flour")
	assert.NotContains(t, res.Text, "\n\n\n\n")
	assert.Equal(t, 1, res.Pages)
	assert.Greater(t, res.Confidence, float32(0.5))
}

func TestRecognize_TSVConfidenceBlend(t *testing.T) {
	dir := t.TempDir()
	img := touch(t, dir, "card.png")
	tsv := "level\tpage_num\tblock_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext\n" +
		"5\t1\t1\t1\t1\t1\t0\t0\t10\t10\t90\tflour\n" +
		"5\t1\t1\t1\t1\t2\t0\t0\t10\t10\t70\tmilk\n" +
		"4\t1\t1\t1\t1\t0\t0\t0\t10\t10\t-1\t\n"
	r := &fakeRunner{fn: func(_ string, args []string) ([]byte, []byte, error) {
		if args[len(args)-1] == "tsv" {
			return []byte(tsv), nil, nil
		}
		return []byte("salt"), nil, nil
	}}
	e := NewEngine(Config{DisablePreprocess: true, EnableTSVConfidence: true}, r, nil)

	res, err := e.Recognize(context.Background(), img)
	require.NoError(t, err)
	// 0.7*0.8 + 0.3*0.2
	assert.InDelta(t, 0.62, res.Confidence, 0.001)
}

func TestRecognize_RejectsUnsupported(t *testing.T) {
	e := NewEngine(Config{}, &fakeRunner{}, nil)
	_, err := e.Recognize(context.Background(), "recipe.pdf")
	assert.ErrorIs(t, err, ErrUnsupportedImage)
}

func TestRecognizePages_PartialFailure(t *testing.T) {
	dir := t.TempDir()
	a, b := touch(t, dir, "a.jpg"), touch(t, dir, "b.jpg")
	r := &fakeRunner{fn: func(_ string, args []string) ([]byte, []byte, error) {
		if args[0] == b {
			return nil, []byte("read error"), errors.New("exit status 1")
		}
		return []byte("1 cup milk"), nil, nil
	}}
	e := NewEngine(Config{DisablePreprocess: true}, r, nil)

	res, err := e.RecognizePages(context.Background(), []string{a, b})
	require.NoError(t, err)
	assert.Equal(t, "1 cup milk\n\n"+PageFailedMarker, res.Text)
	assert.Equal(t, 2, res.Pages)
	assert.Equal(t, 1, res.FailedPages)
}

func TestRecognizePages_AllFail(t *testing.T) {
	dir := t.TempDir()
	a := touch(t, dir, "a.jpg")
	r := &fakeRunner{fn: func(string, []string) ([]byte, []byte, error) {
		return nil, nil, errors.New("boom")
	}}
	e := NewEngine(Config{DisablePreprocess: true}, r, nil)

	_, err := e.RecognizePages(context.Background(), []string{a})
	assert.Error(t, err)
	_, err = e.RecognizePages(context.Background(), nil)
	assert.Error(t, err)
}

func TestHEICConversionIsCached(t *testing.T) {
	dir := t.TempDir()
	cache := filepath.Join(dir, "cache")
	photo := touch(t, dir, "IMG_0001.HEIC")
	converts := 0
	r := &fakeRunner{fn: func(name string, args []string) ([]byte, []byte, error) {
		if name == "magick" {
			converts++
			return nil, nil, os.WriteFile(args[1], []byte("png"), 0o644)
		}
		assert.True(t, strings.HasPrefix(args[0], cache), "tesseract should read the cached png")
		return []byte("2 eggs"), nil, nil
	}}
	e := NewEngine(Config{DisablePreprocess: true, ArtifactCacheDir: cache}, r, nil)

	for range 2 {
		res, err := e.Recognize(context.Background(), photo)
		require.NoError(t, err)
		assert.Equal(t, "2 eggs", res.Text)
	}
	assert.Equal(t, 1, converts)
}

func TestHEICUnknownConverter(t *testing.T) {
	dir := t.TempDir()
	photo := touch(t, dir, "a.heic")
	e := NewEngine(Config{DisablePreprocess: true, HeicConverter: "gimp"}, &fakeRunner{}, nil)
	_, err := e.Recognize(context.Background(), photo)
	assert.ErrorContains(t, err, "HEIC not supported")
}

func TestPreprocessImage(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 400, 200))
	for y := 0; y < 200; y++ {
		for x := 0; x < 400; x++ {
			c := color.RGBA{R: 230, G: 225, B: 210, A: 255}
			if x >= 100 && x < 300 && y >= 80 && y < 120 {
				c = color.RGBA{R: 20, G: 20, B: 30, A: 255}
			}
			src.Set(x, y, c)
		}
	}
	// salt noise the median filter should remove
	src.Set(10, 10, color.Black)

	got := PreprocessImage(src, 200)
	assert.Equal(t, image.Rect(0, 0, 200, 100), got.Bounds())
	assert.Equal(t, uint8(255), got.GrayAt(5, 5).Y)
	assert.Equal(t, uint8(0), got.GrayAt(100, 50).Y)
	for _, v := range got.Pix {
		assert.True(t, v == 0 || v == 255)
	}
}

func TestPreprocessFile(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.png")
	f, err := os.Create(in)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, image.NewGray(image.Rect(0, 0, 8, 8))))
	require.NoError(t, f.Close())

	out, err := preprocessFile(in, dir, 0)
	require.NoError(t, err)
	assert.FileExists(t, out)

	_, err = preprocessFile(touch(t, dir, "junk.png"), dir, 0)
	assert.Error(t, err)
}

func TestOtsuThreshold(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 4, 1))
	copy(img.Pix, []uint8{10, 12, 200, 210})
	level := otsuThreshold(img)
	assert.GreaterOrEqual(t, level, uint8(12))
	assert.Less(t, level, uint8(200))
}
