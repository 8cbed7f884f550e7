package extract

import (
	"context"
	"time"

	"github.com/joseph-ayodele/recipe-ingest/internal/ocr"
	"github.com/joseph-ayodele/recipe-ingest/internal/parser"
	"github.com/joseph-ayodele/recipe-ingest/internal/scrape"
)

// Source is the raw input of one extraction. It is one of Image, URL or Text.
type Source interface {
	isSource()
}

// Image is one or more photos of the same source, in page order.
type Image struct {
	Paths []string
}

// URL is a recipe web page.
type URL struct {
	URL string
}

// Text is already plain text: manual input or a decoded email body.
type Text struct {
	Body string
}

func (Image) isSource() {}
func (URL) isSource()   {}
func (Text) isSource()  {}

type Result struct {
	Text string
	// Streams is set for paired photos; Text then holds both streams
	// under INGREDIENTS:/INSTRUCTIONS: headings.
	Streams    []parser.Stream
	Pages      int
	Method     string // "image-ocr" | "paired-ocr" | "json-ld" | "html" | "text" | "browser" | "passthrough"
	Title      string
	Duration   time.Duration
	Warnings   []string
	Confidence float32
}

// Recognizer OCRs photos.
type Recognizer interface {
	Recognize(ctx context.Context, path string) (ocr.Result, error)
	RecognizePages(ctx context.Context, paths []string) (ocr.Result, error)
}

// Scraper fetches a web page's recipe text.
type Scraper interface {
	Scrape(ctx context.Context, url string) (scrape.Page, error)
}
