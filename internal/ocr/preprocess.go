package ocr

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"os"
	"sort"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// PreprocessImage makes a photo easier to OCR: grayscale, downscale so the
// longest side is at most maxDim (0 disables), 3x3 median noise reduction
// and an Otsu global threshold. The result is pure black and white.
func PreprocessImage(src image.Image, maxDim int) *image.Gray {
	b := src.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(gray, gray.Bounds(), src, b.Min, draw.Src)

	if w, h := gray.Bounds().Dx(), gray.Bounds().Dy(); maxDim > 0 && max(w, h) > maxDim {
		scale := float64(maxDim) / float64(max(w, h))
		nw, nh := max(1, int(float64(w)*scale)), max(1, int(float64(h)*scale))
		scaled := image.NewGray(image.Rect(0, 0, nw, nh))
		draw.CatmullRom.Scale(scaled, scaled.Bounds(), gray, gray.Bounds(), draw.Src, nil)
		gray = scaled
	}

	gray = median3x3(gray)
	threshold(gray, otsuThreshold(gray))
	return gray
}

// preprocessFile decodes in, preprocesses it and writes a PNG into dir.
func preprocessFile(in, dir string, maxDim int) (string, error) {
	f, err := os.Open(in)
	if err != nil {
		return "", err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", in, err)
	}

	out, err := os.CreateTemp(dir, "ri-pre-*.png")
	if err != nil {
		return "", err
	}
	if err := png.Encode(out, PreprocessImage(img, maxDim)); err != nil {
		_ = out.Close()
		_ = os.Remove(out.Name())
		return "", fmt.Errorf("encode preprocessed image: %w", err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(out.Name())
		return "", err
	}
	return out.Name(), nil
}

func median3x3(src *image.Gray) *image.Gray {
	b := src.Bounds()
	dst := image.NewGray(b)
	var window [9]uint8
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			n := 0
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					px, py := clamp(x+dx, b.Min.X, b.Max.X-1), clamp(y+dy, b.Min.Y, b.Max.Y-1)
					window[n] = src.GrayAt(px, py).Y
					n++
				}
			}
			w := window[:]
			sort.Slice(w, func(i, j int) bool { return w[i] < w[j] })
			dst.Pix[dst.PixOffset(x, y)] = w[4]
		}
	}
	return dst
}

// otsuThreshold picks the gray level that maximises between-class variance.
func otsuThreshold(img *image.Gray) uint8 {
	var hist [256]int
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			hist[img.GrayAt(x, y).Y]++
		}
	}
	total := b.Dx() * b.Dy()
	if total == 0 {
		return 128
	}

	var sum float64
	for i, c := range hist {
		sum += float64(i * c)
	}
	var sumB, best float64
	var wB int
	var level uint8
	for t := 0; t < 256; t++ {
		wB += hist[t]
		if wB == 0 {
			continue
		}
		wF := total - wB
		if wF == 0 {
			break
		}
		sumB += float64(t * hist[t])
		mB := sumB / float64(wB)
		mF := (sum - sumB) / float64(wF)
		between := float64(wB) * float64(wF) * (mB - mF) * (mB - mF)
		if between > best {
			best = between
			level = uint8(t)
		}
	}
	return level
}

func threshold(img *image.Gray, level uint8) {
	for i, v := range img.Pix {
		if v > level {
			img.Pix[i] = 255
		} else {
			img.Pix[i] = 0
		}
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
