// Package imaging implements the synchronous recompression transform.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"math"
	"strconv"
	"strings"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// Compression defaults and limits
const (
	DefaultQuality = 80
	MinQuality     = 1
	MaxQuality     = 100
	MaxWidth       = 1200
	OutputMimeType = "image/jpeg"
	outputExt      = ".jpg"
)

// ErrDecode is returned when the input is not a decodable image
var ErrDecode = errors.New("failed to decode image")

// Result describes one compressed image
type Result struct {
	Data   []byte
	Width  int
	Height int
}

// Compress decodes data, downsizes it to at most MaxWidth pixels wide without enlarging,
// and re-encodes it as JPEG at quality.
func Compress(data []byte, quality int) (*Result, error) {
	if quality < MinQuality || quality > MaxQuality {
		return nil, fmt.Errorf("quality must be between %d and %d, got %d", MinQuality, MaxQuality, quality)
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	dst := resize(src, MaxWidth)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	b := dst.Bounds()
	return &Result{
		Data:   buf.Bytes(),
		Width:  b.Dx(),
		Height: b.Dy(),
	}, nil
}

func resize(src image.Image, maxWidth int) image.Image {
	b := src.Bounds()
	if b.Dx() <= maxWidth {
		return src
	}
	height := int(math.Round(float64(b.Dy()) * float64(maxWidth) / float64(b.Dx())))
	if height < 1 {
		height = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	return dst
}

// CompressedName derives the download name from the uploaded file name
func CompressedName(originalName string) string {
	stem, _, _ := strings.Cut(originalName, ".")
	return "compressed_" + stem + outputExt
}

// CompressionRatio renders the size saving as a percentage with two decimals
func CompressionRatio(originalSize, compressedSize int) string {
	if originalSize == 0 {
		return "0.00%"
	}
	return fmt.Sprintf("%.2f%%", (1-float64(compressedSize)/float64(originalSize))*100)
}

var byteUnits = []string{"Bytes", "KB", "MB", "GB", "TB"}

// FormatBytes renders a byte count in 1024-based units, e.g. 1536 -> "1.5 KB"
func FormatBytes(n int64, decimals int) string {
	if n <= 0 {
		return "0 Bytes"
	}
	if decimals < 0 {
		decimals = 0
	}
	i := int(math.Floor(math.Log(float64(n)) / math.Log(1024)))
	if i >= len(byteUnits) {
		i = len(byteUnits) - 1
	}
	v := float64(n) / math.Pow(1024, float64(i))
	rounded, _ := strconv.ParseFloat(strconv.FormatFloat(v, 'f', decimals, 64), 64)
	return strconv.FormatFloat(rounded, 'f', -1, 64) + " " + byteUnits[i]
}
