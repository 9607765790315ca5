// Package screenshot implements the Screenshot / Recording Manager
// (spec.md §4.G): capture surface dispatch, comparison/stitching, quality
// presets, and metadata enrichment.
//
// Grounded on the teacher's internal/tools/analyze/image_diff.go and
// visual_diff.go for the comparison primitives, and internal/capture's
// command-dispatch idiom for the capture surface.
package screenshot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/corvidlabs/corvid-core/internal/errs"
	"github.com/corvidlabs/corvid-core/internal/pagehost"
)

// Format is the image encoding a quality preset selects.
type Format string

const (
	FormatPNG  Format = "png"
	FormatWebP Format = "webp"
	FormatJPEG Format = "jpeg"
)

// Preset is one of the enumerated quality presets from spec §4.G.
type Preset struct {
	Name        string
	Format      Format
	Quality     float64
	Compression int
}

var Presets = map[string]Preset{
	"forensic":  {Name: "forensic", Format: FormatPNG, Quality: 1.0, Compression: 0},
	"web":       {Name: "web", Format: FormatWebP, Quality: 0.85},
	"thumbnail": {Name: "thumbnail", Format: FormatJPEG, Quality: 0.6},
	"archival":  {Name: "archival", Format: FormatPNG, Compression: 9},
}

const (
	viewportTimeout   = 30 * time.Second
	fullPageTimeout   = 120 * time.Second
	comparisonTimeout = 60 * time.Second
)

// CaptureInfo is the per-capture context spec §4.G's metadata embeds.
type CaptureInfo struct {
	UserAgent string
	URL       string
	Title     string
	Custom    map[string]any
}

// Result is a captured image plus its enrichment metadata.
type Result struct {
	Bytes       []byte
	Hash        string
	Size        int
	Timestamp   time.Time
	CaptureInfo CaptureInfo
	Success     bool
	Error       string
}

func enrich(bytes []byte, info CaptureInfo) Result {
	sum := sha256.Sum256(bytes)
	return Result{
		Bytes: bytes, Hash: hex.EncodeToString(sum[:]), Size: len(bytes),
		Timestamp: time.Now(), CaptureInfo: info, Success: true,
	}
}

func timeoutResult(err error) Result {
	return Result{Success: false, Error: err.Error()}
}

func withTimeout(ctx context.Context, d time.Duration, fn func(context.Context) ([]byte, error)) ([]byte, error) {
	cctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	type out struct {
		b   []byte
		err error
	}
	ch := make(chan out, 1)
	go func() {
		b, err := fn(cctx)
		ch <- out{b, err}
	}()
	select {
	case o := <-ch:
		return o.b, o.err
	case <-cctx.Done():
		return nil, errs.New(errs.Timeout, "timeout")
	}
}

// CaptureViewport captures the current viewport.
func CaptureViewport(ctx context.Context, host pagehost.Host, info CaptureInfo) Result {
	b, err := withTimeout(ctx, viewportTimeout, func(c context.Context) ([]byte, error) {
		return host.Capture(c, pagehost.CaptureOptions{Full: false, Format: "png"})
	})
	if err != nil {
		return timeoutResult(err)
	}
	return enrich(b, info)
}

// CaptureFullPage captures the entire scrollable page.
func CaptureFullPage(ctx context.Context, host pagehost.Host, scrollDelay time.Duration, maxHeight int, info CaptureInfo) Result {
	b, err := withTimeout(ctx, fullPageTimeout, func(c context.Context) ([]byte, error) {
		return host.Capture(c, pagehost.CaptureOptions{Full: true, Format: "png"})
	})
	if err != nil {
		return timeoutResult(err)
	}
	return enrich(b, info)
}

// CaptureElement captures a single element by selector; padding is not
// applied.
func CaptureElement(ctx context.Context, host pagehost.Host, selector string, padding int, info CaptureInfo) Result {
	b, err := withTimeout(ctx, viewportTimeout, func(c context.Context) ([]byte, error) {
		return host.Capture(c, pagehost.CaptureOptions{Element: selector, Format: "png"})
	})
	if err != nil {
		return timeoutResult(err)
	}
	return enrich(b, info)
}

// CaptureArea captures an explicit rectangle; fails when any coordinate is
// missing (represented here as a nil *pagehost.Rect).
func CaptureArea(ctx context.Context, host pagehost.Host, area *pagehost.Rect, info CaptureInfo) (Result, error) {
	if area == nil {
		return Result{}, errs.New(errs.ArgumentMissing, "area coordinates are required")
	}
	b, err := withTimeout(ctx, viewportTimeout, func(c context.Context) ([]byte, error) {
		return host.Capture(c, pagehost.CaptureOptions{Area: area, Format: "png"})
	})
	if err != nil {
		return timeoutResult(err), nil
	}
	return enrich(b, info), nil
}

// CaptureScrolling captures a sequence of viewport frames while scrolling
// by step every delay, suitable for later stitching.
func CaptureScrolling(ctx context.Context, host pagehost.Host, step int, delay time.Duration, maxFrames int, info CaptureInfo) ([]Result, error) {
	var frames []Result
	for i := 0; i < maxFrames; i++ {
		script := "window.scrollBy(0," + itoa(step) + ")"
		if i > 0 {
			if _, err := host.Evaluate(ctx, script, nil); err != nil {
				return frames, errs.Wrap(errs.IllegalState, "screenshot: scroll failed", err)
			}
			time.Sleep(delay)
		}
		frames = append(frames, CaptureViewport(ctx, host, info))
	}
	return frames, nil
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
