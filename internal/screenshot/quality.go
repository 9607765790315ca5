package screenshot

import (
	"github.com/corvidlabs/corvid-core/internal/errs"
	"github.com/corvidlabs/corvid-core/internal/pagehost"
)

// ApplyPreset maps a named quality preset onto Page Host capture options.
func ApplyPreset(name string) (pagehost.CaptureOptions, error) {
	preset, ok := Presets[name]
	if !ok {
		return pagehost.CaptureOptions{}, errs.New(errs.ArgumentInvalid, "screenshot: unknown quality preset: "+name)
	}
	return pagehost.CaptureOptions{Format: string(preset.Format), Quality: preset.Quality}, nil
}
