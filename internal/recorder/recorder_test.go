package recorder

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/corvidlabs/corvid-core/internal/corvidlog"
	"github.com/corvidlabs/corvid-core/internal/eventbus"
)

func newTestRecorder(opts Options) *Recorder {
	if opts.Flags == (RecordFlags{}) {
		opts.Flags = AllEnabled()
	}
	return New(opts, eventbus.New(), corvidlog.Nop())
}

func TestStartRecordingIllegalOutsideIdle(t *testing.T) {
	r := newTestRecorder(Options{})
	require.NoError(t, r.StartRecording())
	require.Error(t, r.StartRecording())
}

func TestStopRecordingIllegalOutsideActive(t *testing.T) {
	r := newTestRecorder(Options{})
	_, err := r.StopRecording(nil)
	require.Error(t, err)
}

func TestPauseResumeCycle(t *testing.T) {
	r := newTestRecorder(Options{})
	require.NoError(t, r.StartRecording())
	require.NoError(t, r.Pause())
	require.Equal(t, StatePaused, r.State())
	require.NoError(t, r.Resume())
	require.Equal(t, StateRecording, r.State())
}

func TestEventsNoOpWhenPaused(t *testing.T) {
	r := newTestRecorder(Options{})
	require.NoError(t, r.StartRecording())
	require.NoError(t, r.Pause())
	r.RecordClick(nil, 1, 2)
	require.Empty(t, r.Events())
}

func TestMouseMoveCoalescedWithinThrottle(t *testing.T) {
	r := newTestRecorder(Options{MouseMoveThrottle: time.Hour})
	require.NoError(t, r.StartRecording())
	r.RecordMouseMove(1, 1)
	r.RecordMouseMove(2, 2)
	r.RecordMouseMove(3, 3)
	events := r.Events()
	require.Len(t, events, 1)
	require.Equal(t, 3, events[0].X)
}

func TestInputMaskedForPasswordField(t *testing.T) {
	r := newTestRecorder(Options{MaskSensitiveData: true})
	require.NoError(t, r.StartRecording())
	r.RecordInput(&ElementRef{Type: "password", Selector: "#pw"}, "hunter2")
	events := r.Events()
	require.Len(t, events, 1)
	require.True(t, events[0].Masked)
	require.Equal(t, "***", events[0].Value)
	require.Equal(t, 1, r.Stats().MaskedEvents)
}

func TestInputMaskedForSensitiveName(t *testing.T) {
	r := newTestRecorder(Options{MaskSensitiveData: true})
	require.NoError(t, r.StartRecording())
	r.RecordInput(&ElementRef{Name: "credit_card_number", Selector: "#cc"}, "4111111111111111")
	events := r.Events()
	require.True(t, events[0].Masked)
}

func TestInputNotMaskedWhenFlagOff(t *testing.T) {
	r := newTestRecorder(Options{MaskSensitiveData: false})
	require.NoError(t, r.StartRecording())
	r.RecordInput(&ElementRef{Type: "password"}, "hunter2")
	events := r.Events()
	require.False(t, events[0].Masked)
	require.Equal(t, "hunter2", events[0].Value)
}

func TestMaxEventsGuardDropsFurtherAppends(t *testing.T) {
	r := newTestRecorder(Options{MaxEvents: 2})
	require.NoError(t, r.StartRecording())
	r.RecordClick(nil, 0, 0)
	r.RecordClick(nil, 0, 0)
	r.RecordClick(nil, 0, 0)
	require.Len(t, r.Events(), 2)
}

func TestCreateCheckpointRecordsEventIndex(t *testing.T) {
	r := newTestRecorder(Options{})
	require.NoError(t, r.StartRecording())
	r.RecordClick(nil, 0, 0)
	cp, err := r.CreateCheckpoint("mid", "halfway")
	require.NoError(t, err)
	require.Equal(t, 1, cp.EventIndex)
}

func TestStopSealsAndVerifyHashSucceeds(t *testing.T) {
	r := newTestRecorder(Options{})
	require.NoError(t, r.StartRecording())
	r.RecordClick(nil, 1, 1)
	sealed, err := r.StopRecording(map[string]any{"note": "test"})
	require.NoError(t, err)
	require.NotEmpty(t, sealed.Hash)
	require.True(t, sealed.VerifyHash())

	sealed.Events[0].Value = "tampered"
	require.False(t, sealed.VerifyHash())
}

func TestExportSeleniumUnsupportedActionComment(t *testing.T) {
	r := newTestRecorder(Options{})
	require.NoError(t, r.StartRecording())
	r.RecordResize(100, 200)
	sealed, _ := r.StopRecording(nil)
	out, err := Export(sealed, DialectSelenium, ExportOpts{})
	require.NoError(t, err)
	require.Contains(t, out, "Unsupported action: resize")
}

func TestExportPlaywrightClickAndFill(t *testing.T) {
	r := newTestRecorder(Options{})
	require.NoError(t, r.StartRecording())
	r.RecordClick(&ElementRef{Selector: "#btn"}, 0, 0)
	r.RecordInput(&ElementRef{Selector: "#name"}, "hello")
	sealed, _ := r.StopRecording(nil)
	out, err := Export(sealed, DialectPlaywright, ExportOpts{})
	require.NoError(t, err)
	require.Contains(t, out, "page.click('#btn')")
	require.Contains(t, out, "page.fill('#name', 'hello')")
}

func TestExportHAROnlyIncludesNavigation(t *testing.T) {
	r := newTestRecorder(Options{})
	require.NoError(t, r.StartRecording())
	r.RecordNavigation("https://example.com")
	r.RecordClick(nil, 0, 0)
	sealed, _ := r.StopRecording(nil)
	out, err := Export(sealed, DialectHAR, ExportOpts{})
	require.NoError(t, err)
	require.Contains(t, out, "example.com")
	require.Equal(t, 1, strings.Count(out, `"startedDateTime"`))
}

func TestExportUnknownDialect(t *testing.T) {
	r := newTestRecorder(Options{})
	require.NoError(t, r.StartRecording())
	sealed, _ := r.StopRecording(nil)
	_, err := Export(sealed, Dialect("bogus"), ExportOpts{})
	require.Error(t, err)
}
