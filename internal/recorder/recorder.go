// Package recorder implements the Interaction Recorder (spec.md §4.H):
// state-machine gated event capture, mouse/scroll throttling, sensitive
// data masking, checkpoints, and canonical-hash sealing.
//
// Grounded on the teacher's internal/recording/types.go (RecordingAction /
// Recording shape), generalized from its fixed click/type/navigate/
// screenshot action set to the full spec §4.H event taxonomy, and on its
// event-timestamped-action idiom for checkpoints.
package recorder

import (
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/corvidlabs/corvid-core/internal/errs"
	"github.com/corvidlabs/corvid-core/internal/eventbus"
)

// State is the closed recording state machine from spec §4.H.
type State string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
	StatePaused    State = "paused"
	StateStopped   State = "stopped"
)

// EventType is the closed set of record primitives.
type EventType string

const (
	EventClick             EventType = "click"
	EventMouseDown         EventType = "mousedown"
	EventMouseUp           EventType = "mouseup"
	EventMouseMove         EventType = "mousemove"
	EventWheel             EventType = "wheel"
	EventKeyDown           EventType = "keydown"
	EventKeyUp             EventType = "keyup"
	EventInput             EventType = "input"
	EventScroll            EventType = "scroll"
	EventNavigation        EventType = "navigation"
	EventLoad              EventType = "load"
	EventResize            EventType = "resize"
	EventVisibilityChange  EventType = "visibilitychange"
	EventFocus             EventType = "focus"
	EventBlur              EventType = "blur"
	EventHover             EventType = "hover"
	EventSelect            EventType = "select"
	EventChange            EventType = "change"
)

// ElementRef describes the DOM element an event targets.
type ElementRef struct {
	Selector string
	Type     string // native "type" attribute, e.g. password/email
	Name     string
}

// Event is one captured interaction.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Element   *ElementRef
	Value     string
	X, Y      int
	Masked    bool
	Extra     map[string]any
}

// Checkpoint marks a point in the recording timeline.
type Checkpoint struct {
	Name         string
	Description  string
	EventIndex   int
	RelativeTime time.Duration
}

// RecordFlags toggles which primitives are captured, per spec's
// `options.record*` flags.
type RecordFlags struct {
	Click, MouseDown, MouseUp, MouseMove, Wheel bool
	KeyDown, KeyUp, Input, Scroll               bool
	Navigation, Load, Resize, VisibilityChange  bool
	Focus, Blur, Hover, Select, Change          bool
}

// AllEnabled returns flags with every primitive enabled.
func AllEnabled() RecordFlags {
	return RecordFlags{
		Click: true, MouseDown: true, MouseUp: true, MouseMove: true, Wheel: true,
		KeyDown: true, KeyUp: true, Input: true, Scroll: true,
		Navigation: true, Load: true, Resize: true, VisibilityChange: true,
		Focus: true, Blur: true, Hover: true, Select: true, Change: true,
	}
}

// Options configures a Recorder.
type Options struct {
	Flags                 RecordFlags
	MouseMoveThrottle     time.Duration
	ScrollThrottle        time.Duration
	MaskSensitiveData     bool
	MaxEvents             int
	AutoCheckpointInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.MouseMoveThrottle <= 0 {
		o.MouseMoveThrottle = 50 * time.Millisecond
	}
	if o.ScrollThrottle <= 0 {
		o.ScrollThrottle = 50 * time.Millisecond
	}
	if o.MaxEvents <= 0 {
		o.MaxEvents = 50000
	}
	return o
}

// Stats tracks recorder-wide counters.
type Stats struct {
	MaskedEvents int
}

var sensitivePatterns = []string{"password", "email", "credit", "creditcard", "cc-", "ssn", "token", "auth", "key", "secret"}

func isSensitiveName(name string) bool {
	lower := strings.ToLower(name)
	for _, p := range sensitivePatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func isSensitiveElement(el *ElementRef) bool {
	if el == nil {
		return false
	}
	t := strings.ToLower(el.Type)
	if t == "password" || t == "email" {
		return true
	}
	return isSensitiveName(el.Name)
}

// Recorder is the Interaction Recorder.
type Recorder struct {
	mu    sync.Mutex
	opts  Options
	state State
	bus   *eventbus.Bus
	log   zerolog.Logger

	events      []Event
	checkpoints []Checkpoint
	stats       Stats

	startedAt     time.Time
	pausedTotal   time.Duration
	pausedAt      time.Time
	maxEventsHit  bool

	lastMouseMove time.Time
	lastScroll    time.Time

	checkpointTicker *time.Ticker
	done             chan struct{}
}

// New constructs an idle Recorder.
func New(opts Options, bus *eventbus.Bus, log zerolog.Logger) *Recorder {
	return &Recorder{opts: opts.withDefaults(), state: StateIdle, bus: bus, log: log}
}

// StartRecording transitions idle→recording; illegal outside idle.
func (r *Recorder) StartRecording() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateIdle {
		return errs.New(errs.IllegalState, "startRecording is illegal outside idle")
	}
	r.state = StateRecording
	r.startedAt = time.Now()
	r.events = nil
	r.checkpoints = nil
	r.stats = Stats{}
	r.maxEventsHit = false

	if r.opts.AutoCheckpointInterval > 0 {
		r.checkpointTicker = time.NewTicker(r.opts.AutoCheckpointInterval)
		r.done = make(chan struct{})
		go r.autoCheckpointLoop()
	}
	r.publish("recording:started", nil)
	return nil
}

func (r *Recorder) autoCheckpointLoop() {
	for {
		select {
		case <-r.checkpointTicker.C:
			_, _ = r.CreateCheckpoint("auto", "automatic checkpoint")
		case <-r.done:
			return
		}
	}
}

// Pause transitions recording→paused.
func (r *Recorder) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateRecording {
		return errs.New(errs.IllegalState, "pause is illegal outside recording")
	}
	r.state = StatePaused
	r.pausedAt = time.Now()
	return nil
}

// Resume transitions paused→recording.
func (r *Recorder) Resume() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StatePaused {
		return errs.New(errs.IllegalState, "resume is illegal outside paused")
	}
	r.pausedTotal += time.Since(r.pausedAt)
	r.state = StateRecording
	return nil
}

// StopRecording transitions {recording,paused}→stopped and seals the
// recording with a canonical SHA-256 hash.
func (r *Recorder) StopRecording(metadata map[string]any) (*Sealed, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateRecording && r.state != StatePaused {
		return nil, errs.New(errs.IllegalState, "stopRecording is illegal outside recording or paused")
	}
	if r.checkpointTicker != nil {
		r.checkpointTicker.Stop()
		close(r.done)
	}
	r.state = StateStopped
	sealed := seal(r.events, r.checkpoints, metadata)
	r.publish("recording:stopped", sealed.Hash)
	return sealed, nil
}

func (r *Recorder) recordIfActive(evt Event, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateRecording || !enabled {
		return
	}
	r.appendLocked(evt)
}

func (r *Recorder) appendLocked(evt Event) {
	if len(r.events) >= r.opts.MaxEvents {
		if !r.maxEventsHit {
			r.maxEventsHit = true
			r.publish("maxEventsReached", nil)
		}
		return
	}
	if isSensitiveElement(evt.Element) && (evt.Type == EventInput || evt.Type == EventChange || evt.Type == EventKeyDown || evt.Type == EventKeyUp) && r.opts.MaskSensitiveData {
		evt.Value = "***"
		evt.Masked = true
		r.stats.MaskedEvents++
	}
	r.events = append(r.events, evt)
}

// RecordClick records a click primitive.
func (r *Recorder) RecordClick(el *ElementRef, x, y int) {
	r.recordIfActive(Event{Type: EventClick, Timestamp: time.Now(), Element: el, X: x, Y: y}, r.opts.Flags.Click)
}

// RecordMouseDown records a mousedown primitive.
func (r *Recorder) RecordMouseDown(el *ElementRef, x, y int) {
	r.recordIfActive(Event{Type: EventMouseDown, Timestamp: time.Now(), Element: el, X: x, Y: y}, r.opts.Flags.MouseDown)
}

// RecordMouseUp records a mouseup primitive.
func (r *Recorder) RecordMouseUp(el *ElementRef, x, y int) {
	r.recordIfActive(Event{Type: EventMouseUp, Timestamp: time.Now(), Element: el, X: x, Y: y}, r.opts.Flags.MouseUp)
}

// RecordMouseMove coalesces within MouseMoveThrottle, keeping only the
// latest position per window.
func (r *Recorder) RecordMouseMove(x, y int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateRecording || !r.opts.Flags.MouseMove {
		return
	}
	now := time.Now()
	if !r.lastMouseMove.IsZero() && now.Sub(r.lastMouseMove) < r.opts.MouseMoveThrottle {
		if n := len(r.events); n > 0 && r.events[n-1].Type == EventMouseMove {
			r.events[n-1].X, r.events[n-1].Y, r.events[n-1].Timestamp = x, y, now
			return
		}
	}
	r.lastMouseMove = now
	r.appendLocked(Event{Type: EventMouseMove, Timestamp: now, X: x, Y: y})
}

// RecordScroll coalesces within ScrollThrottle, keeping only the latest
// scroll offset per window.
func (r *Recorder) RecordScroll(x, y int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateRecording || !r.opts.Flags.Scroll {
		return
	}
	now := time.Now()
	if !r.lastScroll.IsZero() && now.Sub(r.lastScroll) < r.opts.ScrollThrottle {
		if n := len(r.events); n > 0 && r.events[n-1].Type == EventScroll {
			r.events[n-1].X, r.events[n-1].Y, r.events[n-1].Timestamp = x, y, now
			return
		}
	}
	r.lastScroll = now
	r.appendLocked(Event{Type: EventScroll, Timestamp: now, X: x, Y: y})
}

// RecordWheel records a wheel primitive.
func (r *Recorder) RecordWheel(x, y int) {
	r.recordIfActive(Event{Type: EventWheel, Timestamp: time.Now(), X: x, Y: y}, r.opts.Flags.Wheel)
}

// RecordKeyDown records a keydown primitive, masking if the target is a
// password field.
func (r *Recorder) RecordKeyDown(el *ElementRef, key string) {
	evt := Event{Type: EventKeyDown, Timestamp: time.Now(), Element: el, Value: key}
	r.recordIfActive(evt, r.opts.Flags.KeyDown)
}

// RecordKeyUp records a keyup primitive.
func (r *Recorder) RecordKeyUp(el *ElementRef, key string) {
	r.recordIfActive(Event{Type: EventKeyUp, Timestamp: time.Now(), Element: el, Value: key}, r.opts.Flags.KeyUp)
}

// RecordInput records an input primitive, subject to masking.
func (r *Recorder) RecordInput(el *ElementRef, value string) {
	r.recordIfActive(Event{Type: EventInput, Timestamp: time.Now(), Element: el, Value: value}, r.opts.Flags.Input)
}

// RecordNavigation records a navigation primitive.
func (r *Recorder) RecordNavigation(url string) {
	r.recordIfActive(Event{Type: EventNavigation, Timestamp: time.Now(), Value: url}, r.opts.Flags.Navigation)
}

// RecordLoad records a load primitive.
func (r *Recorder) RecordLoad(url string) {
	r.recordIfActive(Event{Type: EventLoad, Timestamp: time.Now(), Value: url}, r.opts.Flags.Load)
}

// RecordResize records a resize primitive.
func (r *Recorder) RecordResize(w, h int) {
	r.recordIfActive(Event{Type: EventResize, Timestamp: time.Now(), X: w, Y: h}, r.opts.Flags.Resize)
}

// RecordVisibilityChange records a visibilitychange primitive.
func (r *Recorder) RecordVisibilityChange(visible bool) {
	v := "hidden"
	if visible {
		v = "visible"
	}
	r.recordIfActive(Event{Type: EventVisibilityChange, Timestamp: time.Now(), Value: v}, r.opts.Flags.VisibilityChange)
}

// RecordFocus records a focus primitive.
func (r *Recorder) RecordFocus(el *ElementRef) {
	r.recordIfActive(Event{Type: EventFocus, Timestamp: time.Now(), Element: el}, r.opts.Flags.Focus)
}

// RecordBlur records a blur primitive.
func (r *Recorder) RecordBlur(el *ElementRef) {
	r.recordIfActive(Event{Type: EventBlur, Timestamp: time.Now(), Element: el}, r.opts.Flags.Blur)
}

// RecordHover records a hover primitive.
func (r *Recorder) RecordHover(el *ElementRef) {
	r.recordIfActive(Event{Type: EventHover, Timestamp: time.Now(), Element: el}, r.opts.Flags.Hover)
}

// RecordSelect records a select primitive.
func (r *Recorder) RecordSelect(el *ElementRef, value string) {
	r.recordIfActive(Event{Type: EventSelect, Timestamp: time.Now(), Element: el, Value: value}, r.opts.Flags.Select)
}

// RecordChange records a change primitive, subject to masking.
func (r *Recorder) RecordChange(el *ElementRef, value string) {
	r.recordIfActive(Event{Type: EventChange, Timestamp: time.Now(), Element: el, Value: value}, r.opts.Flags.Change)
}

// CreateCheckpoint records a named checkpoint at the current event index.
func (r *Recorder) CreateCheckpoint(name, description string) (Checkpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateRecording && r.state != StatePaused {
		return Checkpoint{}, errs.New(errs.IllegalState, "checkpoints require an active recording")
	}
	cp := Checkpoint{
		Name: name, Description: description,
		EventIndex:   len(r.events),
		RelativeTime: time.Since(r.startedAt) - r.pausedTotal,
	}
	r.checkpoints = append(r.checkpoints, cp)
	return cp, nil
}

// State returns the current state.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Stats returns masking/event counters.
func (r *Recorder) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Events returns a copy of the captured event list.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *Recorder) publish(kind string, data any) {
	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Kind: kind, Data: data})
	}
}
