package build

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"photodeck/pkg/clients/convert"
	"photodeck/pkg/metrics"
	"photodeck/pkg/models"
	"photodeck/pkg/staging"
	"photodeck/pkg/transcode"
)

// State is the orchestrator's lifecycle phase.
type State string

const (
	StateIdle       State = "idle"
	StatePreparing  State = "preparing"
	StateRequesting State = "requesting"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

const (
	deckFilename    = "slides.pptx"
	archiveFilename = "slides.zip"

	// archiveMarker distinguishes a multi-deck archive response by a
	// case-insensitive substring match on the declared content type.
	archiveMarker = "zip"

	genericFailure = "deck build failed, please try again"
)

var (
	// ErrBusy means a build is already in progress; the call is a no-op.
	ErrBusy = errors.New("a build is already in progress")

	// ErrNoImages means the store holds nothing to build from.
	ErrNoImages = errors.New("no staged images")

	// ErrNoArtifact means there is no built artifact awaiting download.
	ErrNoArtifact = errors.New("no artifact available")
)

// Converter produces a deck artifact from an assembled request.
type Converter interface {
	Convert(ctx context.Context, req models.DeckRequest) (models.DeckArtifact, error)
}

// Options is the presentation configuration forwarded verbatim to the
// conversion service.
type Options struct {
	AspectRatio string `json:"aspectRatio"`
	Layout      string `json:"layout"`
	TitleSlide  bool   `json:"titleSlide"`
	TitleText   string `json:"titleText"`
	SplitEvery  int    `json:"splitEvery"`
}

// Validate fills defaults and rejects unknown enum values.
func (o *Options) Validate() error {
	if o.AspectRatio == "" {
		o.AspectRatio = "16:9"
	}
	if o.Layout == "" {
		o.Layout = "cover"
	}
	if o.AspectRatio != "16:9" && o.AspectRatio != "4:3" {
		return errors.New(`aspectRatio must be "16:9" or "4:3"`)
	}
	if o.Layout != "cover" && o.Layout != "fit" {
		return errors.New(`layout must be "cover" or "fit"`)
	}
	if o.SplitEvery < 0 {
		return errors.New("splitEvery must not be negative")
	}
	return nil
}

// Progress counts transcoded images during Preparing. Done is strictly
// monotonic within a run and bounded by Total.
type Progress struct {
	Done  int `json:"done"`
	Total int `json:"total"`
}

// Status is an externally observable snapshot of the orchestrator.
type Status struct {
	State    State    `json:"state"`
	Busy     bool     `json:"busy"`
	Progress Progress `json:"progress"`
	Error    string   `json:"error,omitempty"`
	Artifact string   `json:"artifact,omitempty"`
}

// Artifact is a built deck (or archive of decks) awaiting one download.
type Artifact struct {
	Name        string
	ContentType string
	Data        []byte
}

// Orchestrator drives a build: transcodes the store's snapshot strictly in
// order, one image at a time, assembles the request, calls the converter
// and holds the artifact for download. One instance per session.
type Orchestrator struct {
	store      *staging.Store
	transcoder *transcode.Transcoder
	converter  Converter
	reg        *metrics.Registry

	mu       sync.Mutex
	state    State
	busy     bool
	progress Progress
	errMsg   string
	artifact *Artifact
}

// NewOrchestrator creates an idle orchestrator over the given store.
func NewOrchestrator(store *staging.Store, transcoder *transcode.Transcoder, converter Converter, reg *metrics.Registry) *Orchestrator {
	return &Orchestrator{
		store:      store,
		transcoder: transcoder,
		converter:  converter,
		reg:        reg,
		state:      StateIdle,
	}
}

// Busy reports whether a build is in flight. Callers must check this
// before any store mutation so nothing interleaves with a running build.
func (o *Orchestrator) Busy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.busy
}

// Status returns an observable snapshot of the current run.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := Status{
		State:    o.state,
		Busy:     o.busy,
		Progress: o.progress,
		Error:    o.errMsg,
	}
	if o.artifact != nil {
		s.Artifact = o.artifact.Name
	}
	return s
}

// Start begins a build over a point-in-time snapshot of the store.
// It is a guarded no-op while a build is in flight or when nothing is
// staged. The build itself runs on its own goroutine; observe it via
// Status and collect the result via TakeArtifact.
func (o *Orchestrator) Start(opts Options) error {
	o.mu.Lock()
	if o.busy {
		o.mu.Unlock()
		return ErrBusy
	}
	snapshot := o.store.Snapshot()
	if len(snapshot) == 0 {
		o.mu.Unlock()
		return ErrNoImages
	}
	o.busy = true
	o.state = StatePreparing
	o.progress = Progress{Done: 0, Total: len(snapshot)}
	o.errMsg = ""
	o.artifact = nil
	o.mu.Unlock()

	go o.run(snapshot, opts)
	return nil
}

// run is deliberately detached from any request context: an accepted
// build has no cancellation path, only the converter client's timeout.
func (o *Orchestrator) run(snapshot []*staging.StagedImage, opts Options) {
	ctx := context.Background()
	logger := log.With().Int("images", len(snapshot)).Logger()

	slides := make([]models.Slide, 0, len(snapshot))
	for _, img := range snapshot {
		slide, err := o.transcoder.Transcode(img.Name, img.MediaType, bytes.NewReader(img.Data))
		if err != nil {
			o.fail(logger, err)
			return
		}
		slides = append(slides, slide)
		o.mu.Lock()
		o.progress.Done++
		o.mu.Unlock()
		o.reg.Inc(ctx, metrics.ImagesTranscodedTotal, nil, 1)
	}

	o.mu.Lock()
	o.state = StateRequesting
	o.mu.Unlock()

	req := models.DeckRequest{
		Slides:      slides,
		AspectRatio: opts.AspectRatio,
		Layout:      opts.Layout,
		TitleSlide:  opts.TitleSlide,
		TitleText:   opts.TitleText,
		SplitEvery:  opts.SplitEvery,
	}
	result, err := o.converter.Convert(ctx, req)
	if err != nil {
		o.fail(logger, err)
		return
	}

	name := deckFilename
	if strings.Contains(strings.ToLower(result.ContentType), archiveMarker) {
		name = archiveFilename
	}

	o.mu.Lock()
	o.state = StateCompleted
	o.busy = false
	o.progress = Progress{}
	o.artifact = &Artifact{Name: name, ContentType: result.ContentType, Data: result.Data}
	o.mu.Unlock()

	o.reg.Inc(ctx, metrics.BuildsTotal, map[string]string{"outcome": "completed"}, 1)
	logger.Info().Str("artifact", name).Msg("deck build completed")
}

// fail transitions to Failed with a user-facing message: decode and
// server errors carry their own text, anything else gets the generic one.
// The store is left untouched so the user can retry immediately.
func (o *Orchestrator) fail(logger zerolog.Logger, err error) {
	msg := genericFailure
	var decodeErr *transcode.DecodeError
	var serverErr *convert.ServerError
	if errors.As(err, &decodeErr) || errors.As(err, &serverErr) {
		msg = err.Error()
	}

	o.mu.Lock()
	o.state = StateFailed
	o.busy = false
	o.progress = Progress{}
	o.errMsg = msg
	o.mu.Unlock()

	o.reg.Inc(context.Background(), metrics.BuildsTotal, map[string]string{"outcome": "failed"}, 1)
	logger.Error().Err(err).Msg("deck build failed")
}

// TakeArtifact hands over the built artifact for download and releases
// the orchestrator's reference; a second call returns ErrNoArtifact.
func (o *Orchestrator) TakeArtifact() (*Artifact, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.artifact == nil {
		return nil, ErrNoArtifact
	}
	a := o.artifact
	o.artifact = nil
	o.state = StateIdle
	return a, nil
}
