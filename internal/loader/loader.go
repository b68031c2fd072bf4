package loader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/progressive-loader/internal/clock/system"
	"github.com/JakeFAU/progressive-loader/internal/hash/sha256"
	idgen "github.com/JakeFAU/progressive-loader/internal/id/uuid"
	"github.com/JakeFAU/progressive-loader/internal/progress"
)

const (
	// DefaultHandoffDelay keeps the final 100% frame visible before the
	// content surface replaces it.
	DefaultHandoffDelay = 500 * time.Millisecond
	// NoHandoffDelay hands the payload off right after the final report.
	NoHandoffDelay time.Duration = -1
	// DefaultReadBufferSize bounds a single body read.
	DefaultReadBufferSize = 32 << 10

	// maxPrealloc caps buffer preallocation driven by the declared size.
	maxPrealloc = 64 << 20
)

// Options wires a Fetcher. Transport, Display, Surface, Target and
// TargetOrigin are required.
type Options struct {
	Transport Transport
	Display   ProgressDisplay
	Surface   Surface
	Target    ContentTarget
	// TargetOrigin is the origin the content target must report. The
	// wildcard "*" is rejected.
	TargetOrigin string
	// HandoffDelay defaults to DefaultHandoffDelay when zero. NoHandoffDelay
	// skips the wait.
	HandoffDelay time.Duration
	// ReadBufferSize defaults to DefaultReadBufferSize when zero.
	ReadBufferSize int
	// MessageField defaults to DefaultMessageField.
	MessageField string

	Clock  Clock
	IDs    IDGenerator
	Events progress.Emitter
	Logger *zap.Logger
}

// Fetcher runs load operations. It keeps no per-load state and is safe for
// concurrent Load calls; collaborators shared between loads must tolerate that.
type Fetcher struct {
	transport Transport
	display   ProgressDisplay
	surface   Surface
	target    ContentTarget
	origin    string
	delay     time.Duration
	bufSize   int
	field     string
	clock     Clock
	ids       IDGenerator
	events    progress.Emitter
	hasher    *sha256.Hasher
	logger    *zap.Logger
}

// New validates opts and returns a Fetcher.
func New(opts Options) (*Fetcher, error) {
	switch {
	case opts.Transport == nil:
		return nil, errors.New("loader: transport is required")
	case opts.Display == nil:
		return nil, errors.New("loader: progress display is required")
	case opts.Surface == nil:
		return nil, errors.New("loader: surface is required")
	case opts.Target == nil:
		return nil, errors.New("loader: content target is required")
	}
	origin := strings.TrimSpace(opts.TargetOrigin)
	if origin == "" || origin == "*" {
		return nil, fmt.Errorf("loader: an explicit target origin is required, got %q", opts.TargetOrigin)
	}
	if opts.HandoffDelay < 0 && opts.HandoffDelay != NoHandoffDelay {
		return nil, fmt.Errorf("loader: handoff delay must be >= 0 or NoHandoffDelay, got %s", opts.HandoffDelay)
	}
	if opts.ReadBufferSize < 0 {
		return nil, fmt.Errorf("loader: read buffer size must be >= 0, got %d", opts.ReadBufferSize)
	}

	f := &Fetcher{
		transport: opts.Transport,
		display:   opts.Display,
		surface:   opts.Surface,
		target:    opts.Target,
		origin:    origin,
		delay:     opts.HandoffDelay,
		bufSize:   opts.ReadBufferSize,
		field:     opts.MessageField,
		clock:     opts.Clock,
		ids:       opts.IDs,
		events:    opts.Events,
		hasher:    sha256.New(),
		logger:    opts.Logger,
	}
	if f.delay == 0 {
		f.delay = DefaultHandoffDelay
	}
	if f.bufSize == 0 {
		f.bufSize = DefaultReadBufferSize
	}
	if f.field == "" {
		f.field = DefaultMessageField
	}
	if f.clock == nil {
		f.clock = system.New()
	}
	if f.ids == nil {
		f.ids = idgen.New()
	}
	if f.logger == nil {
		f.logger = zap.NewNop()
	}
	return f, nil
}

// Load fetches url, reports progress while the body streams, and after a
// forced 100% report and the hand-off delay hides the loading surface,
// reveals the content surface and delivers the payload.
//
// Failures return ErrMissingSizeHeader, a *TransportError, ErrOriginMismatch,
// a delivery error, or an error wrapping ctx.Err(). On failure nothing is
// delivered and the display keeps its last reported value.
func (f *Fetcher) Load(ctx context.Context, url string) (Result, error) {
	id, err := f.ids.NewID()
	if err != nil {
		return Result{}, fmt.Errorf("loader: %w", err)
	}
	return f.LoadWithID(ctx, id, url)
}

// LoadWithID is Load with a caller-chosen identifier, used when the ID must be
// handed out before the load runs.
func (f *Fetcher) LoadWithID(ctx context.Context, id uuid.UUID, url string) (Result, error) {
	run := &loadRun{
		f:       f,
		id:      id,
		url:     url,
		started: f.clock.Now(),
		logger:  f.logger.With(zap.String("load_id", id.String()), zap.String("url", url)),
		state:   transferState{total: -1},
	}
	run.emit(progress.StageLoadStart, 0, "")
	run.logger.Debug("load started")

	res, err := run.execute(ctx)
	if err != nil {
		run.logger.Error("load failed", zap.Error(err), zap.Int64("received", run.state.received))
		run.emit(progress.StageLoadError, 0, err.Error())
		return Result{}, err
	}
	run.logger.Info("load delivered",
		zap.Int64("bytes", res.BytesReceived),
		zap.String("sha256", res.Digest),
		zap.Duration("dur", res.Duration),
	)
	run.emit(progress.StageLoadDone, 0, "")
	return res, nil
}

// loadRun holds the state of a single Load call.
type loadRun struct {
	f       *Fetcher
	id      uuid.UUID
	url     string
	started time.Time
	logger  *zap.Logger
	state   transferState
	percent int
}

func (r *loadRun) execute(ctx context.Context) (Result, error) {
	f := r.f
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("load canceled: %w", err)
	}

	resp, err := f.transport.Open(ctx, r.url)
	if err != nil {
		return Result{}, &TransportError{Op: OpOpen, URL: r.url, Err: err}
	}
	if resp == nil {
		return Result{}, &TransportError{Op: OpOpen, URL: r.url, Err: errors.New("transport returned no response")}
	}
	body := &onceCloser{rc: resp.Body}
	defer func() {
		_ = body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, &TransportError{Op: OpStatus, URL: r.url, StatusCode: resp.StatusCode}
	}
	if resp.ContentLength < 0 {
		return Result{}, ErrMissingSizeHeader
	}
	r.state.total = resp.ContentLength

	payload, digest, err := r.stream(ctx, body)
	if err != nil {
		return Result{}, err
	}
	_ = body.Close()

	f.display.SetProgress(100)
	r.percent = 100

	if f.delay > 0 {
		select {
		case <-f.clock.After(f.delay):
		case <-ctx.Done():
			return Result{}, fmt.Errorf("load canceled during hand-off delay: %w", ctx.Err())
		}
	} else if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("load canceled before hand-off: %w", err)
	}

	if got := f.target.Origin(); got != f.origin {
		return Result{}, fmt.Errorf("%w: expected %q, target reports %q", ErrOriginMismatch, f.origin, got)
	}

	f.surface.HideLoading()
	f.surface.RevealContent()
	msg := Message{
		LoadID:       r.id,
		URL:          r.url,
		TargetOrigin: f.origin,
		Field:        f.field,
		Payload:      payload,
		Digest:       digest,
		ContentType:  resp.ContentType,
	}
	if err := f.target.Deliver(ctx, msg); err != nil {
		return Result{}, fmt.Errorf("deliver payload: %w", err)
	}

	return Result{
		LoadID:        r.id,
		URL:           r.url,
		Payload:       payload,
		Digest:        digest,
		TotalBytes:    r.state.total,
		BytesReceived: r.state.received,
		Duration:      f.clock.Now().Sub(r.started),
	}, nil
}

// stream reads body sequentially. Each chunk is counted, reported and
// appended before the next read is issued.
func (r *loadRun) stream(ctx context.Context, body io.Reader) ([]byte, string, error) {
	f := r.f
	var buf bytes.Buffer
	buf.Grow(int(min(r.state.total, maxPrealloc)))
	digest := f.hasher.NewDigest()
	chunk := make([]byte, f.bufSize)

	for {
		if err := ctx.Err(); err != nil {
			return nil, "", fmt.Errorf("load canceled after %d bytes: %w", r.state.received, err)
		}
		n, err := body.Read(chunk)
		if n > 0 {
			if r.state.received+int64(n) > r.state.total {
				return nil, "", &TransportError{
					Op:       OpRead,
					URL:      r.url,
					Received: r.state.received,
					Err:      fmt.Errorf("body exceeds declared length %d", r.state.total),
				}
			}
			r.percent = r.state.add(n)
			f.display.SetProgress(r.percent)
			buf.Write(chunk[:n])
			_, _ = digest.Write(chunk[:n])
			r.emit(progress.StageLoadProgress, int64(n), "")
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, "", &TransportError{Op: OpRead, URL: r.url, Received: r.state.received, Err: err}
		}
	}
	if r.state.received < r.state.total {
		return nil, "", &TransportError{
			Op:       OpRead,
			URL:      r.url,
			Received: r.state.received,
			Err:      io.ErrUnexpectedEOF,
		}
	}
	return buf.Bytes(), digest.Sum(), nil
}

func (r *loadRun) emit(stage progress.Stage, chunk int64, note string) {
	if r.f.events == nil {
		return
	}
	now := r.f.clock.Now()
	evt := progress.Event{
		LoadID:   progress.UUIDToBytes(r.id),
		TS:       now,
		Stage:    stage,
		Bytes:    chunk,
		Received: r.state.received,
		Total:    r.state.total,
		Percent:  r.percent,
		Dur:      max(now.Sub(r.started), 0),
		Note:     note,
	}
	if stage == progress.StageLoadStart {
		evt.URL = r.url
	}
	r.f.events.Emit(evt)
}

type onceCloser struct {
	rc   io.ReadCloser
	once sync.Once
	err  error
}

func (c *onceCloser) Read(p []byte) (int, error) {
	if c.rc == nil {
		return 0, io.EOF
	}
	return c.rc.Read(p) //nolint:wrapcheck
}

func (c *onceCloser) Close() error {
	c.once.Do(func() {
		if c.rc != nil {
			c.err = c.rc.Close()
		}
	})
	return c.err
}
