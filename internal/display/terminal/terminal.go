// Package terminal renders load progress as an mpb progress bar.
package terminal

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// Options configures the bar.
type Options struct {
	// Output defaults to stderr when nil.
	Output io.Writer
	// Label is printed in front of the bar.
	Label string
	// Width of the whole line in columns; mpb picks a default when zero.
	Width int
	// ReadyMessage is written when the content surface is revealed.
	ReadyMessage string
}

// Display drives one bar that runs from 0 to 100.
type Display struct {
	progress *mpb.Progress
	bar      *mpb.Bar
	out      io.Writer
	ready    string

	mu       sync.Mutex
	current  int
	hidden   bool
	revealed bool
}

// New starts the bar container bound to ctx.
func New(ctx context.Context, opts Options) *Display {
	containerOpts := []mpb.ContainerOption{}
	if opts.Output != nil {
		// Non-terminal writers get no ticker unless refresh is forced.
		containerOpts = append(containerOpts, mpb.WithOutput(opts.Output), mpb.WithAutoRefresh())
	}
	if opts.Width > 0 {
		containerOpts = append(containerOpts, mpb.WithWidth(opts.Width))
	}
	p := mpb.NewWithContext(ctx, containerOpts...)

	label := opts.Label
	if label == "" {
		label = "loading"
	}
	bar := p.New(100,
		mpb.BarStyle(),
		mpb.PrependDecorators(decor.Name(label, decor.WC{C: decor.DindentRight | decor.DextraSpace})),
		mpb.AppendDecorators(decor.Percentage(decor.WC{W: 5})),
	)
	out := opts.Output
	if out == nil {
		out = io.Discard
	}
	ready := opts.ReadyMessage
	if ready == "" {
		ready = "content ready"
	}
	return &Display{progress: p, bar: bar, out: out, ready: ready}
}

// SetProgress moves the bar to percent. Values outside [0,100] are clamped.
func (d *Display) SetProgress(percent int) {
	percent = min(max(percent, 0), 100)
	d.mu.Lock()
	d.current = percent
	d.mu.Unlock()
	d.bar.SetCurrent(int64(percent))
}

// Current reports the last value passed to SetProgress.
func (d *Display) Current() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

// HideLoading finishes the bar and waits for its final frame to render.
func (d *Display) HideLoading() {
	d.mu.Lock()
	if d.hidden {
		d.mu.Unlock()
		return
	}
	d.hidden = true
	d.mu.Unlock()
	d.finish()
}

// RevealContent prints the ready message.
func (d *Display) RevealContent() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.revealed {
		return
	}
	d.revealed = true
	_, _ = fmt.Fprintln(d.out, d.ready)
}

// Close releases the bar when a load ended without a hand-off. The bar is
// left at its last value.
func (d *Display) Close() {
	d.HideLoading()
}

func (d *Display) finish() {
	if !d.bar.Completed() {
		d.bar.Abort(false)
	}
	d.progress.Wait()
}
