package closure

import (
	"context"
	"sync"

	"github.com/runnervision/runnervision/pkg/polyline"
)

// StaticFeed serves a fixed set of closures. It is used by the offline CLI mode and tests.
type StaticFeed struct {
	mu       sync.Mutex
	closures []Closure
	err      error
	calls    int
}

// NewStaticFeed returns a feed serving closures.
func NewStaticFeed(closures ...Closure) *StaticFeed {
	return &StaticFeed{closures: closures}
}

// Fail makes every following call return err. A nil err restores normal answers.
func (f *StaticFeed) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// Calls returns how many times the feed was queried.
func (f *StaticFeed) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Name returns the feed name.
func (f *StaticFeed) Name() string {
	return "static"
}

// ActiveClosures returns the configured closures intersecting bbox.
func (f *StaticFeed) ActiveClosures(ctx context.Context, bbox polyline.Bounds) ([]Closure, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	if f.err != nil {
		return nil, f.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]Closure, 0, len(f.closures))
	for _, c := range f.closures {
		if c.Bounds().Intersects(bbox) {
			out = append(out, c)
		}
	}
	return out, nil
}
