package fetcher

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"

	"github.com/starford/sift/internal/apperr"
	"github.com/starford/sift/internal/testutil"
)

// growingPage reports the next height from heights on every Height call and
// sticks at the last one.
type growingPage struct {
	heights []int64
	calls   int
	scrolls int
	failAt  int
}

func (p *growingPage) Height(context.Context) (int64, error) {
	i := min(p.calls, len(p.heights)-1)
	p.calls++
	return p.heights[i], nil
}

func (p *growingPage) ScrollToBottom(context.Context) error {
	p.scrolls++
	if p.failAt > 0 && p.scrolls == p.failAt {
		return errors.New("target closed")
	}
	return nil
}

func TestScrollUntilStable_StopsWhenHeightSettles(t *testing.T) {
	p := &growingPage{heights: []int64{1000, 2000, 3000, 3000}}
	rounds, err := scrollUntilStable(context.Background(), p, 0, 50)
	if err != nil {
		t.Fatalf("scrollUntilStable: %v", err)
	}
	if rounds != 3 {
		t.Errorf("rounds = %d, want 3", rounds)
	}
}

func TestScrollUntilStable_RespectsMaxRounds(t *testing.T) {
	p := &growingPage{heights: []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}}
	rounds, err := scrollUntilStable(context.Background(), p, 0, 4)
	if err != nil {
		t.Fatal(err)
	}
	if rounds != 4 || p.scrolls != 4 {
		t.Errorf("rounds = %d, scrolls = %d", rounds, p.scrolls)
	}
}

func TestScrollUntilStable_ShrinkingPageStops(t *testing.T) {
	p := &growingPage{heights: []int64{500, 400}}
	rounds, err := scrollUntilStable(context.Background(), p, 0, 10)
	if err != nil || rounds != 1 {
		t.Errorf("rounds = %d, err = %v", rounds, err)
	}
}

func TestScrollUntilStable_PropagatesErrors(t *testing.T) {
	p := &growingPage{heights: []int64{1, 2, 3}, failAt: 2}
	if _, err := scrollUntilStable(context.Background(), p, 0, 10); err == nil {
		t.Fatal("expected scroll error")
	}
}

func TestScrollUntilStable_CancelledDuringInterval(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &growingPage{heights: []int64{1, 2}}
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := scrollUntilStable(ctx, p, time.Minute, 10)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestFetch_LaunchFailureIsFetchError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ChromePath = filepath.Join(t.TempDir(), "no-such-chrome")
	cfg.NavigationTimeout = 5 * time.Second
	c := New(cfg, testutil.Logger())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := c.Fetch(ctx, "https://example.test")
	if !errors.Is(err, apperr.ErrFetch) {
		t.Fatalf("err = %v, want ErrFetch", err)
	}
}

func TestAllocatorOptions(t *testing.T) {
	base := len(New(DefaultConfig(), nil).allocatorOptions())
	cfg := DefaultConfig()
	cfg.NoSandbox = true
	cfg.ChromePath = "/usr/bin/chromium"
	if got := len(New(cfg, nil).allocatorOptions()); got != base+2 {
		t.Errorf("options = %d, want %d", got, base+2)
	}
}

func TestIdleTracker_OnlyMainDocumentIdle(t *testing.T) {
	var tr idleTracker
	idle := func(frame, loader string) *page.EventLifecycleEvent {
		return &page.EventLifecycleEvent{FrameID: cdp.FrameID(frame), LoaderID: cdp.LoaderID(loader), Name: "networkIdle"}
	}
	navigated := func(frame, parent, loader string) *page.EventFrameNavigated {
		return &page.EventFrameNavigated{Frame: &cdp.Frame{ID: cdp.FrameID(frame), ParentID: cdp.FrameID(parent), LoaderID: cdp.LoaderID(loader)}}
	}

	// replayed idle of the initial about:blank document
	if tr.observe(idle("main", "blank")) {
		t.Fatal("idle before main navigation accepted")
	}
	if tr.observe(navigated("main", "", "L1")) {
		t.Fatal("navigation reported as idle")
	}
	if tr.observe(navigated("ad", "main", "L9")) {
		t.Fatal("subframe navigation reported as idle")
	}
	if tr.observe(idle("ad", "L9")) {
		t.Error("subframe idle accepted")
	}
	if tr.observe(idle("main", "blank")) {
		t.Error("stale loader idle accepted")
	}
	if tr.observe(&page.EventLifecycleEvent{FrameID: "main", LoaderID: "L1", Name: "load"}) {
		t.Error("load event accepted as idle")
	}
	if !tr.observe(idle("main", "L1")) {
		t.Error("main document idle rejected")
	}
}
