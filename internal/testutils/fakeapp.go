// Package testutils provides a simulated application and scripted classifiers for tests.
package testutils

import (
	"context"
	"fmt"
	"sync"

	"github.com/aretw0/droidscout/pkg/domain"
)

// ScreenSize is the pixel size of every simulated screen. It equals the normalized
// coordinate space, so classifier positions need no conversion in tests.
const ScreenSize = 1000

// Widget is an interactive element of a simulated screen.
// Tapping at (X, Y) moves to Target; an empty Target means the tap has no effect.
// AfterRestart, when set, replaces Target once the app has been restarted.
type Widget struct {
	Description  string
	Action       string
	X, Y         int
	Target       string
	AfterRestart string
	IsLeaf       bool
	Content      string
}

// Screen is one simulated page. Container defaults to Name and Hash to a value derived from Name.
type Screen struct {
	Name        string
	Description string
	Container   string
	Hash        uint64
	Fingerprint string
	Foreign     bool
	Widgets     []Widget
}

// BackHook lets a test override back navigation. Returning handled=false falls back to popping the stack.
type BackHook func(from string, attempt int) (to string, handled bool)

// FakeApp is a deterministic in-memory device. It is safe for concurrent use.
type FakeApp struct {
	Bundle string

	mu       sync.Mutex
	screens  map[string]*Screen
	order    []string
	launch   string
	stack    []string
	restarts int
	actions  int
	backs    int
	taps     []domain.Point
	onAction func(n int)
	backHook BackHook
}

// NewFakeApp creates an app whose launch screen is the first screen given.
func NewFakeApp(bundle string, screens ...Screen) *FakeApp {
	app := &FakeApp{Bundle: bundle, screens: make(map[string]*Screen)}
	for i := range screens {
		s := screens[i]
		if s.Container == "" {
			s.Container = s.Name
		}
		if s.Hash == 0 {
			s.Hash = hashOf(s.Name)
		}
		if s.Fingerprint == "" {
			s.Fingerprint = "fp-" + s.Name
		}
		app.screens[s.Name] = &s
		app.order = append(app.order, s.Name)
	}
	if len(screens) > 0 {
		app.launch = screens[0].Name
		app.stack = []string{app.launch}
	}
	return app
}

// hashOf spreads names over the hash space so distinct screens are far apart.
func hashOf(name string) uint64 {
	var h uint64 = 1469598103934665603
	for i := 0; i < len(name); i++ {
		h ^= uint64(name[i])
		h *= 1099511628211
	}
	return h
}

// OnAction registers a callback invoked after every gesture with the running action count.
func (a *FakeApp) OnAction(fn func(n int)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onAction = fn
}

// SetBackHook overrides back navigation.
func (a *FakeApp) SetBackHook(h BackHook) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.backHook = h
}

// Screen returns the definition of a screen.
func (a *FakeApp) Screen(name string) *Screen {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.screens[name]
}

// Current returns the name of the screen on display.
func (a *FakeApp) Current() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stack[len(a.stack)-1]
}

// Restarts returns how many times the app was restarted.
func (a *FakeApp) Restarts() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.restarts
}

// Actions returns how many gestures were performed.
func (a *FakeApp) Actions() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.actions
}

// Taps returns every tapped point in order.
func (a *FakeApp) Taps() []domain.Point {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.Point(nil), a.taps...)
}

func (a *FakeApp) gesture() {
	a.actions++
	if a.onAction != nil {
		n := a.actions
		fn := a.onAction
		a.mu.Unlock()
		fn(n)
		a.mu.Lock()
	}
}

func (a *FakeApp) tapAt(x, y int) error {
	a.taps = append(a.taps, domain.Point{X: x, Y: y})
	cur := a.screens[a.stack[len(a.stack)-1]]
	for _, w := range cur.Widgets {
		if w.X != x || w.Y != y {
			continue
		}
		target := w.Target
		if a.restarts > 0 && w.AfterRestart != "" {
			target = w.AfterRestart
		}
		if target == "" {
			return domain.ErrNoEffect
		}
		if target != cur.Name {
			if _, ok := a.screens[target]; !ok {
				return fmt.Errorf("unknown screen %q", target)
			}
			a.stack = append(a.stack, target)
		}
		return nil
	}
	return nil
}

// Tap implements ports.Device.
func (a *FakeApp) Tap(ctx context.Context, x, y int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	err := a.tapAt(x, y)
	a.gesture()
	return err
}

// LongPress implements ports.Device and behaves like Tap.
func (a *FakeApp) LongPress(ctx context.Context, x, y int) error {
	return a.Tap(ctx, x, y)
}

// Type implements ports.Device. Typing never changes the screen.
func (a *FakeApp) Type(ctx context.Context, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.gesture()
	return nil
}

// Back implements ports.Device.
func (a *FakeApp) Back(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.backs++
	from := a.stack[len(a.stack)-1]
	if a.backHook != nil {
		if to, ok := a.backHook(from, a.backs); ok {
			a.stack = append(a.stack, to)
			a.gesture()
			return nil
		}
	}
	if len(a.stack) > 1 {
		a.stack = a.stack[:len(a.stack)-1]
	}
	a.gesture()
	return nil
}

// Capture implements ports.Device.
func (a *FakeApp) Capture(ctx context.Context, refresh bool) (*domain.Snapshot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotOf(a.stack[len(a.stack)-1]), nil
}

// Snapshot renders the named screen without touching navigation state.
func (a *FakeApp) Snapshot(name string) *domain.Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotOf(name)
}

func (a *FakeApp) snapshotOf(name string) *domain.Snapshot {
	s := a.screens[name]
	bundle := a.Bundle
	if s.Foreign {
		bundle = "com.android.launcher"
	}
	return &domain.Snapshot{
		Image:                 []byte(s.Name),
		Width:                 ScreenSize,
		Height:                ScreenSize,
		Structure:             []byte("<hierarchy screen=\"" + s.Name + "\"/>"),
		StructuralFingerprint: s.Fingerprint,
		Features:              []string{"screen=" + s.Name},
		PerceptualHash:        s.Hash,
		ContainerIdentity:     s.Container,
		Bundle:                bundle,
	}
}

// Restart implements ports.Device: the back stack is reset to the launch screen.
func (a *FakeApp) Restart(ctx context.Context, bundle string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.restarts++
	a.stack = []string{a.launch}
	return nil
}

// DeclaredContainers implements ports.ContainerLister.
func (a *FakeApp) DeclaredContainers(ctx context.Context, bundle string) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for _, name := range a.order {
		out = append(out, a.screens[name].Container)
	}
	return out, nil
}
