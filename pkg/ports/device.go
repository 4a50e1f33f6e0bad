package ports

import (
	"context"

	"github.com/aretw0/droidscout/pkg/domain"
)

// Device drives the application under test.
// Gesture methods return domain.ErrNoEffect when the device reports the action was not performed.
type Device interface {
	Tap(ctx context.Context, x, y int) error
	LongPress(ctx context.Context, x, y int) error
	Type(ctx context.Context, text string) error
	Back(ctx context.Context) error

	// Capture returns the current screen. When refresh is false the adapter may
	// return its most recent capture.
	Capture(ctx context.Context, refresh bool) (*domain.Snapshot, error)

	// Restart force-stops and relaunches the application identified by bundle.
	Restart(ctx context.Context, bundle string) error
}

// ContainerLister is implemented by devices that can enumerate the containers
// (activities) an application declares. It feeds coverage reporting.
type ContainerLister interface {
	DeclaredContainers(ctx context.Context, bundle string) ([]string, error)
}
