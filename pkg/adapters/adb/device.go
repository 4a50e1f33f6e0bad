package adb

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/droidscout/internal/logging"
	"github.com/aretw0/droidscout/pkg/domain"
	"github.com/corona10/goimagehash"
)

const dumpPath = "/sdcard/window_dump.xml"

// DangerousPermissions are granted up front so runtime permission dialogs do not interrupt exploration.
var DangerousPermissions = []string{
	"android.permission.READ_CALENDAR",
	"android.permission.WRITE_CALENDAR",
	"android.permission.CAMERA",
	"android.permission.READ_CONTACTS",
	"android.permission.WRITE_CONTACTS",
	"android.permission.GET_ACCOUNTS",
	"android.permission.ACCESS_FINE_LOCATION",
	"android.permission.ACCESS_COARSE_LOCATION",
	"android.permission.RECORD_AUDIO",
	"android.permission.READ_PHONE_STATE",
	"android.permission.CALL_PHONE",
	"android.permission.READ_CALL_LOG",
	"android.permission.WRITE_CALL_LOG",
	"android.permission.BODY_SENSORS",
	"android.permission.SEND_SMS",
	"android.permission.RECEIVE_SMS",
	"android.permission.READ_SMS",
	"android.permission.READ_EXTERNAL_STORAGE",
	"android.permission.WRITE_EXTERNAL_STORAGE",
	"android.permission.POST_NOTIFICATIONS",
}

var (
	focusPattern = regexp.MustCompile(`(?m)(?:mResumedActivity|topResumedActivity|mCurrentFocus|mFocusedApp)[:=]\s*\S*?\{[^}]*?\s([A-Za-z0-9_.]+)/([A-Za-z0-9_.$]+)`)
	shellSpecial = regexp.MustCompile(`([\\"'()<>|;&*~$` + "`" + `!?#])`)
)

// Device is an adb backed ports.Device.
type Device struct {
	runner    Runner
	logger    *slog.Logger
	longPress time.Duration

	mu   sync.Mutex
	last *domain.Snapshot
}

// Option configures a Device.
type Option func(*Device)

// WithRunner replaces the adb runner.
func WithRunner(r Runner) Option {
	return func(d *Device) {
		d.runner = r
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Device) {
		d.logger = l
	}
}

// WithLongPressDuration sets how long a long press holds (default 1s).
func WithLongPressDuration(dur time.Duration) Option {
	return func(d *Device) {
		if dur > 0 {
			d.longPress = dur
		}
	}
}

// New creates a device for the given serial. An empty serial targets the only attached device.
func New(adbPath, serial string, opts ...Option) *Device {
	d := &Device{
		runner:    CommandRunner{Path: adbPath, Serial: serial},
		logger:    logging.NewNop(),
		longPress: time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Device) shell(ctx context.Context, args ...string) ([]byte, error) {
	d.invalidate()
	return d.runner.Run(ctx, append([]string{"shell"}, args...)...)
}

func (d *Device) invalidate() {
	d.mu.Lock()
	d.last = nil
	d.mu.Unlock()
}

// Tap implements ports.Device.
func (d *Device) Tap(ctx context.Context, x, y int) error {
	if _, err := d.shell(ctx, "input", "tap", strconv.Itoa(x), strconv.Itoa(y)); err != nil {
		return fmt.Errorf("failed to tap (%d,%d): %w", x, y, err)
	}
	return nil
}

// LongPress implements ports.Device as a zero-length swipe.
func (d *Device) LongPress(ctx context.Context, x, y int) error {
	px, py := strconv.Itoa(x), strconv.Itoa(y)
	ms := strconv.FormatInt(d.longPress.Milliseconds(), 10)
	if _, err := d.shell(ctx, "input", "swipe", px, py, px, py, ms); err != nil {
		return fmt.Errorf("failed to long press (%d,%d): %w", x, y, err)
	}
	return nil
}

// Type implements ports.Device.
func (d *Device) Type(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	if _, err := d.shell(ctx, "input", "text", EscapeText(text)); err != nil {
		return fmt.Errorf("failed to type text: %w", err)
	}
	return nil
}

// EscapeText encodes text for "input text": spaces become %s and shell metacharacters are escaped.
func EscapeText(text string) string {
	escaped := shellSpecial.ReplaceAllString(text, `\$1`)
	return strings.ReplaceAll(escaped, " ", "%s")
}

// Back implements ports.Device.
func (d *Device) Back(ctx context.Context) error {
	if _, err := d.shell(ctx, "input", "keyevent", "4"); err != nil {
		return fmt.Errorf("failed to press back: %w", err)
	}
	return nil
}

// Restart implements ports.Device.
func (d *Device) Restart(ctx context.Context, bundle string) error {
	if _, err := d.shell(ctx, "am", "force-stop", bundle); err != nil {
		return fmt.Errorf("failed to stop %s: %w", bundle, err)
	}
	if _, err := d.shell(ctx, "monkey", "-p", bundle, "-c", "android.intent.category.LAUNCHER", "1"); err != nil {
		return fmt.Errorf("failed to launch %s: %w", bundle, err)
	}
	return nil
}

// Capture implements ports.Device.
func (d *Device) Capture(ctx context.Context, refresh bool) (*domain.Snapshot, error) {
	if !refresh {
		d.mu.Lock()
		last := d.last
		d.mu.Unlock()
		if last != nil {
			return last.Clone(), nil
		}
	}

	img, err := d.runner.Run(ctx, "exec-out", "screencap", "-p")
	if err != nil {
		return nil, fmt.Errorf("failed to capture screen: %w", err)
	}
	snap := &domain.Snapshot{Image: img}

	decoded, err := png.Decode(bytes.NewReader(img))
	if err != nil {
		return nil, fmt.Errorf("failed to decode screenshot: %w", err)
	}
	b := decoded.Bounds()
	snap.Width, snap.Height = b.Dx(), b.Dy()
	if hash, err := goimagehash.PerceptionHash(decoded); err == nil {
		snap.PerceptualHash = hash.GetHash()
	} else {
		d.logger.Warn("perceptual hash failed", "error", err)
	}

	if structure, err := d.dumpHierarchy(ctx); err != nil {
		d.logger.Warn("window hierarchy unavailable", "error", err)
	} else {
		snap.Structure = structure
		if s, err := ParseStructure(structure); err == nil {
			snap.StructuralFingerprint = s.Fingerprint
			snap.Features = s.Features
		} else {
			d.logger.Warn("window hierarchy rejected", "error", err)
		}
	}

	if out, err := d.runner.Run(ctx, "shell", "dumpsys", "activity", "activities"); err != nil {
		d.logger.Warn("foreground activity unavailable", "error", err)
	} else if pkg, activity, ok := ParseFocus(string(out)); ok {
		snap.Bundle = pkg
		snap.ContainerIdentity = activity
	}

	d.mu.Lock()
	d.last = snap
	d.mu.Unlock()
	return snap.Clone(), nil
}

func (d *Device) dumpHierarchy(ctx context.Context) ([]byte, error) {
	if _, err := d.runner.Run(ctx, "shell", "uiautomator", "dump", dumpPath); err != nil {
		return nil, err
	}
	return d.runner.Run(ctx, "exec-out", "cat", dumpPath)
}

// ParseFocus extracts the package and fully qualified activity of the focused
// window from dumpsys output.
func ParseFocus(dump string) (pkg, activity string, ok bool) {
	m := focusPattern.FindStringSubmatch(dump)
	if m == nil {
		return "", "", false
	}
	return m[1], qualify(m[1], m[2]), true
}

func qualify(pkg, activity string) string {
	if strings.HasPrefix(activity, ".") {
		return pkg + activity
	}
	return activity
}

// DeclaredContainers implements ports.ContainerLister from the package dump.
func (d *Device) DeclaredContainers(ctx context.Context, bundle string) ([]string, error) {
	out, err := d.runner.Run(ctx, "shell", "dumpsys", "package", bundle)
	if err != nil {
		return nil, fmt.Errorf("failed to list activities of %s: %w", bundle, err)
	}
	return ParseActivities(string(out), bundle), nil
}

// ParseActivities returns the sorted, distinct activities of bundle referenced in a package dump.
func ParseActivities(dump, bundle string) []string {
	pattern := regexp.MustCompile(regexp.QuoteMeta(bundle) + `/([A-Za-z0-9_.$]+)`)
	seen := make(map[string]bool)
	var out []string
	for _, m := range pattern.FindAllStringSubmatch(dump, -1) {
		a := qualify(bundle, m[1])
		if seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// GrantPermissions grants every permission in DangerousPermissions to bundle.
// Permissions the app does not request fail on the device and are skipped.
func (d *Device) GrantPermissions(ctx context.Context, bundle string) int {
	granted := 0
	for _, perm := range DangerousPermissions {
		if _, err := d.runner.Run(ctx, "shell", "pm", "grant", bundle, perm); err != nil {
			if ctx.Err() != nil {
				break
			}
			d.logger.Debug("permission not granted", "permission", perm, "error", err)
			continue
		}
		granted++
	}
	d.logger.Info("granted permissions", "bundle", bundle, "count", granted)
	return granted
}
