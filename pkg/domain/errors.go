package domain

import "errors"

// ErrGraphNotFound is returned when a run ID has no persisted graph in the store.
var ErrGraphNotFound = errors.New("graph not found")

// ErrNoEffect is returned by device adapters when an action had no observable effect.
var ErrNoEffect = errors.New("action had no effect")

// ErrBudgetExceeded is returned when the exploration deadline or stop flag has tripped.
var ErrBudgetExceeded = errors.New("exploration budget exceeded")

// ErrUnsupportedAction is returned when an edge carries an action the device cannot dispatch.
var ErrUnsupportedAction = errors.New("unsupported action")

// ErrNoJSONObject is returned when a classifier reply contains no structured object.
var ErrNoJSONObject = errors.New("no json object in classifier reply")

// ErrWidgetNotFound is returned when the classifier cannot locate a widget on the current screen.
var ErrWidgetNotFound = errors.New("widget not found on screen")

// ErrUnitNotFound is returned when a functional unit index does not exist in a run's FDG.
var ErrUnitNotFound = errors.New("functional unit not found")
