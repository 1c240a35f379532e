// Package input dispatches InputCommand events to a platform Injector on
// the passive side, synthesizing double-clicks from closely-spaced
// MouseUp sequences before anything reaches the injector.
package input

import "github.com/mirrorx/endpoint/internal/wire"

// Injector is the platform input-injection backend, generalized to the
// closed MouseKey/KeyboardKey enumerations carried over the wire instead
// of free-form strings.
type Injector interface {
	MouseMove(key wire.MouseKey, x, y float32) error
	MouseDown(key wire.MouseKey, x, y float32) error
	MouseUp(key wire.MouseKey, x, y float32) error
	MouseDoubleClick(key wire.MouseKey, x, y float32) error
	MouseScrollWheel(delta float32) error
	KeyboardKeyDown(code wire.KeyboardKey) error
	KeyboardKeyUp(code wire.KeyboardKey) error
}

// Dispatcher applies a batch of InputEvents to an Injector, synthesizing
// double-clicks per the collapse rule before dispatch, clamping mouse
// coordinates to the currently-attached monitor's pixel rectangle.
type Dispatcher struct {
	injector      Injector
	width, height uint32
}

// NewDispatcher builds a Dispatcher wrapping injector. width/height are the
// active monitor's pixel dimensions; SetMonitorSize updates them when the
// session switches monitors.
func NewDispatcher(injector Injector, width, height uint32) *Dispatcher {
	return &Dispatcher{injector: injector, width: width, height: height}
}

// SetMonitorSize updates the clamping rectangle after a monitor switch.
func (d *Dispatcher) SetMonitorSize(width, height uint32) {
	d.width, d.height = width, height
}

// Handle processes one InputCommand's events left-to-right, applying
// SynthesizeDoubleClicks first and dispatching the resulting sequence to
// the injector in order. The first injector error stops processing (the
// remaining events in this batch are dropped, matching the session's
// posture of never blocking the read loop on a stuck platform backend).
func (d *Dispatcher) Handle(events []wire.InputEvent) error {
	for _, e := range SynthesizeDoubleClicks(events) {
		if err := d.apply(e); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) apply(e wire.InputEvent) error {
	switch e.Kind {
	case wire.InputEventMouseMove:
		x, y := ClampToMonitor(e.X, e.Y, d.width, d.height)
		return d.injector.MouseMove(e.MouseButton, x, y)
	case wire.InputEventMouseDown:
		x, y := ClampToMonitor(e.X, e.Y, d.width, d.height)
		return d.injector.MouseDown(e.MouseButton, x, y)
	case wire.InputEventMouseUp:
		x, y := ClampToMonitor(e.X, e.Y, d.width, d.height)
		return d.injector.MouseUp(e.MouseButton, x, y)
	case wire.InputEventMouseDoubleClick:
		x, y := ClampToMonitor(e.X, e.Y, d.width, d.height)
		return d.injector.MouseDoubleClick(e.MouseButton, x, y)
	case wire.InputEventMouseScrollWheel:
		return d.injector.MouseScrollWheel(e.Delta)
	case wire.InputEventKeyboardKeyDown:
		return d.injector.KeyboardKeyDown(e.KeyCode)
	case wire.InputEventKeyboardKeyUp:
		return d.injector.KeyboardKeyUp(e.KeyCode)
	default:
		return nil
	}
}
