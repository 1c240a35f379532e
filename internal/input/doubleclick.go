package input

import "github.com/mirrorx/endpoint/internal/wire"

// doubleClickWindow is the run length the collapse rule looks for.
const doubleClickWindow = 4

// doubleClickSpan is the maximum x/y range, in logical units, a run of
// MouseUp events may span and still collapse into one MouseDoubleClick.
const doubleClickSpan = 5.0

// SynthesizeDoubleClicks scans events left to right and collapses every
// run of doubleClickWindow consecutive MouseUp events that share the same
// button and whose x and y ranges both stay under doubleClickSpan into a
// single MouseDoubleClick positioned at the run's arithmetic mean.
// Consumed events are skipped; everything else passes through unchanged.
func SynthesizeDoubleClicks(events []wire.InputEvent) []wire.InputEvent {
	out := make([]wire.InputEvent, 0, len(events))

	for i := 0; i < len(events); {
		if run, ok := matchRun(events, i); ok {
			out = append(out, collapse(run))
			i += doubleClickWindow
			continue
		}
		out = append(out, events[i])
		i++
	}
	return out
}

// matchRun reports whether events[i:i+doubleClickWindow] is a collapsible
// run of same-button MouseUp events within doubleClickSpan.
func matchRun(events []wire.InputEvent, i int) ([]wire.InputEvent, bool) {
	if i+doubleClickWindow > len(events) {
		return nil, false
	}
	run := events[i : i+doubleClickWindow]

	button := run[0].MouseButton
	minX, maxX := run[0].X, run[0].X
	minY, maxY := run[0].Y, run[0].Y

	for _, e := range run {
		if e.Kind != wire.InputEventMouseUp || e.MouseButton != button {
			return nil, false
		}
		if e.X < minX {
			minX = e.X
		}
		if e.X > maxX {
			maxX = e.X
		}
		if e.Y < minY {
			minY = e.Y
		}
		if e.Y > maxY {
			maxY = e.Y
		}
	}

	if maxX-minX >= doubleClickSpan || maxY-minY >= doubleClickSpan {
		return nil, false
	}
	return run, true
}

// collapse computes the arithmetic-mean MouseDoubleClick for a matched run.
func collapse(run []wire.InputEvent) wire.InputEvent {
	var sumX, sumY float32
	for _, e := range run {
		sumX += e.X
		sumY += e.Y
	}
	n := float32(len(run))
	return wire.MouseDoubleClick(run[0].MouseButton, sumX/n, sumY/n)
}
