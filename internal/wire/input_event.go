package wire

import "fmt"

// InputEvent is the sum type carried by InputCommand.
// Exactly one of the MouseX/KeyboardX fields is meaningful, selected by Kind.
type InputEventKind uint32

const (
	InputEventMouseMove InputEventKind = iota
	InputEventMouseDown
	InputEventMouseUp
	InputEventMouseDoubleClick
	InputEventMouseScrollWheel
	InputEventKeyboardKeyDown
	InputEventKeyboardKeyUp
)

type InputEvent struct {
	Kind InputEventKind

	// Mouse* variants
	MouseButton MouseKey
	X           float32
	Y           float32

	// MouseScrollWheel
	Delta float32

	// Keyboard* variants
	KeyCode KeyboardKey
}

func MouseMove(key MouseKey, x, y float32) InputEvent {
	return InputEvent{Kind: InputEventMouseMove, MouseButton: key, X: x, Y: y}
}

func MouseDown(key MouseKey, x, y float32) InputEvent {
	return InputEvent{Kind: InputEventMouseDown, MouseButton: key, X: x, Y: y}
}

func MouseUp(key MouseKey, x, y float32) InputEvent {
	return InputEvent{Kind: InputEventMouseUp, MouseButton: key, X: x, Y: y}
}

func MouseDoubleClick(key MouseKey, x, y float32) InputEvent {
	return InputEvent{Kind: InputEventMouseDoubleClick, MouseButton: key, X: x, Y: y}
}

func MouseScrollWheel(delta float32) InputEvent {
	return InputEvent{Kind: InputEventMouseScrollWheel, Delta: delta}
}

func KeyboardKeyDown(code KeyboardKey) InputEvent {
	return InputEvent{Kind: InputEventKeyboardKeyDown, KeyCode: code}
}

func KeyboardKeyUp(code KeyboardKey) InputEvent {
	return InputEvent{Kind: InputEventKeyboardKeyUp, KeyCode: code}
}

func encodeInputEvent(w *Writer, e InputEvent) {
	w.PutUvarint(uint64(e.Kind))
	switch e.Kind {
	case InputEventMouseMove, InputEventMouseDown, InputEventMouseUp, InputEventMouseDoubleClick:
		w.PutUvarint(uint64(e.MouseButton))
		w.PutF32(e.X)
		w.PutF32(e.Y)
	case InputEventMouseScrollWheel:
		w.PutF32(e.Delta)
	case InputEventKeyboardKeyDown, InputEventKeyboardKeyUp:
		w.PutUvarint(uint64(e.KeyCode))
	}
}

func decodeInputEvent(r *Reader) (InputEvent, error) {
	kindRaw, err := r.Uvarint()
	if err != nil {
		return InputEvent{}, fmt.Errorf("input event kind: %w", err)
	}
	kind := InputEventKind(kindRaw)

	var e InputEvent
	e.Kind = kind

	switch kind {
	case InputEventMouseMove, InputEventMouseDown, InputEventMouseUp, InputEventMouseDoubleClick:
		btn, err := r.Uvarint()
		if err != nil {
			return e, err
		}
		e.MouseButton = MouseKey(btn)
		if e.X, err = r.F32(); err != nil {
			return e, err
		}
		if e.Y, err = r.F32(); err != nil {
			return e, err
		}
	case InputEventMouseScrollWheel:
		if e.Delta, err = r.F32(); err != nil {
			return e, err
		}
	case InputEventKeyboardKeyDown, InputEventKeyboardKeyUp:
		code, err := r.Uvarint()
		if err != nil {
			return e, err
		}
		e.KeyCode = KeyboardKey(code)
	default:
		return e, fmt.Errorf("input event: unknown kind %d", kindRaw)
	}
	return e, nil
}
