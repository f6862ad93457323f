package resume

// Window clips the raw bytes of successive attempts to [Offset, Length)
// of the resource. Position is carried across attempts and only ever
// advances.
type Window struct {
	Offset   int64
	Length   int64 // absolute exclusive end, -1 if unknown
	Position int64
}

// NewWindow returns a window positioned at offset.
func NewWindow(offset, length int64) *Window {
	return &Window{Offset: offset, Length: length, Position: offset}
}

// Clip consumes chunk, which the server sent starting at Position, and
// returns the part inside the window. done reports that Position reached
// Length; no further bytes are needed.
func (w *Window) Clip(chunk []byte) (out []byte, done bool) {
	end := w.Position + int64(len(chunk))

	// Entirely before the window.
	if end <= w.Offset {
		w.Position = end
		return nil, false
	}

	if w.Position < w.Offset {
		chunk = chunk[w.Offset-w.Position:]
		w.Position = w.Offset
	}

	if w.Length >= 0 && end > w.Length {
		chunk = chunk[:w.Length-w.Position]
		end = w.Length
	}

	w.Position = end
	return chunk, w.Complete()
}

// Complete reports whether the whole window has been received.
// It is always false while Length is unknown.
func (w *Window) Complete() bool {
	return w.Length >= 0 && w.Position >= w.Length
}

// Transferred returns the number of window bytes received so far.
func (w *Window) Transferred() int64 {
	if w.Position < w.Offset {
		return 0
	}
	return w.Position - w.Offset
}

// Total returns Length-Offset, or -1 while Length is unknown.
func (w *Window) Total() int64 {
	if w.Length < 0 {
		return -1
	}
	return w.Length - w.Offset
}
