package models

// DirectoryEvent is one delivery on a directory subscription: the full
// current room set, recomputed after every change. A non-nil Err is
// terminal; no further events follow it.
type DirectoryEvent struct {
	Rooms []Room
	Err   error
}

// StreamEvent is one delivery on a room message subscription. A non-nil
// Err is terminal; no further events follow it.
type StreamEvent struct {
	Message *Message
	Err     error
}
