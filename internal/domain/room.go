package domain

// RoomID is issued by the scheduling subsystem; the coordinator treats it as
// an opaque string.
type RoomID string
