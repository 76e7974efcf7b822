package domain

import "errors"

// Action errors are local to the action that caused them; they never tear
// down the connection or other in-flight room state.
var (
	// ErrForbidden indicates a role or ownership check failed.
	ErrForbidden = errors.New("forbidden")
	// ErrNotAMember indicates the connection is not registered in any room.
	ErrNotAMember = errors.New("not a member of any room")
	// ErrNotEligible indicates the participant has no screen-share grant.
	ErrNotEligible = errors.New("not eligible to share screen")
	// ErrAlreadySharing indicates the room already has a screen-share holder.
	ErrAlreadySharing = errors.New("screen share already active")
	// ErrEmptyMessage indicates the chat body failed validation.
	ErrEmptyMessage = errors.New("chat body failed validation")
)
