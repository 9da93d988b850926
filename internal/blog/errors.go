package blog

import "errors"

var (
	// ErrForbidden is returned when a user acts on content they do not own.
	ErrForbidden = errors.New("forbidden")
	// ErrSelfFollow is returned when a user tries to follow or unfollow themselves.
	ErrSelfFollow = errors.New("cannot follow or unfollow yourself")
	// ErrInvalidInput wraps validation failures of user-supplied fields.
	ErrInvalidInput = errors.New("invalid input")
	// ErrConflict is returned when a unique name is already taken.
	ErrConflict = errors.New("already exists")
)
