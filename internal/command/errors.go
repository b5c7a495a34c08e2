package command

import "errors"

// ErrEmptyCommand is returned when tokenizing an empty or whitespace-only
// command string.
var ErrEmptyCommand = errors.New("command must not be empty")
