package examsession

import (
	"errors"
	"fmt"
)

// Engine errors. ErrInvalidOption and ErrOutOfRange indicate a caller bug;
// ErrSessionClosed is an expected race after finalize and safe to ignore.
var (
	ErrInvalidOption     = errors.New("option is not one of the question's options")
	ErrUnknownQuestion   = fmt.Errorf("%w: unknown question", ErrInvalidOption)
	ErrOutOfRange        = errors.New("question index out of range")
	ErrSessionClosed     = errors.New("session already submitted")
	ErrPersistenceFailed = errors.New("result persistence failed")
	ErrEmptyBank         = errors.New("question bank is empty")
	ErrDuplicateQuestion = errors.New("duplicate question id")
	ErrTimerBound        = errors.New("countdown already bound to session")
	ErrCountdownStarted  = errors.New("countdown already started")
	ErrCountdownStopped  = errors.New("countdown already stopped")
)
