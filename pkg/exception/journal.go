package exception

import "github.com/yanun0323/errors"

// Journal errors
var (
	ErrJournalFull   = errors.New("journal: queue full")
	ErrJournalClosed = errors.New("journal: closed")
)
