package exception

import "github.com/yanun0323/errors"

var (
	ErrNilDialer          = errors.New("nil dialer")
	ErrNilHandler         = errors.New("nil message handler")
	ErrInvalidDestination = errors.New("invalid destination")
	ErrHandshake          = errors.New("websocket handshake failed")
)
