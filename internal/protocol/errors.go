package protocol

import "errors"

// ErrUnknownType is returned by Decode for unsupported message types.
var ErrUnknownType = errors.New("unknown message type")
