package types

import "errors"

var errInvalidHashLength = errors.New("types: hash must be exactly 32 bytes")
