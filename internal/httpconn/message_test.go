//go:build linux || darwin

package httpconn

import (
	reactor "github.com/joeycumines/go-reactor"
)

var _ reactor.Message = (*Request)(nil)
