//go:build windows

package client

import (
	"context"
	"net"
	"time"

	"github.com/Microsoft/go-winio"
)

// pipeDialTimeout bounds waiting for a busy pipe server to accept.
const pipeDialTimeout = 30 * time.Second

func dialPipeContext(ctx context.Context, address string) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, pipeDialTimeout)
	defer cancel()
	return winio.DialPipeContext(ctx, address)
}
