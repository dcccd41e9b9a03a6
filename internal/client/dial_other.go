//go:build !windows

package client

import (
	"context"
	"fmt"
	"net"
)

func dialPipeContext(_ context.Context, address string) (net.Conn, error) {
	return nil, fmt.Errorf("cannot dial %s: named pipes are only supported on windows", address)
}
