//go:build !windows

package server

import (
	"fmt"
	"io/fs"
	"net"
	"os"
)

// listen opens the server listener. Unix sockets left behind by a previous
// run are removed first and the new socket is restricted to the owner.
func listen(network, address string) (net.Listener, error) {
	switch network {
	case "npipe":
		return nil, fmt.Errorf("named pipes are only supported on windows")
	case "unix":
		if fi, err := os.Stat(address); err == nil && fi.Mode().Type() == fs.ModeSocket {
			if err := os.Remove(address); err != nil {
				return nil, fmt.Errorf("failed to remove stale socket: %w", err)
			}
		}
		ln, err := net.Listen(network, address)
		if err != nil {
			return nil, err
		}
		if err := os.Chmod(address, 0o600); err != nil {
			ln.Close()
			return nil, err
		}
		return ln, nil
	default:
		return net.Listen(network, address)
	}
}
