//go:build windows

package server

import (
	"net"

	"github.com/Microsoft/go-winio"
)

// pipeBufferSize fits a few SSE frames per read.
const pipeBufferSize = 64 << 10

func listen(network, address string) (net.Listener, error) {
	if network != "npipe" {
		return net.Listen(network, address)
	}
	// Byte mode: SSE responses are a stream, not discrete messages.
	return winio.ListenPipe(address, &winio.PipeConfig{
		InputBufferSize:  pipeBufferSize,
		OutputBufferSize: pipeBufferSize,
	})
}
