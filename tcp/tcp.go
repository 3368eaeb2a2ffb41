// Package tcp is the public entry point of the runtime. It re-exports the
// configuration types and constructors of internal/transport so applications
// never import internal packages directly.
package tcp

import (
	"encoding/binary"

	"github.com/luciancaetano/tcpnet"
	"github.com/luciancaetano/tcpnet/framing"
	"github.com/luciancaetano/tcpnet/internal/transport"
)

type ServerConfig = transport.ServerConfig
type ClientConfig = transport.ClientConfig

type OnConnectedFn = transport.OnConnectedFn
type OnDisconnectedFn = transport.OnDisconnectedFn
type OnDataFn = transport.OnDataFn
type OnErrorFn = transport.OnErrorFn

// NewServer creates a stopped server. cfg may be nil for defaults: default
// socket options, no logging, raw (unframed) data delivery.
//
// Example:
//
//	srv := tcp.NewServer(&tcp.ServerConfig{
//		NewFramer: tcp.LengthPrefixed(framing.Uint32),
//		OnData: func(conn tcpnet.Conn, data []byte) {
//			conn.Send(data)
//		},
//	})
//	if err := srv.Start("0.0.0.0", 9000); err != nil {
//		log.Fatal(err)
//	}
func NewServer(cfg *ServerConfig) tcpnet.Server {
	return transport.NewServer(cfg)
}

// NewClient creates a disconnected client. cfg may be nil; without an OnData
// callback the client is synchronous and Receive reads the socket directly.
func NewClient(cfg *ClientConfig) tcpnet.Client {
	return transport.NewClient(cfg)
}

// LengthPrefixed returns a big-endian length-prefixed framer factory for
// servers, producing one independent decoder per accepted connection.
func LengthPrefixed(t framing.LengthType) func() framing.Framer {
	return func() framing.Framer {
		return framing.NewLengthPrefixed(t, binary.BigEndian)
	}
}
