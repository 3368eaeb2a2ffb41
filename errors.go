package tcpnet

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"syscall"
)

// ErrorCode classifies transport failures for the error callback. Codes
// describe the kind of failure, not its representation; the accompanying
// error value carries the detail.
type ErrorCode int

const (
	UnknownError ErrorCode = iota
	InvalidSocket
	ConnectionFailed
	ConnectionClosed
	SendFailed
	ReceiveFailed
	BindFailed
	ListenFailed
	AcceptFailed
	InvalidAddress
	Timeout
	WouldBlock
	EncryptionError
)

func (c ErrorCode) String() string {
	switch c {
	case InvalidSocket:
		return "invalid socket"
	case ConnectionFailed:
		return "connection failed"
	case ConnectionClosed:
		return "connection closed"
	case SendFailed:
		return "send failed"
	case ReceiveFailed:
		return "receive failed"
	case BindFailed:
		return "bind failed"
	case ListenFailed:
		return "listen failed"
	case AcceptFailed:
		return "accept failed"
	case InvalidAddress:
		return "invalid address"
	case Timeout:
		return "timeout"
	case WouldBlock:
		return "would block"
	case EncryptionError:
		return "encryption error"
	default:
		return "unknown error"
	}
}

// Sentinel errors returned by lifecycle entry points.
var (
	ErrClosed         = errors.New("tcpnet: connection closed")
	ErrNotConnected   = errors.New("tcpnet: not connected")
	ErrAlreadyRunning = errors.New("tcpnet: server already running")
	ErrConnNotFound   = errors.New("tcpnet: connection not found")
	ErrRecvLoopActive = errors.New("tcpnet: receive loop owns the socket")
)

// Classify maps a transport error to its ErrorCode. Deadline expiries map to
// Timeout, peer EOF to ConnectionClosed, refusals to ConnectionFailed.
func Classify(err error) ErrorCode {
	switch {
	case err == nil:
		return UnknownError
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE),
		errors.Is(err, ErrClosed):
		return ConnectionClosed
	case errors.Is(err, os.ErrDeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return Timeout
	case errors.Is(err, syscall.ECONNREFUSED):
		return ConnectionFailed
	case errors.Is(err, syscall.EADDRINUSE), errors.Is(err, syscall.EADDRNOTAVAIL):
		return BindFailed
	case errors.Is(err, syscall.EAGAIN):
		return WouldBlock
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return Timeout
	}
	var aerr *net.AddrError
	if errors.As(err, &aerr) {
		return InvalidAddress
	}
	return UnknownError
}
