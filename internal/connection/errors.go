package connection

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected: 未连接时调用 Send, 属于调用方的编程错误
	ErrNotConnected = errors.New("connection: not connected")

	ErrAlreadyConnected     = errors.New("connection: already connected")
	ErrTransitionInProgress = errors.New("connection: connect or disconnect already in progress")
	ErrEmptyHost            = errors.New("connection: empty host")
)

// ConnectionError 表示中继不可达或连接中断, 可以通过再次 Connect 恢复
type ConnectionError struct {
	Endpoint string
	Op       string // dial, read, write
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection %s %s: %v", e.Op, e.Endpoint, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
