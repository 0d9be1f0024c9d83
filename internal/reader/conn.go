// Package reader 管理与RFID读写器的连接和每台读写器的采集循环。
package reader

import (
	"errors"
	"fmt"
	"net"
	"time"
)

const (
	// DefaultTCPPort 读写器出厂默认的TCP服务端口
	DefaultTCPPort = 2022

	readBufferSize = 4096
)

// ErrReadTimeout 一次读取在超时时间内没有收到任何数据
var ErrReadTimeout = errors.New("reader: read timeout")

// Conn 一条到读写器的双向连接（TCP或串口）
type Conn interface {
	// Send 发送一条完整命令帧
	Send(data []byte) error
	// Read 读取一段应答数据，超时返回 ErrReadTimeout
	Read(timeout time.Duration) ([]byte, error)
	Close() error
}

// IsTimeout 判断读取错误是否为超时（超时不代表连接损坏）
func IsTimeout(err error) bool {
	if errors.Is(err, ErrReadTimeout) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

type tcpConn struct {
	c   net.Conn
	buf []byte
}

// DialTCP 建立到读写器的TCP连接
func DialTCP(address string, port int, timeout time.Duration) (Conn, error) {
	if port == 0 {
		port = DefaultTCPPort
	}
	addr := fmt.Sprintf("%s:%d", address, port)

	c, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to dial reader %s: %w", addr, err)
	}

	return &tcpConn{c: c, buf: make([]byte, readBufferSize)}, nil
}

func (t *tcpConn) Send(data []byte) error {
	if _, err := t.c.Write(data); err != nil {
		return fmt.Errorf("failed to send command: %w", err)
	}
	return nil
}

func (t *tcpConn) Read(timeout time.Duration) ([]byte, error) {
	if err := t.c.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, fmt.Errorf("failed to set read deadline: %w", err)
	}

	n, err := t.c.Read(t.buf)
	if err != nil {
		return nil, err
	}

	out := make([]byte, n)
	copy(out, t.buf[:n])
	return out, nil
}

func (t *tcpConn) Close() error {
	return t.c.Close()
}
