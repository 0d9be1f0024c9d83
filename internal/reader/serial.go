package reader

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// 现场读写器支持的串口波特率
var supportedBaudRates = map[int]bool{
	9600:   true,
	19200:  true,
	38400:  true,
	57600:  true,
	115200: true,
}

type serialConn struct {
	port serial.Port
	buf  []byte
}

// OpenSerial 打开到读写器的串口连接（path 形如 /dev/ttyUSB0）
func OpenSerial(path string, baudRate int) (Conn, error) {
	if !supportedBaudRates[baudRate] {
		return nil, fmt.Errorf("unsupported baud rate %d for %s", baudRate, path)
	}

	port, err := serial.Open(path, &serial.Mode{BaudRate: baudRate})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", path, err)
	}

	return &serialConn{port: port, buf: make([]byte, readBufferSize)}, nil
}

func (s *serialConn) Send(data []byte) error {
	if _, err := s.port.Write(data); err != nil {
		return fmt.Errorf("failed to send command: %w", err)
	}
	return nil
}

func (s *serialConn) Read(timeout time.Duration) ([]byte, error) {
	if err := s.port.SetReadTimeout(timeout); err != nil {
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}

	n, err := s.port.Read(s.buf)
	if err != nil {
		return nil, err
	}
	// 串口读超时返回 n==0 而不是错误
	if n == 0 {
		return nil, ErrReadTimeout
	}

	out := make([]byte, n)
	copy(out, s.buf[:n])
	return out, nil
}

func (s *serialConn) Close() error {
	return s.port.Close()
}
