package reader

import (
	"fmt"
	"sync"
	"time"

	"github.com/LucidAutoProgram/RFID-Program/internal/models"

	"go.uber.org/zap"
)

const defaultDialTimeout = 5 * time.Second

// Pool 按读写器地址缓存连接，掉线后由调用方 Drop 再 Get 重连
type Pool struct {
	mu     sync.Mutex
	conns  map[string]Conn
	logger *zap.Logger

	// Dial 可在测试中替换
	Dial func(rdr models.Reader) (Conn, error)
}

// NewPool 创建连接池
func NewPool(logger *zap.Logger) *Pool {
	return &Pool{
		conns:  make(map[string]Conn),
		logger: logger,
		Dial:   dialReader,
	}
}

func dialReader(rdr models.Reader) (Conn, error) {
	switch rdr.Transport {
	case models.TransportSerial:
		return OpenSerial(rdr.Address, rdr.BaudRate)
	case models.TransportTCP, "":
		return DialTCP(rdr.Address, rdr.Port, defaultDialTimeout)
	default:
		return nil, fmt.Errorf("unknown transport %q for reader %s", rdr.Transport, rdr.Address)
	}
}

// Get 返回读写器的已有连接，没有则新建
func (p *Pool) Get(rdr models.Reader) (Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if conn, ok := p.conns[rdr.Address]; ok {
		return conn, nil
	}

	conn, err := p.Dial(rdr)
	if err != nil {
		return nil, err
	}

	p.conns[rdr.Address] = conn
	p.logger.Info("Reader connected",
		zap.String("device", rdr.Address),
		zap.String("transport", string(rdr.Transport)),
		zap.String("location", rdr.LocationName),
	)
	return conn, nil
}

// Drop 关闭并移除一条连接，下次 Get 时重连
func (p *Pool) Drop(address string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if conn, ok := p.conns[address]; ok {
		if err := conn.Close(); err != nil {
			p.logger.Warn("Failed to close reader connection",
				zap.String("device", address),
				zap.Error(err),
			)
		}
		delete(p.conns, address)
	}
}

// CloseAll 关闭池内全部连接
func (p *Pool) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for address, conn := range p.conns {
		if err := conn.Close(); err != nil {
			p.logger.Warn("Failed to close reader connection",
				zap.String("device", address),
				zap.Error(err),
			)
		}
		delete(p.conns, address)
	}
}
