package reader

import "sync"

// Flags 各读写器的读取开关，键为读写器地址。
// 启动时按 reading_mode 列初始化，运行中由控制消费者翻转。
type Flags struct {
	mu      sync.RWMutex
	enabled map[string]bool
}

// NewFlags 创建开关表
func NewFlags() *Flags {
	return &Flags{enabled: make(map[string]bool)}
}

// Set 设置一台读写器的读取开关
func (f *Flags) Set(address string, on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled[address] = on
}

// Enabled 查询一台读写器是否处于读取模式
func (f *Flags) Enabled(address string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.enabled[address]
}
