// Package session 把一台读写器在一个时间窗口内的原始标签上报聚合为决策输入。
package session

import (
	"time"

	"github.com/google/uuid"
)

// State 会话状态
type State int

const (
	StateIdle State = iota
	StateCollecting
	StateClosed
)

// Session 一台读写器的一个有界扫描窗口。
// 窗口结束时产出一次 Result，之后不可复用。
type Session struct {
	id               string
	state            State
	deadline         time.Time
	firstSeen        map[string]time.Time
	responseReceived bool
}

// Result 窗口聚合结果，由身份解析引擎消费一次
type Result struct {
	SessionID        string
	FirstSeen        map[string]time.Time // 标签 -> 首次看到时间
	ResponseReceived bool
}

// Tags 返回去重后的标签集合
func (r *Result) Tags() []string {
	tags := make([]string, 0, len(r.FirstSeen))
	for tag := range r.FirstSeen {
		tags = append(tags, tag)
	}
	return tags
}

// New 开启一个采集窗口，窗口在 now+window 时刻结束
func New(window time.Duration) *Session {
	return &Session{
		id:        uuid.NewString(),
		state:     StateCollecting,
		deadline:  time.Now().Add(window),
		firstSeen: make(map[string]time.Time),
	}
}

// ID 会话标识
func (s *Session) ID() string { return s.id }

// State 当前状态
func (s *Session) State() State { return s.state }

// Deadline 窗口结束时刻
func (s *Session) Deadline() time.Time { return s.deadline }

// Expired 窗口是否已到期
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.deadline)
}

// MarkResponse 记录本窗口收到过读写器的应答（即使没有解析出标签）
func (s *Session) MarkResponse() {
	if s.state != StateCollecting {
		return
	}
	s.responseReceived = true
}

// Observe 记录一次标签读取。重复标签折叠，只保留首次看到的时间。
func (s *Session) Observe(tag string, at time.Time) {
	if s.state != StateCollecting || tag == "" {
		return
	}
	s.responseReceived = true
	if _, ok := s.firstSeen[tag]; !ok {
		s.firstSeen[tag] = at
	}
}

// CloseEarly 读写器在窗口自然到期前返回空读/断开时提前关闭。
// 若此前没有捕获到任何标签，则视为本窗口没有收到应答。
func (s *Session) CloseEarly() Result {
	if len(s.firstSeen) == 0 {
		s.responseReceived = false
	}
	return s.Close()
}

// Close 关闭窗口并产出结果
func (s *Session) Close() Result {
	s.state = StateClosed
	return Result{
		SessionID:        s.id,
		FirstSeen:        s.firstSeen,
		ResponseReceived: s.responseReceived,
	}
}
