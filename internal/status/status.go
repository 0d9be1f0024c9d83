// Package status 向看板侧发布派生的工位状态（灯色 + 文案）。
// 看板只消费派生状态，解析与流转逻辑不依赖它。
package status

import (
	"time"
)

// Color 工位指示灯颜色，与现场看板约定一致
type Color string

const (
	// ColorGreen 料芯已在芯站验证，可以开卷
	ColorGreen Color = "green"
	// ColorOrange 料芯未在芯站验证就被拿到了生产工位
	ColorOrange Color = "orange"
	// ColorRed 标签无法认定为一个料芯
	ColorRed Color = "red"
	// ColorYellow 工位上没有料芯
	ColorYellow Color = "yellow"
)

// StationStatus 一个扫描窗口结束后对外发布的工位状态
type StationStatus struct {
	EventID         string    `json:"event_id"`
	SessionID       string    `json:"session_id"`
	DeviceAddr      string    `json:"device_addr"`
	Location        string    `json:"location"`
	Color           Color     `json:"color"`
	Message         string    `json:"message"`
	CoreID          int64     `json:"core_id,omitempty"`
	RollID          int64     `json:"roll_id,omitempty"`
	WorkOrderNumber string    `json:"work_order_number,omitempty"`
	At              time.Time `json:"at"`
}
