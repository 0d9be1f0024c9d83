package models

import (
	"strings"
	"time"
)

// TransportType 读写器接入方式
type TransportType string

const (
	TransportTCP    TransportType = "tcp"
	TransportSerial TransportType = "serial"
)

// Reader 一台固定安装的RFID读写器（RFID_Device_Details 表）
type Reader struct {
	DeviceID     string
	Address      string // IP地址 或 串口路径（如 /dev/ttyUSB0）
	Port         int    // TCP端口，串口方式下忽略
	Transport    TransportType
	BaudRate     int // 串口波特率
	LocationID   int64
	LocationName string
	ReadingMode  bool // reading_mode 列：是否处于读取模式
}

// LocationClass 工位类型，由位置名称前缀决定
type LocationClass int

const (
	LocationUnknown LocationClass = iota
	LocationCoreStation
	LocationProduction // 挤出机/收卷机
	LocationStorage
)

// StorageZone 仓储子区：入库/出库
type StorageZone string

const (
	StorageZoneNone StorageZone = ""
	StorageZoneIn   StorageZone = "IN"
	StorageZoneOut  StorageZone = "OUT"
)

// ClassifyLocation 按名称前缀判定工位类型
// 命名约定来自现场：CoreStation-1, Extruder-2, Winder-1, Storage-3-IN
func ClassifyLocation(name string) LocationClass {
	switch {
	case strings.HasPrefix(name, "CoreStation"):
		return LocationCoreStation
	case strings.HasPrefix(name, "Extruder"), strings.HasPrefix(name, "Winder"):
		return LocationProduction
	case strings.HasPrefix(name, "Storage"):
		return LocationStorage
	default:
		return LocationUnknown
	}
}

// StorageZoneOf 解析仓储位置名称的子区后缀
func StorageZoneOf(name string) StorageZone {
	switch {
	case strings.HasSuffix(name, "-IN"):
		return StorageZoneIn
	case strings.HasSuffix(name, "-OUT"):
		return StorageZoneOut
	default:
		return StorageZoneNone
	}
}

// Location 工位（Location 表）
type Location struct {
	ID   int64
	Name string
}

// TagAssociation 标签与料芯的绑定记录（Material_Core_RFID 表）
// 绑定只追加不删除：解除绑定通过写 End 时间表达
type TagAssociation struct {
	Tag    string // EPC 小写十六进制
	CoreID int64
	Start  time.Time
	End    *time.Time
	Reused bool
}

// MaterialRoll 料卷（Material_Roll 表），料芯首次到达生产工位时 1:1 创建
type MaterialRoll struct {
	RollID int64
	CoreID int64
	Start  time.Time
	End    *time.Time
}

// RollLength 料卷长度累计记录（Material_Roll_Length 表）
type RollLength struct {
	RollID    int64
	Length    float64
	TurnCount int64
	UpdatedAt time.Time
}

// WorkOrder 工单（Work_Order 表）
type WorkOrder struct {
	ID          int64
	Number      string // 格式 WO-<n>
	RollID      int64
	ScheduledAt time.Time
}

// CoreLocation 料芯位置历史（Material_Roll_Location 表），只追加
type CoreLocation struct {
	CoreID     int64
	LocationID int64
	RecordedAt time.Time
}

// StorageRecord 仓储进出记录（Roll_Storage 表）
type StorageRecord struct {
	RollID     int64
	LocationID int64
	EnterTime  time.Time
	ExitTime   *time.Time
}
