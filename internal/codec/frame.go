// Package codec 实现读写器二进制协议的编解码。
//
// 帧格式: HEAD(1) ADDR(1) CMD(2,大端) LEN(1) PAYLOAD(LEN) CRC16(2,大端)
// CRC16: 多项式 0x8408，预置值 0xFFFF，按低位在前逐位处理，
// 计算范围为 HEAD..PAYLOAD（不含CRC本身）。
package codec

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
)

const (
	// FrameHead 所有命令帧的起始字节
	FrameHead byte = 0xCF
	// BroadcastAddr 广播地址，单台读写器场景下固定使用
	BroadcastAddr byte = 0xFF

	// 命令字
	CmdStartInventory uint16 = 0x0001
	CmdStopInventory  uint16 = 0x0002
	CmdReboot         uint16 = 0x0052
	CmdDeviceInfo     uint16 = 0x0070

	// 帧头5字节 + CRC 2字节
	headerLen   = 5
	crcLen      = 2
	minFrameLen = headerLen + crcLen

	// 标签上报帧: EPC长度在第10字节，EPC数据从第11字节开始
	epcLenOffset  = 10
	epcDataOffset = 11
)

var (
	// ErrTruncated 帧不完整
	ErrTruncated = errors.New("codec: truncated frame")
	// ErrChecksum CRC16校验不一致
	ErrChecksum = errors.New("codec: checksum mismatch")
	// ErrBadHead 起始字节不是 0xCF
	ErrBadHead = errors.New("codec: invalid frame head")
)

// Crc16 计算CRC16校验值
func Crc16(data []byte) uint16 {
	const (
		preset     uint16 = 0xFFFF
		polynomial uint16 = 0x8408
	)

	crc := preset
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&0x0001 != 0 {
				crc = (crc >> 1) ^ polynomial
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}

// EncodeCommand 组装一条完整命令帧并附加CRC16
func EncodeCommand(addr byte, cmd uint16, payload []byte) []byte {
	frame := make([]byte, 0, headerLen+len(payload)+crcLen)
	frame = append(frame, FrameHead, addr, byte(cmd>>8), byte(cmd&0xFF), byte(len(payload)))
	frame = append(frame, payload...)

	crc := Crc16(frame)
	frame = append(frame, byte(crc>>8), byte(crc&0xFF))
	return frame
}

// RebootCommand 重启（恢复出厂）命令
func RebootCommand() []byte {
	return EncodeCommand(BroadcastAddr, CmdReboot, nil)
}

// DeviceInfoCommand 查询设备版本信息命令
func DeviceInfoCommand() []byte {
	return EncodeCommand(BroadcastAddr, CmdDeviceInfo, nil)
}

// StopInventoryCommand 停止盘点命令
func StopInventoryCommand() []byte {
	return EncodeCommand(BroadcastAddr, CmdStopInventory, nil)
}

// StartInventoryCommand 启动盘点命令
// invType 0x00 表示持续盘点；invParam 为盘点时长（秒），0 表示直到收到停止命令，
// 注意 invParam 在线上是小端序，与帧内其他多字节字段相反
func StartInventoryCommand(invType byte, invParam uint32) []byte {
	payload := make([]byte, 5)
	payload[0] = invType
	binary.LittleEndian.PutUint32(payload[1:], invParam)
	return EncodeCommand(BroadcastAddr, CmdStartInventory, payload)
}

// Frame 一条解码后的应答帧
type Frame struct {
	Addr    byte
	Cmd     uint16
	Payload []byte
}

// StatusCode 应答状态字节（payload 第一个字节）
// 无payload时返回 false
func (f *Frame) StatusCode() (byte, bool) {
	if len(f.Payload) == 0 {
		return 0, false
	}
	return f.Payload[0], true
}

// DecodeFrame 解码并校验一条命令应答帧。
// 仅用于控制命令的应答；盘点过程中的标签上报用 ParseTagReport（不做CRC校验）。
func DecodeFrame(raw []byte) (*Frame, error) {
	if len(raw) < minFrameLen {
		return nil, ErrTruncated
	}
	if raw[0] != FrameHead {
		return nil, ErrBadHead
	}

	payloadLen := int(raw[4])
	total := headerLen + payloadLen + crcLen
	if len(raw) < total {
		return nil, ErrTruncated
	}

	body := raw[:headerLen+payloadLen]
	want := binary.BigEndian.Uint16(raw[headerLen+payloadLen : total])
	if Crc16(body) != want {
		return nil, ErrChecksum
	}

	payload := make([]byte, payloadLen)
	copy(payload, raw[headerLen:headerLen+payloadLen])

	return &Frame{
		Addr:    raw[1],
		Cmd:     binary.BigEndian.Uint16(raw[2:4]),
		Payload: payload,
	}, nil
}

// ParseTagReport 从盘点应答中提取EPC，返回小写十六进制字符串。
// 按现场协议：EPC长度在第10字节，EPC数据从第11字节开始。
// 帧长不足 11+EPC_LEN 时返回 ErrTruncated。
func ParseTagReport(raw []byte) (string, error) {
	if len(raw) < epcDataOffset {
		return "", ErrTruncated
	}

	epcLen := int(raw[epcLenOffset])
	if len(raw) < epcDataOffset+epcLen {
		return "", ErrTruncated
	}

	epc := raw[epcDataOffset : epcDataOffset+epcLen]
	return hex.EncodeToString(epc), nil
}
