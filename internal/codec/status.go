package codec

// Status 读写器应答状态的诊断含义。仅作日志参考，本身不构成错误。
type Status int

const (
	StatusOK Status = iota
	StatusBadParameter
	StatusInternalError
	StatusReserved
	StatusInventoryDone
	StatusTagTimeout
	StatusDemodulationError
	StatusAuthFailed
	StatusPasswordError
	StatusNoMoreData
	StatusUnknown
)

// StatusFromCode 状态字节到诊断枚举的映射
func StatusFromCode(code byte) Status {
	switch code {
	case 0x00:
		return StatusOK
	case 0x01:
		return StatusBadParameter
	case 0x02:
		return StatusInternalError
	case 0x03:
		return StatusReserved
	case 0x12:
		return StatusInventoryDone
	case 0x14:
		return StatusTagTimeout
	case 0x15:
		return StatusDemodulationError
	case 0x16:
		return StatusAuthFailed
	case 0x17:
		return StatusPasswordError
	case 0xFF:
		return StatusNoMoreData
	default:
		return StatusUnknown
	}
}

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "successful execution"
	case StatusBadParameter:
		return "parameter value is wrong or out of range"
	case StatusInternalError:
		return "command execution failed due to module internal error"
	case StatusReserved:
		return "reserved"
	case StatusInventoryDone:
		return "no tag counted or inventory command completed"
	case StatusTagTimeout:
		return "tag response timeout"
	case StatusDemodulationError:
		return "demodulation tag response error"
	case StatusAuthFailed:
		return "protocol authentication failed"
	case StatusPasswordError:
		return "password error"
	case StatusNoMoreData:
		return "no more data"
	default:
		return "unknown status"
	}
}
