package reader_test

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/LucidAutoProgram/RFID-Program/internal/codec"
	"github.com/LucidAutoProgram/RFID-Program/internal/models"
	"github.com/LucidAutoProgram/RFID-Program/internal/reader"
	"github.com/LucidAutoProgram/RFID-Program/internal/session"
	"github.com/LucidAutoProgram/RFID-Program/internal/status"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeConn 预置应答序列的假连接。
// 应答耗尽后：loop 非空时循环返回 loop，readErr 非空时返回该错误，否则一直超时。
type fakeConn struct {
	mu      sync.Mutex
	pending [][]byte
	loop    []byte
	readErr error
	sent    [][]byte
	closed  bool
}

func (f *fakeConn) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("use of closed connection")
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	f.sent = append(f.sent, cp)
	return nil
}

func (f *fakeConn) Read(timeout time.Duration) ([]byte, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, errors.New("use of closed connection")
	}
	if len(f.pending) > 0 {
		raw := f.pending[0]
		f.pending = f.pending[1:]
		f.mu.Unlock()
		return raw, nil
	}
	loop := f.loop
	readErr := f.readErr
	f.mu.Unlock()

	time.Sleep(5 * time.Millisecond)
	if loop != nil {
		return loop, nil
	}
	if readErr != nil {
		return nil, readErr
	}
	return nil, reader.ErrReadTimeout
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) sentCommands() []uint16 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var cmds []uint16
	for _, frame := range f.sent {
		if len(frame) >= 4 {
			cmds = append(cmds, binary.BigEndian.Uint16(frame[2:4]))
		}
	}
	return cmds
}

type fakeProcessor struct {
	mu      sync.Mutex
	results []session.Result
	out     status.StationStatus
}

func (f *fakeProcessor) Process(ctx context.Context, rdr models.Reader, res session.Result) (status.StationStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, res)
	st := f.out
	st.SessionID = res.SessionID
	return st, nil
}

func (f *fakeProcessor) processed() []session.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]session.Result, len(f.results))
	copy(out, f.results)
	return out
}

type fakeSink struct {
	mu       sync.Mutex
	statuses []status.StationStatus
}

func (f *fakeSink) Publish(ctx context.Context, st status.StationStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, st)
}

func (f *fakeSink) published() []status.StationStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]status.StationStatus, len(f.statuses))
	copy(out, f.statuses)
	return out
}

type fakeJobs struct {
	mu        sync.Mutex
	cancelled []string
}

func (f *fakeJobs) Cancel(readerAddr string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, readerAddr)
}

func (f *fakeJobs) cancelledAddrs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.cancelled))
	copy(out, f.cancelled)
	return out
}

// tagReport 构造一条标签上报帧
func tagReport(epc []byte) []byte {
	raw := make([]byte, 11+len(epc))
	raw[0] = 0xCF
	raw[10] = byte(len(epc))
	copy(raw[11:], epc)
	return raw
}

func okAck(cmd uint16) []byte {
	return codec.EncodeCommand(codec.BroadcastAddr, cmd, []byte{0x00})
}

func testReader() models.Reader {
	return models.Reader{
		DeviceID:     "dev-1",
		Address:      "192.168.10.21",
		Port:         2022,
		Transport:    models.TransportTCP,
		LocationID:   1,
		LocationName: "CoreStation-1",
	}
}

func testWindows() reader.Windows {
	return reader.Windows{
		CoreStation: 120 * time.Millisecond,
		Production:  120 * time.Millisecond,
		Storage:     120 * time.Millisecond,
	}
}

func TestSupervisor_CollectsTagsAndPublishes(t *testing.T) {
	conn := &fakeConn{pending: [][]byte{
		okAck(codec.CmdDeviceInfo),
		okAck(codec.CmdStartInventory),
		tagReport([]byte{0x30, 0x11, 0x22}),
		tagReport([]byte{0x30, 0x11, 0x22}), // 重复上报
		tagReport([]byte{0x30, 0x33, 0x44}),
	}, loop: tagReport([]byte{0x30, 0x33, 0x44})}

	pool := reader.NewPool(zap.NewNop())
	pool.Dial = func(rdr models.Reader) (reader.Conn, error) { return conn, nil }

	flags := reader.NewFlags()
	flags.Set(testReader().Address, true)

	proc := &fakeProcessor{out: status.StationStatus{Color: status.ColorGreen}}
	sink := &fakeSink{}
	jobs := &fakeJobs{}

	sup := reader.NewSupervisor(pool, flags, proc, sink, jobs, testWindows(), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sup.Run(ctx, []models.Reader{testReader()})
		close(done)
	}()

	require.Eventually(t, func() bool {
		return len(sink.published()) >= 1
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	<-done

	results := proc.processed()
	require.NotEmpty(t, results)
	tags := results[0].Tags()
	assert.ElementsMatch(t, []string{"301122", "303344"}, tags)

	first := sink.published()[0]
	assert.Equal(t, status.ColorGreen, first.Color)
	assert.Equal(t, results[0].SessionID, first.SessionID)

	cmds := conn.sentCommands()
	assert.Contains(t, cmds, codec.CmdDeviceInfo)
	assert.Contains(t, cmds, codec.CmdStartInventory)
}

func TestSupervisor_DisableStopsInventoryAndCancelsJob(t *testing.T) {
	rdr := testReader()
	conn := &fakeConn{pending: [][]byte{
		okAck(codec.CmdDeviceInfo),
		okAck(codec.CmdStartInventory),
		tagReport([]byte{0x30, 0x11, 0x22}),
	}, loop: tagReport([]byte{0x30, 0x11, 0x22})}

	pool := reader.NewPool(zap.NewNop())
	pool.Dial = func(models.Reader) (reader.Conn, error) { return conn, nil }

	flags := reader.NewFlags()
	flags.Set(rdr.Address, true)

	proc := &fakeProcessor{out: status.StationStatus{Color: status.ColorGreen}}
	sink := &fakeSink{}
	jobs := &fakeJobs{}

	sup := reader.NewSupervisor(pool, flags, proc, sink, jobs, testWindows(), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sup.Run(ctx, []models.Reader{rdr})
		close(done)
	}()

	require.Eventually(t, func() bool {
		return len(sink.published()) >= 1
	}, 3*time.Second, 10*time.Millisecond)

	flags.Set(rdr.Address, false)

	require.Eventually(t, func() bool {
		return len(jobs.cancelledAddrs()) >= 1
	}, 3*time.Second, 10*time.Millisecond)
	assert.Contains(t, jobs.cancelledAddrs(), rdr.Address)
	assert.Contains(t, conn.sentCommands(), codec.CmdStopInventory)

	cancel()
	<-done
}

// 空闲工位（整个窗口只有读超时）是常态：窗口照常交给解析引擎得到
// 无料芯结论，连接保持不重拨。
func TestSupervisor_IdleWindowResolvesNoCoreWithoutRedial(t *testing.T) {
	rdr := testReader()

	var mu sync.Mutex
	dialCount := 0

	pool := reader.NewPool(zap.NewNop())
	pool.Dial = func(models.Reader) (reader.Conn, error) {
		mu.Lock()
		dialCount++
		mu.Unlock()
		// 没有任何应答：连上后一直读超时
		return &fakeConn{}, nil
	}

	flags := reader.NewFlags()
	flags.Set(rdr.Address, true)

	proc := &fakeProcessor{out: status.StationStatus{
		Color:   status.ColorYellow,
		Message: "No core for scanning.",
	}}
	sink := &fakeSink{}
	jobs := &fakeJobs{}

	sup := reader.NewSupervisor(pool, flags, proc, sink, jobs, testWindows(), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sup.Run(ctx, []models.Reader{rdr})
		close(done)
	}()

	// 连续两个窗口都走到解析流程
	require.Eventually(t, func() bool {
		return len(proc.processed()) >= 2
	}, 5*time.Second, 10*time.Millisecond)

	results := proc.processed()
	assert.Empty(t, results[0].Tags())
	assert.False(t, results[0].ResponseReceived)

	published := sink.published()
	require.NotEmpty(t, published)
	assert.Equal(t, status.ColorYellow, published[0].Color)

	// 读超时不是连接故障：不掉线、不重拨
	mu.Lock()
	assert.Equal(t, 1, dialCount)
	mu.Unlock()

	cancel()
	<-done
}

// 读错误（非超时）才触发掉线重拨
func TestSupervisor_ReadErrorDropsConnAndRedials(t *testing.T) {
	rdr := testReader()

	var mu sync.Mutex
	dialCount := 0

	pool := reader.NewPool(zap.NewNop())
	pool.Dial = func(models.Reader) (reader.Conn, error) {
		mu.Lock()
		dialCount++
		n := dialCount
		mu.Unlock()
		if n == 1 {
			return &fakeConn{
				pending: [][]byte{
					okAck(codec.CmdDeviceInfo),
					okAck(codec.CmdStartInventory),
				},
				readErr: errors.New("connection reset by peer"),
			}, nil
		}
		// 重拨后的连接正常上报
		return &fakeConn{
			pending: [][]byte{
				okAck(codec.CmdDeviceInfo),
				okAck(codec.CmdStartInventory),
			},
			loop: tagReport([]byte{0x30, 0x11, 0x22}),
		}, nil
	}

	flags := reader.NewFlags()
	flags.Set(rdr.Address, true)

	proc := &fakeProcessor{out: status.StationStatus{Color: status.ColorGreen}}
	sink := &fakeSink{}
	jobs := &fakeJobs{}

	sup := reader.NewSupervisor(pool, flags, proc, sink, jobs, testWindows(), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sup.Run(ctx, []models.Reader{rdr})
		close(done)
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return dialCount >= 2
	}, 5*time.Second, 10*time.Millisecond)

	// 重拨后的窗口正常解析
	require.Eventually(t, func() bool {
		for _, res := range proc.processed() {
			if len(res.Tags()) > 0 {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestPool_CachesAndRedialsAfterDrop(t *testing.T) {
	var mu sync.Mutex
	dialCount := 0

	pool := reader.NewPool(zap.NewNop())
	pool.Dial = func(models.Reader) (reader.Conn, error) {
		mu.Lock()
		dialCount++
		mu.Unlock()
		return &fakeConn{}, nil
	}

	rdr := testReader()

	c1, err := pool.Get(rdr)
	require.NoError(t, err)
	c2, err := pool.Get(rdr)
	require.NoError(t, err)
	assert.Same(t, c1, c2)
	assert.Equal(t, 1, dialCount)

	pool.Drop(rdr.Address)
	c3, err := pool.Get(rdr)
	require.NoError(t, err)
	assert.NotSame(t, c1, c3)
	assert.Equal(t, 2, dialCount)

	pool.CloseAll()
}
