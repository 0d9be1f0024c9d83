package transition_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/LucidAutoProgram/RFID-Program/internal/counter"
	"github.com/LucidAutoProgram/RFID-Program/internal/models"
	"github.com/LucidAutoProgram/RFID-Program/internal/resolver"
	"github.com/LucidAutoProgram/RFID-Program/internal/status"
	"github.com/LucidAutoProgram/RFID-Program/internal/transition"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// ---- 内存版存储，仅用于单元测试 ----

type fakeRollStore struct {
	mu      sync.Mutex
	rolls   map[int64]*models.MaterialRoll // key: coreID
	lengths map[int64]*models.RollLength
	created int
}

func newFakeRollStore() *fakeRollStore {
	return &fakeRollStore{
		rolls:   make(map[int64]*models.MaterialRoll),
		lengths: make(map[int64]*models.RollLength),
	}
}

func (f *fakeRollStore) RollByCore(ctx context.Context, coreID int64) (*models.MaterialRoll, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	roll, ok := f.rolls[coreID]
	if !ok {
		return nil, false, nil
	}
	cp := *roll
	return &cp, true, nil
}

func (f *fakeRollStore) CreateRoll(ctx context.Context, coreID int64, start time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.rolls[coreID]; exists {
		return 0, fmt.Errorf("roll already exists for core %d", coreID)
	}
	f.rolls[coreID] = &models.MaterialRoll{RollID: coreID, CoreID: coreID, Start: start}
	f.created++
	return coreID, nil
}

func (f *fakeRollStore) InitRollLength(ctx context.Context, rollID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.lengths[rollID]; !exists {
		f.lengths[rollID] = &models.RollLength{RollID: rollID}
	}
	return nil
}

func (f *fakeRollStore) AddRollLength(ctx context.Context, rollID int64, lengthDelta float64, turnDelta int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rl, ok := f.lengths[rollID]
	if !ok {
		rl = &models.RollLength{RollID: rollID}
		f.lengths[rollID] = rl
	}
	rl.Length += lengthDelta
	rl.TurnCount += turnDelta
	return nil
}

func (f *fakeRollStore) CloseRoll(ctx context.Context, rollID int64, end time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, roll := range f.rolls {
		if roll.RollID == rollID && roll.End == nil {
			e := end
			roll.End = &e
		}
	}
	return nil
}

func (f *fakeRollStore) length(rollID int64) models.RollLength {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rl, ok := f.lengths[rollID]; ok {
		return *rl
	}
	return models.RollLength{}
}

func (f *fakeRollStore) closed(rollID int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, roll := range f.rolls {
		if roll.RollID == rollID {
			return roll.End != nil
		}
	}
	return false
}

type fakeWorkOrderStore struct {
	mu          sync.Mutex
	orders      map[int64]*models.WorkOrder // key: rollID
	assignments map[string]bool
	created     int
}

func newFakeWorkOrderStore() *fakeWorkOrderStore {
	return &fakeWorkOrderStore{
		orders:      make(map[int64]*models.WorkOrder),
		assignments: make(map[string]bool),
	}
}

func (f *fakeWorkOrderStore) WorkOrderByRoll(ctx context.Context, rollID int64) (*models.WorkOrder, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	wo, ok := f.orders[rollID]
	if !ok {
		return nil, false, nil
	}
	cp := *wo
	return &cp, true, nil
}

func (f *fakeWorkOrderStore) MaxWorkOrderID(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var max int64
	for _, wo := range f.orders {
		if wo.ID > max {
			max = wo.ID
		}
	}
	return max, nil
}

func (f *fakeWorkOrderStore) CreateWorkOrder(ctx context.Context, id int64, number string, rollID int64, scheduledAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders[rollID] = &models.WorkOrder{ID: id, Number: number, RollID: rollID, ScheduledAt: scheduledAt}
	f.created++
	return nil
}

func (f *fakeWorkOrderStore) AssignWorkOrder(ctx context.Context, workOrderID, locationID int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assignments[fmt.Sprintf("%d/%d", workOrderID, locationID)] = true
	return nil
}

func (f *fakeWorkOrderStore) createdCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created
}

type fakeLocationStore struct {
	mu      sync.Mutex
	history map[int64][]int64 // coreID -> locationIDs
	names   map[int64]string  // locationID -> name
}

func newFakeLocationStore(names map[int64]string) *fakeLocationStore {
	return &fakeLocationStore{
		history: make(map[int64][]int64),
		names:   names,
	}
}

func (f *fakeLocationStore) LastLocationID(ctx context.Context, coreID int64) (int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	hist := f.history[coreID]
	if len(hist) == 0 {
		return 0, false, nil
	}
	return hist[len(hist)-1], true, nil
}

func (f *fakeLocationStore) AppendCoreLocation(ctx context.Context, coreID, locationID int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history[coreID] = append(f.history[coreID], locationID)
	return nil
}

func (f *fakeLocationStore) HistoryNames(ctx context.Context, coreID int64) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for _, id := range f.history[coreID] {
		names = append(names, f.names[id])
	}
	return names, nil
}

func (f *fakeLocationStore) historyOf(coreID int64) []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int64, len(f.history[coreID]))
	copy(out, f.history[coreID])
	return out
}

type fakeStorageStore struct {
	mu      sync.Mutex
	records map[string]*models.StorageRecord // key rollID/locationID
}

func newFakeStorageStore() *fakeStorageStore {
	return &fakeStorageStore{records: make(map[string]*models.StorageRecord)}
}

func (f *fakeStorageStore) key(rollID, locationID int64) string {
	return fmt.Sprintf("%d/%d", rollID, locationID)
}

func (f *fakeStorageStore) RollIn(ctx context.Context, rollID, locationID int64, enterAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[f.key(rollID, locationID)] = &models.StorageRecord{
		RollID: rollID, LocationID: locationID, EnterTime: enterAt,
	}
	return nil
}

func (f *fakeStorageStore) RollOut(ctx context.Context, rollID, locationID int64, exitAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.records[f.key(rollID, locationID)]; ok {
		e := exitAt
		rec.ExitTime = &e
	}
	return nil
}

func (f *fakeStorageStore) record(rollID, locationID int64) *models.StorageRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[f.key(rollID, locationID)]
}

// ---- 测试脚手架 ----

var locationNames = map[int64]string{
	1: "CoreStation-1",
	2: "Winder-1",
	3: "Storage-1-IN",
	4: "Storage-1-OUT",
	5: "Extruder-2",
}

type fixture struct {
	rolls     *fakeRollStore
	orders    *fakeWorkOrderStore
	locations *fakeLocationStore
	storage   *fakeStorageStore
	registry  *counter.Registry
	jobs      *transition.JobManager
	engine    *transition.Engine
	cancel    context.CancelFunc
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	rolls := newFakeRollStore()
	orders := newFakeWorkOrderStore()
	locations := newFakeLocationStore(locationNames)
	storage := newFakeStorageStore()
	registry := counter.NewRegistry(zap.NewNop())

	jobs := transition.NewJobManager(ctx, rolls, orders, registry, nil, 2.0, zap.NewNop())
	engine := transition.NewEngine(rolls, orders, locations, storage, jobs, zap.NewNop())

	t.Cleanup(func() {
		jobs.CancelAll()
		cancel()
	})

	return &fixture{
		rolls: rolls, orders: orders, locations: locations, storage: storage,
		registry: registry, jobs: jobs, engine: engine, cancel: cancel,
	}
}

func reader(locationID int64) models.Reader {
	return models.Reader{
		DeviceID:     fmt.Sprintf("dev-%d", locationID),
		Address:      fmt.Sprintf("192.168.10.%d", 20+locationID),
		Port:         2022,
		Transport:    models.TransportTCP,
		LocationID:   locationID,
		LocationName: locationNames[locationID],
	}
}

func resolved(coreID int64) resolver.Outcome {
	return resolver.Outcome{Kind: resolver.OutcomeResolved, CoreID: coreID}
}

// ---- 用例 ----

func TestApply_NoCoreIsYellow(t *testing.T) {
	f := newFixture(t)

	st, err := f.engine.Apply(context.Background(), reader(1), resolver.Outcome{Kind: resolver.OutcomeNoCore}, "s1")
	require.NoError(t, err)
	assert.Equal(t, status.ColorYellow, st.Color)
}

func TestApply_InsufficientTagsIsOrange(t *testing.T) {
	f := newFixture(t)

	st, err := f.engine.Apply(context.Background(), reader(1),
		resolver.Outcome{Kind: resolver.OutcomeInsufficientTags, MissingTags: 1}, "s1")
	require.NoError(t, err)
	assert.Equal(t, status.ColorOrange, st.Color)
	assert.Contains(t, st.Message, "1 more tag")
}

func TestApply_AmbiguousIsRed(t *testing.T) {
	f := newFixture(t)

	st, err := f.engine.Apply(context.Background(), reader(1), resolver.Outcome{Kind: resolver.OutcomeAmbiguous}, "s1")
	require.NoError(t, err)
	assert.Equal(t, status.ColorRed, st.Color)
}

func TestApply_CoreStationValidates(t *testing.T) {
	f := newFixture(t)

	st, err := f.engine.Apply(context.Background(), reader(1), resolved(7), "s1")
	require.NoError(t, err)
	assert.Equal(t, status.ColorGreen, st.Color)
	assert.Equal(t, []int64{1}, f.locations.historyOf(7))

	// 同一工位重复扫描不产生新的历史记录
	_, err = f.engine.Apply(context.Background(), reader(1), resolved(7), "s2")
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, f.locations.historyOf(7))
}

func TestApply_ProductionRejectsUnvalidatedCore(t *testing.T) {
	f := newFixture(t)

	st, err := f.engine.Apply(context.Background(), reader(2), resolved(7), "s1")
	require.NoError(t, err)
	assert.Equal(t, status.ColorOrange, st.Color)
	assert.Contains(t, st.Message, "not scanned at core station")
	assert.Equal(t, 0, f.rolls.created)
}

func TestApply_ProductionOnlyHistoryStaysRejected(t *testing.T) {
	f := newFixture(t)
	// 历史里只有生产工位（从未经过芯站）
	require.NoError(t, f.locations.AppendCoreLocation(context.Background(), 7, 5, time.Now()))

	st, err := f.engine.Apply(context.Background(), reader(2), resolved(7), "s1")
	require.NoError(t, err)
	assert.Equal(t, status.ColorOrange, st.Color)
	assert.Equal(t, 0, f.rolls.created)
}

func TestApply_ProductionCreatesRollAndWorkOrderOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// 先在芯站验证
	_, err := f.engine.Apply(ctx, reader(1), resolved(7), "s1")
	require.NoError(t, err)

	st, err := f.engine.Apply(ctx, reader(2), resolved(7), "s2")
	require.NoError(t, err)
	assert.Equal(t, status.ColorGreen, st.Color)
	assert.EqualValues(t, 7, st.RollID)
	assert.Equal(t, 1, f.rolls.created)

	// 工单在后台任务中铸发
	require.Eventually(t, func() bool {
		return f.orders.createdCount() == 1
	}, time.Second, 10*time.Millisecond)

	wo, ok, err := f.orders.WorkOrderByRoll(ctx, 7)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "WO-1", wo.Number)

	// 稳态重复观察：不再创建，返回已有标识
	st, err = f.engine.Apply(ctx, reader(2), resolved(7), "s3")
	require.NoError(t, err)
	assert.Equal(t, 1, f.rolls.created)
	assert.Equal(t, 1, f.orders.createdCount())
	assert.Equal(t, "WO-1", st.WorkOrderNumber)
	assert.EqualValues(t, 7, st.RollID)
}

func TestApply_StorageInAndOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// 准备：验证 + 开卷
	_, err := f.engine.Apply(ctx, reader(1), resolved(7), "s1")
	require.NoError(t, err)
	_, err = f.engine.Apply(ctx, reader(2), resolved(7), "s2")
	require.NoError(t, err)
	f.jobs.Cancel(reader(2).Address)

	// 入库
	st, err := f.engine.Apply(ctx, reader(3), resolved(7), "s3")
	require.NoError(t, err)
	assert.Equal(t, status.ColorGreen, st.Color)
	rec := f.storage.record(7, 3)
	require.NotNil(t, rec)
	assert.Nil(t, rec.ExitTime)

	// 出库
	_, err = f.engine.Apply(ctx, reader(4), resolved(7), "s4")
	require.NoError(t, err)
	recOut := f.storage.record(7, 4)
	// OUT 区记录不存在时 RollOut 是空操作；进出记录按(卷,库位)独立
	assert.Nil(t, recOut)

	// 历史: 芯站 → 收卷机 → 入库 → 出库
	assert.Equal(t, []int64{1, 2, 3, 4}, f.locations.historyOf(7))
}

func TestApply_StorageWithoutRollSkips(t *testing.T) {
	f := newFixture(t)

	st, err := f.engine.Apply(context.Background(), reader(3), resolved(9), "s1")
	require.NoError(t, err)
	assert.Equal(t, status.ColorOrange, st.Color)
	assert.Nil(t, f.storage.record(9, 3))
}

func TestJobManager_AccumulatesAndClosesOnSentinel(t *testing.T) {
	f := newFixture(t)
	rdr := reader(2)

	_, err := f.rolls.CreateRoll(context.Background(), 7, time.Now())
	require.NoError(t, err)
	f.jobs.Start(rdr, 7, 7)

	// 等待任务注册计数通道
	require.Eventually(t, func() bool {
		return f.registry.Push(rdr.LocationID, 5)
	}, time.Second, 10*time.Millisecond)
	f.registry.Push(rdr.LocationID, 3)

	require.Eventually(t, func() bool {
		rl := f.rolls.length(7)
		return rl.TurnCount == 8
	}, time.Second, 10*time.Millisecond)
	assert.InDelta(t, 16.0, f.rolls.length(7).Length, 0.001) // 8转 × 2.0米/转

	// 哨兵结束收卷
	f.registry.Push(rdr.LocationID, counter.NoCore)
	require.Eventually(t, func() bool {
		return f.rolls.closed(7)
	}, time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return !f.jobs.Running(rdr.Address)
	}, time.Second, 10*time.Millisecond)
}

func TestJobManager_CancelStopsJob(t *testing.T) {
	f := newFixture(t)
	rdr := reader(2)

	_, err := f.rolls.CreateRoll(context.Background(), 7, time.Now())
	require.NoError(t, err)
	f.jobs.Start(rdr, 7, 7)

	require.Eventually(t, func() bool {
		return f.registry.Push(rdr.LocationID, 1)
	}, time.Second, 10*time.Millisecond)

	f.jobs.Cancel(rdr.Address)
	assert.False(t, f.jobs.Running(rdr.Address))
	// 取消不会写卷结束时间：下次扫描可以恢复累计
	assert.False(t, f.rolls.closed(7))
	// 通道已注销
	assert.False(t, f.registry.Push(rdr.LocationID, 1))
}

func TestJobManager_StartReplacesExistingJob(t *testing.T) {
	f := newFixture(t)
	rdr := reader(2)

	f.jobs.Start(rdr, 7, 7)
	require.Eventually(t, func() bool {
		return f.registry.Push(rdr.LocationID, 1)
	}, time.Second, 10*time.Millisecond)

	// 重新启动同一读写器的任务：旧任务被取消，通道重新注册
	f.jobs.Start(rdr, 8, 8)
	require.Eventually(t, func() bool {
		return f.registry.Push(rdr.LocationID, 1)
	}, time.Second, 10*time.Millisecond)
	assert.True(t, f.jobs.Running(rdr.Address))
}
