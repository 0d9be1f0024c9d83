// Package resolver 把一个扫描窗口看到的标签集合解析为料芯身份。
//
// 一个料芯出厂时贴三张RFID标签；只有同一窗口内凑齐门限数量、且全部指向同一
// 料芯（或全部无归属）时才做出身份决定，避免把邻位料芯的串读误认成本位。
package resolver

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/LucidAutoProgram/RFID-Program/internal/models"
	"github.com/LucidAutoProgram/RFID-Program/internal/session"

	"go.uber.org/zap"
)

// Store 身份解析所需的持久层操作（由 repository.CoreRepository 实现）
type Store interface {
	// LatestCoreIDForTag 标签当前归属的料芯（最近一次有效绑定）；无归属时 ok=false
	LatestCoreIDForTag(ctx context.Context, tag string) (coreID int64, ok bool, err error)
	// MaxCoreID 当前最大料芯ID；无记录时返回 0
	MaxCoreID(ctx context.Context) (int64, error)
	// HasAssociation 指定 (tag, coreID) 绑定是否已存在
	HasAssociation(ctx context.Context, tag string, coreID int64) (bool, error)
	// InsertAssociation 新增一条标签绑定（带首次扫描时间）
	InsertAssociation(ctx context.Context, tag string, coreID int64, start time.Time) error
	// ActiveTagsForCore 料芯当前仍有效（未写结束时间）的标签
	ActiveTagsForCore(ctx context.Context, coreID int64) ([]string, error)
	// EndAssociation 给绑定写逻辑结束时间，不做物理删除
	EndAssociation(ctx context.Context, tag string, coreID int64, end time.Time) error
	// LastLocationName 料芯最近一次记录的位置名称；无历史时 ok=false
	LastLocationName(ctx context.Context, coreID int64) (name string, ok bool, err error)
	// AllAssociations 全量绑定记录（复用状态批量修正用）
	AllAssociations(ctx context.Context) ([]models.TagAssociation, error)
	// SetReuseFlags 将列表中的料芯标记为复用，其余全部标记为未复用
	SetReuseFlags(ctx context.Context, reusedCoreIDs []int64) error
}

// OutcomeKind 窗口解析结论
type OutcomeKind int

const (
	// OutcomeNoCore 窗口内没有看到任何标签
	OutcomeNoCore OutcomeKind = iota
	// OutcomeInsufficientTags 标签数量不足门限
	OutcomeInsufficientTags
	// OutcomeAmbiguous 标签身份不一致，不能认定为同一料芯
	OutcomeAmbiguous
	// OutcomeResolved 全部标签指向同一个已有料芯
	OutcomeResolved
	// OutcomeNewCore 铸发了新的料芯ID（全新料芯或复用再登记）
	OutcomeNewCore
)

// Outcome 一个窗口的解析结果
type Outcome struct {
	Kind        OutcomeKind
	CoreID      int64
	Reused      bool // 物理料芯完成过一轮生产后被再次识别
	MissingTags int  // Kind==OutcomeInsufficientTags 时还缺几张
}

// Engine 标签身份解析引擎
type Engine struct {
	store       Store
	logger      *zap.Logger
	tagsPerCore int
}

// NewEngine 创建解析引擎。tagsPerCore 为认定身份所需的最少标签数（现场默认3张）。
func NewEngine(store Store, tagsPerCore int, logger *zap.Logger) *Engine {
	if tagsPerCore <= 0 {
		tagsPerCore = 3
	}
	return &Engine{
		store:       store,
		logger:      logger,
		tagsPerCore: tagsPerCore,
	}
}

// Resolve 解析一个窗口的标签集合
func (e *Engine) Resolve(ctx context.Context, res session.Result, loc models.Location) (Outcome, error) {
	tags := res.Tags()
	sort.Strings(tags) // 日志和写入顺序稳定

	if len(tags) == 0 {
		return Outcome{Kind: OutcomeNoCore}, nil
	}
	if len(tags) < e.tagsPerCore {
		return Outcome{Kind: OutcomeInsufficientTags, MissingTags: e.tagsPerCore - len(tags)}, nil
	}

	// 逐标签查询当前归属
	var (
		resolvedID int64
		resolved   int
		unresolved int
		mixed      bool
	)
	for _, tag := range tags {
		coreID, ok, err := e.store.LatestCoreIDForTag(ctx, tag)
		if err != nil {
			return Outcome{}, fmt.Errorf("failed to look up core for tag %s: %w", tag, err)
		}
		if !ok {
			unresolved++
			continue
		}
		if resolved > 0 && coreID != resolvedID {
			mixed = true
		}
		resolvedID = coreID
		resolved++
	}

	switch {
	case unresolved == len(tags):
		// 全部标签都没有归属：这是一个全新料芯
		coreID, err := e.mintCore(ctx, tags, res.FirstSeen)
		if err != nil {
			return Outcome{}, err
		}
		e.logger.Info("New material core registered",
			zap.Int64("core_id", coreID),
			zap.Strings("tags", tags),
			zap.String("location", loc.Name),
		)
		if err := e.PropagateReuse(ctx); err != nil {
			return Outcome{}, err
		}
		return Outcome{Kind: OutcomeNewCore, CoreID: coreID}, nil

	case mixed || unresolved > 0:
		// 标签对身份有分歧（部分无归属也算）：不认定
		e.logger.Warn("Ambiguous tag set, core not validated",
			zap.Strings("tags", tags),
			zap.Int("unresolved", unresolved),
			zap.String("location", loc.Name),
		)
		return Outcome{Kind: OutcomeAmbiguous}, nil
	}

	// 全部标签指向同一个已有料芯
	reused, err := e.completedProductionCycle(ctx, resolvedID)
	if err != nil {
		return Outcome{}, err
	}
	if reused {
		// 上一轮生产已完成，同一批标签重新登记为新的逻辑料芯
		coreID, err := e.mintCore(ctx, tags, res.FirstSeen)
		if err != nil {
			return Outcome{}, err
		}
		e.logger.Info("Core reuse detected, new core id minted",
			zap.Int64("previous_core_id", resolvedID),
			zap.Int64("core_id", coreID),
			zap.String("location", loc.Name),
		)
		if err := e.PropagateReuse(ctx); err != nil {
			return Outcome{}, err
		}
		return Outcome{Kind: OutcomeNewCore, CoreID: coreID, Reused: true}, nil
	}

	// 缺失标签对账：之前绑在这个料芯上、本窗口没出现的标签写结束时间
	if err := e.reconcileMissingTags(ctx, resolvedID, res.FirstSeen); err != nil {
		return Outcome{}, err
	}

	if err := e.PropagateReuse(ctx); err != nil {
		return Outcome{}, err
	}
	return Outcome{Kind: OutcomeResolved, CoreID: resolvedID}, nil
}

// mintCore 铸发一个新料芯ID并绑定标签。重复绑定跳过，不会二次插入。
func (e *Engine) mintCore(ctx context.Context, tags []string, firstSeen map[string]time.Time) (int64, error) {
	maxID, err := e.store.MaxCoreID(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to query max core id: %w", err)
	}
	coreID := maxID + 1

	for _, tag := range tags {
		exists, err := e.store.HasAssociation(ctx, tag, coreID)
		if err != nil {
			return 0, fmt.Errorf("failed to check association for tag %s: %w", tag, err)
		}
		if exists {
			continue
		}
		start, ok := firstSeen[tag]
		if !ok {
			start = time.Now()
		}
		if err := e.store.InsertAssociation(ctx, tag, coreID, start); err != nil {
			return 0, fmt.Errorf("failed to insert association for tag %s: %w", tag, err)
		}
	}
	return coreID, nil
}

// completedProductionCycle 料芯最近一次记录位置是否为生产工位（挤出/收卷）
func (e *Engine) completedProductionCycle(ctx context.Context, coreID int64) (bool, error) {
	name, ok, err := e.store.LastLocationName(ctx, coreID)
	if err != nil {
		return false, fmt.Errorf("failed to query last location for core %d: %w", coreID, err)
	}
	if !ok {
		return false, nil
	}
	return models.ClassifyLocation(name) == models.LocationProduction, nil
}

func (e *Engine) reconcileMissingTags(ctx context.Context, coreID int64, seen map[string]time.Time) error {
	active, err := e.store.ActiveTagsForCore(ctx, coreID)
	if err != nil {
		return fmt.Errorf("failed to query active tags for core %d: %w", coreID, err)
	}

	now := time.Now()
	for _, tag := range active {
		if _, present := seen[tag]; present {
			continue
		}
		if err := e.store.EndAssociation(ctx, tag, coreID, now); err != nil {
			return fmt.Errorf("failed to end association for tag %s: %w", tag, err)
		}
		e.logger.Info("Tag no longer present on core, association ended",
			zap.String("tag", tag),
			zap.Int64("core_id", coreID),
		)
	}
	return nil
}

// PropagateReuse 复用状态批量修正。
// 绑定过多个料芯的标签把这些料芯全部标记为复用，再沿共享标签的料芯传递闭包；
// 其余料芯统一标记为未复用。可重复执行，结果收敛。
func (e *Engine) PropagateReuse(ctx context.Context) error {
	assocs, err := e.store.AllAssociations(ctx)
	if err != nil {
		return fmt.Errorf("failed to load associations: %w", err)
	}

	tagCores := make(map[string]map[int64]struct{})
	coreTags := make(map[int64]map[string]struct{})
	for _, a := range assocs {
		if tagCores[a.Tag] == nil {
			tagCores[a.Tag] = make(map[int64]struct{})
		}
		tagCores[a.Tag][a.CoreID] = struct{}{}
		if coreTags[a.CoreID] == nil {
			coreTags[a.CoreID] = make(map[string]struct{})
		}
		coreTags[a.CoreID][a.Tag] = struct{}{}
	}

	// 种子：任一标签绑定过多个料芯，这些料芯都算复用
	reused := make(map[int64]struct{})
	queue := make([]int64, 0)
	for _, cores := range tagCores {
		if len(cores) < 2 {
			continue
		}
		for coreID := range cores {
			if _, done := reused[coreID]; !done {
				reused[coreID] = struct{}{}
				queue = append(queue, coreID)
			}
		}
	}

	// 闭包传播：与复用料芯共享标签的料芯同样标记
	for len(queue) > 0 {
		coreID := queue[0]
		queue = queue[1:]
		for tag := range coreTags[coreID] {
			for other := range tagCores[tag] {
				if _, done := reused[other]; !done {
					reused[other] = struct{}{}
					queue = append(queue, other)
				}
			}
		}
	}

	ids := make([]int64, 0, len(reused))
	for coreID := range reused {
		ids = append(ids, coreID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	if err := e.store.SetReuseFlags(ctx, ids); err != nil {
		return fmt.Errorf("failed to update reuse flags: %w", err)
	}
	return nil
}
