package service

import (
	"context"

	"github.com/LucidAutoProgram/RFID-Program/internal/models"
	"github.com/LucidAutoProgram/RFID-Program/internal/resolver"
	"github.com/LucidAutoProgram/RFID-Program/internal/session"
	"github.com/LucidAutoProgram/RFID-Program/internal/status"
	"github.com/LucidAutoProgram/RFID-Program/internal/transition"

	"go.uber.org/zap"
)

// WindowProcessor 把一个扫描窗口的标签集合接到解析引擎和流转引擎上
type WindowProcessor struct {
	resolver    *resolver.Engine
	transitions *transition.Engine
	logger      *zap.Logger
}

// NewWindowProcessor 创建窗口处理器
func NewWindowProcessor(res *resolver.Engine, trans *transition.Engine, logger *zap.Logger) *WindowProcessor {
	return &WindowProcessor{
		resolver:    res,
		transitions: trans,
		logger:      logger,
	}
}

// Process 解析一个窗口的标签集合并推进工位流转
func (p *WindowProcessor) Process(ctx context.Context, rdr models.Reader, res session.Result) (status.StationStatus, error) {
	loc := models.Location{ID: rdr.LocationID, Name: rdr.LocationName}

	out, err := p.resolver.Resolve(ctx, res, loc)
	if err != nil {
		return status.StationStatus{}, err
	}

	if out.Reused {
		p.logger.Info("Reused core re-entered production flow",
			zap.Int64("core_id", out.CoreID),
			zap.String("location", rdr.LocationName),
		)
	}

	return p.transitions.Apply(ctx, rdr, out, res.SessionID)
}
