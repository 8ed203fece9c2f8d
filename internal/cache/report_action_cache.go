package cache

import (
	"time"

	"github.com/google/uuid"
)

const defaultReportActionTTL = 30 * time.Minute

// ReportActionCache remembers which action produced a report. The mapping
// never changes once written, so entries only expire to bound memory.
type ReportActionCache interface {
	GetActionID(reportID uuid.UUID) (int64, bool)
	SetActionID(reportID uuid.UUID, actionID int64)
}

type reportActionCache struct {
	actions Cache[uuid.UUID, int64]
	ttl     time.Duration
}

func NewReportActionCache() ReportActionCache {
	return &reportActionCache{
		actions: NewTTLCache[uuid.UUID, int64](),
		ttl:     defaultReportActionTTL,
	}
}

func (c *reportActionCache) GetActionID(reportID uuid.UUID) (int64, bool) {
	return c.actions.Get(reportID)
}

func (c *reportActionCache) SetActionID(reportID uuid.UUID, actionID int64) {
	if actionID == 0 {
		return
	}
	c.actions.Set(reportID, actionID, c.ttl)
}
