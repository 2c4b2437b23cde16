package metrics

import (
	"runtime"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Collector periodically refreshes system gauges and, when the service runs
// against MySQL, the connection-pool gauges.
type Collector struct {
	metrics   *Metrics
	logger    *zap.Logger
	db        *gorm.DB
	startTime time.Time
	ticker    *time.Ticker
	stopCh    chan struct{}
}

// NewCollector creates a collector. db may be nil for memory-backed runs.
func NewCollector(metrics *Metrics, logger *zap.Logger, db *gorm.DB) *Collector {
	return &Collector{
		metrics:   metrics,
		logger:    logger,
		db:        db,
		startTime: time.Now(),
		stopCh:    make(chan struct{}),
	}
}

func (c *Collector) Start(interval time.Duration) {
	c.ticker = time.NewTicker(interval)
	go c.collectLoop()
	c.logger.Info("Metrics collector started", zap.Duration("interval", interval))
}

func (c *Collector) Stop() {
	if c.ticker != nil {
		c.ticker.Stop()
	}
	close(c.stopCh)
	c.logger.Info("Metrics collector stopped")
}

func (c *Collector) collectLoop() {
	c.collect()

	for {
		select {
		case <-c.ticker.C:
			c.collect()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Collector) collect() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	c.metrics.UpdateSystemMetrics(time.Since(c.startTime), &memStats)

	if c.db == nil {
		return
	}

	sqlDB, err := c.db.DB()
	if err != nil {
		c.logger.Error("Failed to get sql.DB from gorm.DB", zap.Error(err))
		return
	}

	stats := sqlDB.Stats()
	c.metrics.DBConnectionsInUse.Set(float64(stats.InUse))
	c.metrics.DBConnectionsIdle.Set(float64(stats.Idle))
}
