package worker

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Pruner drops state that no longer affects behaviour and reports how many
// entries went.
type Pruner interface {
	Prune() int
}

// Janitor periodically prunes the per-domain limiter state so a long-running
// process does not keep a bucket for every domain it ever probed.
type Janitor struct {
	pruner   Pruner
	interval time.Duration
	logger   logrus.FieldLogger
}

func NewJanitor(pruner Pruner, interval time.Duration, logger logrus.FieldLogger) *Janitor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Janitor{
		pruner:   pruner,
		interval: interval,
		logger:   logger.WithField("worker", "janitor"),
	}
}

func (j *Janitor) Start(ctx context.Context) {
	j.logger.Info("Starting janitor...")
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := j.pruner.Prune(); n > 0 {
				j.logger.WithField("pruned", n).Debug("pruned idle domains")
			}
		case <-ctx.Done():
			j.logger.Info("Stopping janitor...")
			return
		}
	}
}
