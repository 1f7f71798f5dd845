package cmd

import (
	"context"

	"github.com/mvolli/growatt-bridge/internal/pkg/model"
	"github.com/mvolli/growatt-bridge/internal/pkg/poller"
)

// coordinator is what the long-running loops in run expect from the polling
// coordinator.
type coordinator interface {
	Run(ctx context.Context) error
	Latest() (model.DeviceSnapshot, poller.State)
	Rediscover()
	Close() error
}
