package buffer

import (
	"context"

	"github.com/sharedcode/accessmgr"
)

// Distributor chains sinks: a flushed batch goes to each in order, typically
// durable persistence first, then the event cache. A failing sink aborts the
// chain so the buffer retries the whole batch; earlier sinks must therefore
// tolerate redelivery.
type Distributor struct {
	sinks []accessmgr.EventSink
}

// NewDistributor chains the sinks in delivery order.
func NewDistributor(sinks ...accessmgr.EventSink) *Distributor {
	return &Distributor{sinks: sinks}
}

func (d *Distributor) Process(ctx context.Context, events []accessmgr.Event) error {
	for _, s := range d.sinks {
		if err := s.Process(ctx, events); err != nil {
			return err
		}
	}
	return nil
}
