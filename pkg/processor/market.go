package processor

import (
	"context"

	"github.com/uhyunpark/swapexec/pkg/order"
)

// Market executes immediately at the best available venue.
type Market struct {
	*base
}

func (p *Market) Process(ctx context.Context, data order.JobData) error {
	return p.execute(ctx, data, nil)
}
