package app

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/giantswarm/mcp-gatekeeper/internal/dispatcher"
	"github.com/giantswarm/mcp-gatekeeper/internal/pool"
	"github.com/giantswarm/mcp-gatekeeper/internal/store"
	"github.com/giantswarm/mcp-gatekeeper/pkg/logging"
)

// startInstance realizes the lifecycle state machine's create->starting->
// running walk (spec §4.3) for a freshly-minted instance of tpl, connecting
// it through the adapter pool before marking it running. On any failure the
// instance is left in StateFailed rather than removed, so the Observation
// Store retains a record of the attempt.
func startInstance(st *store.Store, p *pool.Pool) dispatcher.StartInstanceFunc {
	return func(ctx context.Context, tpl store.Template) (store.Instance, error) {
		inst := store.Instance{
			ID:        uuid.NewString(),
			Template:  tpl,
			State:     store.StateStarting,
			StartedAt: time.Now(),
		}
		if err := st.SetInstance(ctx, inst); err != nil {
			return store.Instance{}, err
		}

		if _, err := p.Get(ctx, inst.ID); err != nil {
			inst.State = store.StateFailed
			if setErr := st.SetInstance(ctx, inst); setErr != nil {
				logging.Error("app", setErr, "failed to record failed instance %s", inst.ID)
			}
			return store.Instance{}, err
		}

		inst.State = store.StateRunning
		if err := st.SetInstance(ctx, inst); err != nil {
			return store.Instance{}, err
		}
		return inst, nil
	}
}
