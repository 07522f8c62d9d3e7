package run

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/ValentinKolb/statesync/lib/codec"
	"github.com/ValentinKolb/statesync/lib/syncable"
)

// demoState is the state of a simulated subsystem used by the run command.
// It stands in for the kind of independently-mutating subsystems the core
// synchronizes in a real deployment.
type demoState struct {
	Ticks int     `json:"ticks"`
	Value float64 `json:"value"`
}

// demoSystem couples a demoState with a typed adapter and a mutator loop.
type demoSystem struct {
	mu      sync.Mutex
	state   demoState
	adapter *syncable.Typed[demoState]
}

// newDemoSystem creates a simulated subsystem with the given index.
func newDemoSystem(idx int) *demoSystem {
	d := &demoSystem{}
	d.adapter = syncable.NewTyped(fmt.Sprintf("demo-%d", idx), codec.NewJSONCodec(), syncable.Funcs[demoState]{
		Current: func() demoState {
			d.mu.Lock()
			defer d.mu.Unlock()
			return d.state
		},
		Apply: func(s demoState) error {
			d.mu.Lock()
			defer d.mu.Unlock()
			d.state = s
			return nil
		},
		Validate: func(s demoState) bool {
			return s.Ticks >= 0
		},
		Merge: func(local, remote, base demoState) demoState {
			// keep the larger progress of both writers
			if remote.Ticks > local.Ticks {
				return remote
			}
			return local
		},
	})
	return d
}

// mutate runs the subsystem's own activity: periodic out-of-band changes
// reported on the change stream.
func (d *demoSystem) mutate(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval + time.Duration(rand.Int63n(int64(interval))))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.mu.Lock()
			d.state.Ticks++
			d.state.Value = rand.Float64() * 100
			d.mu.Unlock()
			d.adapter.NotifyChange()
		}
	}
}
