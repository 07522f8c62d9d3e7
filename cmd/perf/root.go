package perf

import (
	"fmt"
	"sync"
	"time"

	cmdUtil "github.com/ValentinKolb/statesync/cmd/util"
	"github.com/ValentinKolb/statesync/lib/codec"
	"github.com/ValentinKolb/statesync/lib/core"
	"github.com/ValentinKolb/statesync/lib/syncable"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	PerfCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for the synchronization core",
		Long:    cmdUtil.WrapString(`Drive an in-process core with a configurable number of subsystems and updates and report enqueue-to-apply latency percentiles.`),
		PreRunE: processPerfConfig,
		RunE:    runPerf,
	}

	perfSystems    = 8
	perfOpsPerSys  = 500
	perfTickMillis = 5
)

func init() {
	cobra.OnInitialize(cmdUtil.InitConfig)

	key := "systems"
	PerfCmd.PersistentFlags().Int(key, 8, cmdUtil.WrapString("Number of subsystems to register"))

	key = "ops"
	PerfCmd.PersistentFlags().Int(key, 500, cmdUtil.WrapString("Number of updates to push per subsystem"))

	key = "tick-millis"
	PerfCmd.PersistentFlags().Int(key, 5, cmdUtil.WrapString("Scheduling tick interval in milliseconds"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}
	perfSystems = viper.GetInt("systems")
	perfOpsPerSys = viper.GetInt("ops")
	perfTickMillis = viper.GetInt("tick-millis")
	return nil
}

// perfState is the minimal payload pushed through the core.
type perfState struct {
	Seq int `json:"seq"`
}

func runPerf(_ *cobra.Command, _ []string) error {
	fmt.Println("Performance testing tool for the statesync core")
	fmt.Printf("Systems: %d, ops per system: %d, tick: %dms\n\n", perfSystems, perfOpsPerSys, perfTickMillis)

	cfg := core.DefaultConfig()
	cfg.TickInterval = time.Duration(perfTickMillis) * time.Millisecond
	cfg.MaxOpsPerTick = 64
	cfg.SnapshotInterval = time.Minute // keep snapshots out of the measurement
	cfg.LogLevel = "error"

	c, err := core.New(cfg)
	if err != nil {
		return err
	}

	jsonCodec := codec.NewJSONCodec()
	states := make([]*perfState, perfSystems)
	for i := 0; i < perfSystems; i++ {
		st := &perfState{}
		states[i] = st
		var mu sync.Mutex
		adapter := syncable.NewTyped(fmt.Sprintf("perf-%d", i), jsonCodec, syncable.Funcs[perfState]{
			Current: func() perfState {
				mu.Lock()
				defer mu.Unlock()
				return *st
			},
			Apply: func(s perfState) error {
				mu.Lock()
				defer mu.Unlock()
				*st = s
				return nil
			},
		})
		if err := c.Register(adapter); err != nil {
			return err
		}
	}

	if err := c.Start(); err != nil {
		return err
	}
	defer c.Stop()

	registry := gometrics.NewRegistry()
	timer := gometrics.GetOrRegisterTimer("sync.latency", registry)

	var wg sync.WaitGroup
	wg.Add(perfSystems)
	start := time.Now()

	for i := 0; i < perfSystems; i++ {
		go func(idx int) {
			defer wg.Done()
			systemID := fmt.Sprintf("perf-%d", idx)

			for seq := 1; seq <= perfOpsPerSys; seq++ {
				payload, err := jsonCodec.Encode(perfState{Seq: seq})
				if err != nil {
					fmt.Printf("(%s) encode failed: %v\n", systemID, err)
					return
				}

				record, _ := c.GetState(systemID)
				target := record.Version + 1

				opStart := time.Now()
				if err := c.QueueUpdate(systemID, payload); err != nil {
					fmt.Printf("(%s) enqueue failed: %v\n", systemID, err)
					return
				}

				// wait until the scheduling loop applied the update
				for {
					record, _ := c.GetState(systemID)
					if record.Version >= target {
						break
					}
					time.Sleep(time.Duration(perfTickMillis) * time.Millisecond / 4)
				}
				timer.UpdateSince(opStart)
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	total := perfSystems * perfOpsPerSys
	fmt.Printf("completed %d updates in %v (%.0f ops/s)\n\n", total, elapsed, float64(total)/elapsed.Seconds())
	fmt.Printf("latency mean: %v\n", time.Duration(timer.Mean()))
	fmt.Printf("latency p50:  %v\n", time.Duration(timer.Percentile(0.50)))
	fmt.Printf("latency p95:  %v\n", time.Duration(timer.Percentile(0.95)))
	fmt.Printf("latency p99:  %v\n", time.Duration(timer.Percentile(0.99)))
	fmt.Printf("latency max:  %v\n", time.Duration(timer.Max()))

	m := c.Metrics()
	fmt.Printf("\ncore metrics: ok=%d failed=%d avg-latency=%v\n", m.Successful, m.Failed, m.AverageLatency)
	return nil
}
