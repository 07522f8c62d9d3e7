package run

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	cmdUtil "github.com/ValentinKolb/statesync/cmd/util"
	"github.com/ValentinKolb/statesync/lib/core"
	vm "github.com/VictoriaMetrics/metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	_ "net/http/pprof"
)

var (
	RunCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the synchronization core with simulated subsystems",
		Long: cmdUtil.WrapString(`Run the synchronization core with a number of simulated subsystems that mutate their state periodically. ` +
			`Configuration can be set via command line flags or environment variables (format: STATESYNC_<flag>, e.g. STATESYNC_TICK_INTERVAL=50ms). ` +
			`Metrics are exposed in Prometheus format on the configured endpoint.`),
		PreRunE: processConfig,
		RunE:    runCore,
	}

	runCfg *core.Config
)

func init() {
	// initialize viper
	cobra.OnInitialize(cmdUtil.InitConfig)

	// add flags
	cmdUtil.SetupCoreFlags(RunCmd)

	key := "systems"
	RunCmd.PersistentFlags().Int(key, 4, cmdUtil.WrapString("Number of simulated subsystems to register"))

	key = "mutate-interval"
	RunCmd.PersistentFlags().Duration(key, 500*time.Millisecond, cmdUtil.WrapString("Base interval between simulated out-of-band state changes"))

	key = "endpoint"
	RunCmd.PersistentFlags().String(key, "0.0.0.0:8080", cmdUtil.WrapString("The address on which metrics and pprof will be served"))
}

// processConfig reads the configuration from the command line flags and
// environment variables and converts it to the core configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}
	cfg, err := cmdUtil.GetCoreConfig()
	if err != nil {
		return err
	}
	runCfg = cfg
	return nil
}

// runCore starts the core, registers the simulated subsystems and blocks
// until SIGINT/SIGTERM
func runCore(_ *cobra.Command, _ []string) error {
	c, err := core.New(runCfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// register the simulated subsystems and start their mutator loops
	numSystems := viper.GetInt("systems")
	mutateInterval := viper.GetDuration("mutate-interval")
	for i := 0; i < numSystems; i++ {
		d := newDemoSystem(i)
		if err := c.Register(d.adapter); err != nil {
			return err
		}
		go d.mutate(ctx, mutateInterval)
	}

	if err := c.Start(); err != nil {
		return err
	}
	defer c.Stop()

	// serve metrics and pprof
	endpoint := viper.GetString("endpoint")
	http.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		vm.WritePrometheus(w, true)
	})
	go func() {
		if err := http.ListenAndServe(endpoint, nil); err != nil {
			fmt.Printf("metrics endpoint failed: %v\n", err)
		}
	}()

	fmt.Printf("statesync core running with %d subsystems, metrics on http://%s/metrics\n", numSystems, endpoint)

	// print a metrics summary every 5 seconds until terminated
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	summary := time.NewTicker(5 * time.Second)
	defer summary.Stop()

	for {
		select {
		case <-summary.C:
			m := c.Metrics()
			fmt.Printf("ok=%d failed=%d avg-latency=%v queue=%d conflicts=%d history=%d\n",
				m.Successful, m.Failed, m.AverageLatency, m.QueueSize, m.ActiveConflicts, m.HistorySize)
		case sig := <-sigCh:
			fmt.Printf("received %v, shutting down\n", sig)
			return nil
		}
	}
}
