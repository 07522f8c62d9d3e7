package util

import (
	"strings"
	"time"

	"github.com/ValentinKolb/statesync/lib/conflict"
	"github.com/ValentinKolb/statesync/lib/core"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		// Add the word
		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	// Add any remaining text
	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupCoreFlags adds the synchronization core flags to a command.
func SetupCoreFlags(cmd *cobra.Command) {
	key := "tick-interval"
	cmd.PersistentFlags().Duration(key, 100*time.Millisecond, WrapString("Period of the scheduling loop"))

	key = "max-ops-per-tick"
	cmd.PersistentFlags().Int(key, 10, WrapString("How many queued operations one tick may drain"))

	key = "snapshot-interval"
	cmd.PersistentFlags().Duration(key, time.Second, WrapString("Period of automatic snapshot capture"))

	key = "max-history"
	cmd.PersistentFlags().Int(key, 100, WrapString("How many snapshots to retain (oldest evicted first)"))

	key = "resolution-timeout"
	cmd.PersistentFlags().Duration(key, 5*time.Second, WrapString("Upper bound for manual conflict resolution"))

	key = "strategy"
	cmd.PersistentFlags().String(key, "last-writer-wins", WrapString("Conflict resolution strategy (last-writer-wins, first-writer-wins, merge, manual)"))

	key = "validation"
	cmd.PersistentFlags().Bool(key, true, WrapString("Run each subsystem's validation predicate before committing updates"))

	key = "log-level"
	cmd.PersistentFlags().String(key, "info", WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// InitConfig initializes configuration from environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("statesync")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// GetCoreConfig reads the core configuration from viper
func GetCoreConfig() (*core.Config, error) {
	strategy, err := conflict.ParseStrategy(viper.GetString("strategy"))
	if err != nil {
		return nil, err
	}

	cfg := core.DefaultConfig()
	cfg.TickInterval = viper.GetDuration("tick-interval")
	cfg.MaxOpsPerTick = viper.GetInt("max-ops-per-tick")
	cfg.SnapshotInterval = viper.GetDuration("snapshot-interval")
	cfg.MaxHistory = viper.GetInt("max-history")
	cfg.ResolutionTimeout = viper.GetDuration("resolution-timeout")
	cfg.DefaultStrategy = strategy
	cfg.ValidationEnabled = viper.GetBool("validation")
	cfg.LogLevel = viper.GetString("log-level")

	return cfg, nil
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}
