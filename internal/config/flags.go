package config

import "github.com/spf13/pflag"

var (
	flagConfig     string
	flagDebug      bool
	flagLogFile    string
	flagWorkers    int
	flagNoCompress bool
	flagKeepTemp   bool
)

// BindFlags registers the config overrides on fs. The CLI binds them as
// persistent flags of the root command.
func BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&flagConfig, "config", "", "Path to config file")
	fs.BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	fs.StringVar(&flagLogFile, "log-file", "", "Also write logs to this file")
	fs.IntVarP(&flagWorkers, "workers", "j", 0, "Documents processed concurrently")
	fs.BoolVar(&flagNoCompress, "no-compress", false, "Copy cleaned files instead of running the compressor")
	fs.BoolVar(&flagKeepTemp, "keep-temp", false, "Keep intermediate cleaned files")
}

// ConfigPath returns the explicit config path if provided via --config flag.
func ConfigPath() string {
	return flagConfig
}

// applyFlags applies CLI flag overrides to the config.
func applyFlags(cfg *Config) {
	if flagDebug {
		cfg.Logging.Level = "debug"
	}
	if flagLogFile != "" {
		cfg.Logging.LogFile = flagLogFile
	}
	if flagWorkers > 0 {
		cfg.Batch.Workers = flagWorkers
	}
	if flagNoCompress {
		cfg.Compressor.Enabled = false
	}
	if flagKeepTemp {
		cfg.Batch.KeepTemp = true
	}
}
