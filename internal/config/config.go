// Package config defines the CLI/environment configuration surface spec §6
// lists, parsed with jessevdk/go-flags following the teacher's
// cmd/utxo/backfill-ingester config struct convention.
package config

import (
	"time"

	"github.com/goodnatureofminers/blockscan-core/internal/chainparams"
	"github.com/goodnatureofminers/blockscan-core/internal/kvstore"
)

// Config is the scanner's full configuration surface: spec §6's core
// options plus the ambient logging/metrics additions SPEC_FULL.md §10.4
// requires.
type Config struct {
	Network     chainparams.Network `long:"network" env:"BLOCKSCAN_NETWORK" description:"Bitcoin network (main, test, regtest)" required:"true"`
	BlkFileDir  string              `long:"blk-file-dir" env:"BLOCKSCAN_BLK_FILE_DIR" description:"directory containing blkNNNNN.dat files" required:"true"`
	DBDir       string              `long:"db-dir" env:"BLOCKSCAN_DB_DIR" description:"directory for the persistent key/value store" required:"true"`
	InitMode    kvstore.ResetMode   `long:"init-mode" env:"BLOCKSCAN_INIT_MODE" description:"Normal, Rescan, Rebuild, or RescanSSH" default:"Normal"`
	DBType      kvstore.DBType      `long:"db-type" env:"BLOCKSCAN_DB_TYPE" description:"Bare, Full, or Super" default:"Bare"`
	RAMUsageLevel int               `long:"ram-usage-level" env:"BLOCKSCAN_RAM_USAGE_LEVEL" description:"integer >= 1, sizes lookahead and batch width" default:"1"`
	ThreadCount int                 `long:"thread-count" env:"BLOCKSCAN_THREAD_COUNT" description:"worker pool size; 0 uses the number of CPUs" default:"0"`

	MetricsAddr string        `long:"metrics-addr" env:"BLOCKSCAN_METRICS_ADDR" description:"address for the Prometheus metrics server" default:":2112"`
	LogLevel    string        `long:"log-level" env:"BLOCKSCAN_LOG_LEVEL" description:"debug, info, warn, or error" default:"info"`
	ScanTimeout time.Duration `long:"scan-timeout" env:"BLOCKSCAN_SCAN_TIMEOUT" description:"overall scan deadline, 0 disables" default:"0"`

	// WatchAddresses seeds the default AddressFilter for standalone
	// operation. Spec §4.4 leaves address registration to "the wallet
	// layer"; this is the CLI-driven stand-in for it.
	WatchAddresses []string `long:"watch-address" env:"BLOCKSCAN_WATCH_ADDRESSES" env-delim:"," description:"wallet address to index, may be repeated"`

	// Follow keeps the scanner running after it catches up to the chain
	// top, re-reconciling and re-scanning every PollInterval as the node
	// appends new blocks to the current file.
	Follow       bool          `long:"follow" env:"BLOCKSCAN_FOLLOW" description:"keep scanning as new blocks arrive"`
	PollInterval time.Duration `long:"poll-interval" env:"BLOCKSCAN_POLL_INTERVAL" description:"delay between follow-mode re-scans" default:"30s"`
}

// RAMUsageLevelBase is the ~400 MiB base scanner working set spec §5
// describes; each RAMUsageLevel beyond 1 adds RAMUsageLevelStep more.
const (
	RAMUsageLevelBase = 400 << 20
	RAMUsageLevelStep = 128 << 20
)

// LookaheadFor sizes nBlocksLookAhead from the configured ram usage level,
// per spec §5's memory budget note.
func LookaheadFor(ramUsageLevel int) int {
	if ramUsageLevel < 1 {
		ramUsageLevel = 1
	}
	return ramUsageLevel + 1
}

// FileCrossCountFor sizes the batch's file-crossing width from the
// configured ram usage level: more budget lets a batch span more files.
func FileCrossCountFor(ramUsageLevel int) int {
	if ramUsageLevel < 1 {
		ramUsageLevel = 1
	}
	if ramUsageLevel > 4 {
		return 4
	}
	return ramUsageLevel
}
