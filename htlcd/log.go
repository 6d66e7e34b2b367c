package htlcd

import (
	"fmt"
	"io"
	"sort"
	"strings"

	btclogv1 "github.com/btcsuite/btclog"
	"github.com/btcsuite/btclog/v2"
	"github.com/layerswap/layerswap-atomic-bridge-sub001/bitcoin"
	"github.com/layerswap/layerswap-atomic-bridge-sub001/fsm"
	"github.com/layerswap/layerswap-atomic-bridge-sub001/htlcdb"
	"github.com/layerswap/layerswap-atomic-bridge-sub001/ledger"
	"github.com/layerswap/layerswap-atomic-bridge-sub001/saga"
	"github.com/lightningnetwork/lnd/build"
)

// Subsystem defines the sub system name of this package.
const Subsystem = "HTCD"

var log btclog.Logger

// The default amount of logging is none.
func init() {
	UseLogger(build.NewSubLogger(Subsystem, nil))
}

// UseLogger uses a specified Logger to output package logging info.
func UseLogger(logger btclog.Logger) {
	log = logger
}

// subLoggers maps every subsystem to the function that installs its logger.
var subLoggers = map[string]func(btclog.Logger){
	Subsystem:         UseLogger,
	ledger.Subsystem:  ledger.UseLogger,
	htlcdb.Subsystem:  htlcdb.UseLogger,
	bitcoin.Subsystem: bitcoin.UseLogger,
	saga.Subsystem:    saga.UseLogger,
	fsm.Subsystem:     fsm.UseLogger,
}

// SupportedSubsystems returns the sorted names of all subsystems.
func SupportedSubsystems() []string {
	subsystems := make([]string, 0, len(subLoggers))
	for name := range subLoggers {
		subsystems = append(subsystems, name)
	}
	sort.Strings(subsystems)

	return subsystems
}

// SetupLoggers creates the loggers of all subsystems writing to w. The debug
// level is either a single level for all subsystems or a global level
// followed by <subsystem>=<level> pairs, separated by commas.
func SetupLoggers(w io.Writer, debugLevel string) error {
	levels, err := parseDebugLevels(debugLevel)
	if err != nil {
		return err
	}

	root := btclog.NewSLogger(btclog.NewDefaultHandler(w))
	for name, useLogger := range subLoggers {
		logger := root.SubSystem(name)

		level, ok := levels[name]
		if !ok {
			level = levels[""]
		}
		logger.SetLevel(level)

		useLogger(logger)
	}

	return nil
}

// parseDebugLevels parses a debug level string into a map from subsystem to
// level. The empty key holds the global level.
func parseDebugLevels(debugLevel string) (map[string]btclogv1.Level, error) {
	levels := map[string]btclogv1.Level{
		"": btclog.LevelInfo,
	}

	for _, part := range strings.Split(debugLevel, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		name, levelStr, found := strings.Cut(part, "=")
		if !found {
			name, levelStr = "", part
		}

		if name != "" {
			if _, ok := subLoggers[name]; !ok {
				return nil, fmt.Errorf("unknown subsystem %v, "+
					"supported subsystems: %v", name,
					SupportedSubsystems())
			}
		}

		level, ok := btclog.LevelFromString(levelStr)
		if !ok {
			return nil, fmt.Errorf("invalid debug level %v",
				levelStr)
		}
		levels[name] = level
	}

	return levels, nil
}
