package htlcd

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/ethereum/go-ethereum/common"
	"github.com/jessevdk/go-flags"
	"github.com/layerswap/layerswap-atomic-bridge-sub001/auth"
	"github.com/layerswap/layerswap-atomic-bridge-sub001/bitcoin"
	"github.com/layerswap/layerswap-atomic-bridge-sub001/htlcdb"
	"github.com/layerswap/layerswap-atomic-bridge-sub001/swap"
	"github.com/lightningnetwork/lnd/lncfg"
)

const (
	defaultConfigFilename = "htlcd.conf"

	// DatabaseBackendBbolt stores the ledger in a bbolt file.
	DatabaseBackendBbolt = "bbolt"

	// DatabaseBackendSqlite stores the ledger in a sqlite file.
	DatabaseBackendSqlite = "sqlite"

	// ChainBackendMempool uses the mempool.space rest api.
	ChainBackendMempool = "mempool"

	// ChainBackendBitcoind uses the json-rpc interface of bitcoind.
	ChainBackendBitcoind = "bitcoind"

	defaultSqliteFilename = "htlc.sqlite"
)

var (
	// DefaultHtlcdDir is the default directory of all htlcd data.
	DefaultHtlcdDir = btcutil.AppDataDir("htlcd", false)

	// DefaultNetwork is the network used if none is configured.
	DefaultNetwork = "testnet"

	defaultLogLevel   = "info"
	defaultConfigFile = filepath.Join(
		DefaultHtlcdDir, defaultConfigFilename,
	)

	errNegativeFee = errors.New("fee and fee rate must not be negative")
)

type ledgerConfig struct {
	HashFunc string `long:"hashfunc" description:"Hash binding secrets to hashlocks" choice:"sha256" choice:"hash256"`
	Scheme   string `long:"sigscheme" description:"Signature scheme of signed locks" choice:"eip712" choice:"keccak" choice:"clarity" choice:"ton"`

	EIP712 *eip712Config `group:"eip712" namespace:"eip712"`
}

type eip712Config struct {
	Name     string `long:"name" description:"EIP-712 domain name"`
	Version  string `long:"version" description:"EIP-712 domain version"`
	ChainID  uint64 `long:"chainid" description:"EIP-712 domain chain id"`
	Contract string `long:"contract" description:"EIP-712 verifying contract address"`
	Salt     string `long:"salt" description:"EIP-712 domain salt as 32 byte hex"`
}

type bitcoinConfig struct {
	Backend    string `long:"backend" description:"Chain backend used by the bitcoin engine" choice:"mempool" choice:"bitcoind"`
	MempoolURL string `long:"mempoolurl" description:"Base url of the mempool.space api, derived from the network if empty"`

	Fee        int64  `long:"fee" description:"Fixed transaction fee in satoshis"`
	FeeRate    int64  `long:"feerate" description:"Fee rate in sat/kw, overrides the fixed fee"`
	LockHeight uint32 `long:"lockheight" description:"Blocks until a bitcoin lock can be refunded"`

	Bitcoind *bitcoin.BitcoindConfig `group:"bitcoind" namespace:"bitcoind"`
}

// Config is the configuration of the htlc tools.
type Config struct {
	Network string `long:"network" description:"bitcoin network to operate on" choice:"regtest" choice:"testnet" choice:"mainnet" choice:"signet" choice:"simnet"`

	HtlcdDir   string `long:"htlcddir" description:"The directory for all htlcd data."`
	ConfigFile string `long:"configfile" description:"Path to configuration file."`
	DataDir    string `long:"datadir" description:"Directory for the ledger database."`

	DatabaseBackend string               `long:"databasebackend" description:"The database backend to use for the ledger" choice:"bbolt" choice:"sqlite"`
	Sqlite          *htlcdb.SqliteConfig `group:"sqlite" namespace:"sqlite"`

	DebugLevel string `long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems"`

	Ledger *ledgerConfig `group:"ledger" namespace:"ledger"`

	Bitcoin *bitcoinConfig `group:"bitcoin" namespace:"bitcoin"`
}

// DefaultConfig returns all default values for the Config struct.
func DefaultConfig() Config {
	return Config{
		Network:         DefaultNetwork,
		HtlcdDir:        DefaultHtlcdDir,
		ConfigFile:      defaultConfigFile,
		DataDir:         DefaultHtlcdDir,
		DatabaseBackend: DatabaseBackendBbolt,
		Sqlite:          &htlcdb.SqliteConfig{},
		DebugLevel:      defaultLogLevel,
		Ledger: &ledgerConfig{
			HashFunc: swap.HashDoubleSha256.String(),
			Scheme:   string(auth.SchemeEIP712),
			EIP712: &eip712Config{
				Name:    "LayerswapV8",
				Version: "1",
			},
		},
		Bitcoin: &bitcoinConfig{
			Backend:    ChainBackendMempool,
			Fee:        int64(bitcoin.DefaultFee),
			LockHeight: bitcoin.DefaultLockHeight,
			Bitcoind: &bitcoin.BitcoindConfig{
				Host: "localhost:18332",
			},
		},
	}
}

// Validate cleans up paths in the config provided and validates it.
func Validate(cfg *Config) error {
	cfg.HtlcdDir = lncfg.CleanAndExpandPath(cfg.HtlcdDir)
	cfg.DataDir = lncfg.CleanAndExpandPath(cfg.DataDir)

	// A custom htlcd dir moves the data dir along, unless the data dir is
	// set as well.
	dataDirSet := cfg.DataDir != DefaultHtlcdDir
	if cfg.HtlcdDir != DefaultHtlcdDir && !dataDirSet {
		cfg.DataDir = cfg.HtlcdDir
	}

	// Namespace the data per network.
	cfg.DataDir = filepath.Join(cfg.DataDir, cfg.Network)

	if cfg.DatabaseBackend == DatabaseBackendSqlite &&
		cfg.Sqlite.DatabaseFileName == "" {

		cfg.Sqlite.DatabaseFileName = filepath.Join(
			cfg.DataDir, defaultSqliteFilename,
		)
	}

	if _, err := swap.ParseHashFunc(cfg.Ledger.HashFunc); err != nil {
		return err
	}

	if cfg.Bitcoin.Fee < 0 || cfg.Bitcoin.FeeRate < 0 {
		return errNegativeFee
	}

	if cfg.Bitcoin.Backend == ChainBackendBitcoind &&
		cfg.Bitcoin.Bitcoind.Host == "" {

		return fmt.Errorf("bitcoind backend requires a host")
	}

	if cfg.Ledger.Scheme == string(auth.SchemeEIP712) {
		if _, err := cfg.eip712Domain(); err != nil {
			return err
		}
	}

	return os.MkdirAll(cfg.DataDir, os.ModePerm)
}

// eip712Domain assembles the typed data domain from the config.
func (c *Config) eip712Domain() (*auth.EIP712Domain, error) {
	domainCfg := c.Ledger.EIP712

	domain := &auth.EIP712Domain{
		Name:    domainCfg.Name,
		Version: domainCfg.Version,
		ChainID: new(big.Int).SetUint64(domainCfg.ChainID),
	}

	if domainCfg.Contract != "" {
		if !common.IsHexAddress(domainCfg.Contract) {
			return nil, fmt.Errorf("invalid eip712 contract: %v",
				domainCfg.Contract)
		}
		domain.VerifyingContract = common.HexToAddress(
			domainCfg.Contract,
		)
	}

	if domainCfg.Salt != "" {
		salt := strings.TrimPrefix(domainCfg.Salt, "0x")
		if len(salt) != 2*common.HashLength {
			return nil, fmt.Errorf("invalid eip712 salt: %v",
				domainCfg.Salt)
		}
		domain.Salt = common.HexToHash(salt)
	}

	return domain, nil
}

// LoadConfig parses the command line arguments and the config file they
// point to. Arguments take precedence over the config file.
func LoadConfig(args []string) (*Config, error) {
	config := DefaultConfig()

	parser := flags.NewParser(&config, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}

	configFile := getConfigPath(config)
	if err := flags.IniParse(configFile, &config); err != nil {
		// A missing config file is fine, a broken one is not.
		if _, ok := err.(*flags.IniError); ok {
			return nil, err
		}
	}

	// Parse the arguments again to restore values overwritten by the
	// config file.
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}

	if err := Validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// getConfigPath returns the config file location. A custom htlcd dir moves
// the default config file along.
func getConfigPath(cfg Config) string {
	if cfg.ConfigFile != defaultConfigFile {
		return lncfg.CleanAndExpandPath(cfg.ConfigFile)
	}

	htlcdDir := lncfg.CleanAndExpandPath(cfg.HtlcdDir)
	if htlcdDir != DefaultHtlcdDir {
		return filepath.Join(htlcdDir, defaultConfigFilename)
	}

	return defaultConfigFile
}
