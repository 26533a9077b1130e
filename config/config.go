// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2015-2016 The Decred developers
// Copyright (c) 2017-2023 The Spacemesh developers

package config

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/jessevdk/go-flags"

	"github.com/spacemeshos/mbf/basis"
	"github.com/spacemeshos/mbf/logging"
	"github.com/spacemeshos/mbf/shared"
	"github.com/spacemeshos/mbf/vote"
)

const (
	defaultDbDirName      = "db"
	defaultLogDirname     = "logs"
	defaultMaxLogFiles    = 3
	defaultMaxLogFileSize = 10
	defaultCacheSize      = 1024
)

// Modes of the command line tool.
const (
	ModeGenerate = "generate"
	ModeVerify   = "verify"
	ModeList     = "list"
)

// Config defines the configuration options for mbf.
//
//nolint:lll
type Config struct {
	BaseDir        string  `long:"mbfdir"         description:"The base directory that contains mbf's data, logs, configuration file, etc."`
	ConfigFile     string  `long:"configfile"     description:"Path to configuration file"                                                  short:"c"`
	DbDir          string  `long:"dbdir"          description:"The directory to store the vote DB within"`
	LogDir         string  `long:"logdir"         description:"Directory to log output."`
	DebugLog       bool    `long:"debuglog"       description:"Enable debug logs"`
	JSONLog        bool    `long:"jsonlog"        description:"Whether to log in JSON format"`
	MaxLogFiles    int     `long:"maxlogfiles"    description:"Maximum logfiles to keep (0 for no rotation)"`
	MaxLogFileSize int     `long:"maxlogfilesize" description:"Maximum logfile size in MB"`
	MetricsPort    *uint16 `long:"metrics-port"   description:"The port to expose metrics"`

	CPUProfile string `long:"cpuprofile" description:"Write CPU profile to the specified file"`
	Profile    string `long:"profile"    description:"Enable HTTP profiling on given port -- must be between 1024 and 65535"`

	Basis  basis.Config `group:"Basis"`
	Engine EngineConfig `group:"Engine"`
	Vote   vote.Config  `group:"Vote"`
	Poll   PollConfig   `group:"Poll"`
}

//nolint:lll
type EngineConfig struct {
	Digest    string `long:"digest"            description:"Digest used for challenges and content hashes (SHA1, SHA256 or BLAKE3)"`
	CacheSize int    `long:"verify-cache-size" description:"Number of verification outcomes to remember"`
	Workers   int    `long:"workers"           description:"Number of units processed concurrently"`
}

// PollConfig describes the single poll operation a run performs.
//
//nolint:lll
type PollConfig struct {
	Mode    string   `long:"mode"     description:"Operation to perform"                                     choice:"generate" choice:"verify" choice:"list"`
	Units   []string `long:"unit"     description:"File holding the audited unit (repeat to generate several votes)"`
	AuID    string   `long:"au-id"    description:"Identifier of the audited unit (defaults to the file name)"`
	Nonce   HexBytes `long:"nonce"    description:"Hex encoded challenge nonce (random when generating without one)"`
	Effort  uint64   `long:"effort"   description:"Effort parameter of the challenge"`
	VoteKey string   `long:"vote-key" description:"Key of the stored vote to verify"`
}

// HexBytes is a byte slice given as a hex string on the command line.
type HexBytes []byte

// UnmarshalFlag implements flags.Unmarshaler.
func (h *HexBytes) UnmarshalFlag(value string) error {
	b, err := hex.DecodeString(strings.TrimPrefix(value, "0x"))
	if err != nil {
		return fmt.Errorf("parsing hex value %q: %w", value, err)
	}
	*h = b
	return nil
}

// MarshalFlag implements flags.Marshaler.
func (h HexBytes) MarshalFlag() (string, error) {
	return hex.EncodeToString(h), nil
}

// DefaultConfig returns a config with default hardcoded values.
func DefaultConfig() *Config {
	baseDir := "./mbf"
	cacheDir, err := os.UserCacheDir()
	if err == nil {
		baseDir = filepath.Join(cacheDir, "mbf")
	}

	return &Config{
		BaseDir:        baseDir,
		DbDir:          filepath.Join(baseDir, defaultDbDirName),
		LogDir:         filepath.Join(baseDir, defaultLogDirname),
		MaxLogFiles:    defaultMaxLogFiles,
		MaxLogFileSize: defaultMaxLogFileSize,
		Basis:          basis.DefaultConfig(),
		Engine: EngineConfig{
			Digest:    shared.DefaultDigest,
			CacheSize: defaultCacheSize,
			Workers:   1,
		},
		Vote: vote.DefaultConfig(),
		Poll: PollConfig{
			Mode:   ModeList,
			Effort: 1,
		},
	}
}

// ParseFlags reads values from command line arguments.
func ParseFlags(preCfg *Config) (*Config, error) {
	if _, err := flags.Parse(preCfg); err != nil {
		return nil, err
	}
	return preCfg, nil
}

// ReadConfigFile reads config from an ini file.
// It uses the provided `cfg` as a base config and overrides it with the values
// from the config file.
func ReadConfigFile(cfg *Config) (*Config, error) {
	if cfg.ConfigFile == "" {
		return cfg, nil
	}
	logging.FromContext(context.Background()).Sugar().Debugf("reading config from %s", cfg.ConfigFile)
	if err := flags.IniParse(cfg.ConfigFile, cfg); err != nil {
		return nil, fmt.Errorf("failed to read config from %v: %w", cfg.ConfigFile, err)
	}

	return cfg, nil
}

// SetupConfig expands paths and initializes filesystem.
func SetupConfig(cfg *Config) (*Config, error) {
	// If the provided base directory is not the default, we'll modify the
	// path to all of the files and directories that will live within it.
	defaultCfg := DefaultConfig()
	if cfg.BaseDir != defaultCfg.BaseDir {
		if cfg.LogDir == defaultCfg.LogDir {
			cfg.LogDir = filepath.Join(cfg.BaseDir, defaultLogDirname)
		}
		if cfg.DbDir == defaultCfg.DbDir {
			cfg.DbDir = filepath.Join(cfg.BaseDir, defaultDbDirName)
		}
	}

	if err := os.MkdirAll(cfg.BaseDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create %v: %w", cfg.BaseDir, err)
	}

	cfg.DbDir = cleanAndExpandPath(cfg.DbDir)
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)
	cfg.Basis.File = cleanAndExpandPath(cfg.Basis.File)
	for i, unit := range cfg.Poll.Units {
		cfg.Poll.Units[i] = cleanAndExpandPath(unit)
	}

	return cfg, nil
}

// Validate reports every inconsistent option at once.
func (cfg *Config) Validate() error {
	var result *multierror.Error
	if _, err := shared.NewDigest(cfg.Engine.Digest); err != nil {
		result = multierror.Append(result, err)
	}
	if cfg.Engine.CacheSize <= 0 {
		result = multierror.Append(result, fmt.Errorf("verify-cache-size must be positive, got %d", cfg.Engine.CacheSize))
	}
	if cfg.Engine.Workers <= 0 {
		result = multierror.Append(result, fmt.Errorf("workers must be positive, got %d", cfg.Engine.Workers))
	}
	if cfg.Vote.Quantum <= 0 {
		result = multierror.Append(result, fmt.Errorf("quantum must be positive, got %d", cfg.Vote.Quantum))
	}
	if cfg.Basis.FlatSize == 0 || cfg.Basis.FlatSize > basis.MaxFlatSize {
		result = multierror.Append(result, fmt.Errorf("basis-flat-size %d out of range", cfg.Basis.FlatSize))
	}
	if len(cfg.Poll.Nonce) > vote.MaxNonceSize {
		result = multierror.Append(result, fmt.Errorf("nonce longer than %d bytes", vote.MaxNonceSize))
	}

	switch cfg.Poll.Mode {
	case ModeGenerate:
		if len(cfg.Poll.Units) == 0 {
			result = multierror.Append(result, errors.New("generate needs at least one --unit"))
		}
		if cfg.Poll.AuID != "" && len(cfg.Poll.Units) > 1 {
			result = multierror.Append(result, errors.New("--au-id applies to a single --unit"))
		}
	case ModeVerify:
		if len(cfg.Poll.Units) != 1 {
			result = multierror.Append(result, errors.New("verify needs exactly one --unit"))
		}
		if cfg.Poll.VoteKey == "" {
			result = multierror.Append(result, errors.New("verify needs --vote-key"))
		}
		if len(cfg.Poll.Nonce) == 0 {
			result = multierror.Append(result, errors.New("verify needs the issued --nonce"))
		}
	case ModeList:
	default:
		result = multierror.Append(result, fmt.Errorf("unknown mode %q", cfg.Poll.Mode))
	}
	return result.ErrorOrNil()
}

// UnitID returns the audited unit identifier used for path.
func (p *PollConfig) UnitID(path string) string {
	if p.AuID != "" {
		return p.AuID
	}
	return filepath.Base(path)
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
// This function is taken from https://github.com/btcsuite/btcd
func cleanAndExpandPath(path string) string {
	if path == "" {
		return ""
	}

	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		var homeDir string
		user, err := user.Current()
		if err == nil {
			homeDir = user.HomeDir
		} else {
			homeDir = os.Getenv("HOME")
		}

		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but the variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}
