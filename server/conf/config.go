package conf

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"gopkg.in/ini.v1"

	"github.com/zhukovaskychina/servicebus-persistence/logger"
)

var ConfigPath string

type CommandLineArgs struct {
	ConfigPath string
}

// CompressionAlgorithm names the codec the compressed-cluster writer uses
// for archive frames.
type CompressionAlgorithm string

const (
	CompressionLZ4    CompressionAlgorithm = "lz4"
	CompressionSnappy CompressionAlgorithm = "snappy"
)

// SettingsModel is the process-wide configuration for the persistence
// tier: object-store credentials, size limits and the scheduler's
// timing knobs. Loaded from an .ini file the way xmysql's Cfg was,
// then overridable by environment variables for the connection
// strings (§6 of the spec: MESSAGES_CONNECTION_STRING,
// QUEUES_CONNECTION_STRING, ENV_INFO).
type SettingsModel struct {
	Raw *ini.File

	MessagesConnectionString string
	QueuesConnectionString   string
	EnvInfo                  string

	FlushTickInterval         string `default:"1s" yaml:"flush_tick_interval" json:"flush_tick_interval,omitempty"`
	FlushTickIntervalDuration time.Duration

	PageIdleThreshold         string `default:"5m" yaml:"page_idle_threshold" json:"page_idle_threshold,omitempty"`
	PageIdleThresholdDuration time.Duration

	IndexLookupHorizon         string `default:"24h" yaml:"index_lookup_horizon" json:"index_lookup_horizon,omitempty"`
	IndexLookupHorizonDuration time.Duration

	SnapshotMessageIdThreshold int64 `default:"1000" yaml:"snapshot_message_id_threshold" json:"snapshot_message_id_threshold,omitempty"`

	MaxPayloadSize       int                  `default:"3145728" yaml:"max_payload_size" json:"max_payload_size,omitempty"`
	MaxMessageSize       int                  `default:"5242880" yaml:"max_message_size" json:"max_message_size,omitempty"`
	MaxPagesPerRoundTrip int                  `default:"6144" yaml:"max_pages_per_round_trip" json:"max_pages_per_round_trip,omitempty"`
	CompressionAlgorithm CompressionAlgorithm `default:"lz4" yaml:"compression_algorithm" json:"compression_algorithm,omitempty"`
	YearlyIndexGCEnabled bool                 `default:"true" yaml:"yearly_index_gc_enabled" json:"yearly_index_gc_enabled,omitempty"`
}

// NewSettingsModel returns a SettingsModel seeded with the defaults
// named in the struct tags above.
func NewSettingsModel() *SettingsModel {
	return &SettingsModel{
		Raw:                        ini.Empty(),
		FlushTickInterval:          "1s",
		FlushTickIntervalDuration:  time.Second,
		PageIdleThreshold:          "5m",
		PageIdleThresholdDuration:  5 * time.Minute,
		IndexLookupHorizon:         "24h",
		IndexLookupHorizonDuration: 24 * time.Hour,
		SnapshotMessageIdThreshold: 1000,
		MaxPayloadSize:             3 * 1024 * 1024,
		MaxMessageSize:             5 * 1024 * 1024,
		MaxPagesPerRoundTrip:       6144,
		CompressionAlgorithm:       CompressionLZ4,
		YearlyIndexGCEnabled:       true,
	}
}

// Load reads the .ini file named by args.ConfigPath, overlays it onto the
// defaults and then overlays the environment variables from spec §6 on
// top of that. An empty args.ConfigPath loads no file and keeps the
// defaults.
func (cfg *SettingsModel) Load(args *CommandLineArgs) *SettingsModel {
	setHomePath(args)

	iniFile, err := cfg.loadConfiguration(args)
	if err != nil {
		logger.Fatalf("failed to load persistence config: %v", err)
		os.Exit(1)
	}
	cfg.Raw = iniFile

	cfg.parsePersistenceCfg(cfg.Raw.Section("persistence"))
	cfg.parseEnv()

	return cfg
}

func setHomePath(args *CommandLineArgs) {
	if args.ConfigPath != "" {
		ConfigPath = args.ConfigPath
		return
	}

	ConfigPath, _ = filepath.Abs(".")
}

func (cfg *SettingsModel) parsePersistenceCfg(section *ini.Section) *SettingsModel {
	cfg.FlushTickInterval = section.Key("flush_tick_interval").MustString(cfg.FlushTickInterval)
	cfg.PageIdleThreshold = section.Key("page_idle_threshold").MustString(cfg.PageIdleThreshold)
	cfg.IndexLookupHorizon = section.Key("index_lookup_horizon").MustString(cfg.IndexLookupHorizon)
	cfg.SnapshotMessageIdThreshold = section.Key("snapshot_message_id_threshold").MustInt64(cfg.SnapshotMessageIdThreshold)
	cfg.MaxPayloadSize = section.Key("max_payload_size").MustInt(cfg.MaxPayloadSize)
	cfg.MaxMessageSize = section.Key("max_message_size").MustInt(cfg.MaxMessageSize)
	cfg.MaxPagesPerRoundTrip = section.Key("max_pages_per_round_trip").MustInt(cfg.MaxPagesPerRoundTrip)
	cfg.YearlyIndexGCEnabled = section.Key("yearly_index_gc_enabled").MustBool(cfg.YearlyIndexGCEnabled)

	if algo := section.Key("compression_algorithm").MustString(string(cfg.CompressionAlgorithm)); algo != "" {
		cfg.CompressionAlgorithm = CompressionAlgorithm(algo)
	}

	var err error
	cfg.FlushTickIntervalDuration, err = time.ParseDuration(cfg.FlushTickInterval)
	if err != nil {
		logger.Fatalf("time.ParseDuration(FlushTickInterval{%#v}) = error{%v}", cfg.FlushTickInterval, err)
	}
	cfg.PageIdleThresholdDuration, err = time.ParseDuration(cfg.PageIdleThreshold)
	if err != nil {
		logger.Fatalf("time.ParseDuration(PageIdleThreshold{%#v}) = error{%v}", cfg.PageIdleThreshold, err)
	}
	cfg.IndexLookupHorizonDuration, err = time.ParseDuration(cfg.IndexLookupHorizon)
	if err != nil {
		logger.Fatalf("time.ParseDuration(IndexLookupHorizon{%#v}) = error{%v}", cfg.IndexLookupHorizon, err)
	}

	return cfg
}

// parseEnv overlays MESSAGES_CONNECTION_STRING, QUEUES_CONNECTION_STRING
// and ENV_INFO on top of whatever the .ini file set, matching the Rust
// original's AppContext::new and get_env_info.
func (cfg *SettingsModel) parseEnv() *SettingsModel {
	if v, ok := os.LookupEnv("MESSAGES_CONNECTION_STRING"); ok {
		cfg.MessagesConnectionString = v
	}
	if v, ok := os.LookupEnv("QUEUES_CONNECTION_STRING"); ok {
		cfg.QueuesConnectionString = v
	}

	if v, ok := os.LookupEnv("ENV_INFO"); ok {
		cfg.EnvInfo = v
	} else {
		cfg.EnvInfo = "env info not set"
	}

	return cfg
}

func (cfg *SettingsModel) loadConfiguration(args *CommandLineArgs) (*ini.File, error) {
	if args.ConfigPath == "" {
		return ini.Empty(), nil
	}

	defaultConfigFile := path.Join(args.ConfigPath, "")

	if _, err := os.Stat(defaultConfigFile); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file %s does not exist", defaultConfigFile)
	}

	parsedFile, err := ini.Load(defaultConfigFile)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", defaultConfigFile, err)
	}

	return parsedFile, nil
}
