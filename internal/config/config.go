package config

import (
	"fmt"
	"os"
	"reflect"
	"time"

	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v2"
)

// Mode selects how the process participates in a session.
type Mode string

const (
	ModeOffline Mode = "offline"
	ModeClient  Mode = "client"
	ModeServer  Mode = "server"
	ModeHost    Mode = "host"
)

// ParseMode validates a mode string from config or flags.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeOffline, ModeClient, ModeServer, ModeHost:
		return Mode(s), nil
	}
	return "", fmt.Errorf("config: unknown mode %q", s)
}

// NetworkConfig covers transport and admission settings.
type NetworkConfig struct {
	Mode           string `yaml:"mode" json:"mode" jsonschema:"enum=offline,enum=client,enum=server,enum=host,description=How this process participates in a session"`
	ServerAddress  string `yaml:"server_address" json:"serverAddress" jsonschema:"description=Address a client connects to"`
	ServerPort     int    `yaml:"server_port" json:"serverPort" jsonschema:"minimum=1,maximum=65535,description=TCP port the server listens on"`
	MaxPlayers     int    `yaml:"max_players" json:"maxPlayers" jsonschema:"minimum=1,description=Connection cap enforced at admission"`
	QueueCapacity  int    `yaml:"queue_capacity" json:"queueCapacity" jsonschema:"minimum=1,description=Bounded depth of the incoming and outgoing packet queues"`
	InboundPerSec  int    `yaml:"inbound_per_sec" json:"inboundPerSec" jsonschema:"minimum=1,description=Per-connection inbound packet rate limit"`
	TimeoutSeconds int    `yaml:"timeout_seconds" json:"timeoutSeconds" jsonschema:"minimum=1,description=Seconds of silence before a connection is dropped"`
}

// ServerConfig covers identity and persistence.
type ServerConfig struct {
	Name      string `yaml:"name" json:"name" jsonschema:"description=Server name reported in the handshake"`
	MOTD      string `yaml:"motd" json:"motd" jsonschema:"description=Message of the day sent to joining players"`
	BanDBPath string `yaml:"ban_db_path" json:"banDbPath" jsonschema:"description=Path to the sqlite ban database"`
	HTTPAddr  string `yaml:"http_addr" json:"httpAddr" jsonschema:"description=Listen address for metrics and health endpoints"`
}

// SyncConfig covers snapshot cadence and compression.
type SyncConfig struct {
	SnapshotIntervalMS int  `yaml:"snapshot_interval_ms" json:"snapshotIntervalMs" jsonschema:"minimum=10,description=Milliseconds between world snapshots"`
	Compression        bool `yaml:"compression" json:"compression" jsonschema:"description=Snappy-compress snapshot payloads"`
	DeltaCompression   bool `yaml:"delta_compression" json:"deltaCompression" jsonschema:"description=Diff snapshots against each peer's acknowledged baseline"`
	JournalCapacity    int  `yaml:"journal_capacity" json:"journalCapacity" jsonschema:"minimum=1,description=Snapshot encodings retained as delta baselines"`
}

// LogConfig covers the structured log router and file rotation.
type LogConfig struct {
	Level      string `yaml:"level" json:"level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error,description=Minimum severity emitted"`
	File       string `yaml:"file" json:"file" jsonschema:"description=Log file path; empty logs to stdout only"`
	MaxSizeMB  int    `yaml:"max_size_mb" json:"maxSizeMb" jsonschema:"minimum=1,description=Size at which the log file rotates"`
	MaxBackups int    `yaml:"max_backups" json:"maxBackups" jsonschema:"minimum=0,description=Rotated files to retain"`
}

// Config is the root document loaded from YAML.
type Config struct {
	Network NetworkConfig `yaml:"network" json:"network"`
	Server  ServerConfig  `yaml:"server" json:"server"`
	Sync    SyncConfig    `yaml:"sync" json:"sync"`
	Log     LogConfig     `yaml:"log" json:"log"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Network: NetworkConfig{
			Mode:           string(ModeServer),
			ServerAddress:  "127.0.0.1",
			ServerPort:     25565,
			MaxPlayers:     32,
			QueueCapacity:  1024,
			InboundPerSec:  120,
			TimeoutSeconds: 30,
		},
		Server: ServerConfig{
			Name:      "blockfall",
			MOTD:      "welcome to blockfall",
			BanDBPath: "bans.sqlite",
			HTTPAddr:  ":8080",
		},
		Sync: SyncConfig{
			SnapshotIntervalMS: 100,
			Compression:        true,
			DeltaCompression:   true,
			JournalCapacity:    64,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  32,
			MaxBackups: 4,
		},
	}
}

// Load reads a YAML config file, fills unset fields from defaults, and
// validates the result. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the runtime cannot operate with.
func (c Config) Validate() error {
	if _, err := ParseMode(c.Network.Mode); err != nil {
		return err
	}
	if c.Network.ServerPort < 1 || c.Network.ServerPort > 65535 {
		return fmt.Errorf("config: server_port %d out of range", c.Network.ServerPort)
	}
	if c.Network.MaxPlayers < 1 {
		return fmt.Errorf("config: max_players must be at least 1")
	}
	if c.Network.QueueCapacity < 1 {
		return fmt.Errorf("config: queue_capacity must be at least 1")
	}
	if c.Sync.SnapshotIntervalMS < 10 {
		return fmt.Errorf("config: snapshot_interval_ms %d below 10", c.Sync.SnapshotIntervalMS)
	}
	if c.Sync.JournalCapacity < 1 {
		return fmt.Errorf("config: journal_capacity must be at least 1")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.Log.Level)
	}
	return nil
}

// Mode returns the validated session mode.
func (c Config) Mode() Mode {
	m, err := ParseMode(c.Network.Mode)
	if err != nil {
		return ModeOffline
	}
	return m
}

// SnapshotInterval converts the configured cadence to a duration.
func (c Config) SnapshotInterval() time.Duration {
	return time.Duration(c.Sync.SnapshotIntervalMS) * time.Millisecond
}

// Timeout converts the configured connection timeout to a duration.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.Network.TimeoutSeconds) * time.Second
}

// Schema reflects the config document into a JSON schema so deployments can
// validate their YAML before boot.
func Schema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		DoNotReference:             true,
	}
	schema := reflector.ReflectFromType(reflect.TypeOf(Config{}))
	schema.Title = "Blockfall Configuration"
	schema.Description = "Runtime configuration for the blockfall server and client."
	return schema
}
