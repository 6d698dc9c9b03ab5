package dispatch

import (
	"fmt"
	"time"
)

// CoreOption is a bit in the core option bitmask controlling which
// protocol versions/transports are compiled into the running dispatcher
// (§6: "core option bitmask (NFSv3, NFSv4, VSOCK, RDMA, ALL_NFS_VERS)").
type CoreOption uint32

const (
	OptNFSv3 CoreOption = 1 << iota
	OptNFSv4
	OptVSock
	OptRDMA

	OptAllNFSVers = OptNFSv3 | OptNFSv4
)

// Has reports whether opt is set in the bitmask.
func (m CoreOption) Has(opt CoreOption) bool { return m&opt != 0 }

// KeepaliveConfig groups the TCP keepalive tuning knobs applied by the
// Endpoint Manager when enable_tcp_keepalive is set (§4.1, §6).
type KeepaliveConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Count    int           `mapstructure:"keepcnt" validate:"min=0"`
	Idle     time.Duration `mapstructure:"keepidle" validate:"min=0"`
	Interval time.Duration `mapstructure:"keepintvl" validate:"min=0"`
}

// FridgeConfig tunes the decoder thread fridge (§4.6 step 1, GLOSSARY
// "Fridge"): a worker-pool abstraction with idle expiration and a
// deferment policy. These settings are defaulted and carried in Config,
// but no code reads them: this core's WorkerPool is a fixed-size pool
// sized by MaxIOWorkerThreads, and its workers park with a fixed
// 5-second timeout.
type FridgeConfig struct {
	ExpirationDelay time.Duration `mapstructure:"expiration_delay" validate:"min=0"`
	BlockTimeout    time.Duration `mapstructure:"block_timeout" validate:"min=0"`
}

// GSSConfig tunes the GSS security-context cache sizing (§6: "GSS
// context hash partitions; GSS max contexts; GSS max GC"). The cache
// itself is owned by the RPC library collaborator; this core defaults
// and carries the sizing knobs but does not read them or pass them on.
type GSSConfig struct {
	HashPartitions int `mapstructure:"hash_partitions" validate:"min=1"`
	MaxContexts    int `mapstructure:"max_contexts" validate:"min=0"`
	MaxGC          int `mapstructure:"max_gc" validate:"min=0"`
}

// Config is the dispatch core's configuration surface, loaded the way
// the teacher's adapter configs are: a plain struct with mapstructure
// tags bound through viper, defaulted by applyDefaults, and checked by
// validate before anything is constructed.
type Config struct {
	// NFSPort, MountPort, NLMPort, RQuotaPort are the per-protocol
	// listening ports (§6: "Port per protocol").
	NFSPort    int `mapstructure:"nfs_port" validate:"min=0,max=65535"`
	MountPort  int `mapstructure:"mount_port" validate:"min=0,max=65535"`
	NLMPort    int `mapstructure:"nlm_port" validate:"min=0,max=65535"`
	RQuotaPort int `mapstructure:"rquota_port" validate:"min=0,max=65535"`

	MaxSendBuffer int `mapstructure:"max_send_buffer" validate:"min=0"`
	MaxRecvBuffer int `mapstructure:"max_recv_buffer" validate:"min=0"`

	MaxConnections int           `mapstructure:"max_connections" validate:"min=0"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout" validate:"min=0"`

	MaxIOWorkerThreads int `mapstructure:"max_io_worker_threads" validate:"min=1"`

	// NTCPEventChannels is N_TCP_EVENT_CHAN (§3, §4.2): the number of
	// worker channels accepted TCP connections are round-robined across.
	NTCPEventChannels int `mapstructure:"tcp_event_channels" validate:"min=1"`

	EnableNLM    bool `mapstructure:"enable_nlm"`
	EnableRQuota bool `mapstructure:"enable_rquota"`

	Keepalive KeepaliveConfig `mapstructure:"keepalive"`
	Fridge    FridgeConfig    `mapstructure:"fridge"`
	GSS       GSSConfig       `mapstructure:"gss"`

	Options CoreOption `mapstructure:"options"`

	// ShutdownTimeout bounds how long the registry waits for in-flight
	// requests to drain during Stop before it stops waiting (workers
	// themselves keep running to completion regardless, per §5's
	// "in-flight requests complete; no mid-operation abort").
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=0"`

	Logging LoggingConfig `mapstructure:"logging"`
}

// LoggingConfig mirrors internal/logger.Config's mapstructure surface so
// a single config file section can drive both (§ ambient logging stack).
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DefaultConfig returns a Config with every field defaulted, equivalent
// to calling applyDefaults on a zero Config.
func DefaultConfig() Config {
	c := Config{}
	c.applyDefaults()
	return c
}

// applyDefaults fills in zero-valued fields with production defaults,
// the same "zero means unset, replace with a sane default" convention
// the teacher's adapter configs use throughout.
func (c *Config) applyDefaults() {
	if c.NFSPort <= 0 {
		c.NFSPort = 2049
	}
	if c.MountPort <= 0 {
		c.MountPort = 2049
	}
	if c.NLMPort <= 0 {
		c.NLMPort = 2049
	}
	if c.RQuotaPort <= 0 {
		c.RQuotaPort = 2049
	}
	if c.MaxSendBuffer == 0 {
		c.MaxSendBuffer = 1 << 20
	}
	if c.MaxRecvBuffer == 0 {
		c.MaxRecvBuffer = 1 << 20
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 5 * time.Minute
	}
	if c.MaxIOWorkerThreads == 0 {
		c.MaxIOWorkerThreads = 16
	}
	if c.NTCPEventChannels == 0 {
		c.NTCPEventChannels = 4
	}
	if c.Keepalive.Count == 0 {
		c.Keepalive.Count = 3
	}
	if c.Keepalive.Idle == 0 {
		c.Keepalive.Idle = 30 * time.Second
	}
	if c.Keepalive.Interval == 0 {
		c.Keepalive.Interval = 10 * time.Second
	}
	if c.Fridge.ExpirationDelay == 0 {
		c.Fridge.ExpirationDelay = time.Minute
	}
	if c.Fridge.BlockTimeout == 0 {
		c.Fridge.BlockTimeout = 30 * time.Second
	}
	if c.GSS.HashPartitions == 0 {
		c.GSS.HashPartitions = 7
	}
	if c.Options == 0 {
		c.Options = OptAllNFSVers
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// validate checks the configuration is internally consistent. Mirrors
// the teacher's NFSConfig.validate style: a chain of guard clauses
// returning a wrapped, field-specific error on the first violation.
func (c *Config) validate() error {
	for name, port := range map[string]int{
		"nfs_port": c.NFSPort, "mount_port": c.MountPort,
		"nlm_port": c.NLMPort, "rquota_port": c.RQuotaPort,
	} {
		if port < 0 || port > 65535 {
			return fmt.Errorf("invalid %s %d: must be 0-65535", name, port)
		}
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("invalid max_connections %d: must be >= 0", c.MaxConnections)
	}
	if c.IdleTimeout < 0 {
		return fmt.Errorf("invalid idle_timeout %v: must be >= 0", c.IdleTimeout)
	}
	if c.MaxIOWorkerThreads < 1 {
		return fmt.Errorf("invalid max_io_worker_threads %d: must be >= 1", c.MaxIOWorkerThreads)
	}
	if c.NTCPEventChannels < 1 {
		return fmt.Errorf("invalid tcp_event_channels %d: must be >= 1", c.NTCPEventChannels)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown_timeout %v: must be > 0", c.ShutdownTimeout)
	}
	return nil
}

// NewConfig defaults and validates cfg, returning an error describing
// the first invalid field rather than panicking — callers loading from
// a config file want a reportable error, not a crash.
func NewConfig(cfg Config) (Config, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
