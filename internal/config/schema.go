package config

import "time"

// Config holds lootscan configuration.
// Stored at: ~/.lootscan/config.yaml
type Config struct {
	LogLevel  string      `mapstructure:"log_level" yaml:"log_level" validate:"oneof=debug info warn error"`
	Namespace string      `mapstructure:"namespace" yaml:"namespace" validate:"required"`
	Server    ServerCfg   `mapstructure:"server" yaml:"server"`
	Scan      ScanCfg     `mapstructure:"scan" yaml:"scan"`
	Timeouts  TimeoutsCfg `mapstructure:"timeouts" yaml:"timeouts"`
}

// ServerCfg selects and configures the game server.
type ServerCfg struct {
	Mode        string `mapstructure:"mode" yaml:"mode" validate:"oneof=static docker"`
	Host        string `mapstructure:"host" yaml:"host" validate:"required"`
	Port        int    `mapstructure:"port" yaml:"port" validate:"min=1,max=65535"`
	Password    string `mapstructure:"password" yaml:"password"` // supports ${ENV_VAR} syntax
	ArtifactDir string `mapstructure:"artifact_dir" yaml:"artifact_dir"`

	// Docker mode only.
	Image           string        `mapstructure:"image" yaml:"image"`
	ServerType      string        `mapstructure:"server_type" yaml:"server_type"`
	ContainerPrefix string        `mapstructure:"container_prefix" yaml:"container_prefix"`
	Plugin          string        `mapstructure:"plugin" yaml:"plugin"`
	KeepContainer   bool          `mapstructure:"keep_container" yaml:"keep_container"`
	ReadyTimeout    time.Duration `mapstructure:"ready_timeout" yaml:"ready_timeout" validate:"gte=0"`
}

// ScanCfg holds scan defaults. CLI flags override them.
type ScanCfg struct {
	Version             string   `mapstructure:"version" yaml:"version"`
	Seed                int64    `mapstructure:"seed" yaml:"seed"`
	Radius              int      `mapstructure:"radius" yaml:"radius" validate:"gt=0"`
	Structures          []string `mapstructure:"structures" yaml:"structures"` // id or dimension/id
	LocateStep          int      `mapstructure:"locate_step" yaml:"locate_step" validate:"gte=0"`
	RegionRadius        int      `mapstructure:"region_radius" yaml:"region_radius" validate:"gte=0"`
	ParallelRegions     bool     `mapstructure:"parallel_regions" yaml:"parallel_regions"`
	ParallelRegionCount int      `mapstructure:"parallel_region_count" yaml:"parallel_region_count" validate:"gte=0,lte=12"`
	ParallelJobs        int      `mapstructure:"parallel_jobs" yaml:"parallel_jobs" validate:"gte=1,lte=8"`
	MaxTargets          int      `mapstructure:"max_targets" yaml:"max_targets" validate:"gte=0"`
	Datapacks           []string `mapstructure:"datapacks" yaml:"datapacks"`
	DatapackStructures  bool     `mapstructure:"datapack_structures" yaml:"datapack_structures"`
	Lean                bool     `mapstructure:"lean" yaml:"lean"`
	Resume              bool     `mapstructure:"resume" yaml:"resume"`
}

// TimeoutsCfg bounds every wait of a scan.
type TimeoutsCfg struct {
	Poll     time.Duration `mapstructure:"poll" yaml:"poll" validate:"gt=0"`
	Start    time.Duration `mapstructure:"start" yaml:"start" validate:"gt=0"`
	Status   time.Duration `mapstructure:"status" yaml:"status" validate:"gt=0"`
	Legacy   time.Duration `mapstructure:"legacy" yaml:"legacy" validate:"gt=0"`
	Job      time.Duration `mapstructure:"job" yaml:"job" validate:"gt=0"`
	Artifact time.Duration `mapstructure:"artifact" yaml:"artifact" validate:"gt=0"`
}
