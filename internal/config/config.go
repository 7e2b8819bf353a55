package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

var ErrInvalidConfig = errors.New("invalid config")

const (
	TrainerFedAvg   = "fedavg"
	TrainerIFCA     = "ifca"
	TrainerFeSEM    = "fesem"
	TrainerFedGroup = "fedgroup"

	ShiftAll       = "all"
	ShiftPart      = "part"
	ShiftIncrement = "increment"

	MeasureEDC  = "EDC"
	MeasureMADC = "MADC"

	DeviceCPU = "cpu"
)

type Config struct {
	Train     TrainConfig     `mapstructure:"train"`
	Data      DataConfig      `mapstructure:"data"`
	Runtime   RuntimeConfig   `mapstructure:"runtime"`
	Storage   StorageConfig   `mapstructure:"storage"`
	IPFS      IPFSConfig      `mapstructure:"ipfs"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	MQTT      MQTTConfig      `mapstructure:"mqtt"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
}

// TrainConfig selects the dataset, model and trainer of a simulation
type TrainConfig struct {
	Dataset       string        `mapstructure:"dataset"`
	Model         string        `mapstructure:"model"`
	Trainer       string        `mapstructure:"trainer"`
	TrainerConfig TrainerConfig `mapstructure:"trainer_config"`
}

type TrainerConfig struct {
	NumRounds       int     `mapstructure:"num_rounds"`
	Dynamic         bool    `mapstructure:"dynamic"`
	ShiftType       string  `mapstructure:"shift_type"`
	SwapP           float64 `mapstructure:"swap_p"`
	ShiftRounds     []int   `mapstructure:"shift_rounds"`
	ClientsPerRound int     `mapstructure:"clients_per_round"`
	NumGroup        int     `mapstructure:"num_group"`
	LocalEpochs     int     `mapstructure:"local_epochs"`
	BatchSize       int     `mapstructure:"batch_size"`
	LearningRate    float64 `mapstructure:"learning_rate"`
	EvalEvery       int     `mapstructure:"eval_every"`
	GroupAggLR      float64 `mapstructure:"group_agg_lr"`
	PretrainScale   int     `mapstructure:"pretrain_scale"`
	Measure         string  `mapstructure:"measure"`
	RAC             bool    `mapstructure:"rac"`
	RCC             bool    `mapstructure:"rcc"`
	TempMax         int     `mapstructure:"temp_max"`
}

// DataConfig locates the dataset. Path may be a LEAF directory, a CSV/JSON
// file or an ipfs://<cid> reference; it is ignored for the synthetic dataset.
type DataConfig struct {
	Path             string  `mapstructure:"path"`
	Format           string  `mapstructure:"format"`
	NumClients       int     `mapstructure:"num_clients"`
	ClassesPerClient int     `mapstructure:"classes_per_client"`
	TestFraction     float64 `mapstructure:"test_fraction"`
}

// RuntimeConfig pins where and how the simulation runs
type RuntimeConfig struct {
	Device  string `mapstructure:"device"`
	Workers int    `mapstructure:"workers"`
	Seed    int64  `mapstructure:"seed"`
}

type StorageConfig struct {
	DatabaseURL   string `mapstructure:"database_url"`
	CheckpointDir string `mapstructure:"checkpoint_dir"`
}

type IPFSConfig struct {
	APIURL string `mapstructure:"api_url"`
}

// WebhookConfig points round notifications at an external endpoint; an
// empty URL disables them
type WebhookConfig struct {
	URL         string        `mapstructure:"url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxRetries  int           `mapstructure:"max_retries"`
	BaseBackoff time.Duration `mapstructure:"base_backoff"`
	MaxBackoff  time.Duration `mapstructure:"max_backoff"`
	QueueSize   int           `mapstructure:"queue_size"`
}

// MQTTConfig publishes round summaries to a broker; an empty Broker
// disables publishing
type MQTTConfig struct {
	Broker      string        `mapstructure:"broker"`
	ClientID    string        `mapstructure:"client_id"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	TopicPrefix string        `mapstructure:"topic_prefix"`
	QoS         byte          `mapstructure:"qos"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type TelemetryConfig struct {
	Enabled       bool                `mapstructure:"enabled"`
	ServiceName   string              `mapstructure:"service_name"`
	OTELCollector OTELCollectorConfig `mapstructure:"otel_collector"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`
}

type OTELCollectorConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type MetricsConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type ServerConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Endpoint string `mapstructure:"endpoint"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// NewTrainConfig returns a TrainConfig with the defaults of the given trainer
func NewTrainConfig(dataset, model, trainer string) TrainConfig {
	tc := TrainConfig{
		Dataset: dataset,
		Model:   model,
		Trainer: strings.ToLower(trainer),
		TrainerConfig: TrainerConfig{
			NumRounds:       200,
			ShiftType:       ShiftAll,
			SwapP:           0,
			ClientsPerRound: 20,
			LocalEpochs:     20,
			BatchSize:       10,
			LearningRate:    0.03,
			EvalEvery:       1,
			GroupAggLR:      0,
			PretrainScale:   5,
			Measure:         MeasureEDC,
			TempMax:         0,
		},
	}
	tc.TrainerConfig.NumGroup = DefaultNumGroup(tc.Trainer)
	return tc
}

// DefaultNumGroup is the group count a trainer starts with
func DefaultNumGroup(trainer string) int {
	switch strings.ToLower(trainer) {
	case TrainerFedAvg:
		return 1
	case TrainerFedGroup:
		return 5
	default:
		return 3
	}
}

// Set assigns a trainer option by its config key
func (tc *TrainerConfig) Set(key string, value interface{}) error {
	var err error
	switch strings.ToLower(key) {
	case "num_rounds":
		tc.NumRounds, err = cast.ToIntE(value)
	case "dynamic":
		tc.Dynamic, err = cast.ToBoolE(value)
	case "shift_type":
		tc.ShiftType, err = cast.ToStringE(value)
	case "swap_p":
		tc.SwapP, err = cast.ToFloat64E(value)
	case "shift_rounds":
		tc.ShiftRounds, err = cast.ToIntSliceE(value)
	case "clients_per_round":
		tc.ClientsPerRound, err = cast.ToIntE(value)
	case "num_group":
		tc.NumGroup, err = cast.ToIntE(value)
	case "local_epochs":
		tc.LocalEpochs, err = cast.ToIntE(value)
	case "batch_size":
		tc.BatchSize, err = cast.ToIntE(value)
	case "learning_rate":
		tc.LearningRate, err = cast.ToFloat64E(value)
	case "eval_every":
		tc.EvalEvery, err = cast.ToIntE(value)
	case "group_agg_lr":
		tc.GroupAggLR, err = cast.ToFloat64E(value)
	case "pretrain_scale":
		tc.PretrainScale, err = cast.ToIntE(value)
	case "measure":
		var m string
		m, err = cast.ToStringE(value)
		tc.Measure = strings.ToUpper(m)
	case "rac":
		tc.RAC, err = cast.ToBoolE(value)
	case "rcc":
		tc.RCC, err = cast.ToBoolE(value)
	case "temp_max":
		tc.TempMax, err = cast.ToIntE(value)
	default:
		return fmt.Errorf("unknown trainer option %q: %w", key, ErrInvalidConfig)
	}
	if err != nil {
		return fmt.Errorf("trainer option %q: %v: %w", key, err, ErrInvalidConfig)
	}
	return nil
}

// Validate rejects option combinations the trainers cannot run
func (tc TrainConfig) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrInvalidConfig)
	}

	switch tc.Trainer {
	case TrainerFedAvg, TrainerIFCA, TrainerFeSEM, TrainerFedGroup:
	default:
		return invalid("unknown trainer %q", tc.Trainer)
	}

	c := tc.TrainerConfig
	if c.NumRounds <= 0 {
		return invalid("num_rounds must be positive, got %d", c.NumRounds)
	}
	if c.ClientsPerRound <= 0 {
		return invalid("clients_per_round must be positive, got %d", c.ClientsPerRound)
	}
	if c.NumGroup <= 0 {
		return invalid("num_group must be positive, got %d", c.NumGroup)
	}
	if c.LocalEpochs <= 0 || c.BatchSize <= 0 {
		return invalid("local_epochs and batch_size must be positive")
	}
	if c.LearningRate <= 0 {
		return invalid("learning_rate must be positive, got %f", c.LearningRate)
	}
	if c.SwapP < 0 || c.SwapP > 1 {
		return invalid("swap_p must be within [0, 1], got %f", c.SwapP)
	}
	switch c.ShiftType {
	case ShiftAll, ShiftPart, ShiftIncrement:
	default:
		return invalid("unknown shift_type %q", c.ShiftType)
	}
	switch c.Measure {
	case MeasureEDC, MeasureMADC:
	default:
		return invalid("unknown measure %q", c.Measure)
	}
	if c.PretrainScale <= 0 {
		return invalid("pretrain_scale must be positive, got %d", c.PretrainScale)
	}
	if c.GroupAggLR < 0 {
		return invalid("group_agg_lr must not be negative, got %f", c.GroupAggLR)
	}
	return nil
}

func (rc RuntimeConfig) Validate() error {
	if !strings.EqualFold(rc.Device, DeviceCPU) {
		return fmt.Errorf("unsupported device %q, only %q is available: %w", rc.Device, DeviceCPU, ErrInvalidConfig)
	}
	if rc.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d: %w", rc.Workers, ErrInvalidConfig)
	}
	return nil
}

func (c *Config) Validate() error {
	if err := c.Train.Validate(); err != nil {
		return err
	}
	return c.Runtime.Validate()
}

func setDefaults(v *viper.Viper) {
	def := NewTrainConfig("synthetic", "mlp", TrainerFedGroup)
	tc := def.TrainerConfig

	v.SetDefault("train.dataset", def.Dataset)
	v.SetDefault("train.model", def.Model)
	v.SetDefault("train.trainer", def.Trainer)
	v.SetDefault("train.trainer_config.num_rounds", tc.NumRounds)
	v.SetDefault("train.trainer_config.dynamic", tc.Dynamic)
	v.SetDefault("train.trainer_config.shift_type", tc.ShiftType)
	v.SetDefault("train.trainer_config.swap_p", tc.SwapP)
	v.SetDefault("train.trainer_config.clients_per_round", tc.ClientsPerRound)
	v.SetDefault("train.trainer_config.local_epochs", tc.LocalEpochs)
	v.SetDefault("train.trainer_config.batch_size", tc.BatchSize)
	v.SetDefault("train.trainer_config.learning_rate", tc.LearningRate)
	v.SetDefault("train.trainer_config.eval_every", tc.EvalEvery)
	v.SetDefault("train.trainer_config.group_agg_lr", tc.GroupAggLR)
	v.SetDefault("train.trainer_config.pretrain_scale", tc.PretrainScale)
	v.SetDefault("train.trainer_config.measure", tc.Measure)
	v.SetDefault("train.trainer_config.temp_max", tc.TempMax)

	v.SetDefault("data.num_clients", 100)
	v.SetDefault("data.classes_per_client", 2)
	v.SetDefault("data.test_fraction", 0.2)

	v.SetDefault("runtime.device", DeviceCPU)
	v.SetDefault("runtime.workers", 1)
	v.SetDefault("runtime.seed", 0)

	v.SetDefault("storage.checkpoint_dir", "")
	v.SetDefault("ipfs.api_url", "localhost:5001")

	v.SetDefault("webhook.timeout", 5*time.Second)
	v.SetDefault("webhook.max_retries", 3)
	v.SetDefault("webhook.base_backoff", 5*time.Second)
	v.SetDefault("webhook.max_backoff", time.Minute)
	v.SetDefault("webhook.queue_size", 16)

	v.SetDefault("mqtt.client_id", "parity-flsim")
	v.SetDefault("mqtt.topic_prefix", "flsim")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.timeout", 10*time.Second)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "parity-flsim")
	v.SetDefault("telemetry.otel_collector.host", "localhost")
	v.SetDefault("telemetry.otel_collector.port", 4317)
	v.SetDefault("telemetry.metrics.interval", 15*time.Second)

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", "8090")
	v.SetDefault("server.endpoint", "/api")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", true)
}

// LoadConfig reads path (any format viper understands) on top of the
// defaults. FLSIM_ prefixed environment variables override both, e.g.
// FLSIM_TRAIN_TRAINER or FLSIM_RUNTIME_WORKERS. An empty path loads
// defaults and environment only.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("FLSIM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode into config struct: %w", err)
	}

	config.Train.Trainer = strings.ToLower(config.Train.Trainer)
	config.Train.TrainerConfig.Measure = strings.ToUpper(config.Train.TrainerConfig.Measure)
	if !v.IsSet("train.trainer_config.num_group") || config.Train.TrainerConfig.NumGroup == 0 {
		config.Train.TrainerConfig.NumGroup = DefaultNumGroup(config.Train.Trainer)
	}

	return &config, nil
}

type ConfigManager struct {
	config     *Config
	configPath string
	mutex      sync.RWMutex
}

var (
	instance *ConfigManager
	once     sync.Once
)

func GetConfigManager() *ConfigManager {
	once.Do(func() {
		instance = &ConfigManager{}
	})
	return instance
}

func (cm *ConfigManager) SetConfigPath(path string) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	cm.configPath = path
	cm.config = nil
}

func (cm *ConfigManager) GetConfigPath() string {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	return cm.configPath
}

// GetConfig loads the config once and caches it until the path changes
func (cm *ConfigManager) GetConfig() (*Config, error) {
	cm.mutex.RLock()
	if cm.config != nil {
		defer cm.mutex.RUnlock()
		return cm.config, nil
	}
	cm.mutex.RUnlock()

	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	if cm.config != nil {
		return cm.config, nil
	}

	var err error
	cm.config, err = LoadConfig(cm.configPath)
	return cm.config, err
}
