package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"solar-estimator/internal/geocode"
	"solar-estimator/internal/irradiance"
	"solar-estimator/internal/maintenance"
	"solar-estimator/internal/savings"
	"solar-estimator/internal/site"
	"solar-estimator/internal/yield"
)

type Config struct {
	API         APIConfig         `mapstructure:"api"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Database    DatabaseConfig    `mapstructure:"database"`
	MQTT        MQTTConfig        `mapstructure:"mqtt"`
	Collector   CollectorConfig   `mapstructure:"collector"`
	Irradiance  IrradianceConfig  `mapstructure:"irradiance"`
	Array       ArrayConfig       `mapstructure:"array"`
	Yield       YieldConfig       `mapstructure:"yield"`
	Tariff      savings.Tariff    `mapstructure:"tariff"`
	Savings     SavingsConfig     `mapstructure:"savings"`
	Emissions   savings.Factors   `mapstructure:"emissions"`
	Maintenance maintenance.Table `mapstructure:"maintenance"`
	Geocoder    GeocoderConfig    `mapstructure:"geocoder"`
	Chat        ChatConfig        `mapstructure:"chat"`
	Inverter    InverterConfig    `mapstructure:"inverter"`
	Estimator   EstimatorConfig   `mapstructure:"estimator"`
	Panels      []site.PanelModel `mapstructure:"panels"`
}

type APIConfig struct {
	Port    int  `mapstructure:"port"`
	Enabled bool `mapstructure:"enabled"`
}

type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type DatabaseConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Broker      string `mapstructure:"broker"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	ClientID    string `mapstructure:"client_id"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	Discovery   bool   `mapstructure:"discovery"`
}

type CollectorConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Interval  time.Duration `mapstructure:"interval"`
	Retention time.Duration `mapstructure:"retention"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Sites     []SiteConfig  `mapstructure:"sites"`
}

// SiteConfig is one tracked installation. Array fields left at zero take the
// values of the array section.
type SiteConfig struct {
	Name             string   `mapstructure:"name"`
	Address          string   `mapstructure:"address"`
	Latitude         *float64 `mapstructure:"latitude"`
	Longitude        *float64 `mapstructure:"longitude"`
	RoofArea         *float64 `mapstructure:"roof_area"`
	Tilt             *float64 `mapstructure:"tilt"`
	Azimuth          *float64 `mapstructure:"azimuth"`
	Timezone         string   `mapstructure:"timezone"`
	Model            string   `mapstructure:"model"`
	CapacityKW       float64  `mapstructure:"capacity_kw"`
	PerformanceRatio float64  `mapstructure:"performance_ratio"`
}

type IrradianceConfig struct {
	// Source is "synthetic" or "openmeteo".
	Source    string                     `mapstructure:"source"`
	Cache     bool                       `mapstructure:"cache"`
	Synthetic irradiance.SyntheticConfig `mapstructure:"synthetic"`
}

type ArrayConfig struct {
	Model            string  `mapstructure:"model"`
	CapacityKW       float64 `mapstructure:"capacity_kw"`
	PerformanceRatio float64 `mapstructure:"performance_ratio"`
}

type YieldConfig struct {
	yield.Config `mapstructure:",squash"`
	// Deviation is "seeded" or "none".
	Deviation string `mapstructure:"deviation"`
	Seed      int64  `mapstructure:"seed"`
}

type SavingsConfig struct {
	HorizonYears   int     `mapstructure:"horizon_years"`
	DegradationPct float64 `mapstructure:"degradation_pct"`
}

type GeocoderConfig struct {
	Provider string          `mapstructure:"provider"`
	APIKey   string          `mapstructure:"api_key"`
	Language string          `mapstructure:"language"`
	CacheTTL time.Duration   `mapstructure:"cache_ttl"`
	Entries  []geocode.Entry `mapstructure:"entries"`
	Redis    RedisConfig     `mapstructure:"redis"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type ChatConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	Language string        `mapstructure:"language"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type InverterConfig struct {
	IP      string        `mapstructure:"ip"`
	Port    int           `mapstructure:"port"`
	SlaveID uint8         `mapstructure:"slave_id"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type EstimatorConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// Load reads config.yaml (or configPath), a .env file and SOLAR_* environment
// overrides on top of the defaults.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/solar-estimator")
	}
	v.SetEnvPrefix("SOLAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if len(cfg.Maintenance) == 0 {
		cfg.Maintenance = maintenance.DefaultTable
	}
	if len(cfg.Geocoder.Entries) == 0 {
		cfg.Geocoder.Entries = geocode.DefaultEntries
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.port", 8045)
	v.SetDefault("api.enabled", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)
	v.SetDefault("database.enabled", true)
	v.SetDefault("database.path", "./solar.db")
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.topic_prefix", "solar")
	v.SetDefault("mqtt.client_id", "solar-estimator")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.discovery", true)
	v.SetDefault("collector.enabled", false)
	v.SetDefault("collector.interval", "15m")
	v.SetDefault("collector.retention", "720h")
	v.SetDefault("collector.timeout", "30s")
	v.SetDefault("irradiance.source", "synthetic")
	v.SetDefault("irradiance.cache", true)
	v.SetDefault("irradiance.synthetic.seed", 42)
	v.SetDefault("irradiance.synthetic.noise_amplitude", 0.1)
	v.SetDefault("array.model", site.DefaultPanels[0].Name)
	v.SetDefault("array.capacity_kw", 10)
	v.SetDefault("array.performance_ratio", 81)
	v.SetDefault("yield.low_light_loss", yield.DefaultLowLightLoss)
	v.SetDefault("yield.deviation_band", yield.DefaultDeviationBand)
	v.SetDefault("yield.deviation", "seeded")
	v.SetDefault("yield.seed", 42)
	v.SetDefault("tariff.rate_per_kwh", 2500)
	v.SetDefault("tariff.currency", "VND")
	v.SetDefault("tariff.escalation_pct", 3)
	v.SetDefault("savings.horizon_years", 25)
	v.SetDefault("savings.degradation_pct", savings.DefaultDegradationPct)
	v.SetDefault("emissions.grid_kg_per_kwh", savings.DefaultFactors.GridKgPerKWh)
	v.SetDefault("emissions.tree_kg_per_year", savings.DefaultFactors.TreeKgPerYear)
	v.SetDefault("emissions.car_kg_per_year", savings.DefaultFactors.CarKgPerYear)
	v.SetDefault("emissions.phone_kg_per_charge", savings.DefaultFactors.PhoneKgCharge)
	v.SetDefault("geocoder.provider", "gazetteer")
	v.SetDefault("geocoder.api_key", "")
	v.SetDefault("geocoder.language", "en")
	v.SetDefault("geocoder.cache_ttl", "720h")
	v.SetDefault("geocoder.redis.enabled", false)
	v.SetDefault("geocoder.redis.addr", "localhost:6379")
	v.SetDefault("geocoder.redis.password", "")
	v.SetDefault("geocoder.redis.db", 0)
	v.SetDefault("geocoder.redis.prefix", "solar-estimator:")
	v.SetDefault("chat.endpoint", "")
	v.SetDefault("chat.language", "vi")
	v.SetDefault("chat.timeout", "30s")
	v.SetDefault("inverter.ip", "172.16.0.120")
	v.SetDefault("inverter.port", 502)
	v.SetDefault("inverter.slave_id", 1)
	v.SetDefault("inverter.timeout", "10s")
	v.SetDefault("estimator.timeout", "20s")
}

// Validate checks the settings that cannot be caught later by the components
// themselves.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Irradiance.Source) {
	case "synthetic", "openmeteo", "open-meteo":
	default:
		return fmt.Errorf("irradiance source not supported: %s", c.Irradiance.Source)
	}
	switch strings.ToLower(c.Yield.Deviation) {
	case "seeded", "none":
	default:
		return fmt.Errorf("yield deviation mode not supported: %s", c.Yield.Deviation)
	}
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("api port out of range: %d", c.API.Port)
	}
	if c.Collector.Enabled && c.Collector.Interval <= 0 {
		return fmt.Errorf("collector interval must be positive")
	}
	if err := c.Maintenance.Validate(); err != nil {
		return fmt.Errorf("maintenance table: %w", err)
	}
	for i, s := range c.Collector.Sites {
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("collector site %d: name is required", i)
		}
	}
	return nil
}
