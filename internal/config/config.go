package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Harjotraith04/Time-Table-Generation-AI-Tool-sub001/internal/domain"
	"github.com/Harjotraith04/Time-Table-Generation-AI-Tool-sub001/internal/settings"
)

// FileName is the workspace config file.
const FileName = "timetable.yml"

// Config models timetable.yml.
type Config struct {
	Service struct {
		URL            string        `yaml:"url"`
		APIKey         string        `yaml:"api_key,omitempty"`
		Token          string        `yaml:"token,omitempty"`
		RequestTimeout time.Duration `yaml:"request_timeout"`
	} `yaml:"service"`
	Polling struct {
		Interval time.Duration `yaml:"interval"`
		Timeout  time.Duration `yaml:"timeout"`
	} `yaml:"polling"`
	Generation struct {
		Defaults    settings.Values      `yaml:"defaults"`
		Request     settings.RequestMeta `yaml:"request"`
		WorkingWeek domain.WorkingWeek   `yaml:"working_week"`
	} `yaml:"generation"`
	Logging struct {
		Level string `yaml:"level"`
		File  string `yaml:"file,omitempty"`
	} `yaml:"logging"`
	Server ServerConfig `yaml:"server"`
}

// ServerConfig configures the development generation service.
type ServerConfig struct {
	Addr       string           `yaml:"addr"`
	BasePath   string           `yaml:"base_path"`
	JWTSecret  string           `yaml:"jwt_secret,omitempty"`
	DevAuth    bool             `yaml:"dev_auth"`
	Simulation SimulationConfig `yaml:"simulation"`
	Webhooks   []WebhookConfig  `yaml:"webhooks,omitempty"`
}

// SimulationConfig drives how the development service advances jobs.
type SimulationConfig struct {
	PhaseDuration time.Duration `yaml:"phase_duration"`
	QueueDelay    time.Duration `yaml:"queue_delay"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	MinIterations int           `yaml:"min_iterations"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events,omitempty"`
	Secret         string   `yaml:"secret,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty"`
}

var weekdays = map[string]bool{
	"monday": true, "tuesday": true, "wednesday": true, "thursday": true,
	"friday": true, "saturday": true, "sunday": true,
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with ttgen init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Service.URL) == "" {
		return fmt.Errorf("config.service.url is required")
	}
	if u, err := url.Parse(c.Service.URL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("config.service.url must be an absolute URL")
	}
	if c.Service.RequestTimeout <= 0 {
		return fmt.Errorf("config.service.request_timeout must be positive")
	}
	if c.Polling.Interval <= 0 {
		return fmt.Errorf("config.polling.interval must be positive")
	}
	if c.Polling.Timeout < c.Polling.Interval {
		return fmt.Errorf("config.polling.timeout must be at least the polling interval")
	}
	d := c.Generation.Defaults
	if d.Algorithm == "" {
		return fmt.Errorf("config.generation.defaults.algorithm is required")
	}
	if d.MaxIterations <= 0 {
		return fmt.Errorf("config.generation.defaults.max_iterations must be positive")
	}
	if d.PopulationSize <= 0 {
		return fmt.Errorf("config.generation.defaults.population_size must be positive")
	}
	if d.CrossoverRate < 0 || d.CrossoverRate > 1 {
		return fmt.Errorf("config.generation.defaults.crossover_rate must be within [0,1]")
	}
	if d.MutationRate < 0 || d.MutationRate > 1 {
		return fmt.Errorf("config.generation.defaults.mutation_rate must be within [0,1]")
	}
	for _, g := range d.Goals {
		if strings.TrimSpace(g) == "" {
			return fmt.Errorf("config.generation.defaults.optimization_goals contains an empty id")
		}
	}
	if err := validateWeek(c.Generation.WorkingWeek); err != nil {
		return err
	}
	sim := c.Server.Simulation
	if sim.PhaseDuration <= 0 {
		return fmt.Errorf("config.server.simulation.phase_duration must be positive")
	}
	if sim.QueueDelay < 0 {
		return fmt.Errorf("config.server.simulation.queue_delay must not be negative")
	}
	if sim.SweepInterval <= 0 {
		return fmt.Errorf("config.server.simulation.sweep_interval must be positive")
	}
	if sim.MinIterations < 0 {
		return fmt.Errorf("config.server.simulation.min_iterations must not be negative")
	}
	for i, hook := range c.Server.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.server.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.server.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

func validateWeek(w domain.WorkingWeek) error {
	if len(w.Days) == 0 {
		return fmt.Errorf("config.generation.working_week.days is required")
	}
	for _, day := range w.Days {
		if !weekdays[strings.ToLower(day)] {
			return fmt.Errorf("config.generation.working_week.days has unknown day %q", day)
		}
	}
	start, err := parseClock(w.StartTime)
	if err != nil {
		return fmt.Errorf("config.generation.working_week.start_time: %w", err)
	}
	end, err := parseClock(w.EndTime)
	if err != nil {
		return fmt.Errorf("config.generation.working_week.end_time: %w", err)
	}
	if !start.Before(end) {
		return fmt.Errorf("config.generation.working_week.start_time must be before end_time")
	}
	if w.SlotDuration <= 0 {
		return fmt.Errorf("config.generation.working_week.slot_duration_minutes must be positive")
	}
	for i, b := range w.Breaks {
		bs, err := parseClock(b.Start)
		if err != nil {
			return fmt.Errorf("config.generation.working_week.breaks[%d].start: %w", i, err)
		}
		be, err := parseClock(b.End)
		if err != nil {
			return fmt.Errorf("config.generation.working_week.breaks[%d].end: %w", i, err)
		}
		if !bs.Before(be) || bs.Before(start) || be.After(end) {
			return fmt.Errorf("config.generation.working_week.breaks[%d] must fall inside the working day", i)
		}
	}
	return nil
}

func parseClock(s string) (time.Time, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected HH:MM, got %q", s)
	}
	return t, nil
}

// IsEnabled reports whether a webhook should receive deliveries.
func (w WebhookConfig) IsEnabled() bool {
	return w.Enabled == nil || *w.Enabled
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// GenerateDefault returns default config YAML for a timetable name.
func GenerateDefault(name string) string {
	return fmt.Sprintf(defaultTemplate, name)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault("Timetable"))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Missing keys keep
// their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Marshal renders cfg as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

const defaultTemplate = `service:
  url: http://127.0.0.1:8080
  request_timeout: 10s

polling:
  interval: 2s
  timeout: 10m

generation:
  request:
    name: %q
    academic_year: ""
    semester: ""
    department: ""
    year: 1
  defaults:
    algorithm: genetic
    max_iterations: 1000
    population_size: 100
    crossover_rate: 0.8
    mutation_rate: 0.1
    optimization_goals: [minimize_gaps, balance_workload]
    policy:
      allow_back_to_back: false
      enforce_breaks: true
      balance_workload: true
      prioritize_preferences: true
  working_week:
    days: [monday, tuesday, wednesday, thursday, friday]
    start_time: "09:00"
    end_time: "17:00"
    slot_duration_minutes: 60
    breaks:
      - start: "12:00"
        end: "13:00"

logging:
  level: info

server:
  addr: 127.0.0.1:8080
  base_path: /v0
  dev_auth: true
  simulation:
    phase_duration: 2s
    queue_delay: 1s
    sweep_interval: 500ms
    min_iterations: 100
`
