package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models court.yml: the per-court statutory configuration the engine
// consumes. Loaded once at startup, never mutated at runtime.
type Config struct {
	Court struct {
		ID    string `yaml:"id"`
		Name  string `yaml:"name"`
		Venue string `yaml:"venue"`
	} `yaml:"court"`
	Codes struct {
		Materia map[string]string `yaml:"materia"`
		Venue   map[string]string `yaml:"venue"`
	} `yaml:"codes"`
	Periods struct {
		ServiceDays  int `yaml:"service_days"`
		AnswerDays   int `yaml:"answer_days"`
		JudgmentDays int `yaml:"judgment_days"`
	} `yaml:"periods"`
	Citation struct {
		MaxAttempts int `yaml:"max_attempts"`
	} `yaml:"citation"`
	Urgency struct {
		CriticalDays int `yaml:"critical_days"`
		UrgentDays   int `yaml:"urgent_days"`
	} `yaml:"urgency"`
	Calendar struct {
		// StrictYears makes construction fail for years missing from the
		// movable table instead of falling back to zero movable holidays.
		StrictYears bool             `yaml:"strict_years"`
		Fixed       []string         `yaml:"fixed"`   // MM-DD
		Movable     map[int][]string `yaml:"movable"` // year -> YYYY-MM-DD
	} `yaml:"calendar"`
	Webhooks []WebhookConfig `yaml:"webhooks,omitempty"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret,omitempty"`
	Events         []string `yaml:"events,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty"`
}

var (
	materiaCodeRe = regexp.MustCompile(`^\d{2}$`)
	venueCodeRe   = regexp.MustCompile(`^\d{3}$`)
	fixedDateRe   = regexp.MustCompile(`^\d{2}-\d{2}$`)
)

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with cl court config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Court.ID == "" {
		return fmt.Errorf("config.court.id is required")
	}
	if len(c.Codes.Materia) == 0 {
		return fmt.Errorf("config.codes.materia is required")
	}
	for name, code := range c.Codes.Materia {
		if !materiaCodeRe.MatchString(code) {
			return fmt.Errorf("materia %s has invalid code %q (want 2 digits)", name, code)
		}
	}
	if len(c.Codes.Venue) == 0 {
		return fmt.Errorf("config.codes.venue is required")
	}
	for name, code := range c.Codes.Venue {
		if !venueCodeRe.MatchString(code) {
			return fmt.Errorf("venue %s has invalid code %q (want 3 digits)", name, code)
		}
	}
	if c.Periods.ServiceDays <= 0 || c.Periods.AnswerDays <= 0 || c.Periods.JudgmentDays <= 0 {
		return fmt.Errorf("config.periods must all be positive business-day counts")
	}
	if c.Citation.MaxAttempts <= 0 {
		return fmt.Errorf("config.citation.max_attempts must be positive")
	}
	if c.Urgency.CriticalDays <= 0 || c.Urgency.UrgentDays <= c.Urgency.CriticalDays {
		return fmt.Errorf("config.urgency thresholds must satisfy 0 < critical < urgent")
	}
	for _, d := range c.Calendar.Fixed {
		if !fixedDateRe.MatchString(d) {
			return fmt.Errorf("fixed holiday %q must be MM-DD", d)
		}
	}
	for year, days := range c.Calendar.Movable {
		for _, d := range days {
			t, err := time.Parse("2006-01-02", d)
			if err != nil {
				return fmt.Errorf("movable holiday %q for year %d: %w", d, year, err)
			}
			if t.Year() != year {
				return fmt.Errorf("movable holiday %q listed under year %d", d, year)
			}
		}
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "court.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(courtID string) string {
	return fmt.Sprintf(defaultTemplate, courtID)
}

// Default returns the default Config struct for a court.
func Default(courtID string) *Config {
	var cfg Config
	cfg.Court.ID = courtID
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, courtID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `court:
  id: %s
  name: "Juzgado Publico Civil"
  venue: "LA PAZ"

codes:
  materia:
    CIVIL: "01"
    PENAL: "02"
    FAMILIAR: "03"
    LABORAL: "04"
    ADMINISTRATIVO: "05"
  venue:
    "LA PAZ": "001"
    "COCHABAMBA": "002"
    "SANTA CRUZ": "003"
    "ORURO": "004"
    "POTOSI": "005"
    "SUCRE": "006"
    "TARIJA": "007"
    "TRINIDAD": "008"
    "COBIJA": "009"

# Statutory windows in business days. Confirm against the governing
# procedural code before changing; these drive legally binding due dates.
periods:
  service_days: 5
  answer_days: 30
  judgment_days: 15

citation:
  max_attempts: 3

urgency:
  critical_days: 3
  urgent_days: 7

calendar:
  strict_years: false
  fixed:
    - "01-01"  # Anio Nuevo
    - "01-22"  # Dia del Estado Plurinacional
    - "05-01"  # Dia del Trabajo
    - "06-21"  # Anio Nuevo Andino
    - "08-06"  # Dia de la Independencia
    - "11-02"  # Todos los Difuntos
    - "12-25"  # Navidad
  movable:
    2024:
      - "2024-02-12"  # Lunes de Carnaval
      - "2024-02-13"  # Martes de Carnaval
      - "2024-03-29"  # Viernes Santo
      - "2024-05-30"  # Corpus Christi
    2025:
      - "2025-03-03"  # Lunes de Carnaval
      - "2025-03-04"  # Martes de Carnaval
      - "2025-04-18"  # Viernes Santo
      - "2025-06-19"  # Corpus Christi
`
