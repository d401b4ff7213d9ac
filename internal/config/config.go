package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Sheet  SheetConfig  `yaml:"sheet" mapstructure:"sheet"`
	Census CensusConfig `yaml:"census" mapstructure:"census"`
	Tiger  TigerConfig  `yaml:"tiger" mapstructure:"tiger"`
	HTTP   HTTPConfig   `yaml:"http" mapstructure:"http"`
	Render RenderConfig `yaml:"render" mapstructure:"render"`
	Review ReviewConfig `yaml:"review" mapstructure:"review"`
	Output OutputConfig `yaml:"output" mapstructure:"output"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
}

// SheetConfig identifies the incident spreadsheet and how to read it.
type SheetConfig struct {
	BaseURL    string `yaml:"base_url" mapstructure:"base_url"`
	DocID      string `yaml:"doc_id" mapstructure:"doc_id"`
	Tab        string `yaml:"tab" mapstructure:"tab"`
	SkipRows   int    `yaml:"skip_rows" mapstructure:"skip_rows"`
	State      string `yaml:"state" mapstructure:"state"`
	CountyName string `yaml:"county_name" mapstructure:"county_name"`
}

// CensusConfig configures the ACS API client and the target geography.
type CensusConfig struct {
	BaseURL       string `yaml:"base_url" mapstructure:"base_url"`
	APIKey        string `yaml:"api_key" mapstructure:"api_key"`
	Year          int    `yaml:"year" mapstructure:"year"`
	Dataset       string `yaml:"dataset" mapstructure:"dataset"`
	State         string `yaml:"state" mapstructure:"state"`
	CountyFIPS    string `yaml:"county_fips" mapstructure:"county_fips"`
	VariablesFile string `yaml:"variables_file" mapstructure:"variables_file"`
}

// TigerConfig configures the TIGER/Line tract shapefile download.
type TigerConfig struct {
	Year        int    `yaml:"year" mapstructure:"year"`
	CacheDir    string `yaml:"cache_dir" mapstructure:"cache_dir"`
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	FTPFallback bool   `yaml:"ftp_fallback" mapstructure:"ftp_fallback"`
	FTPBaseURL  string `yaml:"ftp_base_url" mapstructure:"ftp_base_url"`
}

// HTTPConfig configures the shared HTTP fetcher.
type HTTPConfig struct {
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int    `yaml:"max_retries" mapstructure:"max_retries"`
	UserAgent   string `yaml:"user_agent" mapstructure:"user_agent"`
}

// RenderConfig configures the choropleth output.
type RenderConfig struct {
	Variable string   `yaml:"variable" mapstructure:"variable"`
	Classes  int      `yaml:"classes" mapstructure:"classes"`
	Palette  string   `yaml:"palette" mapstructure:"palette"`
	WidthIn  float64  `yaml:"width_in" mapstructure:"width_in"`
	HeightIn float64  `yaml:"height_in" mapstructure:"height_in"`
	Formats  []string `yaml:"formats" mapstructure:"formats"`
	Title    string   `yaml:"title" mapstructure:"title"`
}

// ReviewConfig configures the coordinate plausibility review.
// BBox, when set, overrides the tract-derived bounding box and is
// [west, south, east, north] in degrees.
type ReviewConfig struct {
	Enabled   bool      `yaml:"enabled" mapstructure:"enabled"`
	MarginDeg float64   `yaml:"margin_deg" mapstructure:"margin_deg"`
	BBox      []float64 `yaml:"bbox" mapstructure:"bbox"`
}

// OutputConfig configures run artifacts.
type OutputConfig struct {
	Dir      string `yaml:"dir" mapstructure:"dir"`
	CSV      string `yaml:"csv" mapstructure:"csv"`
	GeoJSON  bool   `yaml:"geojson" mapstructure:"geojson"`
	Manifest string `yaml:"manifest" mapstructure:"manifest"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("TRACTMAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("http.timeout_secs", 60)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.user_agent", "tractmap/1.0")
	v.SetDefault("sheet.base_url", "https://docs.google.com/spreadsheets/d")
	v.SetDefault("sheet.doc_id", "1dKmaV_JiWcG8XBoRgP8b4e9Eopkpgt7FL7nyspvzAsE")
	v.SetDefault("sheet.tab", "Form Responses")
	v.SetDefault("sheet.skip_rows", 0)
	v.SetDefault("sheet.state", "OH")
	v.SetDefault("sheet.county_name", "Franklin")
	v.SetDefault("census.base_url", "https://api.census.gov/data")
	v.SetDefault("census.year", 2019)
	v.SetDefault("census.dataset", "acs/acs5")
	v.SetDefault("census.state", "OH")
	v.SetDefault("census.county_fips", "049")
	v.SetDefault("census.variables_file", "variables.yaml")
	v.SetDefault("tiger.year", 2019)
	v.SetDefault("tiger.cache_dir", "/tmp/tractmap/tiger")
	v.SetDefault("tiger.base_url", "https://www2.census.gov/geo/tiger")
	v.SetDefault("tiger.ftp_fallback", false)
	v.SetDefault("tiger.ftp_base_url", "ftp://ftp2.census.gov/geo/tiger")
	v.SetDefault("render.variable", "med_hh_income")
	v.SetDefault("render.classes", 5)
	v.SetDefault("render.palette", "oranges")
	v.SetDefault("render.width_in", 20.0)
	v.SetDefault("render.height_in", 16.0)
	v.SetDefault("render.formats", []string{"svg", "png"})
	v.SetDefault("render.title", "")
	v.SetDefault("review.enabled", true)
	v.SetDefault("review.margin_deg", 1.0)
	v.SetDefault("output.dir", "out")
	v.SetDefault("output.csv", "incidents_enriched.csv")
	v.SetDefault("output.geojson", false)
	v.SetDefault("output.manifest", "run.json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the fields required by the given command mode are set
// and within bounds. Modes: "run", "render", "review".
func (c *Config) Validate(mode string) error {
	var problems []string

	checkRender := func() {
		if c.Render.Variable == "" {
			problems = append(problems, "render.variable is required")
		}
		if c.Render.Classes < 2 || c.Render.Classes > 9 {
			problems = append(problems, "render.classes must be between 2 and 9")
		}
		if c.Render.WidthIn <= 0 || c.Render.HeightIn <= 0 {
			problems = append(problems, "render.width_in and render.height_in must be > 0")
		}
		for _, f := range c.Render.Formats {
			if f != "svg" && f != "png" {
				problems = append(problems, "render.formats entries must be svg or png")
				break
			}
		}
	}
	checkReview := func() {
		if c.Review.MarginDeg < 0 {
			problems = append(problems, "review.margin_deg must be >= 0")
		}
		if n := len(c.Review.BBox); n != 0 && n != 4 {
			problems = append(problems, "review.bbox must have exactly 4 values (west south east north)")
		}
	}

	switch mode {
	case "run":
		if c.Sheet.DocID == "" {
			problems = append(problems, "sheet.doc_id is required")
		}
		if c.Census.APIKey == "" {
			problems = append(problems, "census.api_key is required")
		}
		if len(c.Census.State) != 2 {
			problems = append(problems, "census.state must be a 2-letter state abbreviation")
		}
		if len(c.Census.CountyFIPS) != 3 {
			problems = append(problems, "census.county_fips must be a 3-digit county FIPS code")
		}
		if c.Census.Year < 2009 {
			problems = append(problems, "census.year must be 2009 or later")
		}
		checkRender()
		checkReview()
	case "render":
		checkRender()
	case "review":
		checkReview()
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
