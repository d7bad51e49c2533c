package config

import (
	"os"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigtoml"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// Config describes all configuration options
type Config struct {
	Output string `default:"text" usage:"Output format for parsed selectors (text, json or yaml)"`
	Log    struct {
		Level string `default:"info"`
		JSON  bool   `default:"false" usage:"Output JSONND instead of pretty console messages"`
		Debug bool   `default:"false" usage:"Include stack traces and all event fields in log output"`
	}
	Cache struct {
		Size int `default:"256" usage:"Number of parsed selectors to keep in memory"`
	}
}

var logLevels = map[string]zerolog.Level{
	"trace":   zerolog.TraceLevel,
	"debug":   zerolog.DebugLevel,
	"info":    zerolog.InfoLevel,
	"warn":    zerolog.WarnLevel,
	"warning": zerolog.WarnLevel,
	"error":   zerolog.ErrorLevel,
	"fatal":   zerolog.FatalLevel,
}

var outputFormats = map[string]bool{
	"text": true,
	"json": true,
	"yaml": true,
}

// DefaultFile is the config file read by Loader if no other files are passed
const DefaultFile = "labelsel.toml"

// Loader initializes an empty config object and returns a new Loader for this object. Command line flags are
// left to cobra, so only defaults, the passed files (or DefaultFile) and LABELSEL_* env vars are read.
// Files which don't exist are skipped.
func Loader(files ...string) (*Config, *aconfig.Loader) {
	if len(files) == 0 {
		files = []string{DefaultFile}
	}

	present := make([]string, 0, len(files))
	for _, file := range files {
		if _, err := os.Stat(file); err == nil {
			present = append(present, file)
		}
	}

	cfg := Config{}
	return &cfg, aconfig.LoaderFor(&cfg, aconfig.Config{
		SkipFlags: true,
		EnvPrefix: "LABELSEL",
		Files:     present,
		FileDecoders: map[string]aconfig.FileDecoder{
			".toml": aconfigtoml.New(),
		},
	})
}

// Load reads the configuration and validates it
func Load(files ...string) (*Config, error) {
	cfg, loader := Loader(files...)
	if err := loader.Load(); err != nil {
		return nil, eris.Wrap(err, "failed to load config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate verifies that all config fields have valid values
func (cfg *Config) Validate() error {
	if _, ok := logLevels[cfg.Log.Level]; !ok {
		return eris.Errorf(`Invalid value for log.level: %s`, cfg.Log.Level)
	}

	if err := ValidateOutput(cfg.Output); err != nil {
		return err
	}

	if cfg.Cache.Size < 1 {
		return eris.Errorf(`Invalid value for cache.size: %d (must be at least 1)`, cfg.Cache.Size)
	}

	return nil
}

// ValidateOutput checks that format is one of the supported output formats
func ValidateOutput(format string) error {
	if !outputFormats[format] {
		return eris.Errorf(`Invalid output format: %s (must be one of text, json or yaml)`, format)
	}
	return nil
}

// LogLevel converts the .Log.Level field to a zerolog.Level
func (cfg *Config) LogLevel() zerolog.Level {
	return logLevels[cfg.Log.Level]
}
