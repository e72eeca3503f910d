// Package config loads and validates the application configuration file.
package config

import (
	"encoding/json"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v2"

	"github.com/pvelab/graphtrader/pkg/errors"
)

// DatabaseConfig points at the duckdb files the service owns.
type DatabaseConfig struct {
	CandlePath  string `yaml:"candle_path" json:"candle_path" jsonschema:"title=Candle Path,description=Path to the duckdb candle store" validate:"required"`
	BotPath     string `yaml:"bot_path" json:"bot_path" jsonschema:"title=Bot Path,description=Path to the duckdb bot registry" validate:"required"`
	ResultsPath string `yaml:"results_path" json:"results_path" jsonschema:"title=Results Path,description=Path to the duckdb backtest archive"`
}

// ExchangeConfig carries venue credentials. Keys are only required for the
// live bot service, not for backtests.
type ExchangeConfig struct {
	APIKey    string `yaml:"api_key" json:"api_key" jsonschema:"title=API Key,description=Exchange API key"`
	APISecret string `yaml:"api_secret" json:"api_secret" jsonschema:"title=API Secret,description=Exchange API secret"`
	Testnet   bool   `yaml:"testnet" json:"testnet" jsonschema:"title=Testnet,description=Route orders to the exchange testnet"`
}

// BacktestConfig sets the defaults used when the backtest command does not
// override them.
type BacktestConfig struct {
	InitialCapital float64 `yaml:"initial_capital" json:"initial_capital" jsonschema:"title=Initial Capital,description=Starting capital for backtest accounting" validate:"gt=0"`
	MakerFeeRate   float64 `yaml:"maker_fee_rate" json:"maker_fee_rate" jsonschema:"title=Maker Fee Rate,description=Fee rate applied to resting orders" validate:"gte=0,lt=1"`
	TakerFeeRate   float64 `yaml:"taker_fee_rate" json:"taker_fee_rate" jsonschema:"title=Taker Fee Rate,description=Fee rate applied to crossing orders" validate:"gte=0,lt=1"`
	Progress       bool    `yaml:"progress" json:"progress" jsonschema:"title=Progress,description=Render a progress bar during replay"`
}

// LoggingConfig controls where the live service writes its log.
type LoggingConfig struct {
	FilePath string `yaml:"file_path" json:"file_path" jsonschema:"title=File Path,description=Mirror service logs to this file"`
}

// AppConfig is the root of the yaml configuration file.
type AppConfig struct {
	Database DatabaseConfig `yaml:"database" json:"database" validate:"required"`
	Exchange ExchangeConfig `yaml:"exchange" json:"exchange"`
	Backtest BacktestConfig `yaml:"backtest" json:"backtest"`
	Logging  LoggingConfig  `yaml:"logging" json:"logging"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() AppConfig {
	return AppConfig{
		Database: DatabaseConfig{
			CandlePath:  "data/candles.db",
			BotPath:     "data/bots.db",
			ResultsPath: "data/results.db",
		},
		Backtest: BacktestConfig{
			InitialCapital: 10000,
			MakerFeeRate:   0.0002,
			TakerFeeRate:   0.00055,
			Progress:       true,
		},
	}
}

// Validate validates the AppConfig struct.
func (c *AppConfig) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid application config", err)
	}

	return nil
}

// RequireCredentials checks that both exchange keys are present. The live
// bot service calls this before connecting.
func (c *AppConfig) RequireCredentials() error {
	if c.Exchange.APIKey == "" || c.Exchange.APISecret == "" {
		return errors.New(errors.ErrCodeInvalidConfiguration, "exchange api key and secret are required")
	}

	return nil
}

// Load reads a yaml config file, fills unset fields from the defaults and
// validates the result.
func Load(path string) (*AppConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "failed to read config file %s", path)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(raw, &config); err != nil {
		return nil, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "failed to parse config file %s", path)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// JSONSchema renders the JSON schema of the configuration file.
func JSONSchema() (string, error) {
	r := new(jsonschema.Reflector)
	r.DoNotReference = true
	schema := r.Reflect(&AppConfig{})

	out, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to serialize config schema", err)
	}

	return string(out), nil
}
