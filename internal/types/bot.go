package types

import (
	"encoding/json"

	"github.com/go-playground/validator/v10"

	"github.com/pvelab/graphtrader/pkg/errors"
)

// BotStatus is the persisted desired/actual status of a bot row. The
// in-memory machine only moves stopped -> running -> {stopped, error}; the
// remaining values exist so the control plane can express intent before a
// manager picks the row up.
type BotStatus string

const (
	BotStatusCreated      BotStatus = "created"
	BotStatusToBeLaunched BotStatus = "to_be_launched"
	BotStatusRunning      BotStatus = "running"
	BotStatusToBeStopped  BotStatus = "to_be_stopped"
	BotStatusStopped      BotStatus = "stopped"
	BotStatusError        BotStatus = "error"
)

// BotConfig binds one strategy graph to one symbol, timeframe and credential
// pair. Immutable for the life of a run.
type BotConfig struct {
	Symbol         string          `json:"symbol" yaml:"symbol" validate:"required"`
	Timeframe      Interval        `json:"timeframe" yaml:"timeframe" validate:"required"`
	Graph          json.RawMessage `json:"graph" yaml:"graph" validate:"required"`
	APIKey         string          `json:"api_key" yaml:"api_key"`
	APISecret      string          `json:"api_secret" yaml:"api_secret"`
	InitialCapital float64         `json:"initial_capital" yaml:"initial_capital" validate:"gte=0"`
}

var botConfigValidator = validator.New()

// Validate checks the config and that the timeframe is one the resampler
// supports.
func (c *BotConfig) Validate() error {
	if err := botConfigValidator.Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "bot config validation failed", err)
	}

	if _, ok := c.Timeframe.Duration(); !ok {
		return errors.Newf(errors.ErrCodeInvalidTimeframe, "unsupported timeframe %q", c.Timeframe)
	}

	return nil
}
