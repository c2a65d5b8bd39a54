package backtest

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type YAMLConfig struct {
	Backtest struct {
		Symbols        []string           `yaml:"symbols"`
		Start          string             `yaml:"start"`
		End            string             `yaml:"end"`
		InitialCapital float64            `yaml:"initial_capital"`
		Benchmark      string             `yaml:"benchmark"`
		Weights        map[string]float64 `yaml:"weights"`
	} `yaml:"backtest"`

	Strategy struct {
		Type   string         `yaml:"type"`
		Params map[string]any `yaml:"params"`
	} `yaml:"strategy"`
}

func LoadRunConfig(path string) (Request, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Request{}, fmt.Errorf("read config: %w", err)
	}
	return ParseRunConfig(raw)
}

// ParseRunConfig turns a YAML run file into a Request. Dates are checked
// here so a typo fails before any data is fetched.
func ParseRunConfig(raw []byte) (Request, error) {
	var yc YAMLConfig
	if err := yaml.Unmarshal(raw, &yc); err != nil {
		return Request{}, fmt.Errorf("parse yaml: %w", err)
	}

	req := Request{
		Symbols:        yc.Backtest.Symbols,
		StartDate:      yc.Backtest.Start,
		EndDate:        yc.Backtest.End,
		InitialCapital: yc.Backtest.InitialCapital,
		Benchmark:      yc.Backtest.Benchmark,
		Weights:        yc.Backtest.Weights,
		Strategy:       yc.Strategy.Type,
	}
	if len(req.Symbols) == 0 {
		return Request{}, fmt.Errorf("backtest.symbols is empty")
	}
	if req.Strategy == "" {
		req.Strategy = "buy_and_hold"
	}
	if _, ok := registry[req.Strategy]; !ok {
		return Request{}, fmt.Errorf("%w: strategy.type %s", ErrUnknownStrategy, req.Strategy)
	}
	for name, v := range map[string]string{"backtest.start": req.StartDate, "backtest.end": req.EndDate} {
		if v == "" {
			continue
		}
		if _, err := time.Parse(dateLayout, v); err != nil {
			return Request{}, fmt.Errorf("invalid %s: %w", name, err)
		}
	}

	if yc.Strategy.Params != nil {
		b, err := yaml.Marshal(yc.Strategy.Params)
		if err == nil {
			err = yaml.Unmarshal(b, &req.Params)
		}
		if err != nil {
			return Request{}, fmt.Errorf("invalid strategy.params: %w", err)
		}
	}
	return req, nil
}
