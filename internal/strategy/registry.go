package strategy

import (
	"encoding/json"
	"fmt"
)

// Registry resolves a strategy type name to a constructor: discover,
// compile, and instantiate strategy implementations by name, as a reusable
// named lookup that internal/bot.Manager calls once per bot start.
type Registry struct {
	ctors map[string]func(id, symbol string, params json.RawMessage) (Strategy, error)
}

// NewRegistry builds a registry with the built-in strategy types registered.
func NewRegistry() *Registry {
	r := &Registry{ctors: make(map[string]func(id, symbol string, params json.RawMessage) (Strategy, error))}
	r.Register("ma_cross", newMACrossFromParams)
	r.Register("rsi", newRSIFromParams)
	r.Register("bollinger", newBollingerFromParams)
	r.Register("grid", newGridFromParams)
	r.Register("volume_profile", newVolumeProfileFromParams)
	r.Register("orderbook_imbalance", newOrderBookImbalanceFromParams)
	return r
}

// Register adds or replaces a constructor for a strategy type name.
func (r *Registry) Register(strategyType string, ctor func(id, symbol string, params json.RawMessage) (Strategy, error)) {
	r.ctors[strategyType] = ctor
}

// Instantiate resolves strategyType by name and constructs a fresh Strategy
// instance. Called once per bot start so that each bot execution engine
// owns its strategy instance exclusively — instances are never shared
// across bots even when they share a strategy type.
func (r *Registry) Instantiate(strategyType, id, symbol string, params json.RawMessage) (Strategy, error) {
	ctor, ok := r.ctors[strategyType]
	if !ok {
		return nil, fmt.Errorf("strategy: unknown strategy type %q", strategyType)
	}
	return ctor(id, symbol, params)
}

func newMACrossFromParams(id, symbol string, params json.RawMessage) (Strategy, error) {
	var p struct {
		FastPeriod int     `json:"fast"`
		SlowPeriod int     `json:"slow"`
		Size       float64 `json:"size"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
	}
	if p.FastPeriod == 0 {
		p.FastPeriod = 9
	}
	if p.SlowPeriod == 0 {
		p.SlowPeriod = 21
	}
	return NewMACrossStrategy(id, symbol, p.FastPeriod, p.SlowPeriod, p.Size), nil
}

func newRSIFromParams(id, symbol string, params json.RawMessage) (Strategy, error) {
	var p struct {
		Period     int     `json:"period"`
		Oversold   float64 `json:"oversold"`
		Overbought float64 `json:"overbought"`
		Size       float64 `json:"size"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
	}
	if p.Period == 0 {
		p.Period = 14
	}
	if p.Oversold == 0 {
		p.Oversold = 30
	}
	if p.Overbought == 0 {
		p.Overbought = 70
	}
	return NewRSIStrategy(id, symbol, p.Period, p.Oversold, p.Overbought, p.Size), nil
}

func newBollingerFromParams(id, symbol string, params json.RawMessage) (Strategy, error) {
	var p struct {
		Period    int     `json:"period"`
		NumStdDev float64 `json:"std_dev"`
		Size      float64 `json:"size"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
	}
	if p.Period == 0 {
		p.Period = 20
	}
	if p.NumStdDev == 0 {
		p.NumStdDev = 2
	}
	return NewBollingerStrategy(id, symbol, p.Period, p.NumStdDev, p.Size), nil
}

func newGridFromParams(id, symbol string, params json.RawMessage) (Strategy, error) {
	var p struct {
		Lower float64 `json:"lower"`
		Upper float64 `json:"upper"`
		Size  float64 `json:"size"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
	}
	return NewGridStrategy(id, symbol, p.Lower, p.Upper, p.Size), nil
}

func newVolumeProfileFromParams(id, symbol string, params json.RawMessage) (Strategy, error) {
	var p struct {
		VolumeMultiplier float64 `json:"volume_multiplier"`
		Size             float64 `json:"size"`
		VolumePeriod     int     `json:"volume_period"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
	}
	if p.VolumePeriod == 0 {
		p.VolumePeriod = 20
	}
	if p.VolumeMultiplier == 0 {
		p.VolumeMultiplier = 2
	}
	return NewVolumeProfileStrategy(id, symbol, p.VolumeMultiplier, p.Size, p.VolumePeriod), nil
}

func newOrderBookImbalanceFromParams(id, symbol string, params json.RawMessage) (Strategy, error) {
	var p struct {
		ImbalanceThreshold float64 `json:"imbalance_threshold"`
		Size               float64 `json:"size"`
		DepthLevels        int     `json:"depth_levels"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
	}
	if p.DepthLevels == 0 {
		p.DepthLevels = 10
	}
	if p.ImbalanceThreshold == 0 {
		p.ImbalanceThreshold = 1.5
	}
	return NewOrderBookImbalanceStrategy(id, symbol, p.ImbalanceThreshold, p.Size, p.DepthLevels), nil
}
