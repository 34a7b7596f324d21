package payment

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/kri5t/antaeus/pkg/billing"
)

// SimulatedConfig controls the outcomes produced by SimulatedProvider.
// Failure ratios are drawn first; when no failure is injected the charge
// succeeds with probability SuccessRatio and is declined otherwise.
type SimulatedConfig struct {
	SuccessRatio          float64       `yaml:"success_ratio"`
	CustomerNotFoundRatio float64       `yaml:"customer_not_found_ratio"`
	CurrencyMismatchRatio float64       `yaml:"currency_mismatch_ratio"`
	NetworkRatio          float64       `yaml:"network_ratio"`
	Latency               time.Duration `yaml:"latency"`
	Seed                  int64         `yaml:"seed"`
}

// DefaultSimulatedConfig returns a coin flip between paid and declined
func DefaultSimulatedConfig() SimulatedConfig {
	return SimulatedConfig{
		SuccessRatio: 0.5,
	}
}

// Validate checks that the ratios form a valid distribution
func (c SimulatedConfig) Validate() error {
	ratios := map[string]float64{
		"success_ratio":            c.SuccessRatio,
		"customer_not_found_ratio": c.CustomerNotFoundRatio,
		"currency_mismatch_ratio":  c.CurrencyMismatchRatio,
		"network_ratio":            c.NetworkRatio,
	}
	for name, v := range ratios {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be between 0 and 1, got %v", name, v)
		}
	}
	if sum := c.CustomerNotFoundRatio + c.CurrencyMismatchRatio + c.NetworkRatio; sum > 1 {
		return fmt.Errorf("failure ratios sum to %v, must not exceed 1", sum)
	}
	if c.Latency < 0 {
		return errors.New("latency must not be negative")
	}
	return nil
}

// SimulatedProvider is an in-process payment gateway with random outcomes
type SimulatedProvider struct {
	cfg SimulatedConfig

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulatedProvider creates a SimulatedProvider. A zero Seed seeds from the clock.
func NewSimulatedProvider(cfg SimulatedConfig) (*SimulatedProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid simulated provider config: %w", err)
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &SimulatedProvider{
		cfg: cfg,
		rng: rand.New(rand.NewSource(seed)),
	}, nil
}

// Charge implements billing.PaymentProvider
func (p *SimulatedProvider) Charge(ctx context.Context, invoice *billing.Invoice) (bool, error) {
	if p.cfg.Latency > 0 {
		timer := time.NewTimer(p.cfg.Latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-timer.C:
		}
	}

	failure, success := p.draw()

	switch {
	case failure < p.cfg.CustomerNotFoundRatio:
		return false, billing.NewCustomerNotFoundError(invoice)
	case failure < p.cfg.CustomerNotFoundRatio+p.cfg.CurrencyMismatchRatio:
		return false, billing.NewCurrencyMismatchError(invoice)
	case failure < p.cfg.CustomerNotFoundRatio+p.cfg.CurrencyMismatchRatio+p.cfg.NetworkRatio:
		return false, billing.NewNetworkError(invoice, errors.New("simulated connection reset"))
	}
	return success < p.cfg.SuccessRatio, nil
}

func (p *SimulatedProvider) draw() (float64, float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rng.Float64(), p.rng.Float64()
}
