package harness

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mpslab/commitprobe/workload"
)

// WorkloadConfig names one workload in the config file.
type WorkloadConfig struct {
	Name string `yaml:"name"`
	Op   string `yaml:"op"`
	Size int    `yaml:"size"`
}

// Config controls a verification run.
type Config struct {
	Threshold int              `yaml:"threshold"`
	Trials    int              `yaml:"trials"`
	NValues   []int            `yaml:"n_values"`
	Workloads []WorkloadConfig `yaml:"workloads"`
	SettleMS  int              `yaml:"settle_ms"`
	Marker    string           `yaml:"marker"`
	OutDir    string           `yaml:"out_dir"`
}

// DefaultConfig returns the standard run parameters.
func DefaultConfig() Config {
	return Config{
		Threshold: 32,
		Trials:    10,
		NValues:   []int{16, 32, 64, 128, 256},
		Workloads: []WorkloadConfig{
			{Name: "relu", Op: "relu", Size: 512},
			{Name: "matmul_256", Op: "matmul", Size: 256},
			{Name: "matmul_512", Op: "matmul", Size: 512},
		},
		SettleMS: 300,
		Marker:   "[MPS commit]",
		OutDir:   "results",
	}
}

// LoadConfig reads a YAML config file over the defaults: keys absent
// from the file keep their default values.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks the config is runnable.
func (c Config) Validate() error {
	if c.Threshold <= 0 {
		return fmt.Errorf("threshold must be positive, got %d", c.Threshold)
	}

	if c.Trials <= 0 {
		return fmt.Errorf("trials must be positive, got %d", c.Trials)
	}

	if len(c.NValues) == 0 {
		return fmt.Errorf("n_values must not be empty")
	}

	for _, n := range c.NValues {
		if n < 0 {
			return fmt.Errorf("n_values entries must be non-negative, got %d", n)
		}
	}

	if len(c.Workloads) == 0 {
		return fmt.Errorf("workloads must not be empty")
	}

	for _, w := range c.Workloads {
		if w.Name == "" {
			return fmt.Errorf("workload name must not be empty")
		}

		if w.Size <= 0 {
			return fmt.Errorf(
				"workload %s: size must be positive, got %d", w.Name, w.Size,
			)
		}

		if _, err := workload.OpByName(w.Op); err != nil {
			return fmt.Errorf("workload %s: %w", w.Name, err)
		}
	}

	if c.SettleMS < 0 {
		return fmt.Errorf("settle_ms must be non-negative, got %d", c.SettleMS)
	}

	if c.Marker == "" {
		return fmt.Errorf("marker must not be empty")
	}

	// The marker lands inside the quoted log stream predicate.
	if strings.ContainsAny(c.Marker, `"\`) {
		return fmt.Errorf(
			"marker must not contain quotes or backslashes, got %q", c.Marker,
		)
	}

	return nil
}

// Specs resolves the configured workloads to runnable specs, in
// declaration order.
func (c Config) Specs() ([]workload.Spec, error) {
	specs := make([]workload.Spec, 0, len(c.Workloads))

	for _, w := range c.Workloads {
		op, err := workload.OpByName(w.Op)
		if err != nil {
			return nil, fmt.Errorf("workload %s: %w", w.Name, err)
		}

		specs = append(specs, workload.Spec{
			Name: w.Name,
			Op:   op,
			Size: w.Size,
		})
	}

	return specs, nil
}

// Settle returns the subscription settle delay.
func (c Config) Settle() time.Duration {
	return time.Duration(c.SettleMS) * time.Millisecond
}

// Policy returns the verification parameters embedded in results.
func (c Config) Policy() Policy {
	return Policy{
		Threshold: c.Threshold,
		Trials:    c.Trials,
		NValues:   c.NValues,
	}
}
