package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"launchpad/crypto"

	"github.com/BurntSushi/toml"
)

type Config struct {
	RPCAddress       string   `toml:"RPCAddress"`
	DataDir          string   `toml:"DataDir"`
	FeeWallet        string   `toml:"FeeWallet"`
	FeePoints        uint32   `toml:"FeePoints"`
	Admin            string   `toml:"Admin"`
	Operators        []string `toml:"Operators"`
	Validators       []string `toml:"Validators"`
	RequireSignature bool     `toml:"RequireSignature"`
}

// Load loads the configuration from the given path.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = ":8645"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./launchpad-data"
	}
	if cfg.FeePoints == 0 {
		cfg.FeePoints = 100
	}
	if cfg.Operators == nil {
		cfg.Operators = []string{}
	}
	if cfg.Validators == nil {
		cfg.Validators = []string{}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.FeePoints > 10_000 {
		return fmt.Errorf("config: FeePoints %d out of range", c.FeePoints)
	}
	for _, field := range []struct {
		name  string
		value string
	}{
		{"FeeWallet", c.FeeWallet},
		{"Admin", c.Admin},
	} {
		if strings.TrimSpace(field.value) == "" {
			continue
		}
		if _, err := crypto.DecodeAddress(field.value); err != nil {
			return fmt.Errorf("config: invalid %s address: %w", field.name, err)
		}
	}
	for _, encoded := range append(append([]string{}, c.Operators...), c.Validators...) {
		if _, err := crypto.DecodeAddress(encoded); err != nil {
			return fmt.Errorf("config: invalid role address %q: %w", encoded, err)
		}
	}
	return nil
}

func decodeAddr(encoded string) ([20]byte, error) {
	var out [20]byte
	if strings.TrimSpace(encoded) == "" {
		return out, fmt.Errorf("config: empty address")
	}
	addr, err := crypto.DecodeAddress(encoded)
	if err != nil {
		return out, err
	}
	copy(out[:], addr.Bytes())
	return out, nil
}

// FeeWalletAddress decodes the configured fee wallet.
func (c *Config) FeeWalletAddress() ([20]byte, error) {
	return decodeAddr(c.FeeWallet)
}

// AdminAddress decodes the configured admin identity.
func (c *Config) AdminAddress() ([20]byte, error) {
	return decodeAddr(c.Admin)
}

// OperatorAddresses decodes the configured operator identities.
func (c *Config) OperatorAddresses() ([][20]byte, error) {
	return decodeAll(c.Operators)
}

// ValidatorAddresses decodes the configured validator identities.
func (c *Config) ValidatorAddresses() ([][20]byte, error) {
	return decodeAll(c.Validators)
}

func decodeAll(encoded []string) ([][20]byte, error) {
	out := make([][20]byte, 0, len(encoded))
	for _, e := range encoded {
		addr, err := decodeAddr(e)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{
		RPCAddress: ":8645",
		DataDir:    "./launchpad-data",
		FeePoints:  100,
		Operators:  []string{},
		Validators: []string{},
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
