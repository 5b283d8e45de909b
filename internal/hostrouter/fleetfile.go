package hostrouter

import (
	"context"
	"fmt"
	"os"

	"github.com/catalystcommunity/app-utils-go/logging"
	"github.com/malgorath/cyberbrain/internal/store"
	"github.com/malgorath/cyberbrain/internal/store/models"
	"gopkg.in/yaml.v3"
)

// FleetFile is an operator-maintained YAML inventory of worker hosts. The
// scheduler seeds missing hosts from it at startup so a fresh database comes
// up with the fleet registered.
type FleetFile struct {
	Hosts []FleetHost `yaml:"hosts"`
}

// FleetHost describes one host entry in the inventory.
type FleetHost struct {
	Name           string   `yaml:"name"`
	Kind           string   `yaml:"kind"`
	Endpoint       string   `yaml:"endpoint"`
	GPUs           bool     `yaml:"gpus"`
	GPUCount       int      `yaml:"gpu_count"`
	MaxConcurrency int      `yaml:"max_concurrency"`
	Labels         []string `yaml:"labels"`

	SSH *struct {
		Host    string `yaml:"host"`
		Port    int    `yaml:"port"`
		User    string `yaml:"user"`
		KeyPath string `yaml:"key_path"`
	} `yaml:"ssh"`
}

// LoadFleetFile parses a host inventory file.
func LoadFleetFile(path string) (*FleetFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fleet file: %w", err)
	}

	var ff FleetFile
	if err := yaml.Unmarshal(data, &ff); err != nil {
		return nil, fmt.Errorf("failed to parse fleet file: %w", err)
	}

	for i, h := range ff.Hosts {
		if h.Name == "" || h.Endpoint == "" {
			return nil, fmt.Errorf("fleet file host %d missing name or endpoint", i)
		}
		if h.Kind != models.HostKindLocalSocket && h.Kind != models.HostKindRemoteTCP {
			return nil, fmt.Errorf("fleet file host %s has unknown kind %q", h.Name, h.Kind)
		}
	}
	return &ff, nil
}

// SeedHosts registers inventory hosts that are not in the store yet,
// matching by name. Existing hosts are left untouched so operator edits via
// the API survive restarts.
func SeedHosts(ctx context.Context, s store.Store, ff *FleetFile) error {
	existing, err := s.ListWorkerHosts(ctx)
	if err != nil {
		return fmt.Errorf("failed to list hosts for seeding: %w", err)
	}
	byName := make(map[string]bool, len(existing))
	for _, h := range existing {
		byName[h.Name] = true
	}

	for _, fh := range ff.Hosts {
		if byName[fh.Name] {
			continue
		}

		maxConcurrency := fh.MaxConcurrency
		if maxConcurrency <= 0 {
			maxConcurrency = 1
		}
		host := &models.WorkerHost{
			Name:           fh.Name,
			Kind:           fh.Kind,
			Endpoint:       fh.Endpoint,
			GPUs:           fh.GPUs,
			GPUCount:       fh.GPUCount,
			MaxConcurrency: maxConcurrency,
			Labels:         fh.Labels,
			Enabled:        true,
		}
		if fh.SSH != nil {
			port := fh.SSH.Port
			if port == 0 {
				port = 22
			}
			host.SSHConfig = &models.SSHConfig{
				Host:    fh.SSH.Host,
				Port:    port,
				User:    fh.SSH.User,
				KeyPath: fh.SSH.KeyPath,
			}
		}

		if err := s.CreateWorkerHost(ctx, host); err != nil {
			return fmt.Errorf("failed to seed host %s: %w", fh.Name, err)
		}
		logging.Log.WithField("host", fh.Name).Info("Seeded worker host from fleet file")
	}
	return nil
}
