package domainpool

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

type seedFile struct {
	Domains []seedDomain `yaml:"domains"`
}

type seedDomain struct {
	Host            string `yaml:"host"`
	Protocol        string `yaml:"protocol"`
	Weight          int    `yaml:"weight"`
	Order           int    `yaml:"order"`
	HealthCheckPath string `yaml:"healthCheckPath"`
	Status          string `yaml:"status"`
}

// SeedFromFile loads initial pool domains from a YAML file. It only runs
// against an empty pool, so restarting a populated deployment never
// clobbers operator changes.
func (m *Manager) SeedFromFile(ctx context.Context, path string) error {
	existing, err := m.store.ListDomains(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		log.Debug().Int("domains", len(existing)).Msg("pool already populated, skipping seed file")
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed file %s: %w", path, err)
	}
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("parse seed file %s: %w", path, err)
	}

	for i, sd := range seed.Domains {
		req := &AddDomainRequest{
			Host:            sd.Host,
			Protocol:        Protocol(sd.Protocol),
			HealthCheckPath: sd.HealthCheckPath,
		}
		if sd.Weight > 0 {
			w := sd.Weight
			req.Weight = &w
		}
		if sd.Order > 0 {
			o := sd.Order
			req.Order = &o
		}
		d, err := m.AddDomain(ctx, req)
		if err != nil {
			return fmt.Errorf("seed domain %d (%s): %w", i, sd.Host, err)
		}
		// seeded domains may declare themselves active to skip the probation
		// a brand-new domain would normally serve
		if sd.Status != "" && Status(sd.Status) != StatusTesting {
			st := Status(sd.Status)
			if _, err := m.UpdateDomain(ctx, d.ID, &UpdateDomainRequest{Status: &st}); err != nil {
				return fmt.Errorf("seed domain %d (%s): %w", i, sd.Host, err)
			}
		}
	}
	log.Info().Int("domains", len(seed.Domains)).Str("file", path).Msg("seeded domain pool")
	return nil
}
