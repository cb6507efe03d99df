package limits

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// yamlSource loads a plan catalog file:
//
//	plans:
//	  - id: pro
//	    name: Pro
//	    price: "149.90"
//	    currency: BRL
//	    trial_days: 14
//	    public: true
//	    limits: {users: 10, properties: 500, integrations: 3}
//	    features: [basic, portal_sync, contracts]
//	    provider_prices: {stripe: price_1Pro, paddle: pri_01pro}
type yamlSource struct {
	path string
}

type yamlCatalog struct {
	Plans []yamlPlan `yaml:"plans"`
}

type yamlPlan struct {
	ID             string             `yaml:"id"`
	Name           string             `yaml:"name"`
	Description    string             `yaml:"description"`
	Public         bool               `yaml:"public"`
	TrialDays      int                `yaml:"trial_days"`
	Price          string             `yaml:"price"`
	Currency       string             `yaml:"currency"`
	Limits         map[Resource]int64 `yaml:"limits"`
	Features       []Feature          `yaml:"features"`
	ProviderPrices map[string]string  `yaml:"provider_prices"`
}

// NewYAMLSource returns a Source reading the catalog at path on every Load.
func NewYAMLSource(path string) Source {
	return &yamlSource{path: path}
}

func (s *yamlSource) Load(context.Context) (map[string]Plan, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read plan catalog: %w", err)
	}
	return ParseYAML(bytes.NewReader(data))
}

// ParseYAML decodes a plan catalog document.
func ParseYAML(r io.Reader) (map[string]Plan, error) {
	var doc yamlCatalog
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Join(ErrInvalidPlanConfiguration, err)
	}

	plans := make(map[string]Plan, len(doc.Plans))
	for i, p := range doc.Plans {
		if p.ID == "" {
			return nil, errors.Join(ErrInvalidPlanConfiguration, fmt.Errorf("plan #%d has no id", i+1))
		}
		if _, dup := plans[p.ID]; dup {
			return nil, errors.Join(ErrInvalidPlanConfiguration, fmt.Errorf("duplicate plan %q", p.ID))
		}
		price := decimal.Zero
		if p.Price != "" {
			var err error
			if price, err = decimal.NewFromString(p.Price); err != nil {
				return nil, errors.Join(ErrInvalidPlanConfiguration, fmt.Errorf("plan %q price: %w", p.ID, err))
			}
		}
		plans[p.ID] = Plan{
			ID:             p.ID,
			Name:           p.Name,
			Description:    p.Description,
			Limits:         p.Limits,
			Features:       p.Features,
			Public:         p.Public,
			TrialDays:      p.TrialDays,
			Price:          price,
			Currency:       p.Currency,
			ProviderPrices: p.ProviderPrices,
		}
	}
	return plans, nil
}
