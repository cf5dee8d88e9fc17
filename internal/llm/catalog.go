package llm

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Model is one row of the static model table.
type Model struct {
	ID              string `yaml:"id" json:"id"`
	Provider        string `yaml:"provider" json:"provider"`
	Label           string `yaml:"label" json:"label"`
	BaseURL         string `yaml:"base_url,omitempty" json:"-"`
	RequiresUserKey bool   `yaml:"requires_user_key" json:"requires_user_key"`
}

type Catalog struct {
	Models []Model `yaml:"models"`
}

func (c *Catalog) Lookup(modelID string) (Model, bool) {
	for _, m := range c.Models {
		if m.ID == modelID {
			return m, true
		}
	}
	return Model{}, false
}

// LoadCatalog reads the model table from a YAML file, falling back to the
// built-in table when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model catalog: %w", err)
	}
	var c Catalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("parse model catalog: %w", err)
	}
	if len(c.Models) == 0 {
		return nil, fmt.Errorf("model catalog %s has no models", path)
	}
	return &c, nil
}

func DefaultCatalog() *Catalog {
	return &Catalog{Models: []Model{
		{ID: "gpt-4o", Provider: ProviderOpenAI, Label: "GPT-4o"},
		{ID: "gpt-4o-mini", Provider: ProviderOpenAI, Label: "GPT-4o mini"},
		{ID: "o3-mini", Provider: ProviderOpenAI, Label: "o3-mini", RequiresUserKey: true},
		{ID: "claude-sonnet-4-20250514", Provider: ProviderAnthropic, Label: "Claude Sonnet 4"},
		{ID: "claude-opus-4-20250514", Provider: ProviderAnthropic, Label: "Claude Opus 4", RequiresUserKey: true},
	}}
}
