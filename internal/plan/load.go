package plan

import (
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/spf13/viper"
)

// Load reads a plan file (YAML, JSON or TOML, by extension) and validates
// it. An empty path yields Default().
func Load(path string) (*Plan, error) {
	if path == "" {
		return Default(), nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("places", 2)
	v.SetDefault("treeDepthCeiling", 200)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read plan %s: %w", path, err)
	}

	// viper lower-cases keys; encoding/json matches them case-insensitively
	// and decodes the decimal fields directly.
	raw, err := json.Marshal(v.AllSettings())
	if err != nil {
		return nil, fmt.Errorf("failed to encode plan settings: %w", err)
	}

	p := &Plan{}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("failed to decode plan: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid plan %s: %w", path, err)
	}
	return p, nil
}

// Holder publishes the plan in force. Readers pin the returned pointer for
// the whole unit of work.
type Holder struct {
	current atomic.Pointer[Plan]
}

func NewHolder(p *Plan) *Holder {
	h := &Holder{}
	h.current.Store(p)
	return h
}

func (h *Holder) Current() *Plan {
	return h.current.Load()
}

// Swap validates and installs a new plan.
func (h *Holder) Swap(p *Plan) error {
	if err := p.Validate(); err != nil {
		return err
	}
	h.current.Store(p)
	return nil
}
