package shader

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/brunoga/deep"
	"github.com/iancoleman/orderedmap"
)

var (
	ErrInvalidID           = errors.New("invalid shader identifier")
	ErrUnknownType         = errors.New("unknown shader type")
	ErrRegistrationsClosed = errors.New("shader registrations are closed")
)

// Visibility is 0 or 1 in the JSON form; booleans are accepted on input.
type Visibility int

func (v *Visibility) UnmarshalJSON(b []byte) error {
	var x any
	if err := json.Unmarshal(b, &x); err != nil {
		return err
	}
	switch t := x.(type) {
	case bool:
		*v = 0
		if t {
			*v = 1
		}
	case float64:
		*v = 0
		if t != 0 {
			*v = 1
		}
	case nil:
		*v = 1
	default:
		return fmt.Errorf("%s: invalid visibility", string(b))
	}
	return nil
}

// Config is the persistent, serializable description of one layer
// instance.
type Config struct {
	ID      string     `json:"id" msgpack:"id"`
	Name    string     `json:"name,omitempty" msgpack:"name"`
	Type    string     `json:"type" msgpack:"type"`
	Visible Visibility `json:"visible" msgpack:"visible"`
	// Fixed configs may not be edited from the host control panel.
	Fixed  bool           `json:"fixed,omitempty" msgpack:"fixed"`
	Params map[string]any `json:"params,omitempty" msgpack:"params"`
	// TiledImages are indices into the per-frame payload.
	TiledImages []int          `json:"tiledImages" msgpack:"tiledImages"`
	Cache       map[string]any `json:"cache,omitempty" msgpack:"cache"`
	Error       string         `json:"error,omitempty" msgpack:"error"`
}

// NewConfig returns a visible config bound to one tiled image.
func NewConfig(id, typ string, tiledImage int) *Config {
	return &Config{
		ID:          id,
		Name:        id,
		Type:        typ,
		Visible:     1,
		Params:      make(map[string]any),
		TiledImages: []int{tiledImage},
		Cache:       make(map[string]any),
	}
}

// TiledImage is the single tiled image the default wiring binds, or -1.
func (c *Config) TiledImage() int {
	if len(c.TiledImages) == 0 {
		return -1
	}
	return c.TiledImages[0]
}

func (c *Config) IsVisible() bool { return c.Visible != 0 }

// Clone returns a deep copy; hosts receive clones so they can not mutate
// live renderer state.
func (c *Config) Clone() *Config {
	return deep.MustCopy(c)
}

// normalize fills nil maps and sanitizes the id.
func (c *Config) normalize(key string) error {
	if c.ID == "" {
		c.ID = key
	}
	id, err := SanitizeID(c.ID)
	if err != nil {
		return err
	}
	c.ID = id
	if c.Name == "" {
		c.Name = id
	}
	if c.Params == nil {
		c.Params = make(map[string]any)
	}
	if c.Cache == nil {
		c.Cache = make(map[string]any)
	}
	return nil
}

// SanitizeID strips characters outside [0-9A-Za-z_], collapses runs of
// '_' and strips leading and trailing '_'. An empty result is
// ErrInvalidID.
func SanitizeID(s string) (string, error) {
	var b strings.Builder
	prevUnderscore := true // drops leading underscores
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			b.WriteRune(r)
			prevUnderscore = false
		case r == '_':
			if !prevUnderscore {
				b.WriteRune(r)
			}
			prevUnderscore = true
		}
	}
	out := strings.TrimSuffix(b.String(), "_")
	if out == "" {
		return "", fmt.Errorf("%q: %w: empty after sanitization", s, ErrInvalidID)
	}
	return out, nil
}

// ValidID reports whether s may be spliced into GLSL as a symbol prefix:
// only [0-9A-Za-z_], no leading or trailing '_' and no "__". Generated
// symbols append "_name" to it.
func ValidID(s string) bool {
	if s == "" || s[0] == '_' || s[len(s)-1] == '_' || strings.Contains(s, "__") {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_') {
			return false
		}
	}
	return true
}

// ParseConfigs decodes a JSON object of id -> Config. The returned order
// is the document order of the keys.
func ParseConfigs(data []byte) (map[string]*Config, []string, error) {
	om := orderedmap.New()
	if err := json.Unmarshal(data, &om); err != nil {
		return nil, nil, fmt.Errorf("shader configuration: %w", err)
	}

	configs := make(map[string]*Config)
	var order []string
	for _, key := range om.Keys() {
		v, _ := om.Get(key)
		b, err := json.Marshal(v)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", key, err)
		}
		var c Config
		c.Visible = 1
		if err := json.Unmarshal(b, &c); err != nil {
			return nil, nil, fmt.Errorf("%s: %w", key, err)
		}
		if err := c.normalize(key); err != nil {
			return nil, nil, err
		}
		if _, dup := configs[c.ID]; dup {
			return nil, nil, fmt.Errorf("%s: %w: duplicate id", c.ID, ErrInvalidID)
		}
		configs[c.ID] = &c
		order = append(order, c.ID)
	}
	return configs, order, nil
}

// MarshalConfigs encodes configs as a JSON object in the given order.
func MarshalConfigs(configs map[string]*Config, order []string) ([]byte, error) {
	om := orderedmap.New()
	for _, id := range order {
		if c, ok := configs[id]; ok {
			om.Set(id, c)
		}
	}
	return json.MarshalIndent(om, "", "  ")
}
