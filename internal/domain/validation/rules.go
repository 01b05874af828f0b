package validation

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Region es una caja geográfica (inclusiva) donde una especie puede recolectarse.
type Region struct {
	Name   string  `yaml:"name"`
	MinLat float64 `yaml:"min_lat"`
	MaxLat float64 `yaml:"max_lat"`
	MinLon float64 `yaml:"min_lon"`
	MaxLon float64 `yaml:"max_lon"`
}

func (r Region) Contains(lat, lon float64) bool {
	return lat >= r.MinLat && lat <= r.MaxLat && lon >= r.MinLon && lon <= r.MaxLon
}

// MoistureBand: rango óptimo de humedad (%) y tolerancia alrededor.
type MoistureBand struct {
	Min       float64 `yaml:"min"`
	Max       float64 `yaml:"max"`
	Tolerance float64 `yaml:"tolerance"`
}

var DefaultMoistureBand = MoistureBand{Min: 8, Max: 12, Tolerance: 3}

type CategoryRule struct {
	Regions  []Region      `yaml:"regions"`
	Months   []time.Month  `yaml:"months"`
	Moisture *MoistureBand `yaml:"moisture,omitempty"`
}

// Rules indexa reglas por categoría (clave en minúsculas).
// Categoría sin regla => fail-open.
type Rules struct {
	Categories map[string]CategoryRule `yaml:"categories"`
}

func categoryKey(category string) string {
	return strings.ToLower(strings.TrimSpace(category))
}

func (r Rules) lookup(category string) (CategoryRule, bool) {
	if r.Categories == nil {
		return CategoryRule{}, false
	}
	rule, ok := r.Categories[categoryKey(category)]
	return rule, ok
}

// DefaultRules: cajas de muestra (Kerala / Tamil Nadu, Rajasthan / Madhya Pradesh...).
func DefaultRules() Rules {
	kerala := Region{Name: "Kerala", MinLat: 8.17, MaxLat: 12.79, MinLon: 74.85, MaxLon: 77.42}
	tamilNadu := Region{Name: "Tamil Nadu", MinLat: 8.07, MaxLat: 13.56, MinLon: 76.23, MaxLon: 80.35}
	karnataka := Region{Name: "Karnataka", MinLat: 11.59, MaxLat: 18.45, MinLon: 74.09, MaxLon: 78.59}
	rajasthan := Region{Name: "Rajasthan", MinLat: 23.06, MaxLat: 30.12, MinLon: 69.48, MaxLon: 78.27}
	madhyaPradesh := Region{Name: "Madhya Pradesh", MinLat: 21.08, MaxLat: 26.87, MinLon: 74.03, MaxLon: 82.82}
	uttarakhand := Region{Name: "Uttarakhand", MinLat: 28.72, MaxLat: 31.45, MinLon: 77.57, MaxLon: 81.04}

	return Rules{Categories: map[string]CategoryRule{
		"turmeric": {
			Regions: []Region{kerala, tamilNadu},
			Months:  []time.Month{time.January, time.February, time.March, time.April},
		},
		"ashwagandha": {
			Regions: []Region{rajasthan, madhyaPradesh},
			Months:  []time.Month{time.January, time.February, time.March},
			Moisture: &MoistureBand{
				Min: 6, Max: 10, Tolerance: 2,
			},
		},
		"brahmi": {
			Regions: []Region{kerala, karnataka, tamilNadu},
			Months:  []time.Month{time.September, time.October, time.November},
		},
		"tulsi": {
			Regions: []Region{uttarakhand, madhyaPradesh, rajasthan},
			Months:  []time.Month{time.June, time.July, time.August, time.September},
		},
	}}
}

// LoadRules lee reglas desde YAML:
//
//	categories:
//	  turmeric:
//	    regions: [{name: Kerala, min_lat: 8.17, max_lat: 12.79, min_lon: 74.85, max_lon: 77.42}]
//	    months: [1, 2, 3]
func LoadRules(path string) (Rules, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("read rules: %w", err)
	}
	return ParseRules(raw)
}

func ParseRules(raw []byte) (Rules, error) {
	var in Rules
	if err := yaml.Unmarshal(raw, &in); err != nil {
		return Rules{}, fmt.Errorf("parse rules: %w", err)
	}

	out := Rules{Categories: make(map[string]CategoryRule, len(in.Categories))}
	for name, rule := range in.Categories {
		key := categoryKey(name)
		if key == "" {
			return Rules{}, fmt.Errorf("parse rules: empty category name")
		}
		for _, m := range rule.Months {
			if m < time.January || m > time.December {
				return Rules{}, fmt.Errorf("parse rules: %s: invalid month %d", name, m)
			}
		}
		for _, reg := range rule.Regions {
			if reg.MinLat > reg.MaxLat || reg.MinLon > reg.MaxLon {
				return Rules{}, fmt.Errorf("parse rules: %s: region %q has inverted bounds", name, reg.Name)
			}
		}
		out.Categories[key] = rule
	}
	return out, nil
}
