// Package layout derives the seats of a carriage from its class and quota.
package layout

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/iliyamo/train-seat-reservation/internal/model"
)

// Rule arranges the columns of one class into groups separated by an
// aisle. Groups [2,3] is the familiar 2+3 economy layout.
type Rule struct {
	Class  model.CarriageClass `yaml:"class"`
	Groups []int               `yaml:"groups"`
}

// Columns is the number of seats per row.
func (r Rule) Columns() int {
	n := 0
	for _, g := range r.Groups {
		n += g
	}
	return n
}

func (r Rule) validate() error {
	if len(r.Groups) == 0 {
		return model.Invalid("layout", "class %s has no seat groups", r.Class)
	}
	for _, g := range r.Groups {
		if g <= 0 {
			return model.Invalid("layout", "class %s has an empty seat group", r.Class)
		}
	}
	if r.Columns() > 26 {
		return model.Invalid("layout", "class %s has %d columns, at most 26 fit a letter", r.Class, r.Columns())
	}
	return nil
}

// Rules maps each class to its arrangement.
type Rules map[model.CarriageClass]Rule

// DefaultRules returns executive 2+2, business 2+2 and economy 2+3.
func DefaultRules() Rules {
	return Rules{
		model.ClassExecutive: {Class: model.ClassExecutive, Groups: []int{2, 2}},
		model.ClassBusiness:  {Class: model.ClassBusiness, Groups: []int{2, 2}},
		model.ClassEconomy:   {Class: model.ClassEconomy, Groups: []int{2, 3}},
	}
}

// For returns the rule for class c.
func (rs Rules) For(c model.CarriageClass) (Rule, error) {
	r, ok := rs[c]
	if !ok {
		return Rule{}, model.Invalid("class", "no layout rule for class %s", c)
	}
	return r, nil
}

type rulesFile struct {
	Rules []struct {
		Class  string `yaml:"class"`
		Groups []int  `yaml:"groups"`
	} `yaml:"rules"`
}

// LoadRules reads overrides from a YAML file of the form
//
//	rules:
//	  - class: economy
//	    groups: [3, 3]
//
// and merges them over DefaultRules. An empty path returns the defaults.
func LoadRules(path string) (Rules, error) {
	rules := DefaultRules()
	if path == "" {
		return rules, nil
	}
	bs, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read layout rules: %w", err)
	}
	var f rulesFile
	if err := yaml.Unmarshal(bs, &f); err != nil {
		return nil, fmt.Errorf("parse layout rules %s: %w", path, err)
	}
	for _, raw := range f.Rules {
		class, err := model.ParseCarriageClass(raw.Class)
		if err != nil {
			return nil, err
		}
		r := Rule{Class: class, Groups: raw.Groups}
		if err := r.validate(); err != nil {
			return nil, err
		}
		rules[class] = r
	}
	return rules, nil
}
