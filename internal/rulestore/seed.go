package rulestore

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"ticketflow/internal/automation"
)

type seedFile struct {
	Rules []automation.Automation `yaml:"rules"`
}

// activeFlags reads only is_active so an omitted flag can default to true.
type activeFlags struct {
	Rules []struct {
		IsActive *bool `yaml:"is_active"`
	} `yaml:"rules"`
}

// LoadSeedFile reads rule definitions from a YAML file of the form
//
//	rules:
//	  - name: escalate urgent
//	    trigger: {type: ticket_created, conditions: {priority: urgent}}
//	    actions:
//	      - type: send_notification
//	        parameters: {message: "{{ticket.title}}"}
func LoadSeedFile(path string) ([]automation.Automation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed is LoadSeedFile for bytes already in memory.
func ParseSeed(data []byte) ([]automation.Automation, error) {
	var file seedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	var flags activeFlags
	if err := yaml.Unmarshal(data, &flags); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	for i := range file.Rules {
		if i < len(flags.Rules) && flags.Rules[i].IsActive == nil {
			file.Rules[i].IsActive = true
		}
	}
	return file.Rules, nil
}

// Seed creates every rule that is not already present (matched by id).
// It returns how many rules were created.
func Seed(ctx context.Context, store automation.RuleStore, rules []automation.Automation) (int, error) {
	created := 0
	for _, rule := range rules {
		if rule.ID != "" {
			_, err := store.Get(ctx, rule.ID)
			if err == nil {
				continue
			}
			if !errors.Is(err, automation.ErrRuleNotFound) {
				return created, err
			}
		}
		if _, err := store.Create(ctx, rule); err != nil {
			return created, fmt.Errorf("seed rule %q: %w", rule.Name, err)
		}
		created++
	}
	return created, nil
}
