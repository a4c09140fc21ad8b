package rules

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// ParseFile reads and validates a single rule definition.
func ParseFile(path string) (Rule, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Rule{}, err
	}
	var r Rule
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&r); err != nil {
		return Rule{}, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	if err := validate(r); err != nil {
		return Rule{}, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return r, nil
}

// LoadDir loads every .yaml/.yml file in dir, in directory order, so match
// order follows load order. Any parse or validation error is returned
// (fatal at startup). Duplicate rule names are rejected.
func LoadDir(dir string) ([]Rule, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("rules dir: %w", err)
	}

	var out []Rule
	seen := map[string]string{}
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(ent.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		r, err := ParseFile(filepath.Join(dir, ent.Name()))
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[r.Name]; dup {
			return nil, fmt.Errorf("%s: duplicate rule name %q (first defined in %s)", ent.Name(), r.Name, prev)
		}
		seen[r.Name] = ent.Name()
		out = append(out, r)
	}
	return out, nil
}

func validate(r Rule) error {
	switch {
	case strings.TrimSpace(r.Name) == "":
		return fmt.Errorf("rule name is required")
	case strings.TrimSpace(r.Trigger.Type) == "":
		return fmt.Errorf("trigger.type is required")
	case strings.TrimSpace(r.Reaction.Agent) == "":
		return fmt.Errorf("reaction.agent is required")
	case strings.TrimSpace(r.Reaction.Approval) == "":
		return fmt.Errorf("reaction.approval is required")
	case strings.TrimSpace(r.Reaction.Channel) == "":
		return fmt.Errorf("reaction.channel is required")
	case strings.TrimSpace(r.Reaction.PromptContext) == "":
		return fmt.Errorf("reaction.promptContext is required")
	}
	return nil
}
