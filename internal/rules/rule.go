package rules

// Rule is a declarative mapping from an event trigger to a reaction.
// Rules are loaded once at startup and immutable at runtime.
type Rule struct {
	Name     string   `yaml:"name" json:"name"`
	Trigger  Trigger  `yaml:"trigger" json:"trigger"`
	Reaction Reaction `yaml:"reaction" json:"reaction"`
}

// Trigger selects events by type, optionally narrowed by a
// case-insensitive substring filter over the serialized event.
type Trigger struct {
	Type      string `yaml:"type" json:"type"`
	Condition string `yaml:"condition,omitempty" json:"condition,omitempty"`
	Filter    string `yaml:"filter,omitempty" json:"filter,omitempty"`
}

// Reaction describes what to do with a matched event.
// Channel "push" additionally requests a phone notification.
type Reaction struct {
	Agent         string `yaml:"agent" json:"agent"`
	Approval      string `yaml:"approval" json:"approval"`
	Channel       string `yaml:"channel" json:"channel"`
	PromptContext string `yaml:"promptContext" json:"promptContext"`
}
