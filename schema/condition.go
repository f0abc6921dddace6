package schema

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Condition is the tagged-variant shape a condition can take in a workflow
// document (spec.md §4.3): either a bare string expression, or a structured
// simple/complex comparison. Exactly one of Expression, Simple, or Complex is
// populated; which one is determined by the document's shape at unmarshal
// time (see UnmarshalJSON and UnmarshalYAML below, which inspect the raw
// value before decoding into a variant).
type Condition struct {
	// Expression holds a free-form string expression, e.g.
	// "{{step1.data.count}} > 5 && {{input.enabled}}".
	Expression string `json:"-" yaml:"-"`

	// Simple is a single field/operator/value comparison.
	Simple *SimpleCondition `json:"-" yaml:"-"`

	// Complex combines sub-conditions with a boolean operator.
	Complex *ComplexCondition `json:"-" yaml:"-"`
}

// SimpleCondition compares one resolved field against a value.
type SimpleCondition struct {
	Field    string      `json:"field" yaml:"field"`
	Operator string      `json:"operator" yaml:"operator"`
	Value    interface{} `json:"value,omitempty" yaml:"value,omitempty"`
}

// ComplexCondition combines nested conditions with "and"/"or"/"not".
type ComplexCondition struct {
	Operator   string       `json:"operator" yaml:"operator"` // and|or|not
	Conditions []*Condition `json:"conditions" yaml:"conditions"`
}

// UnmarshalJSON accepts either a bare JSON string (Expression), an object
// with a "conditions" array (Complex), or any other object (Simple).
func (c *Condition) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		c.Expression = asString
		return nil
	}

	var probe struct {
		Conditions json.RawMessage `json:"conditions"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("condition: %w", err)
	}
	if probe.Conditions != nil {
		complex := &ComplexCondition{}
		if err := json.Unmarshal(data, complex); err != nil {
			return fmt.Errorf("condition: complex: %w", err)
		}
		c.Complex = complex
		return nil
	}

	simple := &SimpleCondition{}
	if err := json.Unmarshal(data, simple); err != nil {
		return fmt.Errorf("condition: simple: %w", err)
	}
	c.Simple = simple
	return nil
}

// MarshalJSON emits whichever variant is populated.
func (c *Condition) MarshalJSON() ([]byte, error) {
	switch {
	case c.Complex != nil:
		return json.Marshal(c.Complex)
	case c.Simple != nil:
		return json.Marshal(c.Simple)
	default:
		return json.Marshal(c.Expression)
	}
}

// UnmarshalYAML mirrors UnmarshalJSON's shape-sniffing for YAML documents.
// yaml.v3's Unmarshaler interface is node-based (UnmarshalYAML(*yaml.Node)
// error), not yaml.v2's callback-based one — this decodes off the node
// directly rather than via an unmarshal-func callback.
func (c *Condition) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var asString string
		if err := node.Decode(&asString); err != nil {
			return fmt.Errorf("condition: %w", err)
		}
		c.Expression = asString
		return nil
	}

	var probe struct {
		Conditions []*Condition `yaml:"conditions"`
	}
	if err := node.Decode(&probe); err != nil {
		return fmt.Errorf("condition: %w", err)
	}
	if probe.Conditions != nil {
		complex := &ComplexCondition{}
		if err := node.Decode(complex); err != nil {
			return fmt.Errorf("condition: complex: %w", err)
		}
		c.Complex = complex
		return nil
	}

	simple := &SimpleCondition{}
	if err := node.Decode(simple); err != nil {
		return fmt.Errorf("condition: simple: %w", err)
	}
	c.Simple = simple
	return nil
}
