package models

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/vfrank66/splink/pkg/apperrors"
)

// BlockingRuleDescription is the minimal serialised form of a blocking rule.
// It is written as a bare SQL string for plain rules and as a mapping when a
// dialect, salting or exploding is declared.
type BlockingRuleDescription struct {
	BlockingRule      string   `yaml:"blocking_rule" json:"blocking_rule"`
	SQLDialect        string   `yaml:"sql_dialect,omitempty" json:"sql_dialect,omitempty"`
	SaltingPartitions *int     `yaml:"salting_partitions,omitempty" json:"salting_partitions,omitempty"`
	ArraysToExplode   []string `yaml:"arrays_to_explode,omitempty" json:"arrays_to_explode,omitempty"`
}

// IsPlain reports whether the description carries nothing but the predicate.
func (d BlockingRuleDescription) IsPlain() bool {
	return d.SQLDialect == "" && d.SaltingPartitions == nil && d.ArraysToExplode == nil
}

func (d BlockingRuleDescription) clone() BlockingRuleDescription {
	out := d
	if d.SaltingPartitions != nil {
		n := *d.SaltingPartitions
		out.SaltingPartitions = &n
	}
	if d.ArraysToExplode != nil {
		out.ArraysToExplode = append([]string(nil), d.ArraysToExplode...)
	}
	return out
}

// blockingRuleFields aliases the description to avoid recursing into the
// custom (un)marshalers.
type blockingRuleFields BlockingRuleDescription

// UnmarshalYAML accepts either a scalar SQL string or a mapping.
func (d *BlockingRuleDescription) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return fmt.Errorf("%w: blocking rule must be a string: %v", apperrors.ErrConfiguration, err)
		}
		*d = BlockingRuleDescription{BlockingRule: s}
		return nil
	case yaml.MappingNode:
		var f blockingRuleFields
		if err := node.Decode(&f); err != nil {
			return fmt.Errorf("%w: invalid blocking rule: %v", apperrors.ErrConfiguration, err)
		}
		*d = BlockingRuleDescription(f)
		return nil
	default:
		return fmt.Errorf("%w: blocking rule must be a string or a mapping (line %d)",
			apperrors.ErrConfiguration, node.Line)
	}
}

// MarshalYAML writes plain rules as a bare string.
func (d BlockingRuleDescription) MarshalYAML() (any, error) {
	if d.IsPlain() {
		return d.BlockingRule, nil
	}
	return blockingRuleFields(d), nil
}

// UnmarshalJSON accepts either a JSON string or an object.
func (d *BlockingRuleDescription) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*d = BlockingRuleDescription{BlockingRule: s}
		return nil
	}
	var f blockingRuleFields
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("%w: blocking rule must be a string or an object: %v", apperrors.ErrConfiguration, err)
	}
	*d = BlockingRuleDescription(f)
	return nil
}

// MarshalJSON writes plain rules as a bare string.
func (d BlockingRuleDescription) MarshalJSON() ([]byte, error) {
	if d.IsPlain() {
		return json.Marshal(d.BlockingRule)
	}
	return json.Marshal(blockingRuleFields(d))
}
