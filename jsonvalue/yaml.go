package jsonvalue

import (
	"fmt"
	"math"
	"strconv"

	"gopkg.in/yaml.v3"
)

// FromYAML converts a decoded YAML node into a Value, keeping mapping order.
// Non-string mapping keys are rejected, as are NaN and infinities.
func FromYAML(node *yaml.Node) (Value, error) {
	if node == nil {
		return Null{}, nil
	}
	switch node.Kind {
	case yaml.DocumentNode:
		if len(node.Content) == 0 {
			return Null{}, nil
		}
		return FromYAML(node.Content[0])
	case yaml.AliasNode:
		return FromYAML(node.Alias)
	case yaml.SequenceNode:
		arr := make(Array, 0, len(node.Content))
		for _, child := range node.Content {
			v, err := FromYAML(child)
			if err != nil {
				return nil, err
			}
			arr = append(arr, v)
		}
		return arr, nil
	case yaml.MappingNode:
		obj := make(Object, 0, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			keyNode := node.Content[i]
			if keyNode.Kind != yaml.ScalarNode || keyNode.ShortTag() != "!!str" {
				return nil, fmt.Errorf("jsonvalue: line %d: mapping key must be a string", keyNode.Line)
			}
			v, err := FromYAML(node.Content[i+1])
			if err != nil {
				return nil, err
			}
			obj = append(obj, Member{Key: keyNode.Value, Value: v})
		}
		return obj, nil
	case yaml.ScalarNode:
		return scalarFromYAML(node)
	}
	return nil, fmt.Errorf("jsonvalue: line %d: unsupported yaml node kind %d", node.Line, node.Kind)
}

func scalarFromYAML(node *yaml.Node) (Value, error) {
	switch node.ShortTag() {
	case "!!null":
		return Null{}, nil
	case "!!bool":
		var b bool
		if err := node.Decode(&b); err != nil {
			return nil, fmt.Errorf("jsonvalue: line %d: %w", node.Line, err)
		}
		return Bool(b), nil
	case "!!int":
		var n int64
		if err := node.Decode(&n); err != nil {
			return nil, fmt.Errorf("jsonvalue: line %d: %w", node.Line, err)
		}
		return Number(strconv.FormatInt(n, 10)), nil
	case "!!float":
		var f float64
		if err := node.Decode(&f); err != nil {
			return nil, fmt.Errorf("jsonvalue: line %d: %w", node.Line, err)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("jsonvalue: line %d: %q has no JSON representation", node.Line, node.Value)
		}
		return Number(strconv.FormatFloat(f, 'g', -1, 64)), nil
	default:
		return String(node.Value), nil
	}
}
