package selector

import (
	"encoding/json"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Expressions are encoded as single entry maps keyed by the operator name:
//
//	{"In": ["key", ["a", "b"]]}
//	{"Equal": ["key", "value"]}
//	{"Exists": "key"}

func (e Expression) payload() (interface{}, error) {
	switch e.Operator {
	case OpIn, OpNotIn:
		values := e.Values
		if values == nil {
			values = []string{}
		}
		return []interface{}{e.Key, values}, nil
	case OpEqual, OpNotEqual:
		return []interface{}{e.Key, e.Value()}, nil
	case OpExists, OpDoesNotExist:
		return e.Key, nil
	}

	return nil, eris.Errorf("can't encode expression with operator %d", e.Operator)
}

func (e Expression) tagged() (map[string]interface{}, error) {
	payload, err := e.payload()
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{e.Operator.String(): payload}, nil
}

func decodeTagged(name string, payload interface{}) (Expression, error) {
	op, ok := operatorByName(name)
	if !ok {
		return Expression{}, eris.Errorf("unknown expression type %s", name)
	}

	switch op {
	case OpExists, OpDoesNotExist:
		key, ok := payload.(string)
		if !ok {
			return Expression{}, eris.Errorf("%s expects a key but got %T", name, payload)
		}

		return Expression{Key: key, Operator: op}, nil
	}

	tuple, ok := payload.([]interface{})
	if !ok || len(tuple) != 2 {
		return Expression{}, eris.Errorf("%s expects a [key, value] pair", name)
	}

	key, ok := tuple[0].(string)
	if !ok {
		return Expression{}, eris.Errorf("%s expects a string key but got %T", name, tuple[0])
	}

	switch op {
	case OpEqual, OpNotEqual:
		value, ok := tuple[1].(string)
		if !ok {
			return Expression{}, eris.Errorf("%s expects a string value but got %T", name, tuple[1])
		}

		return Expression{Key: key, Operator: op, Values: []string{value}}, nil
	}

	rawValues, ok := tuple[1].([]interface{})
	if !ok {
		return Expression{}, eris.Errorf("%s expects a list of values but got %T", name, tuple[1])
	}

	values := make([]string, len(rawValues))
	for idx, raw := range rawValues {
		values[idx], ok = raw.(string)
		if !ok {
			return Expression{}, eris.Errorf("%s expects string values but item %d is %T", name, idx, raw)
		}
	}

	return Expression{Key: key, Operator: op, Values: normalizeSet(values)}, nil
}

// MarshalJSON implements json.Marshaler
func (e Expression) MarshalJSON() ([]byte, error) {
	tagged, err := e.tagged()
	if err != nil {
		return nil, err
	}

	return json.Marshal(tagged)
}

// UnmarshalJSON implements json.Unmarshaler
func (e *Expression) UnmarshalJSON(data []byte) error {
	var tagged map[string]interface{}
	if err := json.Unmarshal(data, &tagged); err != nil {
		return eris.Wrap(err, "failed to decode expression")
	}

	if len(tagged) != 1 {
		return eris.Errorf("expected exactly one expression type but found %d", len(tagged))
	}

	for name, payload := range tagged {
		expr, err := decodeTagged(name, payload)
		if err != nil {
			return err
		}
		*e = expr
	}

	return nil
}

// MarshalYAML implements yaml.Marshaler
func (e Expression) MarshalYAML() (interface{}, error) {
	return e.tagged()
}

// UnmarshalYAML implements yaml.Unmarshaler
func (e *Expression) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode || len(node.Content) != 2 {
		return eris.Errorf("line %d: expected a map with exactly one expression type", node.Line)
	}

	var payload interface{}
	if err := node.Content[1].Decode(&payload); err != nil {
		return eris.Wrapf(err, "line %d: failed to decode expression", node.Line)
	}

	expr, err := decodeTagged(node.Content[0].Value, payload)
	if err != nil {
		return eris.Wrapf(err, "line %d", node.Line)
	}

	*e = expr
	return nil
}
