//go:build !nokube

// Package kube converts selector expressions to and from the Kubernetes API types.
// Build with the nokube tag to leave it (and the k8s.io/apimachinery dependency) out.
package kube

import (
	"sort"

	"github.com/rotisserie/eris"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/selection"

	"github.com/ngld/labelsel/pkg/selector"
)

// ToRequirement converts an expression into a LabelSelectorRequirement. The API type has no equality
// operators so Equal becomes In and NotEqual becomes NotIn, both with a single value.
func ToRequirement(expr selector.Expression) metav1.LabelSelectorRequirement {
	req := metav1.LabelSelectorRequirement{Key: expr.Key}

	switch expr.Operator {
	case selector.OpIn, selector.OpEqual:
		req.Operator = metav1.LabelSelectorOpIn
	case selector.OpNotIn, selector.OpNotEqual:
		req.Operator = metav1.LabelSelectorOpNotIn
	case selector.OpExists:
		req.Operator = metav1.LabelSelectorOpExists
	case selector.OpDoesNotExist:
		req.Operator = metav1.LabelSelectorOpDoesNotExist
	}

	if len(expr.Values) > 0 {
		req.Values = append([]string(nil), expr.Values...)
	}

	return req
}

// ToLabelSelector builds a LabelSelector. Equal expressions end up in MatchLabels unless the key is already
// taken by a previous one, all other expressions are appended to MatchExpressions in order.
func ToLabelSelector(exprs selector.Expressions) *metav1.LabelSelector {
	result := &metav1.LabelSelector{}

	for _, expr := range exprs {
		if expr.Operator == selector.OpEqual {
			if _, taken := result.MatchLabels[expr.Key]; !taken {
				if result.MatchLabels == nil {
					result.MatchLabels = make(map[string]string)
				}
				result.MatchLabels[expr.Key] = expr.Value()
				continue
			}
		}

		result.MatchExpressions = append(result.MatchExpressions, ToRequirement(expr))
	}

	return result
}

// FromRequirement converts a LabelSelectorRequirement back into an expression
func FromRequirement(req metav1.LabelSelectorRequirement) (selector.Expression, error) {
	switch req.Operator {
	case metav1.LabelSelectorOpIn:
		return selector.In(req.Key, req.Values...), nil
	case metav1.LabelSelectorOpNotIn:
		return selector.NotIn(req.Key, req.Values...), nil
	case metav1.LabelSelectorOpExists:
		return selector.Exists(req.Key), nil
	case metav1.LabelSelectorOpDoesNotExist:
		return selector.DoesNotExist(req.Key), nil
	}

	return selector.Expression{}, eris.Errorf("unsupported operator %q for key %s", req.Operator, req.Key)
}

// FromLabelSelector converts a LabelSelector into expressions. MatchLabels are returned first, sorted by key.
func FromLabelSelector(sel *metav1.LabelSelector) (selector.Expressions, error) {
	result := make(selector.Expressions, 0)
	if sel == nil {
		return result, nil
	}

	keys := make([]string, 0, len(sel.MatchLabels))
	for key := range sel.MatchLabels {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		result = append(result, selector.Equal(key, sel.MatchLabels[key]))
	}

	for idx, req := range sel.MatchExpressions {
		expr, err := FromRequirement(req)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to convert match expression #%d", idx)
		}
		result = append(result, expr)
	}

	return result, nil
}

var selectionOps = map[selector.Operator]selection.Operator{
	selector.OpIn:           selection.In,
	selector.OpNotIn:        selection.NotIn,
	selector.OpEqual:        selection.Equals,
	selector.OpNotEqual:     selection.NotEquals,
	selector.OpExists:       selection.Exists,
	selector.OpDoesNotExist: selection.DoesNotExist,
}

// ToSelector builds a labels.Selector. Unlike the selector package, Kubernetes validates keys and values
// (qualified names, 63 character limit, non-empty sets) so this can fail for selectors that parsed fine.
func ToSelector(exprs selector.Expressions) (labels.Selector, error) {
	result := labels.NewSelector()

	for _, expr := range exprs {
		op, ok := selectionOps[expr.Operator]
		if !ok {
			return nil, eris.Errorf("unsupported operator %s in %s", expr.Operator, expr)
		}

		req, err := labels.NewRequirement(expr.Key, op, expr.Values)
		if err != nil {
			return nil, eris.Wrapf(err, "invalid expression %s", expr)
		}

		result = result.Add(*req)
	}

	return result, nil
}
