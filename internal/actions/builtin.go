package actions

import "github.com/trendy-design/taskflow/internal/expressions"

// RegisterBuiltins registers every built-in action in reg.
func RegisterBuiltins(reg *Registry, set *expressions.Set, httpCfg HTTPConfig) error {
	all := make([]Action, 0, 12)
	all = append(all, EvalActions(set)...)
	all = append(all, StateActions()...)
	all = append(all, ControlActions()...)
	all = append(all, HTTPActions(httpCfg)...)

	return reg.Register(all...)
}

// NewBuiltinRegistry returns a Registry holding the built-in actions.
func NewBuiltinRegistry(set *expressions.Set, httpCfg HTTPConfig) (*Registry, error) {
	reg := NewRegistry()
	if err := RegisterBuiltins(reg, set, httpCfg); err != nil {
		return nil, err
	}
	return reg, nil
}
