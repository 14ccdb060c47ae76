package utils

import (
	"errors"
	"fmt"
)

type PermError string

func (e PermError) Error() string {
	return string(e)
}

func (e PermError) IsPermanent() bool {
	return true
}

type (
	// ConfigError aborts a run before any partition id is emitted.
	ConfigError struct {
		Step     string
		Relation string
		Err      error
	}

	// ToolError is a failing or unreadable external subprocess (graph partitioner, bulk loader).
	ToolError struct {
		Step     string
		Relation string
		Err      error
	}

	// StoreError is a failed query or update against the relational store.
	StoreError struct {
		Step     string
		Relation string
		Err      error
	}

	// StateError is a lookup against state that was never registered.
	StateError struct {
		Step     string
		Relation string
		Err      error
	}
)

func describe(kind, step, relation string, err error) string {
	if relation == "" {
		return fmt.Sprintf("%s in %s: %s", kind, step, err)
	}
	return fmt.Sprintf("%s in %s for relation %s: %s", kind, step, relation, err)
}

func NewConfigError(step, relation string, err error) error {
	return &ConfigError{Step: step, Relation: relation, Err: err}
}

func (e *ConfigError) Error() string {
	return describe("configuration error", e.Step, e.Relation, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

func (e *ConfigError) IsPermanent() bool { return true }

func NewToolError(step, relation string, err error) error {
	return &ToolError{Step: step, Relation: relation, Err: err}
}

func (e *ToolError) Error() string {
	return describe("external tool failure", e.Step, e.Relation, e.Err)
}

func (e *ToolError) Unwrap() error { return e.Err }

func NewStoreError(step, relation string, err error) error {
	return &StoreError{Step: step, Relation: relation, Err: err}
}

func (e *StoreError) Error() string {
	return describe("store error", e.Step, e.Relation, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func NewStateError(step, relation string, err error) error {
	return &StateError{Step: step, Relation: relation, Err: err}
}

func (e *StateError) Error() string {
	return describe("state invariant violation", e.Step, e.Relation, e.Err)
}

func (e *StateError) Unwrap() error { return e.Err }

func (e *StateError) IsPermanent() bool { return true }

// WithRelation fills in the relation of a typed run error that does not carry one yet.
func WithRelation(err error, relation string) error {
	var (
		cfgErr   *ConfigError
		toolErr  *ToolError
		storeErr *StoreError
		stateErr *StateError
	)
	switch {
	case errors.As(err, &cfgErr):
		if cfgErr.Relation == "" {
			cfgErr.Relation = relation
		}
	case errors.As(err, &toolErr):
		if toolErr.Relation == "" {
			toolErr.Relation = relation
		}
	case errors.As(err, &storeErr):
		if storeErr.Relation == "" {
			storeErr.Relation = relation
		}
	case errors.As(err, &stateErr):
		if stateErr.Relation == "" {
			stateErr.Relation = relation
		}
	}
	return err
}
