package utils

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgconn"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func TestErrorKinds(t *testing.T) {
	err := fmt.Errorf("error in run: %w", NewStoreError("apply assignments", "lineorder", errBoom))

	var storeErr *StoreError
	require.ErrorAs(t, err, &storeErr)
	require.Equal(t, "lineorder", storeErr.Relation)
	require.ErrorIs(t, err, errBoom)
	require.Equal(t, "error in run: store error in apply assignments for relation lineorder: boom", err.Error())

	var cfgErr *ConfigError
	require.False(t, errors.As(err, &cfgErr))

	require.Equal(t, "configuration error in build schema: boom", NewConfigError("build schema", "", errBoom).Error())
}

func TestWithRelation(t *testing.T) {
	err := WithRelation(NewStateError("assign row", "", errBoom), "customer")
	var stateErr *StateError
	require.ErrorAs(t, err, &stateErr)
	require.Equal(t, "customer", stateErr.Relation)

	// an existing relation is kept
	err = WithRelation(NewToolError("bulk load", "part", errBoom), "customer")
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	require.Equal(t, "part", toolErr.Relation)

	require.Equal(t, errBoom, WithRelation(errBoom, "customer"))
}

func TestIsRetryable(t *testing.T) {
	for _, tc := range []struct {
		err       error
		retryable bool
	}{
		{nil, false},
		{errBoom, true},
		{NewStoreError("scan", "lineorder", errBoom), true},
		{NewConfigError("build schema", "", errBoom), false},
		{NewStateError("assign row", "", errBoom), false},
		{PermError("nope"), false},
		{fmt.Errorf("wrapped: %w", context.Canceled), false},
		{&pgconn.PgError{Code: "40001"}, true},
		{&pgconn.PgError{Code: "08006"}, true},
		{&pgconn.PgError{Code: "42P01"}, false},
	} {
		require.Equal(t, tc.retryable, IsRetryable(tc.err), "%v", tc.err)
	}
}
