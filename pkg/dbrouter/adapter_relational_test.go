package dbrouter

import (
	"testing"

	sq "github.com/Masterminds/squirrel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterToSqlizer_FlatEquality(t *testing.T) {
	s := filterToSqlizer(map[string]any{"tenant_id": "acme"})
	sqlStr, args, err := s.ToSql()
	require.NoError(t, err)
	assert.Contains(t, sqlStr, "tenant_id")
	assert.Equal(t, []any{"acme"}, args)
}

func TestFilterToSqlizer_AndOfConjuncts(t *testing.T) {
	s := filterToSqlizer(map[string]any{
		"AND": []map[string]any{
			{"tenant_id": "acme"},
			{"status": "paid"},
		},
	})
	sqlStr, args, err := s.ToSql()
	require.NoError(t, err)
	assert.Contains(t, sqlStr, "AND")
	assert.ElementsMatch(t, []any{"acme", "paid"}, args)
}

func TestFilterToSqlizer_OrOfDisjuncts(t *testing.T) {
	s := filterToSqlizer(map[string]any{
		"OR": []map[string]any{
			{"status": "A"},
			{"status": "B"},
		},
	})
	sqlStr, _, err := s.ToSql()
	require.NoError(t, err)
	assert.Contains(t, sqlStr, "OR")
}

func TestFilterToSqlizer_EmptyReturnsNil(t *testing.T) {
	assert.Nil(t, filterToSqlizer(map[string]any{}))
	assert.Nil(t, filterToSqlizer(nil))
}

func TestFilterToSqlizer_WrappedANDWithNestedOR(t *testing.T) {
	s := filterToSqlizer(map[string]any{
		"AND": []map[string]any{
			{"tenant_id": "t1"},
			{"OR": []map[string]any{
				{"status": "A"},
				{"status": "B"},
			}},
		},
	})
	sqlStr, args, err := s.ToSql()
	require.NoError(t, err)
	assert.Contains(t, sqlStr, "AND")
	assert.Contains(t, sqlStr, "OR")
	assert.Len(t, args, 3)
}

func TestMapToColumns_PreservesPairing(t *testing.T) {
	cols, vals := mapToColumns(map[string]any{"amount": 10, "currency": "usd"})
	require.Len(t, cols, 2)
	require.Len(t, vals, 2)

	byCol := make(map[string]any, len(cols))
	for i, c := range cols {
		byCol[c] = vals[i]
	}
	assert.Equal(t, 10, byCol["amount"])
	assert.Equal(t, "usd", byCol["currency"])
}

func TestSquirrelBuilder_DollarPlaceholders(t *testing.T) {
	builder := sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	sqlStr, _, err := builder.Select("*").From("invoices").Where(sq.Eq{"tenant_id": "acme"}).ToSql()
	require.NoError(t, err)
	assert.Contains(t, sqlStr, "$1")
}
