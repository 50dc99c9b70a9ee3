package odata

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shunichi-ikebuchi/exact-online-connector/pkg/apierror"
	"github.com/shunichi-ikebuchi/exact-online-connector/pkg/endpoint"
)

const accountsTable = `[{
	"service": "crm",
	"endpoint": "Accounts",
	"uri": "/api/v1/{division}/crm/Accounts",
	"methods": ["GET"],
	"fields": [
		{"name": "ID", "type": "Edm.Guid"},
		{"name": "Name", "type": "Edm.String"},
		{"name": "Modified", "type": "Edm.DateTime"},
		{"name": "Blocked", "type": "Edm.Boolean"},
		{"name": "Status", "type": "Edm.Int16"},
		{"name": "Division", "type": "Edm.Int32"},
		{"name": "Credit", "type": "Edm.Double"},
		{"name": "Level", "type": "Edm.Byte"},
		{"name": "Shape", "type": "Edm.Geography"},
		{"name": "Notes", "type": "Edm.String", "filter": false}
	]
}]`

const (
	guidA = "5f3b7f0e-8c1a-4e5b-9d2f-0a1b2c3d4e5f"
	guidB = "0d9c8b7a-6f5e-4d3c-2b1a-0f9e8d7c6b5a"
)

func setup(t *testing.T) (*Builder, *endpoint.EndpointConfiguration) {
	t.Helper()
	reg, err := endpoint.Load(strings.NewReader(accountsTable), nil)
	require.NoError(t, err)
	cfg, err := reg.Lookup("crm", "Accounts")
	require.NoError(t, err)
	return NewBuilder(reg, nil), cfg
}

func TestBuildFilterClause(t *testing.T) {
	b, cfg := setup(t)

	tests := []struct {
		name  string
		descs []FilterDescriptor
		conj  Conjunction
		want  string
	}{
		{"string eq", []FilterDescriptor{Single("Name", OpEq, "Acme")}, And, "Name eq 'Acme'"},
		{"string contains", []FilterDescriptor{Single("Name", OpContains, "cme")}, And, "substringof('cme', Name)"},
		{"string quote escaped", []FilterDescriptor{Single("Name", OpEq, "O'Neil")}, And, "Name eq 'O''Neil'"},
		{"guid eq", []FilterDescriptor{Single("ID", OpEq, guidA)}, And, "ID eq guid'" + guidA + "'"},
		{"guid ne", []FilterDescriptor{Single("ID", OpNe, strings.ToUpper(guidA))}, And, "ID ne guid'" + guidA + "'"},
		{"datetime", []FilterDescriptor{Single("Modified", OpGe, "2024-01-01T00:00:00")}, And, "Modified ge datetime'2024-01-01T00:00:00'"},
		{"date only", []FilterDescriptor{Single("Modified", OpLt, " 2024-02-29 ")}, And, "Modified lt datetime'2024-02-29'"},
		{"datetime with fraction and zone", []FilterDescriptor{Single("Modified", OpGt, "2024-01-01T08:30:00.123+01:00")}, And, "Modified gt datetime'2024-01-01T08:30:00.123+01:00'"},
		{"boolean", []FilterDescriptor{Single("Blocked", OpEq, "TRUE")}, And, "Blocked eq true"},
		{"int16", []FilterDescriptor{Single("Status", OpLt, "3")}, And, "Status lt 3"},
		{"double", []FilterDescriptor{Single("Credit", OpGt, "1500.50")}, And, "Credit gt 1500.5"},
		{"byte", []FilterDescriptor{Single("Level", OpLe, "7")}, And, "Level le 7"},
		{
			"two clauses joined with or",
			[]FilterDescriptor{Single("Name", OpEq, "A"), Single("Status", OpEq, "1")},
			Or,
			"Name eq 'A' or Status eq 1",
		},
		{
			"array eq parenthesized",
			[]FilterDescriptor{In("ID", guidA, guidB), Single("Blocked", OpEq, "false")},
			And,
			"(ID eq guid'" + guidA + "' or ID eq guid'" + guidB + "') and Blocked eq false",
		},
		{"array with one value", []FilterDescriptor{In("Name", "Acme")}, And, "Name eq 'Acme'"},
		{"array of numbers", []FilterDescriptor{In("Division", "1", "2")}, And, "(Division eq 1 or Division eq 2)"},
		{"empty array matches nothing", []FilterDescriptor{In("Name")}, And, "1 eq 0"},
		{"no descriptors", nil, And, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := b.BuildFilterClause(cfg, tt.descs, tt.conj)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildFilterClauseErrors(t *testing.T) {
	b, cfg := setup(t)

	tests := []struct {
		name      string
		desc      FilterDescriptor
		wantField string
		wantKind  string
	}{
		{"unknown field", Single("Nope", OpEq, "x"), "Nope", "configuration"},
		{"guid with gt", Single("ID", OpGt, guidA), "ID", "configuration"},
		{"contains on number", Single("Status", OpContains, "1"), "Status", "configuration"},
		{"array with ne", FilterDescriptor{Field: "Name", Operator: OpNe, Values: []string{"a"}, IsArray: true}, "Name", "configuration"},
		{"unknown type rejected", Single("Shape", OpEq, "x"), "Shape", "configuration"},
		{"bad guid", Single("ID", OpEq, "not-a-guid"), "ID", "validation"},
		{"bad boolean", Single("Blocked", OpEq, "yes"), "Blocked", "validation"},
		{"int16 overflow", Single("Status", OpEq, "70000"), "Status", "validation"},
		{"bad number", Single("Credit", OpEq, "12,5"), "Credit", "validation"},
		{"datetime with quote", Single("Modified", OpGt, "2024-01-01' or Name ne '"), "Modified", "validation"},
		{"not a datetime", Single("Modified", OpGt, "not a date"), "Modified", "validation"},
		{"impossible date", Single("Modified", OpEq, "2024-02-30"), "Modified", "validation"},
		{"field not filterable", Single("Notes", OpEq, "x"), "Notes", "configuration"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.BuildFilterClause(cfg, []FilterDescriptor{tt.desc}, And)
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, apierror.Kind(err))
			assert.Contains(t, err.Error(), tt.wantField)
		})
	}
}

func TestDateTimeCannotRewriteFilter(t *testing.T) {
	b, cfg := setup(t)

	got, err := b.BuildFilterClause(cfg, []FilterDescriptor{
		Single("Modified", OpGt, "2024-01-01' or Name ne '"),
		Single("Blocked", OpEq, "false"),
	}, And)

	var valErr *apierror.ValidationError
	require.True(t, errors.As(err, &valErr), "expected ValidationError, got %v", err)
	assert.Equal(t, "Modified", valErr.Field)
	assert.Empty(t, got)
}

func TestFieldNotFilterable(t *testing.T) {
	b, cfg := setup(t)

	_, err := b.BuildFilterClause(cfg, []FilterDescriptor{Single("Notes", OpEq, "x")}, And)

	var cfgErr *apierror.ConfigurationError
	require.True(t, errors.As(err, &cfgErr), "expected ConfigurationError, got %v", err)
	assert.Equal(t, "crm", cfgErr.Service)
	assert.Equal(t, "Accounts", cfgErr.Endpoint)
	assert.Equal(t, "Notes", cfgErr.Field)

	// Selecting the field stays allowed.
	sel, err := SelectList(cfg, []string{"Notes"}, false)
	require.NoError(t, err)
	assert.Equal(t, "Notes", sel)
}

func TestLenientUnknownType(t *testing.T) {
	b, cfg := setup(t)
	b.Lenient = true

	got, err := b.BuildFilterClause(cfg, []FilterDescriptor{Single("Shape", OpEq, "POINT")}, And)
	require.NoError(t, err)
	assert.Equal(t, "Shape eq 'POINT'", got)
}

func TestIDFilter(t *testing.T) {
	got, err := IDFilter("ID", guidA)
	require.NoError(t, err)
	assert.Equal(t, "ID eq guid'"+guidA+"'", got)

	_, err = IDFilter("ID", "")
	var valErr *apierror.ValidationError
	assert.True(t, errors.As(err, &valErr))
}

func TestSelectList(t *testing.T) {
	_, cfg := setup(t)

	got, err := SelectList(cfg, []string{"ID", "Name"}, false)
	require.NoError(t, err)
	assert.Equal(t, "ID,Name", got)

	got, err = SelectList(cfg, []string{"Shape", "Level", "Credit", "Division", "Status", "Blocked", "Modified", "Notes"}, true)
	require.NoError(t, err)
	assert.Equal(t, "ID,Name", got)

	_, err = SelectList(cfg, []string{"Missing"}, false)
	assert.Error(t, err)
}

func TestOptionsValues(t *testing.T) {
	v := Options{Filter: "Name eq 'A'", Select: "ID", Top: 1}.Values()
	assert.Equal(t, "Name eq 'A'", v.Get(ParamFilter))
	assert.Equal(t, "ID", v.Get(ParamSelect))
	assert.Equal(t, "1", v.Get(ParamTop))

	assert.Empty(t, Options{}.Values())
}

func TestParseOperatorAndConjunction(t *testing.T) {
	op, err := ParseOperator("GE")
	require.NoError(t, err)
	assert.Equal(t, OpGe, op)

	_, err = ParseOperator("like")
	assert.Error(t, err)

	conj, err := ParseConjunction("")
	require.NoError(t, err)
	assert.Equal(t, And, conj)

	_, err = ParseConjunction("xor")
	assert.Error(t, err)
}
