package endpoint

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shunichi-ikebuchi/exact-online-connector/pkg/apierror"
)

const testREST = `[
	{
		"service": "crm",
		"endpoint": "Accounts",
		"uri": "/api/v1/{division}/crm/Accounts",
		"methods": ["GET", "POST", "PUT", "DELETE"],
		"fields": [
			{"name": "ID", "type": "Edm.Guid", "mandatory": false},
			{"name": "Name", "type": "Edm.String", "mandatory": true},
			{"name": "Code", "type": "string", "mandatory": false},
			{"name": "Weird", "type": "Edm.Geography", "mandatory": false},
			{"name": "Created", "type": "Edm.DateTime", "mandatory": false}
		]
	},
	{
		"service": "financialtransaction",
		"endpoint": "BankEntryLines",
		"uri": "/api/v1/{division}/financialtransaction/BankEntryLines",
		"methods": ["GET"],
		"parentResource": "BankEntries",
		"fields": [
			{"name": "EntryID", "type": "Edm.Guid", "mandatory": true, "filter": false}
		]
	}
]`

const testXML = `[
	{
		"service": "financial",
		"endpoint": "FFMatch",
		"uri": "/docs/XMLUpload.aspx?Topic=FFMatch&_Division_={division}",
		"methods": ["POST"],
		"fields": [{"name": "MatchSets", "type": "Array[Object]", "mandatory": true}]
	}
]`

func loadTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := Load(strings.NewReader(testREST), strings.NewReader(testXML))
	require.NoError(t, err)
	return r
}

func TestLookup(t *testing.T) {
	r := loadTestRegistry(t)

	tests := []struct {
		name     string
		service  string
		endpoint string
		wantErr  bool
	}{
		{"exact match", "crm", "Accounts", false},
		{"service is case-insensitive", "CRM", "Accounts", false},
		{"endpoint is case-sensitive", "crm", "accounts", true},
		{"unknown pair", "crm", "Contacts", true},
		{"xml endpoint", "Financial", "FFMatch", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := r.Lookup(tt.service, tt.endpoint)
			if tt.wantErr {
				require.Error(t, err)
				assert.Nil(t, cfg)
				var cfgErr *apierror.ConfigurationError
				assert.True(t, errors.As(err, &cfgErr), "expected ConfigurationError, got %T", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.endpoint, cfg.Endpoint)
		})
	}
}

func TestLoadTagsTransportKind(t *testing.T) {
	r := loadTestRegistry(t)

	rest, err := r.Lookup("crm", "Accounts")
	require.NoError(t, err)
	assert.Equal(t, KindREST, rest.Kind)

	xml, err := r.Lookup("financial", "FFMatch")
	require.NoError(t, err)
	assert.Equal(t, KindXML, xml.Kind)
	assert.Equal(t, 3, r.Len())
}

func TestLoadRejectsDuplicates(t *testing.T) {
	dup := `[{"service":"crm","endpoint":"Accounts","uri":"/a","methods":["GET"],"fields":[]}]`
	_, err := Load(strings.NewReader(dup), strings.NewReader(strings.Replace(dup, "crm", "CRM", 1)))
	require.Error(t, err)

	dupField := `[{"service":"crm","endpoint":"Accounts","uri":"/a","methods":["GET"],
		"fields":[{"name":"ID","type":"Edm.Guid"},{"name":"ID","type":"Edm.String"}]}]`
	_, err = Load(strings.NewReader(dupField), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "'ID'")
}

func TestFieldQueries(t *testing.T) {
	r := loadTestRegistry(t)
	cfg, err := r.Lookup("crm", "Accounts")
	require.NoError(t, err)

	assert.Equal(t, []string{"ID", "Name", "Code", "Weird", "Created"}, r.Fields(cfg))
	assert.Equal(t, []string{"Name"}, r.MandatoryFields(cfg))
	assert.Equal(t, []string{"ID", "Name", "Code", "Weird"}, r.SettableFields(cfg))

	ft, err := r.FieldType(cfg, "ID")
	require.NoError(t, err)
	assert.Equal(t, TypeGuid, ft)

	ft, err = r.FieldType(cfg, "Code")
	require.NoError(t, err)
	assert.Equal(t, TypeString, ft, "legacy alias should map to Edm.String")

	ft, err = r.FieldType(cfg, "Weird")
	require.NoError(t, err)
	assert.Equal(t, TypeUnknown, ft)

	_, err = r.FieldType(cfg, "Missing")
	var cfgErr *apierror.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "Missing", cfgErr.Field)
}

func TestOperations(t *testing.T) {
	r := loadTestRegistry(t)

	accounts, _ := r.Lookup("crm", "Accounts")
	assert.Equal(t, []string{"get", "post", "put", "delete", "getAll"}, r.Operations(accounts))

	lines, _ := r.Lookup("financialtransaction", "BankEntryLines")
	assert.Equal(t, []string{"get", "getAll", "getAllViaParentId"}, r.Operations(lines))
	assert.Empty(t, r.FilterableFields(lines))
	assert.Equal(t, "EntryID", lines.KeyField())

	match, _ := r.Lookup("financial", "FFMatch")
	assert.Equal(t, []string{"post"}, r.Operations(match))
}

func TestResolveURI(t *testing.T) {
	r := loadTestRegistry(t)
	cfg, _ := r.Lookup("financial", "FFMatch")
	assert.Equal(t, "/docs/XMLUpload.aspx?Topic=FFMatch&_Division_=12345", r.ResolveURI(cfg, "12345"))
}

func TestServicesAndResources(t *testing.T) {
	r := loadTestRegistry(t)
	assert.Equal(t, []string{"crm", "financial", "financialtransaction"}, r.Services())
	assert.Equal(t, []string{"Accounts"}, r.Resources("CRM"))
}

func TestLoadEmbedded(t *testing.T) {
	r, err := LoadEmbedded()
	require.NoError(t, err)

	cfg, err := r.Lookup("crm", "Accounts")
	require.NoError(t, err)
	assert.Contains(t, r.MandatoryFields(cfg), "Name")

	match, err := r.Lookup("financial", "FFMatch")
	require.NoError(t, err)
	assert.Equal(t, KindXML, match.Kind)

	for _, cfg := range r.configs {
		for _, f := range cfg.Fields {
			assert.NotEqual(t, TypeUnknown, f.Type, "%s field %s has unknown type %q", cfg, f.Name, f.RawType)
		}
	}
}

func TestParseFieldType(t *testing.T) {
	tests := []struct {
		in   string
		want FieldType
		ok   bool
	}{
		{"Edm.String", TypeString, true},
		{"edm.guid", TypeGuid, true},
		{"Edm.Decimal", TypeDecimal, true},
		{"number", TypeDouble, true},
		{"boolean", TypeBoolean, true},
		{"Array[Object]", TypeCollection, true},
		{"Edm.Binary", TypeUnknown, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseFieldType(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ok, ok)
		})
	}
}
