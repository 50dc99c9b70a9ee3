package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shunichi-ikebuchi/exact-online-connector/pkg/dispatch"
)

func TestParseFilter(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    dispatch.Filter
		wantErr bool
	}{
		{
			name: "single value",
			raw:  "Name:contains:Acme",
			want: dispatch.Filter{Field: "Name", Operator: "contains", Value: dispatch.FilterValue{Values: []string{"Acme"}}},
		},
		{
			name: "value with colons",
			raw:  "Modified:gt:2024-01-01T10:00:00",
			want: dispatch.Filter{Field: "Modified", Operator: "gt", Value: dispatch.FilterValue{Values: []string{"2024-01-01T10:00:00"}}},
		},
		{
			name: "default operator",
			raw:  "City::Delft",
			want: dispatch.Filter{Field: "City", Operator: "", Value: dispatch.FilterValue{Values: []string{"Delft"}}},
		},
		{
			name: "list",
			raw:  "City:eq:[Delft, Gouda]",
			want: dispatch.Filter{Field: "City", Operator: "eq", Value: dispatch.FilterValue{Values: []string{"Delft", "Gouda"}, IsArray: true}},
		},
		{
			name: "empty list",
			raw:  "City:eq:[]",
			want: dispatch.Filter{Field: "City", Operator: "eq", Value: dispatch.FilterValue{Values: []string{}, IsArray: true}},
		},
		{name: "missing parts", raw: "Name=Acme", wantErr: true},
		{name: "missing field", raw: ":eq:x", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseFilter(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestItemFromOptions(t *testing.T) {
	opts := itemOptions{
		id:          "x",
		limit:       5,
		conjunction: "or",
		filters:     []string{"Name:contains:Ac"},
		sets:        []string{"Name=Acme", "Remarks=a=b"},
	}

	item, err := opts.item()
	require.NoError(t, err)
	assert.Equal(t, "x", item.ID)
	assert.Equal(t, 5, item.Limit)
	assert.Equal(t, "or", item.Conjunction)
	require.Len(t, item.Filters, 1)
	require.Len(t, item.Data, 2)
	assert.Equal(t, "Remarks", item.Data[1].Name)
	assert.Equal(t, "a=b", string(item.Data[1].Value))
	assert.False(t, item.UseManualBody)
}

func TestItemManualBody(t *testing.T) {
	bodyFile := filepath.Join(t.TempDir(), "body.json")
	require.NoError(t, os.WriteFile(bodyFile, []byte(`{"Name":"Acme"}`), 0600))

	item, err := itemOptions{bodyFile: bodyFile}.item()
	require.NoError(t, err)
	assert.True(t, item.UseManualBody)
	assert.JSONEq(t, `{"Name":"Acme"}`, item.ManualBody)

	_, err = itemOptions{body: `{}`, sets: []string{"Name=x"}}.item()
	assert.Error(t, err)

	_, err = itemOptions{sets: []string{"=x"}}.item()
	assert.Error(t, err)
}
