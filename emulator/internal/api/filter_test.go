package api

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shunichi-ikebuchi/exact-online-connector/emulator/internal/store"
)

func TestParseFilter(t *testing.T) {
	rec := store.Record{
		"ID":         "8F2D6C1E-3B4A-4C5D-9E8F-0A1B2C3D4E5F",
		"Name":       "Acme O'Brien",
		"City":       "Delft",
		"IsSupplier": true,
		"Credit":     json.Number("2500.5"),
	}

	tests := []struct {
		expr string
		want bool
	}{
		{"", true},
		{"1 eq 0", false},
		{"ID eq guid'8f2d6c1e-3b4a-4c5d-9e8f-0a1b2c3d4e5f'", true},
		{"substringof('o''brien', Name)", true},
		{"substringof('Globex', Name)", false},
		{"City eq 'Delft' and IsSupplier eq true", true},
		{"City eq 'Gouda' and IsSupplier eq true", false},
		{"(City eq 'Gouda' or City eq 'Delft')", true},
		{"substringof('Ac', Name) or (City eq 'Gouda' or City eq 'Leiden')", true},
		{"Credit gt 1000", true},
		{"Credit le 2500", false},
		{"City ne 'Delft'", false},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			pred, err := parseFilter(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, pred(rec))
		})
	}
}

func TestParseFilterUnsupported(t *testing.T) {
	for _, expr := range []string{"startswith(Name, 'A')", "Name eq Acme"} {
		_, err := parseFilter(expr)
		assert.Error(t, err, expr)
	}
}
