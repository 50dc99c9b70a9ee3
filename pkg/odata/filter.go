// Package odata builds the OData v3 query options ($filter, $select) sent to
// the Exact Online REST API.
//
// Only the subset of the query language the connector needs is supported:
// the comparison operators, substringof for contains, and literal rendering
// for the Edm types listed in the endpoint tables.
package odata

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/shunichi-ikebuchi/exact-online-connector/pkg/apierror"
	"github.com/shunichi-ikebuchi/exact-online-connector/pkg/endpoint"
)

// Operator is a filter comparison operator.
type Operator string

const (
	OpEq       Operator = "eq"
	OpNe       Operator = "ne"
	OpGt       Operator = "gt"
	OpGe       Operator = "ge"
	OpLt       Operator = "lt"
	OpLe       Operator = "le"
	OpContains Operator = "contains"
)

// ParseOperator validates an operator name.
func ParseOperator(s string) (Operator, error) {
	op := Operator(strings.ToLower(strings.TrimSpace(s)))
	switch op {
	case OpEq, OpNe, OpGt, OpGe, OpLt, OpLe, OpContains:
		return op, nil
	case "":
		return OpEq, nil
	}
	return "", apierror.Validationf("operator", "unsupported operator '%s'", s)
}

// Conjunction joins the clauses of one filter.
type Conjunction string

const (
	And Conjunction = "and"
	Or  Conjunction = "or"
)

// ParseConjunction validates a conjunction name. Empty means and.
func ParseConjunction(s string) (Conjunction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "and":
		return And, nil
	case "or":
		return Or, nil
	}
	return "", apierror.Validationf("conjunction", "unsupported conjunction '%s'", s)
}

// FilterDescriptor is one caller-supplied filter condition. Values holds a
// single element unless IsArray is set.
type FilterDescriptor struct {
	Field    string
	Operator Operator
	Values   []string
	IsArray  bool
}

// Single returns a descriptor comparing a field with one value.
func Single(field string, op Operator, value string) FilterDescriptor {
	return FilterDescriptor{Field: field, Operator: op, Values: []string{value}}
}

// In returns an eq descriptor matching any of values.
func In(field string, values ...string) FilterDescriptor {
	return FilterDescriptor{Field: field, Operator: OpEq, Values: values, IsArray: true}
}

// matchNothing is a clause no row satisfies.
const matchNothing = "1 eq 0"

// Builder renders filter descriptors against an endpoint's field metadata.
type Builder struct {
	registry *endpoint.Registry
	logger   *slog.Logger
	// Lenient renders fields of unknown type as quoted strings instead of
	// rejecting them.
	Lenient bool
}

// NewBuilder creates a Builder. A nil logger uses slog.Default().
func NewBuilder(registry *endpoint.Registry, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{registry: registry, logger: logger}
}

// BuildFilterClause renders descriptors joined by conj. An empty descriptor
// list yields an empty string.
func (b *Builder) BuildFilterClause(cfg *endpoint.EndpointConfiguration, descriptors []FilterDescriptor, conj Conjunction) (string, error) {
	if conj == "" {
		conj = And
	}

	clauses := make([]string, 0, len(descriptors))
	for _, d := range descriptors {
		clause, err := b.buildClause(cfg, d)
		if err != nil {
			return "", err
		}
		clauses = append(clauses, clause)
	}

	return strings.Join(clauses, " "+string(conj)+" "), nil
}

func (b *Builder) buildClause(cfg *endpoint.EndpointConfiguration, d FilterDescriptor) (string, error) {
	fieldType, err := b.registry.FieldType(cfg, d.Field)
	if err != nil {
		return "", err
	}
	if f, ok := cfg.Field(d.Field); ok && !f.Filter {
		return "", configErr(cfg, d.Field, "field cannot be used in $filter")
	}

	op := d.Operator
	if op == "" {
		op = OpEq
	}

	if d.IsArray {
		if op != OpEq {
			return "", configErr(cfg, d.Field, "array values are only supported with the 'eq' operator, got '%s'", op)
		}
		if len(d.Values) == 0 {
			b.logger.Warn("empty array filter matches no records", "endpoint", cfg.Endpoint, "field", d.Field)
			return matchNothing, nil
		}
		parts := make([]string, 0, len(d.Values))
		for _, v := range d.Values {
			part, err := b.comparison(cfg, d.Field, fieldType, OpEq, v)
			if err != nil {
				return "", err
			}
			parts = append(parts, part)
		}
		if len(parts) == 1 {
			return parts[0], nil
		}
		return "(" + strings.Join(parts, " or ") + ")", nil
	}

	if len(d.Values) != 1 {
		return "", configErr(cfg, d.Field, "expected a single value, got %d", len(d.Values))
	}
	return b.comparison(cfg, d.Field, fieldType, op, d.Values[0])
}

func (b *Builder) comparison(cfg *endpoint.EndpointConfiguration, field string, ft endpoint.FieldType, op Operator, value string) (string, error) {
	if op == OpContains && ft != endpoint.TypeString {
		if ft == endpoint.TypeUnknown && b.Lenient {
			b.logger.Warn("contains on field of unknown type, rendering as string", "endpoint", cfg.Endpoint, "field", field)
			return fmt.Sprintf("substringof(%s, %s)", quote(value), field), nil
		}
		return "", configErr(cfg, field, "operator 'contains' is only supported on Edm.String fields, field is %s", ft)
	}

	switch ft {
	case endpoint.TypeString:
		if op == OpContains {
			return fmt.Sprintf("substringof(%s, %s)", quote(value), field), nil
		}
		return fmt.Sprintf("%s %s %s", field, op, quote(value)), nil

	case endpoint.TypeGuid:
		if op != OpEq && op != OpNe {
			return "", configErr(cfg, field, "operator '%s' is not supported on Edm.Guid fields, use 'eq' or 'ne'", op)
		}
		id, err := ParseGuid(field, value)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s %s guid'%s'", field, op, id), nil

	case endpoint.TypeDateTime:
		v, err := ParseDateTime(field, value)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s %s datetime'%s'", field, op, v), nil

	case endpoint.TypeBoolean:
		v, err := ParseBool(field, value)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s %s %t", field, op, v), nil

	case endpoint.TypeInt16, endpoint.TypeInt32, endpoint.TypeInt64, endpoint.TypeByte,
		endpoint.TypeDouble, endpoint.TypeDecimal:
		lit, err := NumericLiteral(field, ft, value)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s %s %s", field, op, lit), nil

	case endpoint.TypeCollection:
		return "", configErr(cfg, field, "fields of type %s cannot be filtered", ft)
	}

	if !b.Lenient {
		return "", configErr(cfg, field, "unsupported field type for filtering")
	}
	b.logger.Warn("unsupported field type, rendering filter value as string", "endpoint", cfg.Endpoint, "field", field)
	return fmt.Sprintf("%s %s %s", field, op, quote(value)), nil
}

// IDFilter returns the clause selecting a record by its key.
func IDFilter(keyField, id string) (string, error) {
	guid, err := ParseGuid(keyField, id)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s eq guid'%s'", keyField, guid), nil
}

// ParseGuid validates a Guid value and returns its canonical form.
func ParseGuid(field, value string) (string, error) {
	id, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return "", &apierror.ValidationError{Field: field, Message: fmt.Sprintf("invalid guid '%s'", value), Err: err}
	}
	return id.String(), nil
}

// dateTimeLayouts are the Edm.DateTime forms accepted from callers.
var dateTimeLayouts = []string{
	"2006-01-02",
	"2006-01-02T15:04",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999999",
	time.RFC3339Nano,
}

// ParseDateTime validates a date or date-time value and returns it trimmed.
// The value keeps the caller's form so no precision or zone is lost.
func ParseDateTime(field, value string) (string, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return "", apierror.Validationf(field, "datetime value is empty")
	}
	for _, layout := range dateTimeLayouts {
		if _, err := time.Parse(layout, v); err == nil {
			return v, nil
		}
	}
	return "", apierror.Validationf(field, "invalid datetime '%s', expected yyyy-mm-dd or yyyy-mm-ddThh:mm:ss", value)
}

// ParseBool accepts true or false in any letter case.
func ParseBool(field, value string) (bool, error) {
	v := strings.TrimSpace(value)
	switch {
	case strings.EqualFold(v, "true"):
		return true, nil
	case strings.EqualFold(v, "false"):
		return false, nil
	}
	return false, apierror.Validationf(field, "invalid boolean '%s'", value)
}

// NumericLiteral validates value for a numeric field type and returns the
// literal to send.
func NumericLiteral(field string, ft endpoint.FieldType, value string) (string, error) {
	v := strings.TrimSpace(value)
	switch ft {
	case endpoint.TypeInt16, endpoint.TypeInt32, endpoint.TypeInt64:
		bits := map[endpoint.FieldType]int{endpoint.TypeInt16: 16, endpoint.TypeInt32: 32, endpoint.TypeInt64: 64}[ft]
		n, err := strconv.ParseInt(v, 10, bits)
		if err != nil {
			return "", &apierror.ValidationError{Field: field, Message: fmt.Sprintf("invalid %s value '%s'", ft, value), Err: err}
		}
		return strconv.FormatInt(n, 10), nil
	case endpoint.TypeByte:
		n, err := strconv.ParseUint(v, 10, 8)
		if err != nil {
			return "", &apierror.ValidationError{Field: field, Message: fmt.Sprintf("invalid %s value '%s'", ft, value), Err: err}
		}
		return strconv.FormatUint(n, 10), nil
	case endpoint.TypeDouble, endpoint.TypeDecimal:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return "", &apierror.ValidationError{Field: field, Message: fmt.Sprintf("invalid %s value '%s'", ft, value), Err: err}
		}
		return d.String(), nil
	}
	return "", apierror.Validationf(field, "%s is not a numeric type", ft)
}

// quote renders an OData string literal, doubling embedded quotes.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func configErr(cfg *endpoint.EndpointConfiguration, field, format string, args ...any) error {
	err := apierror.Configurationf(field, format, args...)
	err.Service = cfg.Service
	err.Endpoint = cfg.Endpoint
	return err
}
