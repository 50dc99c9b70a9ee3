// Package endpoint provides the registry of Exact Online endpoint definitions.
//
// Two static tables are embedded: the REST (OData) endpoints and the XML
// upload topics. They are merged once into a Registry, tagged with their
// transport kind, and never mutated afterwards.
package endpoint

import (
	"fmt"
	"strings"
)

// TransportKind tells which API family serves an endpoint.
type TransportKind string

const (
	KindREST TransportKind = "rest"
	KindXML  TransportKind = "xml"
)

// FieldType is the closed set of field types found in the endpoint tables.
type FieldType int

const (
	TypeUnknown FieldType = iota
	TypeString
	TypeGuid
	TypeDateTime
	TypeBoolean
	TypeInt16
	TypeInt32
	TypeInt64
	TypeDouble
	TypeDecimal
	TypeByte
	// TypeCollection marks structured XML payload fields (Array[Object]).
	TypeCollection
)

var fieldTypeNames = map[FieldType]string{
	TypeString:     "Edm.String",
	TypeGuid:       "Edm.Guid",
	TypeDateTime:   "Edm.DateTime",
	TypeBoolean:    "Edm.Boolean",
	TypeInt16:      "Edm.Int16",
	TypeInt32:      "Edm.Int32",
	TypeInt64:      "Edm.Int64",
	TypeDouble:     "Edm.Double",
	TypeDecimal:    "Edm.Decimal",
	TypeByte:       "Edm.Byte",
	TypeCollection: "Array[Object]",
}

// legacy aliases used by the first revisions of the tables
var fieldTypeAliases = map[string]FieldType{
	"string":   TypeString,
	"number":   TypeDouble,
	"boolean":  TypeBoolean,
	"guid":     TypeGuid,
	"datetime": TypeDateTime,
}

// ParseFieldType maps a table type name to a FieldType. Unrecognised names
// yield TypeUnknown and ok=false.
func ParseFieldType(name string) (FieldType, bool) {
	trimmed := strings.TrimSpace(name)
	for t, n := range fieldTypeNames {
		if strings.EqualFold(n, trimmed) {
			return t, true
		}
	}
	if t, ok := fieldTypeAliases[strings.ToLower(trimmed)]; ok {
		return t, true
	}
	return TypeUnknown, false
}

func (t FieldType) String() string {
	if n, ok := fieldTypeNames[t]; ok {
		return n
	}
	return "Unknown"
}

// IsNumeric reports whether values of this type are rendered unquoted.
func (t FieldType) IsNumeric() bool {
	switch t {
	case TypeInt16, TypeInt32, TypeInt64, TypeDouble, TypeDecimal, TypeByte:
		return true
	}
	return false
}

// FieldConfiguration describes one field of an endpoint.
type FieldConfiguration struct {
	Name      string
	Type      FieldType
	RawType   string // type name as written in the table
	Mandatory bool
	Filter    bool
	Webhook   bool
}

// EndpointConfiguration describes one (service, endpoint) pair.
type EndpointConfiguration struct {
	Service        string
	Endpoint       string
	URI            string // may contain {division}
	Doc            string
	Kind           TransportKind
	Methods        []string
	ParentResource string
	Webhook        bool
	Fields         []FieldConfiguration
}

// SupportsMethod reports whether the endpoint lists the HTTP verb.
func (c *EndpointConfiguration) SupportsMethod(method string) bool {
	for _, m := range c.Methods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

// Field returns the named field.
func (c *EndpointConfiguration) Field(name string) (FieldConfiguration, bool) {
	for _, f := range c.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldConfiguration{}, false
}

func (c *EndpointConfiguration) String() string {
	return fmt.Sprintf("%s/%s (%s)", c.Service, c.Endpoint, c.Kind)
}

// tableRecord is the on-disk shape of one table entry.
type tableRecord struct {
	Service        string       `json:"service"`
	Endpoint       string       `json:"endpoint"`
	URI            string       `json:"uri"`
	Doc            string       `json:"doc"`
	Webhook        bool         `json:"webhook"`
	Methods        []string     `json:"methods"`
	ParentResource string       `json:"parentResource,omitempty"`
	Fields         []tableField `json:"fields"`
}

type tableField struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Webhook   bool   `json:"webhook,omitempty"`
	Filter    *bool  `json:"filter,omitempty"`
	Mandatory bool   `json:"mandatory"`
}

// KeyField returns the name of the field identifying a record: ID when the
// endpoint has one, otherwise the first Guid field.
func (c *EndpointConfiguration) KeyField() string {
	if _, ok := c.Field("ID"); ok {
		return "ID"
	}
	for _, f := range c.Fields {
		if f.Type == TypeGuid {
			return f.Name
		}
	}
	return "ID"
}
