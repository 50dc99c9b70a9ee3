package endpoint

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/shunichi-ikebuchi/exact-online-connector/pkg/apierror"
)

//go:embed tables/rest.json tables/xml.json
var tables embed.FS

// ReadOnlyFields are generated by Exact Online and cannot be set by callers.
var ReadOnlyFields = []string{
	"Created",
	"Creator",
	"CreatorFullName",
	"Modified",
	"Modifier",
	"ModifierFullName",
}

// Registry holds the merged endpoint tables. It is immutable after Load.
type Registry struct {
	configs []*EndpointConfiguration
	byKey   map[string]*EndpointConfiguration
}

// LoadEmbedded builds a Registry from the tables compiled into the binary.
func LoadEmbedded() (*Registry, error) {
	rest, err := tables.ReadFile("tables/rest.json")
	if err != nil {
		return nil, fmt.Errorf("failed to read REST endpoint table: %w", err)
	}
	xml, err := tables.ReadFile("tables/xml.json")
	if err != nil {
		return nil, fmt.Errorf("failed to read XML endpoint table: %w", err)
	}
	return Load(bytes.NewReader(rest), bytes.NewReader(xml))
}

// Load merges a REST table and an XML table into a Registry. Either reader
// may be nil.
func Load(rest, xml io.Reader) (*Registry, error) {
	r := &Registry{byKey: make(map[string]*EndpointConfiguration)}

	sources := []struct {
		kind   TransportKind
		reader io.Reader
	}{
		{KindREST, rest},
		{KindXML, xml},
	}
	for _, src := range sources {
		if src.reader == nil {
			continue
		}
		var records []tableRecord
		if err := json.NewDecoder(src.reader).Decode(&records); err != nil {
			return nil, fmt.Errorf("failed to parse %s endpoint table: %w", src.kind, err)
		}
		for _, rec := range records {
			cfg, err := newConfiguration(rec, src.kind)
			if err != nil {
				return nil, err
			}
			key := registryKey(cfg.Service, cfg.Endpoint)
			if _, dup := r.byKey[key]; dup {
				return nil, &apierror.ConfigurationError{
					Service:  cfg.Service,
					Endpoint: cfg.Endpoint,
					Message:  "endpoint defined more than once",
				}
			}
			r.byKey[key] = cfg
			r.configs = append(r.configs, cfg)
		}
	}

	return r, nil
}

func newConfiguration(rec tableRecord, kind TransportKind) (*EndpointConfiguration, error) {
	if rec.Service == "" || rec.Endpoint == "" {
		return nil, &apierror.ConfigurationError{
			Service:  rec.Service,
			Endpoint: rec.Endpoint,
			Message:  "service and endpoint are required",
		}
	}

	cfg := &EndpointConfiguration{
		Service:        rec.Service,
		Endpoint:       rec.Endpoint,
		URI:            rec.URI,
		Doc:            rec.Doc,
		Kind:           kind,
		Methods:        append([]string(nil), rec.Methods...),
		ParentResource: rec.ParentResource,
		Webhook:        rec.Webhook,
	}

	seen := make(map[string]bool, len(rec.Fields))
	for _, f := range rec.Fields {
		if seen[f.Name] {
			return nil, &apierror.ConfigurationError{
				Service:  rec.Service,
				Endpoint: rec.Endpoint,
				Field:    f.Name,
				Message:  "field defined more than once",
			}
		}
		seen[f.Name] = true

		// An unrecognised type stays TypeUnknown; consumers decide whether to reject it.
		ft, _ := ParseFieldType(f.Type)
		filter := true
		if f.Filter != nil {
			filter = *f.Filter
		}
		cfg.Fields = append(cfg.Fields, FieldConfiguration{
			Name:      f.Name,
			Type:      ft,
			RawType:   f.Type,
			Mandatory: f.Mandatory,
			Filter:    filter,
			Webhook:   f.Webhook,
		})
	}

	return cfg, nil
}

func registryKey(service, endpoint string) string {
	return strings.ToLower(service) + "\x00" + endpoint
}

// Lookup finds an endpoint. service matches case-insensitively, endpoint
// exactly.
func (r *Registry) Lookup(service, endpoint string) (*EndpointConfiguration, error) {
	cfg, ok := r.byKey[registryKey(service, endpoint)]
	if !ok {
		return nil, &apierror.ConfigurationError{
			Service:  service,
			Endpoint: endpoint,
			Message:  fmt.Sprintf("configuration not found for service '%s' and resource '%s'", service, endpoint),
		}
	}
	return cfg, nil
}

// Fields returns the names of the endpoint's fields in table order.
func (r *Registry) Fields(cfg *EndpointConfiguration) []string {
	names := make([]string, 0, len(cfg.Fields))
	for _, f := range cfg.Fields {
		names = append(names, f.Name)
	}
	return names
}

// MandatoryFields returns the names of fields that must be present on create.
func (r *Registry) MandatoryFields(cfg *EndpointConfiguration) []string {
	var names []string
	for _, f := range cfg.Fields {
		if f.Mandatory {
			names = append(names, f.Name)
		}
	}
	return names
}

// FilterableFields returns the names of fields usable in $filter.
func (r *Registry) FilterableFields(cfg *EndpointConfiguration) []string {
	var names []string
	for _, f := range cfg.Fields {
		if f.Filter {
			names = append(names, f.Name)
		}
	}
	return names
}

// SettableFields returns the fields a caller may write, excluding the
// server-generated audit fields.
func (r *Registry) SettableFields(cfg *EndpointConfiguration) []string {
	var names []string
	for _, f := range cfg.Fields {
		if !IsReadOnly(f.Name) {
			names = append(names, f.Name)
		}
	}
	return names
}

// IsReadOnly reports whether name is one of the server-generated fields.
func IsReadOnly(name string) bool {
	for _, ro := range ReadOnlyFields {
		if ro == name {
			return true
		}
	}
	return false
}

// FieldType returns the declared type of a field. An absent field is a
// ConfigurationError; there is no silent default.
func (r *Registry) FieldType(cfg *EndpointConfiguration, name string) (FieldType, error) {
	f, ok := cfg.Field(name)
	if !ok {
		return TypeUnknown, &apierror.ConfigurationError{
			Service:  cfg.Service,
			Endpoint: cfg.Endpoint,
			Field:    name,
			Message:  "field not found in endpoint configuration",
		}
	}
	return f.Type, nil
}

// Services returns the distinct service names, sorted.
func (r *Registry) Services() []string {
	seen := make(map[string]bool)
	var services []string
	for _, cfg := range r.configs {
		if !seen[cfg.Service] {
			seen[cfg.Service] = true
			services = append(services, cfg.Service)
		}
	}
	sort.Strings(services)
	return services
}

// Resources returns the endpoint names of a service in table order.
func (r *Registry) Resources(service string) []string {
	var resources []string
	for _, cfg := range r.configs {
		if strings.EqualFold(cfg.Service, service) {
			resources = append(resources, cfg.Endpoint)
		}
	}
	return resources
}

// Operations returns the operation names callers may use on an endpoint.
func (r *Registry) Operations(cfg *EndpointConfiguration) []string {
	ops := make([]string, 0, len(cfg.Methods)+2)
	for _, m := range cfg.Methods {
		ops = append(ops, strings.ToLower(m))
	}
	if cfg.Kind == KindREST && cfg.SupportsMethod("GET") {
		ops = append(ops, "getAll")
	}
	if cfg.ParentResource != "" {
		ops = append(ops, "getAllViaParentId")
	}
	return ops
}

// ResolveURI substitutes the division into the endpoint's URI template.
func (r *Registry) ResolveURI(cfg *EndpointConfiguration, division string) string {
	return strings.ReplaceAll(cfg.URI, "{division}", division)
}

// Len returns the number of loaded endpoints.
func (r *Registry) Len() int {
	return len(r.configs)
}
