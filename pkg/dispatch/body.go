package dispatch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shunichi-ikebuchi/exact-online-connector/pkg/apierror"
	"github.com/shunichi-ikebuchi/exact-online-connector/pkg/endpoint"
	"github.com/shunichi-ikebuchi/exact-online-connector/pkg/odata"
)

// body builds the JSON body of a create or update from the manual body or
// the structured field values. Mandatory fields are enforced on create only.
func (d *Dispatcher) body(cfg *endpoint.EndpointConfiguration, item Item, create bool) (map[string]any, error) {
	if item.UseManualBody {
		return parseManualBody(item.ManualBody)
	}

	if len(item.Data) == 0 {
		return nil, apierror.Validationf("data", "include the fields and values of the record")
	}

	if create {
		entered := make(map[string]bool, len(item.Data))
		for _, fv := range item.Data {
			entered[fv.Name] = true
		}
		var missing []string
		for _, name := range d.Registry.MandatoryFields(cfg) {
			if !entered[name] {
				missing = append(missing, name)
			}
		}
		if len(missing) > 0 {
			return nil, &apierror.ConfigurationError{
				Service:  cfg.Service,
				Endpoint: cfg.Endpoint,
				Message:  fmt.Sprintf("mandatory fields missing: '%s'", strings.Join(missing, ", ")),
			}
		}
	}

	body := make(map[string]any, len(item.Data))
	for _, fv := range item.Data {
		if endpoint.IsReadOnly(fv.Name) {
			return nil, apierror.Validationf(fv.Name, "field is set by the server and cannot be written")
		}
		ft, err := d.Registry.FieldType(cfg, fv.Name)
		if err != nil {
			return nil, err
		}
		v, err := d.fieldValue(cfg, fv.Name, ft, string(fv.Value))
		if err != nil {
			return nil, err
		}
		body[fv.Name] = v
	}
	return body, nil
}

// fieldValue converts a caller-supplied string to the JSON value of ft.
func (d *Dispatcher) fieldValue(cfg *endpoint.EndpointConfiguration, name string, ft endpoint.FieldType, raw string) (any, error) {
	switch ft {
	case endpoint.TypeString:
		return raw, nil
	case endpoint.TypeDateTime:
		return odata.ParseDateTime(name, raw)
	case endpoint.TypeGuid:
		return odata.ParseGuid(name, raw)
	case endpoint.TypeBoolean:
		return odata.ParseBool(name, raw)
	case endpoint.TypeInt16, endpoint.TypeInt32, endpoint.TypeInt64, endpoint.TypeByte:
		lit, err := odata.NumericLiteral(name, ft, raw)
		if err != nil {
			return nil, err
		}
		n, _ := strconv.ParseInt(lit, 10, 64)
		return n, nil
	case endpoint.TypeDouble, endpoint.TypeDecimal:
		lit, err := odata.NumericLiteral(name, ft, raw)
		if err != nil {
			return nil, err
		}
		return json.Number(lit), nil
	case endpoint.TypeCollection:
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, &apierror.ValidationError{Field: name, Message: "expected a JSON value", Raw: raw, Err: err}
		}
		return v, nil
	}

	if d.Builder != nil && d.Builder.Lenient {
		d.Logger.Warn("unsupported field type, sending value as string", "endpoint", cfg.Endpoint, "field", name)
		return raw, nil
	}
	return nil, &apierror.ConfigurationError{
		Service:  cfg.Service,
		Endpoint: cfg.Endpoint,
		Field:    name,
		Message:  "unsupported field type",
	}
}

// parseManualBody decodes a manual JSON object body.
func parseManualBody(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, apierror.Validationf("manualBody", "manual body cannot be empty")
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		return nil, &apierror.ValidationError{Field: "manualBody", Message: "manual body is not a JSON object", Raw: raw, Err: err}
	}
	if body == nil {
		return nil, apierror.Validationf("manualBody", "manual body must be a JSON object")
	}
	return body, nil
}
