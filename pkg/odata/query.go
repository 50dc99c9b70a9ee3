package odata

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/shunichi-ikebuchi/exact-online-connector/pkg/apierror"
	"github.com/shunichi-ikebuchi/exact-online-connector/pkg/endpoint"
)

// Query option names.
const (
	ParamFilter = "$filter"
	ParamSelect = "$select"
	ParamTop    = "$top"
)

// SelectList returns the $select value. With exclude set, every configured
// field not in selected is returned. An empty result means all fields.
func SelectList(cfg *endpoint.EndpointConfiguration, selected []string, exclude bool) (string, error) {
	if !exclude {
		for _, name := range selected {
			if len(cfg.Fields) > 0 {
				if _, ok := cfg.Field(name); !ok {
					return "", configErr(cfg, name, "selected field not found in endpoint configuration")
				}
			}
		}
		return strings.Join(selected, ","), nil
	}

	if len(cfg.Fields) == 0 {
		return "", &apierror.ConfigurationError{
			Service:  cfg.Service,
			Endpoint: cfg.Endpoint,
			Message:  "field exclusion requires the endpoint's field list",
		}
	}

	skip := make(map[string]bool, len(selected))
	for _, name := range selected {
		skip[name] = true
	}
	var keep []string
	for _, f := range cfg.Fields {
		if !skip[f.Name] {
			keep = append(keep, f.Name)
		}
	}
	return strings.Join(keep, ","), nil
}

// Options collects OData query options.
type Options struct {
	Filter string
	Select string
	Top    int
}

// Values encodes the non-empty options as URL query values.
func (o Options) Values() url.Values {
	v := url.Values{}
	if o.Filter != "" {
		v.Set(ParamFilter, o.Filter)
	}
	if o.Select != "" {
		v.Set(ParamSelect, o.Select)
	}
	if o.Top > 0 {
		v.Set(ParamTop, strconv.Itoa(o.Top))
	}
	return v
}
