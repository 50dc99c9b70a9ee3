package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shunichi-ikebuchi/exact-online-connector/pkg/dispatch"
	"github.com/shunichi-ikebuchi/exact-online-connector/pkg/reconcile"
)

// itemOptions holds the item flags shared by the single-item commands.
type itemOptions struct {
	id              string
	parentID        string
	limit           int
	selected        []string
	excludeSelected bool
	ignoreRateLimit bool
	conjunction     string
	filters         []string
	sets            []string
	body            string
	bodyFile        string
}

var itemOpts itemOptions

func addQueryFlags(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&itemOpts.selected, "select", nil, "fields to return (comma separated)")
	cmd.Flags().BoolVar(&itemOpts.excludeSelected, "exclude-select", false, "return all fields except --select")
}

func addFilterFlags(cmd *cobra.Command) {
	cmd.Flags().StringArrayVar(&itemOpts.filters, "filter", nil, `filter as "Field:operator:value"; "[a,b]" matches any of a list (repeatable)`)
	cmd.Flags().StringVar(&itemOpts.conjunction, "conjunction", "and", "join filters with and/or")
	cmd.Flags().IntVar(&itemOpts.limit, "limit", 0, "maximum number of records (0 returns all)")
	cmd.Flags().BoolVar(&itemOpts.ignoreRateLimit, "ignore-rate-limit", false, "do not wait for the rate limit to reset")
}

func addBodyFlags(cmd *cobra.Command) {
	cmd.Flags().StringArrayVar(&itemOpts.sets, "set", nil, `field value as "Field=value" (repeatable)`)
	cmd.Flags().StringVar(&itemOpts.body, "body", "", "raw JSON body instead of --set")
	cmd.Flags().StringVar(&itemOpts.bodyFile, "body-file", "", "read the raw JSON body from a file")
}

// item builds a dispatch item from the flags.
func (o itemOptions) item() (dispatch.Item, error) {
	item := dispatch.Item{
		ID:               o.id,
		ParentID:         o.parentID,
		Limit:            o.limit,
		SelectedFields:   o.selected,
		ExcludeSelection: o.excludeSelected,
		IgnoreRateLimit:  o.ignoreRateLimit,
		Conjunction:      o.conjunction,
	}

	for _, raw := range o.filters {
		f, err := parseFilter(raw)
		if err != nil {
			return item, err
		}
		item.Filters = append(item.Filters, f)
	}

	for _, raw := range o.sets {
		fv, err := parseFieldValue(raw)
		if err != nil {
			return item, err
		}
		item.Data = append(item.Data, fv)
	}

	body := o.body
	if o.bodyFile != "" {
		data, err := os.ReadFile(o.bodyFile)
		if err != nil {
			return item, fmt.Errorf("failed to read body file: %w", err)
		}
		body = string(data)
	}
	if body != "" {
		if len(item.Data) > 0 {
			return item, fmt.Errorf("--set cannot be combined with --body or --body-file")
		}
		item.UseManualBody = true
		item.ManualBody = body
	}

	return item, nil
}

// parseFilter parses "Field:operator:value". The operator may be omitted
// ("Field::value") for eq. A value in brackets is a list.
func parseFilter(raw string) (dispatch.Filter, error) {
	parts := strings.SplitN(raw, ":", 3)
	if len(parts) != 3 || strings.TrimSpace(parts[0]) == "" {
		return dispatch.Filter{}, fmt.Errorf("invalid filter %q: expected Field:operator:value", raw)
	}

	f := dispatch.Filter{
		Field:    strings.TrimSpace(parts[0]),
		Operator: strings.TrimSpace(parts[1]),
	}

	value := parts[2]
	if strings.HasPrefix(value, "[") && strings.HasSuffix(value, "]") {
		inner := strings.TrimSpace(value[1 : len(value)-1])
		values := []string{}
		if inner != "" {
			for _, v := range strings.Split(inner, ",") {
				values = append(values, strings.TrimSpace(v))
			}
		}
		f.Value = dispatch.FilterValue{Values: values, IsArray: true}
		return f, nil
	}

	f.Value = dispatch.FilterValue{Values: []string{value}}
	return f, nil
}

// parseFieldValue parses "Field=value".
func parseFieldValue(raw string) (dispatch.FieldValue, error) {
	name, value, ok := strings.Cut(raw, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return dispatch.FieldValue{}, fmt.Errorf("invalid field value %q: expected Field=value", raw)
	}
	return dispatch.FieldValue{Name: name, Value: reconcile.Value(value)}, nil
}
