package dispatch

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/shunichi-ikebuchi/exact-online-connector/pkg/apierror"
	"github.com/shunichi-ikebuchi/exact-online-connector/pkg/odata"
	"github.com/shunichi-ikebuchi/exact-online-connector/pkg/reconcile"
)

// Operation names accepted by the dispatcher.
type Operation string

const (
	OpGet               Operation = "get"
	OpGetAll            Operation = "getAll"
	OpGetAllViaParentID Operation = "getAllViaParentId"
	OpPost              Operation = "post"
	OpPut               Operation = "put"
	OpDelete            Operation = "delete"
)

var operations = []Operation{OpGet, OpGetAll, OpGetAllViaParentID, OpPost, OpPut, OpDelete}

// ParseOperation matches an operation name case-insensitively.
func ParseOperation(s string) (Operation, error) {
	for _, op := range operations {
		if strings.EqualFold(string(op), strings.TrimSpace(s)) {
			return op, nil
		}
	}
	return "", apierror.Validationf("operation", "unknown operation '%s'", s)
}

// Context is the execution context shared by all items of one run.
type Context struct {
	// Division defaults to the user's current division when empty.
	Division  string
	Service   string
	Resource  string
	Operation Operation
	// ContinueOnFail turns item failures into inline error results.
	ContinueOnFail bool
}

// FilterValue is a filter value given either as one scalar or as a list.
type FilterValue struct {
	Values  []string
	IsArray bool
}

func (v *FilterValue) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if strings.HasPrefix(s, "[") {
		var items []reconcile.Value
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		v.IsArray = true
		v.Values = make([]string, 0, len(items))
		for _, it := range items {
			v.Values = append(v.Values, string(it))
		}
		return nil
	}
	var one reconcile.Value
	if err := json.Unmarshal(data, &one); err != nil {
		return err
	}
	v.IsArray = false
	v.Values = []string{string(one)}
	return nil
}

func (v *FilterValue) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.SequenceNode {
		var items []reconcile.Value
		if err := node.Decode(&items); err != nil {
			return err
		}
		v.IsArray = true
		v.Values = make([]string, 0, len(items))
		for _, it := range items {
			v.Values = append(v.Values, string(it))
		}
		return nil
	}
	var one reconcile.Value
	if err := node.Decode(&one); err != nil {
		return err
	}
	v.IsArray = false
	v.Values = []string{string(one)}
	return nil
}

// Filter is one caller-supplied filter condition.
type Filter struct {
	Field    string      `json:"field" yaml:"field"`
	Operator string      `json:"operator" yaml:"operator"`
	Value    FilterValue `json:"value" yaml:"value"`
}

// Descriptor converts f for the query builder.
func (f Filter) Descriptor() (odata.FilterDescriptor, error) {
	op, err := odata.ParseOperator(f.Operator)
	if err != nil {
		return odata.FilterDescriptor{}, err
	}
	return odata.FilterDescriptor{
		Field:    f.Field,
		Operator: op,
		Values:   f.Value.Values,
		IsArray:  f.Value.IsArray,
	}, nil
}

// FieldValue is one structured field assignment for create and update.
type FieldValue struct {
	Name  string          `json:"fieldName" yaml:"fieldName"`
	Value reconcile.Value `json:"fieldValue" yaml:"fieldValue"`
}

// ReconciliationInput carries structured match sets for an XML upload.
type ReconciliationInput struct {
	MatchSets []reconcile.MatchSet `json:"matchSets" yaml:"matchSets"`
}

// Item holds the parameters of one input item.
type Item struct {
	ID               string   `json:"id,omitempty" yaml:"id,omitempty"`
	ParentID         string   `json:"parentId,omitempty" yaml:"parentId,omitempty"`
	Limit            int      `json:"limit,omitempty" yaml:"limit,omitempty"`
	SelectedFields   []string `json:"selectedFields,omitempty" yaml:"selectedFields,omitempty"`
	ExcludeSelection bool     `json:"excludeSelection,omitempty" yaml:"excludeSelection,omitempty"`
	IgnoreRateLimit  bool     `json:"ignoreRateLimit,omitempty" yaml:"ignoreRateLimit,omitempty"`
	Conjunction      string   `json:"conjunction,omitempty" yaml:"conjunction,omitempty"`
	Filters          []Filter `json:"filters,omitempty" yaml:"filters,omitempty"`

	UseManualBody bool `json:"useManualBody,omitempty" yaml:"useManualBody,omitempty"`
	// ManualBody is a JSON object for REST endpoints, or a JSON or YAML list
	// of match sets for XML uploads.
	ManualBody string       `json:"manualBody,omitempty" yaml:"manualBody,omitempty"`
	Data       []FieldValue `json:"data,omitempty" yaml:"data,omitempty"`

	Reconciliation *ReconciliationInput `json:"reconciliation,omitempty" yaml:"reconciliation,omitempty"`
}

// ParseItems reads a JSON array or YAML list of items. A single JSON object
// is one item.
func ParseItems(data []byte) ([]Item, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, apierror.Validationf("items", "items file is empty")
	}

	var (
		items []Item
		err   error
	)
	switch trimmed[0] {
	case '[':
		err = json.Unmarshal([]byte(trimmed), &items)
	case '{':
		var one Item
		err = json.Unmarshal([]byte(trimmed), &one)
		items = []Item{one}
	default:
		err = yaml.Unmarshal([]byte(trimmed), &items)
	}
	if err != nil {
		return nil, &apierror.ValidationError{Field: "items", Message: "malformed items file", Raw: string(data), Err: err}
	}
	return items, nil
}

func (c Context) String() string {
	return fmt.Sprintf("%s %s/%s", c.Operation, c.Service, c.Resource)
}
