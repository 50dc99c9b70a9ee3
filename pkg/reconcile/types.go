// Package reconcile encodes match sets for the Exact Online FFMatch XML
// upload and classifies the messages the upload returns.
package reconcile

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Value is a caller-supplied scalar that may arrive as a JSON or YAML string,
// number or boolean. It is kept as text until it is parsed for its target.
type Value string

func (v *Value) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	switch s {
	case "null":
		*v = ""
		return nil
	case "true", "false":
		*v = Value(s)
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*v = Value(str)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return fmt.Errorf("expected a scalar value, got %s", s)
	}
	*v = Value(num.String())
	return nil
}

func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a scalar value", node.Line)
	}
	if node.Tag == "!!null" {
		*v = ""
		return nil
	}
	*v = Value(node.Value)
	return nil
}

func (v Value) String() string { return strings.TrimSpace(string(v)) }

// IsZero reports whether no value was supplied.
func (v Value) IsZero() bool { return v.String() == "" }

// ReconciledTransaction is one transaction line taking part in a match.
type ReconciledTransaction struct {
	FinYear   Value `json:"finYear" yaml:"finYear"`
	FinPeriod Value `json:"finPeriod" yaml:"finPeriod"`
	Journal   Value `json:"journal" yaml:"journal"`
	Entry     Value `json:"entry" yaml:"entry"`
	AmountDC  Value `json:"amountDC" yaml:"amountDC"`
}

// WriteOff books the remaining difference of an unbalanced match.
// Type codes: 0 balance, 1 discount, 3 payment difference, 4 exchange rate
// difference.
type WriteOff struct {
	Type          Value `json:"type" yaml:"type"`
	GLAccount     Value `json:"GLAccount,omitempty" yaml:"GLAccount,omitempty"`
	Description   Value `json:"Description,omitempty" yaml:"Description,omitempty"`
	FinYear       Value `json:"FinYear,omitempty" yaml:"FinYear,omitempty"`
	FinPeriod     Value `json:"FinPeriod,omitempty" yaml:"FinPeriod,omitempty"`
	Date          Value `json:"Date,omitempty" yaml:"Date,omitempty"`
	VATCorrection *bool `json:"VATCorrection,omitempty" yaml:"VATCorrection,omitempty"`
}

// MatchSet groups the transactions reconciled against each other on one
// GL account. Account is needed only for receivable and payable GL accounts;
// the caller decides.
type MatchSet struct {
	GLAccount  Value                   `json:"GLAccount" yaml:"GLAccount"`
	Account    Value                   `json:"Account,omitempty" yaml:"Account,omitempty"`
	MatchLines []ReconciledTransaction `json:"MatchLines" yaml:"MatchLines"`
	WriteOff   *WriteOff               `json:"WriteOff,omitempty" yaml:"WriteOff,omitempty"`
}

// MinMatchLines is the fewest transactions a match set may carry.
const MinMatchLines = 2

// DefaultTopic is the XML upload topic for match sets.
const DefaultTopic = "FFMatch"
