package reconcile

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/shunichi-ikebuchi/exact-online-connector/pkg/apierror"
)

// Upload document.

type xmlDocument struct {
	XMLName   xml.Name      `xml:"eExact"`
	MatchSets []xmlMatchSet `xml:"MatchSets>MatchSet"`
}

type xmlCode struct {
	Code string `xml:"code,attr"`
}

type xmlMatchSet struct {
	GLAccount  xmlCode        `xml:"GLAccount"`
	Account    *xmlCode       `xml:"Account,omitempty"`
	MatchLines []xmlMatchLine `xml:"MatchLines>MatchLine"`
	WriteOff   *xmlWriteOff   `xml:"WriteOff,omitempty"`
}

type xmlMatchLine struct {
	FinYear   int    `xml:"finyear,attr"`
	FinPeriod int    `xml:"finperiod,attr"`
	Journal   string `xml:"journal,attr"`
	Entry     int64  `xml:"entry,attr"`
	AmountDC  string `xml:"amountdc,attr"`
}

type xmlWriteOff struct {
	Type          int      `xml:"type,attr"`
	GLAccount     *xmlCode `xml:"GLAccount,omitempty"`
	Description   string   `xml:"Description,omitempty"`
	FinYear       *int     `xml:"FinYear,omitempty"`
	FinPeriod     *int     `xml:"FinPeriod,omitempty"`
	Date          string   `xml:"Date,omitempty"`
	VATCorrection *bool    `xml:"VATCorrection,omitempty"`
}

// Validate checks the rules the upload depends on: a GL account and at least
// MinMatchLines lines per match set.
func Validate(sets []MatchSet) error {
	if len(sets) == 0 {
		return apierror.Validationf("MatchSets", "at least one match set is required")
	}
	for i, set := range sets {
		if set.GLAccount.IsZero() {
			return apierror.Validationf(fmt.Sprintf("MatchSets[%d].GLAccount", i), "GL account is required")
		}
		if len(set.MatchLines) < MinMatchLines {
			return apierror.Validationf(fmt.Sprintf("MatchSets[%d].MatchLines", i),
				"a match set needs at least %d transactions, got %d", MinMatchLines, len(set.MatchLines))
		}
	}
	return nil
}

// Encode validates sets and renders the upload document.
func Encode(sets []MatchSet) ([]byte, error) {
	if err := Validate(sets); err != nil {
		return nil, err
	}

	doc := xmlDocument{MatchSets: make([]xmlMatchSet, 0, len(sets))}
	for i, set := range sets {
		xs, err := encodeMatchSet(i, set)
		if err != nil {
			return nil, err
		}
		doc.MatchSets = append(doc.MatchSets, xs)
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal match sets: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

func encodeMatchSet(i int, set MatchSet) (xmlMatchSet, error) {
	prefix := fmt.Sprintf("MatchSets[%d]", i)
	xs := xmlMatchSet{GLAccount: xmlCode{Code: set.GLAccount.String()}}
	if !set.Account.IsZero() {
		xs.Account = &xmlCode{Code: set.Account.String()}
	}

	for j, line := range set.MatchLines {
		field := fmt.Sprintf("%s.MatchLines[%d]", prefix, j)
		ml, err := encodeMatchLine(field, line)
		if err != nil {
			return xs, err
		}
		xs.MatchLines = append(xs.MatchLines, ml)
	}

	if set.WriteOff != nil {
		wo, err := encodeWriteOff(prefix+".WriteOff", set.WriteOff)
		if err != nil {
			return xs, err
		}
		xs.WriteOff = wo
	}
	return xs, nil
}

func encodeMatchLine(field string, line ReconciledTransaction) (xmlMatchLine, error) {
	var ml xmlMatchLine

	finYear, err := parseInt(field+".finYear", line.FinYear, 32)
	if err != nil {
		return ml, err
	}
	finPeriod, err := parseInt(field+".finPeriod", line.FinPeriod, 32)
	if err != nil {
		return ml, err
	}
	entry, err := parseInt(field+".entry", line.Entry, 64)
	if err != nil {
		return ml, err
	}
	if line.Journal.IsZero() {
		return ml, apierror.Validationf(field+".journal", "journal is required")
	}
	amount, err := decimal.NewFromString(line.AmountDC.String())
	if err != nil {
		return ml, &apierror.ValidationError{Field: field + ".amountDC", Message: "amount is not a decimal", Raw: string(line.AmountDC), Err: err}
	}

	ml.FinYear = int(finYear)
	ml.FinPeriod = int(finPeriod)
	ml.Journal = line.Journal.String()
	ml.Entry = entry
	ml.AmountDC = amount.String()
	return ml, nil
}

func encodeWriteOff(field string, w *WriteOff) (*xmlWriteOff, error) {
	typ, err := parseInt(field+".type", w.Type, 32)
	if err != nil {
		return nil, err
	}
	wo := &xmlWriteOff{
		Type:          int(typ),
		Description:   w.Description.String(),
		Date:          w.Date.String(),
		VATCorrection: w.VATCorrection,
	}
	if !w.GLAccount.IsZero() {
		wo.GLAccount = &xmlCode{Code: w.GLAccount.String()}
	}
	if !w.FinYear.IsZero() {
		v, err := parseInt(field+".FinYear", w.FinYear, 32)
		if err != nil {
			return nil, err
		}
		year := int(v)
		wo.FinYear = &year
	}
	if !w.FinPeriod.IsZero() {
		v, err := parseInt(field+".FinPeriod", w.FinPeriod, 32)
		if err != nil {
			return nil, err
		}
		period := int(v)
		wo.FinPeriod = &period
	}
	return wo, nil
}

func parseInt(field string, v Value, bits int) (int64, error) {
	n, err := strconv.ParseInt(v.String(), 10, bits)
	if err != nil {
		return 0, &apierror.ValidationError{Field: field, Message: "expected an integer", Raw: string(v), Err: err}
	}
	return n, nil
}

// Response document.

// Message types classified as errors.
const (
	MessageError   = 0
	MessageWarning = 1
	MessageSuccess = 2
	MessageFatal   = 3
	MessageRecover = 4
)

// Message is one entry of an upload response.
type Message struct {
	Type        int
	Topic       string
	Node        string
	KeyAlt      string
	Date        string
	Description string
}

// IsError reports whether the message signals a failure (types 0, 3, 4).
func (m Message) IsError() bool {
	switch m.Type {
	case MessageError, MessageFatal, MessageRecover:
		return true
	}
	return false
}

// Messages is the decoded message list in document order.
type Messages []Message

// Errors returns the error-like messages.
func (ms Messages) Errors() Messages {
	var out Messages
	for _, m := range ms {
		if m.IsError() {
			out = append(out, m)
		}
	}
	return out
}

// Successes returns the informational messages.
func (ms Messages) Successes() Messages {
	var out Messages
	for _, m := range ms {
		if !m.IsError() {
			out = append(out, m)
		}
	}
	return out
}

func (ms Messages) Descriptions() []string {
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.Description)
	}
	return out
}

type xmlResponse struct {
	Messages []xmlMessage `xml:"Messages>Message"`
}

type xmlMessage struct {
	Type  string `xml:"type,attr"`
	Topic struct {
		Code string `xml:"code,attr"`
		Node string `xml:"node,attr"`
		Data struct {
			KeyAlt string `xml:"keyAlt,attr"`
		} `xml:"Data"`
	} `xml:"Topic"`
	Date        string `xml:"Date"`
	Description string `xml:"Description"`
}

// Decode parses an upload response. Malformed XML is a ValidationError
// carrying the raw body.
func Decode(body []byte) (Messages, error) {
	var resp xmlResponse
	if err := xml.Unmarshal(body, &resp); err != nil {
		return nil, &apierror.ValidationError{Message: "malformed XML response", Raw: string(body), Err: err}
	}

	msgs := make(Messages, 0, len(resp.Messages))
	for i, xm := range resp.Messages {
		typ, err := strconv.Atoi(strings.TrimSpace(xm.Type))
		if err != nil {
			return nil, &apierror.ValidationError{
				Field:   fmt.Sprintf("Messages[%d].type", i),
				Message: "message type is not an integer",
				Raw:     string(body),
				Err:     err,
			}
		}
		msgs = append(msgs, Message{
			Type:        typ,
			Topic:       xm.Topic.Code,
			Node:        xm.Topic.Node,
			KeyAlt:      xm.Topic.Data.KeyAlt,
			Date:        strings.TrimSpace(xm.Date),
			Description: strings.TrimSpace(xm.Description),
		})
	}
	return msgs, nil
}

// Check returns a ReconciliationRejection when msgs holds an error-like
// message or its count differs from the number of submitted match sets.
func Check(topic string, submitted int, msgs Messages) error {
	if errs := msgs.Errors(); len(errs) > 0 {
		return &apierror.ReconciliationRejection{
			Topic:        topic,
			Submitted:    submitted,
			Acknowledged: len(msgs) - len(errs),
			Descriptions: errs.Descriptions(),
		}
	}
	if len(msgs) != submitted {
		return &apierror.ReconciliationRejection{
			Topic:        topic,
			Submitted:    submitted,
			Acknowledged: len(msgs),
		}
	}
	return nil
}

// ParseMatchSets reads match sets from a JSON array, a JSON object (a single
// match set or {"MatchSets": [...]}) or a YAML list.
func ParseMatchSets(data []byte) ([]MatchSet, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, apierror.Validationf("MatchSets", "match set payload is empty")
	}

	var (
		sets []MatchSet
		err  error
	)
	switch trimmed[0] {
	case '[':
		err = json.Unmarshal(trimmed, &sets)
	case '{':
		var wrapper struct {
			MatchSets []MatchSet `json:"MatchSets"`
		}
		if err = json.Unmarshal(trimmed, &wrapper); err == nil {
			sets = wrapper.MatchSets
			if sets == nil {
				var single MatchSet
				err = json.Unmarshal(trimmed, &single)
				sets = []MatchSet{single}
			}
		}
	default:
		err = yaml.Unmarshal(trimmed, &sets)
	}
	if err != nil {
		return nil, &apierror.ValidationError{Field: "MatchSets", Message: "malformed match set payload", Raw: string(data), Err: err}
	}
	if len(sets) == 0 {
		return nil, apierror.Validationf("MatchSets", "at least one match set is required")
	}
	return sets, nil
}

// UploadPath returns the XML upload path for topic in division.
func UploadPath(topic, division string) string {
	return fmt.Sprintf("/docs/XMLUpload.aspx?Topic=%s&_Division_=%s", url.QueryEscape(topic), url.QueryEscape(division))
}
