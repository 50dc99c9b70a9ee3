package reconcile

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shunichi-ikebuchi/exact-online-connector/pkg/apierror"
)

func twoLineSet() MatchSet {
	return MatchSet{
		GLAccount: "1300",
		Account:   "C0001",
		MatchLines: []ReconciledTransaction{
			{FinYear: "2025", FinPeriod: "3", Journal: "70", Entry: "25000012", AmountDC: "121.00"},
			{FinYear: "2025", FinPeriod: "4", Journal: "20", Entry: "25000345", AmountDC: "-121"},
		},
	}
}

func TestEncode(t *testing.T) {
	out, err := Encode([]MatchSet{twoLineSet()})
	require.NoError(t, err)

	doc := string(out)
	assert.True(t, strings.HasPrefix(doc, "<?xml"))
	assert.Contains(t, doc, "<eExact>")
	assert.Contains(t, doc, `<GLAccount code="1300"></GLAccount>`)
	assert.Contains(t, doc, `<Account code="C0001"></Account>`)
	assert.Equal(t, 2, strings.Count(doc, "<MatchLine "))
	assert.Contains(t, doc, `<MatchLine finyear="2025" finperiod="3" journal="70" entry="25000012" amountdc="121">`)
	assert.Contains(t, doc, `amountdc="-121"`)
	assert.NotContains(t, doc, "WriteOff")
}

func TestEncodeWriteOff(t *testing.T) {
	vat := true
	set := twoLineSet()
	set.Account = ""
	set.WriteOff = &WriteOff{
		Type:          "3",
		GLAccount:     "8000",
		Description:   "Payment difference",
		FinYear:       "2025",
		FinPeriod:     "4",
		Date:          "2025-04-30",
		VATCorrection: &vat,
	}

	out, err := Encode([]MatchSet{set})
	require.NoError(t, err)
	doc := string(out)

	assert.NotContains(t, doc, "<Account ")
	assert.Equal(t, 1, strings.Count(doc, "<WriteOff "))
	assert.Contains(t, doc, `<WriteOff type="3">`)
	assert.Contains(t, doc, "<Description>Payment difference</Description>")
	assert.Contains(t, doc, "<FinYear>2025</FinYear>")
	assert.Contains(t, doc, "<VATCorrection>true</VATCorrection>")
	// WriteOff follows MatchLines.
	assert.Greater(t, strings.Index(doc, "<WriteOff"), strings.Index(doc, "</MatchLines>"))
}

func TestEncodeValidation(t *testing.T) {
	oneLine := twoLineSet()
	oneLine.MatchLines = oneLine.MatchLines[:1]

	noGL := twoLineSet()
	noGL.GLAccount = " "

	badYear := twoLineSet()
	badYear.MatchLines[0].FinYear = "twenty"

	badAmount := twoLineSet()
	badAmount.MatchLines[1].AmountDC = "12,50"

	noJournal := twoLineSet()
	noJournal.MatchLines[1].Journal = ""

	badWriteOff := twoLineSet()
	badWriteOff.WriteOff = &WriteOff{Type: "x"}

	tests := []struct {
		name      string
		sets      []MatchSet
		wantField string
	}{
		{"no sets", nil, "MatchSets"},
		{"one match line", []MatchSet{oneLine}, "MatchSets[0].MatchLines"},
		{"missing GL account", []MatchSet{twoLineSet(), noGL}, "MatchSets[1].GLAccount"},
		{"non-integer year", []MatchSet{badYear}, "MatchSets[0].MatchLines[0].finYear"},
		{"non-decimal amount", []MatchSet{badAmount}, "MatchSets[0].MatchLines[1].amountDC"},
		{"missing journal", []MatchSet{noJournal}, "MatchSets[0].MatchLines[1].journal"},
		{"bad write-off type", []MatchSet{badWriteOff}, "MatchSets[0].WriteOff.type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Encode(tt.sets)
			var valErr *apierror.ValidationError
			require.True(t, errors.As(err, &valErr), "got %v", err)
			assert.Equal(t, tt.wantField, valErr.Field)
		})
	}
}

const uploadResponse = `<?xml version="1.0" encoding="utf-8"?>
<eExact xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance">
  <Messages>
    <Message type="2">
      <Topic code="FFMatch" node="MatchSet">
        <Data keyAlt="1300" />
      </Topic>
      <Date>2025-06-02T09:00:00</Date>
      <Description>Created</Description>
    </Message>
    <Message type="3">
      <Topic code="FFMatch" node="MatchSet">
        <Data keyAlt="1400" />
      </Topic>
      <Description>Amounts do not balance</Description>
    </Message>
    <Message type="1">
      <Topic code="FFMatch" node="MatchSet" />
      <Description> Warning only </Description>
    </Message>
  </Messages>
</eExact>`

func TestDecode(t *testing.T) {
	msgs, err := Decode([]byte(uploadResponse))
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	assert.Equal(t, Message{
		Type:        2,
		Topic:       "FFMatch",
		Node:        "MatchSet",
		KeyAlt:      "1300",
		Date:        "2025-06-02T09:00:00",
		Description: "Created",
	}, msgs[0])
	assert.True(t, msgs[1].IsError())
	assert.False(t, msgs[2].IsError())
	assert.Equal(t, "Warning only", msgs[2].Description)

	assert.Equal(t, []string{"Amounts do not balance"}, msgs.Errors().Descriptions())
	assert.Len(t, msgs.Successes(), 2)
}

func TestMessageClassification(t *testing.T) {
	for typ, want := range map[int]bool{0: true, 1: false, 2: false, 3: true, 4: true, 5: false} {
		assert.Equal(t, want, Message{Type: typ}.IsError(), "type %d", typ)
	}
}

func TestDecodeMalformed(t *testing.T) {
	for _, body := range []string{"", "<eExact><Messages>", "not xml", `<eExact><Messages><Message type="x"/></Messages></eExact>`} {
		_, err := Decode([]byte(body))
		var valErr *apierror.ValidationError
		require.True(t, errors.As(err, &valErr), "body %q", body)
		assert.Equal(t, body, valErr.Raw)
	}
}

func TestCheck(t *testing.T) {
	ok := Messages{{Type: 2, Description: "a"}, {Type: 2, Description: "b"}}
	assert.NoError(t, Check(DefaultTopic, 2, ok))

	var rej *apierror.ReconciliationRejection

	err := Check(DefaultTopic, 3, ok)
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, 3, rej.Submitted)
	assert.Equal(t, 2, rej.Acknowledged)
	assert.Empty(t, rej.Descriptions)

	failed := Messages{{Type: 2, Description: "a"}, {Type: 0, Description: "Unknown GL account"}, {Type: 4, Description: "Period closed"}}
	err = Check(DefaultTopic, 3, failed)
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, []string{"Unknown GL account", "Period closed"}, rej.Descriptions)
	assert.Contains(t, err.Error(), "Unknown GL account; Period closed")
}

func TestParseMatchSets(t *testing.T) {
	jsonArray := `[{"GLAccount":"1300","MatchLines":[
		{"finYear":2025,"finPeriod":3,"journal":"70","entry":25000012,"amountDC":121.5},
		{"finYear":"2025","finPeriod":"4","journal":70,"entry":"25000345","amountDC":"-121.5"}],
		"WriteOff":{"type":0,"VATCorrection":false}}]`
	jsonWrapper := `{"MatchSets":[{"GLAccount":"1300","MatchLines":[]}, {"GLAccount":"1400","MatchLines":[]}]}`
	jsonSingle := `{"GLAccount":"1300","Account":"C1","MatchLines":[]}`
	yamlList := `
- GLAccount: "1300"
  MatchLines:
    - {finYear: 2025, finPeriod: 3, journal: "70", entry: 1, amountDC: 10.25}
    - {finYear: 2025, finPeriod: 3, journal: "70", entry: 2, amountDC: -10.25}
`

	sets, err := ParseMatchSets([]byte(jsonArray))
	require.NoError(t, err)
	require.Len(t, sets, 1)
	assert.Equal(t, Value("2025"), sets[0].MatchLines[0].FinYear)
	assert.Equal(t, Value("121.5"), sets[0].MatchLines[0].AmountDC)
	assert.Equal(t, Value("70"), sets[0].MatchLines[1].Journal)
	require.NotNil(t, sets[0].WriteOff)
	assert.Equal(t, Value("0"), sets[0].WriteOff.Type)
	require.NotNil(t, sets[0].WriteOff.VATCorrection)
	assert.False(t, *sets[0].WriteOff.VATCorrection)

	sets, err = ParseMatchSets([]byte(jsonWrapper))
	require.NoError(t, err)
	assert.Len(t, sets, 2)

	sets, err = ParseMatchSets([]byte(jsonSingle))
	require.NoError(t, err)
	require.Len(t, sets, 1)
	assert.Equal(t, Value("C1"), sets[0].Account)

	sets, err = ParseMatchSets([]byte(yamlList))
	require.NoError(t, err)
	require.Len(t, sets, 1)
	assert.Equal(t, Value("-10.25"), sets[0].MatchLines[1].AmountDC)

	out, err := Encode(sets)
	require.NoError(t, err)
	assert.Contains(t, string(out), `amountdc="10.25"`)
}

func TestParseMatchSetsErrors(t *testing.T) {
	for _, payload := range []string{"", "   ", "[]", `[{"GLAccount": {"code": 1}}]`, "[{", "key: value"} {
		_, err := ParseMatchSets([]byte(payload))
		var valErr *apierror.ValidationError
		assert.True(t, errors.As(err, &valErr), "payload %q", payload)
	}
}

func TestUploadPath(t *testing.T) {
	assert.Equal(t, "/docs/XMLUpload.aspx?Topic=FFMatch&_Division_=123456", UploadPath(DefaultTopic, "123456"))
}
