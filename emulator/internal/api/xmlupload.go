package api

import (
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// Message types of an XML upload response.
const (
	messageError   = 0
	messageSuccess = 2
)

type uploadDocument struct {
	XMLName   xml.Name         `xml:"eExact"`
	MatchSets []uploadMatchSet `xml:"MatchSets>MatchSet"`
}

type uploadMatchSet struct {
	GLAccount struct {
		Code string `xml:"code,attr"`
	} `xml:"GLAccount"`
	MatchLines []struct {
		Entry    string `xml:"entry,attr"`
		AmountDC string `xml:"amountdc,attr"`
	} `xml:"MatchLines>MatchLine"`
	WriteOff *struct {
		Type int `xml:"type,attr"`
	} `xml:"WriteOff"`
}

type uploadResponse struct {
	XMLName  xml.Name        `xml:"eExact"`
	Messages []uploadMessage `xml:"Messages>Message"`
}

type uploadMessage struct {
	Type  int `xml:"type,attr"`
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

// UploadHandler serves the XML upload endpoint for match sets.
type UploadHandler struct {
	now func() time.Time
}

// NewUploadHandler creates a new UploadHandler.
func NewUploadHandler() *UploadHandler {
	return &UploadHandler{now: time.Now}
}

// Upload handles POST /docs/XMLUpload.aspx?Topic=..&_Division_=..
// Every match set yields one message. Sets with fewer than two lines, no GL
// account or unbalanced amounts without a write-off are rejected.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("Topic")
	if topic == "" || r.URL.Query().Get("_Division_") == "" {
		writeJSONError(w, http.StatusBadRequest, "Topic and _Division_ are required")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	var doc uploadDocument
	if err := xml.Unmarshal(body, &doc); err != nil {
		writeJSONError(w, http.StatusBadRequest, "Malformed XML document")
		return
	}

	resp := uploadResponse{}
	for i, set := range doc.MatchSets {
		msg := uploadMessage{Date: h.now().UTC().Format("2006-01-02T15:04:05")}
		msg.Topic.Code = topic
		msg.Topic.Node = "MatchSet"
		msg.Topic.Data.KeyAlt = fmt.Sprintf("%s-%d", set.GLAccount.Code, i+1)

		if problem := checkMatchSet(set); problem != "" {
			msg.Type = messageError
			msg.Description = problem
		} else {
			msg.Type = messageSuccess
			msg.Description = "Match set created"
		}
		resp.Messages = append(resp.Messages, msg)
	}

	out, err := xml.MarshalIndent(resp, "", "  ")
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "Failed to encode response")
		return
	}

	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(xml.Header))
	_, _ = w.Write(out)
}

func checkMatchSet(set uploadMatchSet) string {
	if set.GLAccount.Code == "" {
		return "GL account is mandatory"
	}
	if len(set.MatchLines) < 2 {
		return "A match set needs at least two lines"
	}

	total := decimal.Zero
	for _, line := range set.MatchLines {
		amount, err := decimal.NewFromString(line.AmountDC)
		if err != nil {
			return fmt.Sprintf("Invalid amount: %s", line.AmountDC)
		}
		total = total.Add(amount)
	}
	if !total.IsZero() && set.WriteOff == nil {
		return fmt.Sprintf("Match set is not balanced: difference %s", total.String())
	}
	return ""
}
