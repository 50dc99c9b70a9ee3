package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/shunichi-ikebuchi/exact-online-connector/emulator/internal/store"
)

// DefaultPageSize matches the page size of the Exact REST API.
const DefaultPageSize = 60

// keyedRe matches "Resource(guid'id')".
var keyedRe = regexp.MustCompile(`^(\w+)\(guid'([^']*)'\)$`)

// RecordsHandler serves generic OData collections backed by the store.
type RecordsHandler struct {
	store    *store.Store
	pageSize int
}

// NewRecordsHandler creates a new RecordsHandler. A non-positive page size
// selects DefaultPageSize.
func NewRecordsHandler(s *store.Store, pageSize int) *RecordsHandler {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &RecordsHandler{store: s, pageSize: pageSize}
}

// List handles GET /api/v1/{division}/{service}/{resource}.
func (h *RecordsHandler) List(w http.ResponseWriter, r *http.Request) {
	division := chi.URLParam(r, "division")
	service := chi.URLParam(r, "service")
	resource := param(r, "resource")

	if m := keyedRe.FindStringSubmatch(resource); m != nil {
		rec, err := h.store.Get(store.ResourceBucket(division, service, m[1]), m[2])
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, project(rec, r.URL.Query().Get("$select")))
		return
	}

	h.list(w, r, store.ResourceBucket(division, service, resource), nil)
}

// ListViaParent handles GET /api/v1/{division}/{service}/{parent}(guid'id')/{resource}.
// Children reference the parent through any field ending in ID.
func (h *RecordsHandler) ListViaParent(w http.ResponseWriter, r *http.Request) {
	division := chi.URLParam(r, "division")
	service := chi.URLParam(r, "service")

	m := keyedRe.FindStringSubmatch(param(r, "parent"))
	if m == nil {
		writeJSONError(w, http.StatusBadRequest, "Parent segment must address a record by guid")
		return
	}
	if _, err := h.store.Get(store.ResourceBucket(division, service, m[1]), m[2]); err != nil {
		writeStoreError(w, err)
		return
	}

	parentID := strings.ToLower(m[2])
	refersToParent := func(rec store.Record) bool {
		for k, v := range rec {
			if k != "ID" && strings.HasSuffix(k, "ID") && strings.ToLower(valueString(v)) == parentID {
				return true
			}
		}
		return false
	}
	h.list(w, r, store.ResourceBucket(division, service, param(r, "resource")), refersToParent)
}

func (h *RecordsHandler) list(w http.ResponseWriter, r *http.Request, bucket string, scope func(store.Record) bool) {
	query := r.URL.Query()

	pred, err := parseFilter(query.Get("$filter"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := h.store.List(bucket, func(rec store.Record) bool {
		return (scope == nil || scope(rec)) && pred(rec)
	})
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "Failed to list records")
		return
	}

	skip := 0
	if s := query.Get("$skiptoken"); s != "" {
		if skip, err = strconv.Atoi(s); err != nil || skip < 0 {
			writeJSONError(w, http.StatusBadRequest, "Invalid $skiptoken")
			return
		}
	}
	if skip > len(records) {
		skip = len(records)
	}
	records = records[skip:]

	end := h.pageSize
	more := true
	if top := query.Get("$top"); top != "" {
		n, err := strconv.Atoi(top)
		if err != nil || n < 0 {
			writeJSONError(w, http.StatusBadRequest, "Invalid $top")
			return
		}
		if n < end {
			end = n
			more = false
		}
	}
	if end >= len(records) {
		end = len(records)
		more = false
	}

	sel := query.Get("$select")
	results := make([]store.Record, 0, end)
	for _, rec := range records[:end] {
		results = append(results, project(rec, sel))
	}

	d := map[string]any{"results": results}
	if more {
		next := cloneQuery(query)
		next.Set("$skiptoken", strconv.Itoa(skip+end))
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		d["__next"] = fmt.Sprintf("%s://%s%s?%s", scheme, r.Host, r.URL.Path, next.Encode())
	}
	writeJSON(w, http.StatusOK, d)
}

// Create handles POST /api/v1/{division}/{service}/{resource}.
func (h *RecordsHandler) Create(w http.ResponseWriter, r *http.Request) {
	fields, err := decodeBody(r.Body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "Failed to parse request body")
		return
	}

	bucket := store.ResourceBucket(chi.URLParam(r, "division"), chi.URLParam(r, "service"), param(r, "resource"))
	rec, err := h.store.Insert(bucket, fields)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, rec)
}

// Update handles PUT /api/v1/{division}/{service}/{resource}(guid'id').
func (h *RecordsHandler) Update(w http.ResponseWriter, r *http.Request) {
	bucket, id, ok := keyedBucket(w, r)
	if !ok {
		return
	}

	fields, err := decodeBody(r.Body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "Failed to parse request body")
		return
	}

	if err := h.store.Update(bucket, id, fields); err != nil {
		writeStoreError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Delete handles DELETE /api/v1/{division}/{service}/{resource}(guid'id').
func (h *RecordsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	bucket, id, ok := keyedBucket(w, r)
	if !ok {
		return
	}

	if err := h.store.Delete(bucket, id); err != nil {
		writeStoreError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// CurrentMe handles GET /api/v1/current/Me.
func (h *RecordsHandler) CurrentMe(division string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		me := store.Record{"CurrentDivision": json.Number(division), "UserName": "emulator"}
		writeJSON(w, http.StatusOK, map[string]any{
			"results": []store.Record{project(me, r.URL.Query().Get("$select"))},
		})
	}
}

func keyedBucket(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	m := keyedRe.FindStringSubmatch(param(r, "resource"))
	if m == nil {
		writeJSONError(w, http.StatusMethodNotAllowed, "Address a single record as Resource(guid'id')")
		return "", "", false
	}
	return store.ResourceBucket(chi.URLParam(r, "division"), chi.URLParam(r, "service"), m[1]), m[2], true
}

func decodeBody(body io.Reader) (store.Record, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var rec store.Record
	if err := dec.Decode(&rec); err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, errors.New("body is not an object")
	}
	return rec, nil
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, "Record not found")
	case errors.Is(err, store.ErrInvalidID):
		writeJSONError(w, http.StatusBadRequest, "Invalid guid")
	default:
		writeJSONError(w, http.StatusInternalServerError, "Storage error")
	}
}

// project keeps the $select fields of rec.
func project(rec store.Record, sel string) store.Record {
	if strings.TrimSpace(sel) == "" {
		return rec
	}
	out := make(store.Record)
	for _, f := range strings.Split(sel, ",") {
		f = strings.TrimSpace(f)
		if v, ok := rec[f]; ok {
			out[f] = v
		}
	}
	return out
}

func cloneQuery(q url.Values) url.Values {
	out := make(url.Values, len(q))
	for k, v := range q {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// param returns a path parameter with percent-escapes decoded.
func param(r *http.Request, name string) string {
	v := chi.URLParam(r, name)
	if unescaped, err := url.PathUnescape(v); err == nil {
		return unescaped
	}
	return v
}
