// Package dispatch runs one connector operation over a sequence of input
// items.
//
// Items are processed strictly in order. Every failure leaving Run is an
// *apierror.ItemError carrying the index of the item that caused it.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/shunichi-ikebuchi/exact-online-connector/pkg/apierror"
	"github.com/shunichi-ikebuchi/exact-online-connector/pkg/endpoint"
	"github.com/shunichi-ikebuchi/exact-online-connector/pkg/exact"
	"github.com/shunichi-ikebuchi/exact-online-connector/pkg/metrics"
	"github.com/shunichi-ikebuchi/exact-online-connector/pkg/odata"
	"github.com/shunichi-ikebuchi/exact-online-connector/pkg/reconcile"
)

// Result is the outcome of one item.
type Result struct {
	Index   int
	Records []exact.Record
	// Messages holds the decoded response of an XML upload.
	Messages reconcile.Messages
	Err      *apierror.ItemError
}

// Dispatcher resolves the endpoint of a run and executes each item.
type Dispatcher struct {
	Registry *endpoint.Registry
	Client   *exact.Client
	Builder  *odata.Builder
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

// New creates a Dispatcher with a Builder bound to registry.
func New(registry *endpoint.Registry, client *exact.Client, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		Registry: registry,
		Client:   client,
		Builder:  odata.NewBuilder(registry, logger),
		Logger:   logger,
		Metrics:  m,
	}
}

// Run executes c.Operation for every item. Without ContinueOnFail the first
// failure stops the run and is returned with the results so far. Endpoint
// resolution failures are attributed to item 0.
func (d *Dispatcher) Run(ctx context.Context, c Context, items []Item) ([]Result, error) {
	cfg, err := d.resolve(c)
	if err != nil {
		return nil, apierror.AtItem(0, err)
	}

	if c.Division == "" && len(items) > 0 {
		division, err := d.Client.CurrentDivision(ctx)
		if err != nil {
			return nil, apierror.AtItem(0, err)
		}
		c.Division = division
		d.Logger.Debug("using current division", "division", division)
	}

	results := make([]Result, 0, len(items))
	for i, item := range items {
		res, err := d.runItem(ctx, c, cfg, item)
		if err != nil {
			itemErr := apierror.AtItem(i, err)
			d.Metrics.ObserveItem(string(c.Operation), "error")
			d.Logger.Error("item failed",
				"index", i,
				"operation", c.Operation,
				"endpoint", cfg.String(),
				"kind", apierror.Kind(err),
				"error", err,
			)
			if !c.ContinueOnFail {
				return results, itemErr
			}
			results = append(results, Result{
				Index:    i,
				Records:  []exact.Record{{"error": itemErr.Err.Error()}},
				Messages: res.Messages,
				Err:      itemErr,
			})
			continue
		}

		d.Metrics.ObserveItem(string(c.Operation), "success")
		res.Index = i
		results = append(results, res)
	}
	return results, nil
}

// resolve looks up the endpoint and checks that it supports the operation.
func (d *Dispatcher) resolve(c Context) (*endpoint.EndpointConfiguration, error) {
	cfg, err := d.Registry.Lookup(c.Service, c.Resource)
	if err != nil {
		return nil, err
	}
	for _, op := range d.Registry.Operations(cfg) {
		if op == string(c.Operation) {
			return cfg, nil
		}
	}
	return nil, &apierror.ConfigurationError{
		Service:  cfg.Service,
		Endpoint: cfg.Endpoint,
		Message:  fmt.Sprintf("operation '%s' is not supported for %s endpoint", c.Operation, cfg.Kind),
	}
}

func (d *Dispatcher) runItem(ctx context.Context, c Context, cfg *endpoint.EndpointConfiguration, item Item) (Result, error) {
	if cfg.Kind == endpoint.KindXML {
		return d.upload(ctx, c, cfg, item)
	}

	var (
		records []exact.Record
		err     error
	)
	switch c.Operation {
	case OpGet:
		records, err = d.get(ctx, c, cfg, item)
	case OpGetAll:
		records, err = d.getAll(ctx, c, cfg, item)
	case OpGetAllViaParentID:
		records, err = d.getAllViaParent(ctx, c, cfg, item)
	case OpPost:
		records, err = d.create(ctx, c, cfg, item)
	case OpPut:
		records, err = d.update(ctx, c, cfg, item)
	case OpDelete:
		records, err = d.remove(ctx, c, cfg, item)
	default:
		err = &apierror.ConfigurationError{
			Service:  cfg.Service,
			Endpoint: cfg.Endpoint,
			Message:  fmt.Sprintf("operation '%s' is not supported for REST endpoint", c.Operation),
		}
	}
	return Result{Records: records}, err
}

// query builds $select and $filter from the item.
func (d *Dispatcher) query(cfg *endpoint.EndpointConfiguration, item Item) (url.Values, error) {
	sel, err := odata.SelectList(cfg, item.SelectedFields, item.ExcludeSelection)
	if err != nil {
		return nil, err
	}

	conj, err := odata.ParseConjunction(item.Conjunction)
	if err != nil {
		return nil, err
	}
	descriptors := make([]odata.FilterDescriptor, 0, len(item.Filters))
	for _, f := range item.Filters {
		desc, err := f.Descriptor()
		if err != nil {
			return nil, err
		}
		descriptors = append(descriptors, desc)
	}
	filter, err := d.Builder.BuildFilterClause(cfg, descriptors, conj)
	if err != nil {
		return nil, err
	}

	return odata.Options{Filter: filter, Select: sel}.Values(), nil
}

func (d *Dispatcher) get(ctx context.Context, c Context, cfg *endpoint.EndpointConfiguration, item Item) ([]exact.Record, error) {
	if item.ID == "" {
		return nil, apierror.Validationf("id", "an ID is required for the get operation")
	}
	filter, err := odata.IDFilter(cfg.KeyField(), item.ID)
	if err != nil {
		return nil, err
	}
	sel, err := odata.SelectList(cfg, item.SelectedFields, item.ExcludeSelection)
	if err != nil {
		return nil, err
	}

	query := odata.Options{Filter: filter, Select: sel, Top: 1}.Values()
	return d.Client.Get(ctx, d.Registry.ResolveURI(cfg, c.Division), query)
}

func (d *Dispatcher) getAll(ctx context.Context, c Context, cfg *endpoint.EndpointConfiguration, item Item) ([]exact.Record, error) {
	query, err := d.query(cfg, item)
	if err != nil {
		return nil, err
	}
	return d.Client.Collect(ctx, d.Registry.ResolveURI(cfg, c.Division), item.Limit, query,
		exact.CollectOptions{IgnoreRateLimit: item.IgnoreRateLimit})
}

func (d *Dispatcher) getAllViaParent(ctx context.Context, c Context, cfg *endpoint.EndpointConfiguration, item Item) ([]exact.Record, error) {
	if cfg.ParentResource == "" {
		return nil, &apierror.ConfigurationError{
			Service:  cfg.Service,
			Endpoint: cfg.Endpoint,
			Message:  "endpoint has no parent resource",
		}
	}
	if item.ParentID == "" {
		return nil, apierror.Validationf("parentId", "a parent ID is required for the getAllViaParentId operation")
	}
	parentID, err := odata.ParseGuid("parentId", item.ParentID)
	if err != nil {
		return nil, err
	}
	query, err := d.query(cfg, item)
	if err != nil {
		return nil, err
	}

	uri := fmt.Sprintf("/api/v1/%s/%s/%s(guid'%s')/%s", c.Division, cfg.Service, cfg.ParentResource, parentID, cfg.Endpoint)
	return d.Client.Collect(ctx, uri, item.Limit, query, exact.CollectOptions{IgnoreRateLimit: item.IgnoreRateLimit})
}

func (d *Dispatcher) create(ctx context.Context, c Context, cfg *endpoint.EndpointConfiguration, item Item) ([]exact.Record, error) {
	body, err := d.body(cfg, item, true)
	if err != nil {
		return nil, err
	}

	resp, err := d.Client.Send(ctx, exact.Request{
		Method:  "POST",
		URI:     d.Registry.ResolveURI(cfg, c.Division),
		Body:    body,
		Headers: map[string]string{"Prefer": "return=representation"},
	})
	if err != nil {
		return nil, err
	}
	page, err := exact.DecodePage(resp.Body)
	if err != nil {
		return nil, err
	}
	return page.Records, nil
}

func (d *Dispatcher) update(ctx context.Context, c Context, cfg *endpoint.EndpointConfiguration, item Item) ([]exact.Record, error) {
	uri, err := d.recordURI(c, cfg, item)
	if err != nil {
		return nil, err
	}
	body, err := d.body(cfg, item, false)
	if err != nil {
		return nil, err
	}

	resp, err := d.Client.Send(ctx, exact.Request{Method: "PUT", URI: uri, Body: body})
	if err != nil {
		return nil, err
	}
	if err := expectNoContent("PUT", uri, resp); err != nil {
		return nil, err
	}
	return []exact.Record{{"msg": "Successfully changed field values."}}, nil
}

func (d *Dispatcher) remove(ctx context.Context, c Context, cfg *endpoint.EndpointConfiguration, item Item) ([]exact.Record, error) {
	uri, err := d.recordURI(c, cfg, item)
	if err != nil {
		return nil, err
	}

	resp, err := d.Client.Send(ctx, exact.Request{Method: "DELETE", URI: uri})
	if err != nil {
		return nil, err
	}
	if err := expectNoContent("DELETE", uri, resp); err != nil {
		return nil, err
	}
	return []exact.Record{{"msg": "Successfully deleted record."}}, nil
}

// recordURI addresses a single record by its Guid key.
func (d *Dispatcher) recordURI(c Context, cfg *endpoint.EndpointConfiguration, item Item) (string, error) {
	if item.ID == "" {
		return "", apierror.Validationf("id", "an ID is required for the %s operation", c.Operation)
	}
	id, err := odata.ParseGuid("id", item.ID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s(guid'%s')", d.Registry.ResolveURI(cfg, c.Division), id), nil
}

func expectNoContent(method, uri string, resp *exact.Response) error {
	if resp.StatusCode == 204 {
		return nil
	}
	return &apierror.TransportError{
		Method:     method,
		URL:        uri,
		StatusCode: resp.StatusCode,
		Body:       string(resp.Body),
		Message:    "expected status 204 No Content, got " + strconv.Itoa(resp.StatusCode),
	}
}

// upload encodes match sets, posts them to the XML endpoint and rejects the
// item unless every set was acknowledged without error.
func (d *Dispatcher) upload(ctx context.Context, c Context, cfg *endpoint.EndpointConfiguration, item Item) (Result, error) {
	sets, err := d.matchSets(cfg, item)
	if err != nil {
		return Result{}, err
	}
	payload, err := reconcile.Encode(sets)
	if err != nil {
		return Result{}, err
	}

	d.Logger.Debug("uploading match sets", "topic", cfg.Endpoint, "match_sets", len(sets), "bytes", len(payload))

	resp, err := d.Client.Send(ctx, exact.Request{
		Method:      "POST",
		URI:         d.Registry.ResolveURI(cfg, c.Division),
		RawBody:     payload,
		ContentType: "application/xml",
	})
	if err != nil {
		return Result{}, err
	}

	msgs, err := reconcile.Decode(resp.Body)
	if err != nil {
		return Result{}, err
	}
	for _, m := range msgs {
		class := "info"
		if m.IsError() {
			class = "error"
		}
		d.Metrics.ObserveMessage(class)
	}

	if err := reconcile.Check(cfg.Endpoint, len(sets), msgs); err != nil {
		return Result{Messages: msgs}, err
	}

	records := make([]exact.Record, 0, len(msgs))
	for _, m := range msgs {
		records = append(records, exact.Record{
			"type":        m.Type,
			"topic":       m.Topic,
			"keyAlt":      m.KeyAlt,
			"description": m.Description,
			"success":     true,
		})
	}
	return Result{Records: records, Messages: msgs}, nil
}

// matchSets takes match sets from, in order of precedence, the structured
// reconciliation input, the manual body, or the MatchSets data field.
func (d *Dispatcher) matchSets(cfg *endpoint.EndpointConfiguration, item Item) ([]reconcile.MatchSet, error) {
	if item.Reconciliation != nil {
		if len(item.Reconciliation.MatchSets) == 0 {
			return nil, apierror.Validationf("MatchSets", "at least one match set is required")
		}
		return item.Reconciliation.MatchSets, nil
	}
	if item.UseManualBody {
		if item.ManualBody == "" {
			return nil, apierror.Validationf("manualBody", "manual body cannot be empty")
		}
		return reconcile.ParseMatchSets([]byte(item.ManualBody))
	}

	if len(cfg.Fields) == 0 {
		return nil, &apierror.ConfigurationError{
			Service:  cfg.Service,
			Endpoint: cfg.Endpoint,
			Message:  "no field definition found for XML endpoint",
		}
	}
	field := cfg.Fields[0].Name
	for _, fv := range item.Data {
		if fv.Name == field {
			return reconcile.ParseMatchSets([]byte(fv.Value))
		}
	}
	return nil, &apierror.ConfigurationError{
		Service:  cfg.Service,
		Endpoint: cfg.Endpoint,
		Field:    field,
		Message:  "mandatory field is missing",
	}
}

// IsRejection reports whether err is a reconciliation rejection.
func IsRejection(err error) bool {
	var rej *apierror.ReconciliationRejection
	return errors.As(err, &rej)
}
