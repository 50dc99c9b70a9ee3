package integration

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shunichi-ikebuchi/exact-online-connector/emulator/internal/api"
	"github.com/shunichi-ikebuchi/exact-online-connector/emulator/internal/oauth"
	"github.com/shunichi-ikebuchi/exact-online-connector/emulator/internal/store"
	"github.com/shunichi-ikebuchi/exact-online-connector/pkg/apierror"
	"github.com/shunichi-ikebuchi/exact-online-connector/pkg/auth"
	"github.com/shunichi-ikebuchi/exact-online-connector/pkg/dispatch"
	"github.com/shunichi-ikebuchi/exact-online-connector/pkg/endpoint"
	"github.com/shunichi-ikebuchi/exact-online-connector/pkg/exact"
	"github.com/shunichi-ikebuchi/exact-online-connector/pkg/metrics"
	"github.com/shunichi-ikebuchi/exact-online-connector/pkg/reconcile"
)

const division = "100"

type testEnv struct {
	server  *httptest.Server
	store   *store.Store
	tokens  *oauth.TokenManager
	clock   *fakeClock
	metrics *metrics.Metrics
	client  *exact.Client
	disp    *dispatch.Dispatcher
}

func setupTestServer(t *testing.T, cfg api.Config) *testEnv {
	t.Helper()

	st, err := store.New(filepath.Join(t.TempDir(), "exact.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = st.Close()
	})
	require.NoError(t, api.SeedDivision(st, division, "Test division"))

	clock := newFakeClock()
	cfg.Division = division
	cfg.Clock = clock.Now

	server := httptest.NewServer(api.NewRouter(st, cfg))
	t.Cleanup(server.Close)

	tokens := oauth.NewTokenManager(st)
	token, err := tokens.GenerateToken()
	require.NoError(t, err)

	registry, err := endpoint.LoadEmbedded()
	require.NoError(t, err)

	m := metrics.New()
	client := exact.NewClient(auth.NewAccessToken(server.URL, token, 5*time.Second),
		exact.WithMetrics(m),
		exact.WithSleep(clock.Sleep),
		exact.WithClock(clock.Now),
	)

	return &testEnv{
		server:  server,
		store:   st,
		tokens:  tokens,
		clock:   clock,
		metrics: m,
		client:  client,
		disp:    dispatch.New(registry, client, nil, m),
	}
}

func (e *testEnv) run(t *testing.T, resource string, op dispatch.Operation, items ...dispatch.Item) []dispatch.Result {
	t.Helper()
	results, err := e.disp.Run(context.Background(), dispatch.Context{
		Division:  division,
		Service:   "crm",
		Resource:  resource,
		Operation: op,
	}, items)
	require.NoError(t, err)
	require.Len(t, results, len(items))
	return results
}

func (e *testEnv) seedAccounts(t *testing.T, n int) {
	t.Helper()
	bucket := store.ResourceBucket(division, "crm", "Accounts")
	for i := 0; i < n; i++ {
		_, err := e.store.Insert(bucket, store.Record{"Name": "Account", "Code": strconv.Itoa(i + 1)})
		require.NoError(t, err)
	}
}

func TestAccountLifecycle(t *testing.T) {
	env := setupTestServer(t, api.Config{})
	data := NewTestDataBuilder("1100", 2026)

	var id string

	t.Run("Create account", func(t *testing.T) {
		results := env.run(t, "Accounts", dispatch.OpPost, dispatch.Item{Data: data.Account("Acme", "Delft")})
		require.Len(t, results[0].Records, 1)

		rec := results[0].Records[0]
		assert.Equal(t, "Acme", rec["Name"])
		assert.Equal(t, true, rec["IsSupplier"])
		assert.Equal(t, json.Number("2500.5"), rec["CreditLinePurchase"])

		id, _ = rec["ID"].(string)
		require.NotEmpty(t, id)
	})

	t.Run("Get account", func(t *testing.T) {
		results := env.run(t, "Accounts", dispatch.OpGet, dispatch.Item{ID: id, SelectedFields: []string{"ID", "Name"}})
		require.Len(t, results[0].Records, 1)
		assert.Equal(t, map[string]any{"ID": id, "Name": "Acme"}, results[0].Records[0])
	})

	t.Run("Update account", func(t *testing.T) {
		results := env.run(t, "Accounts", dispatch.OpPut, dispatch.Item{
			ID:   id,
			Data: []dispatch.FieldValue{{Name: "City", Value: "Gouda"}},
		})
		assert.Equal(t, "Successfully changed field values.", results[0].Records[0]["msg"])
	})

	t.Run("Filter accounts", func(t *testing.T) {
		results := env.run(t, "Accounts", dispatch.OpGetAll,
			dispatch.Item{Filters: []dispatch.Filter{{Field: "City", Operator: "eq", Value: dispatch.FilterValue{Values: []string{"Gouda", "Leiden"}, IsArray: true}}}},
			dispatch.Item{Filters: []dispatch.Filter{{Field: "City", Operator: "eq", Value: dispatch.FilterValue{Values: []string{"Delft"}}}}},
			dispatch.Item{Filters: []dispatch.Filter{{Field: "City", Operator: "eq", Value: dispatch.FilterValue{Values: []string{}, IsArray: true}}}},
		)
		assert.Len(t, results[0].Records, 1)
		assert.Empty(t, results[1].Records)
		assert.Empty(t, results[2].Records)
	})

	t.Run("Delete account", func(t *testing.T) {
		results := env.run(t, "Accounts", dispatch.OpDelete, dispatch.Item{ID: id})
		assert.Equal(t, "Successfully deleted record.", results[0].Records[0]["msg"])

		results = env.run(t, "Accounts", dispatch.OpGet, dispatch.Item{ID: id})
		assert.Empty(t, results[0].Records)
	})

	t.Run("Delete missing account", func(t *testing.T) {
		_, err := env.disp.Run(context.Background(), dispatch.Context{
			Division: division, Service: "crm", Resource: "Accounts", Operation: dispatch.OpDelete,
		}, []dispatch.Item{{ID: id}})

		var trErr *apierror.TransportError
		require.ErrorAs(t, err, &trErr)
		assert.Equal(t, http.StatusNotFound, trErr.StatusCode)
		assert.Equal(t, "Record not found", trErr.Message)
	})
}

func TestPagination(t *testing.T) {
	env := setupTestServer(t, api.Config{PageSize: 3})
	env.seedAccounts(t, 8)

	results := env.run(t, "Accounts", dispatch.OpGetAll,
		dispatch.Item{},
		dispatch.Item{Limit: 5},
		dispatch.Item{Limit: 20, SelectedFields: []string{"Code"}},
	)

	assert.Len(t, results[0].Records, 8)
	assert.Len(t, results[1].Records, 5)
	require.Len(t, results[2].Records, 8)
	for _, rec := range results[2].Records {
		assert.Len(t, rec, 1)
	}
	assert.Empty(t, env.clock.Sleeps())
}

func TestRateLimitWait(t *testing.T) {
	env := setupTestServer(t, api.Config{PageSize: 1, MinutelyLimit: 2})
	env.seedAccounts(t, 3)

	results := env.run(t, "Accounts", dispatch.OpGetAll, dispatch.Item{})

	assert.Len(t, results[0].Records, 3)
	// The second page exhausts the quota; the reset is one minute after the
	// window opened.
	assert.Equal(t, []time.Duration{time.Minute}, env.clock.Sleeps())
}

func TestRateLimitIgnored(t *testing.T) {
	env := setupTestServer(t, api.Config{PageSize: 1, MinutelyLimit: 2})
	env.seedAccounts(t, 3)

	_, err := env.disp.Run(context.Background(), dispatch.Context{
		Division: division, Service: "crm", Resource: "Accounts", Operation: dispatch.OpGetAll,
	}, []dispatch.Item{{IgnoreRateLimit: true}})

	var trErr *apierror.TransportError
	require.ErrorAs(t, err, &trErr)
	assert.Equal(t, http.StatusTooManyRequests, trErr.StatusCode)
	assert.Empty(t, env.clock.Sleeps())
}

func TestTooManyRequestsRetried(t *testing.T) {
	env := setupTestServer(t, api.Config{MinutelyLimit: 1})

	// Exhaust the quota outside the dispatcher.
	_, err := env.client.CurrentDivision(context.Background())
	require.NoError(t, err)

	current, err := env.client.CurrentDivision(context.Background())
	require.NoError(t, err)
	assert.Equal(t, division, current)
	assert.Equal(t, []time.Duration{61 * time.Second}, env.clock.Sleeps())
}

func TestListViaParent(t *testing.T) {
	env := setupTestServer(t, api.Config{})

	invoiceID := "0d5b1f7e-6a43-4f0e-8a57-3f1c2d9e8b10"
	_, err := env.store.Insert(store.ResourceBucket(division, "salesinvoice", "SalesInvoices"),
		store.Record{"ID": invoiceID, "InvoiceID": invoiceID, "InvoiceNumber": json.Number("42")})
	require.NoError(t, err)

	lines := store.ResourceBucket(division, "salesinvoice", "SalesInvoiceLines")
	for _, ref := range []string{invoiceID, invoiceID, "6c0f7a64-9f0c-4b1d-a0f2-1d5f6e7a8b9c"} {
		_, err := env.store.Insert(lines, store.Record{"InvoiceID": ref, "Description": "line"})
		require.NoError(t, err)
	}

	results, err := env.disp.Run(context.Background(), dispatch.Context{
		Division: division, Service: "salesinvoice", Resource: "SalesInvoiceLines", Operation: dispatch.OpGetAllViaParentID,
	}, []dispatch.Item{{ParentID: invoiceID}})
	require.NoError(t, err)
	assert.Len(t, results[0].Records, 2)
}

func TestCurrentDivisionResolution(t *testing.T) {
	env := setupTestServer(t, api.Config{})
	env.seedAccounts(t, 2)

	results, err := env.disp.Run(context.Background(), dispatch.Context{
		Service: "crm", Resource: "Accounts", Operation: dispatch.OpGetAll,
	}, []dispatch.Item{{}})
	require.NoError(t, err)
	assert.Len(t, results[0].Records, 2)

	divisions, err := env.client.Divisions(context.Background(), division)
	require.NoError(t, err)
	require.Len(t, divisions, 1)
	assert.Equal(t, exact.Division{Code: division, Description: "Test division", CustomerName: "Emulator"}, divisions[0])
}

func TestReconciliationUpload(t *testing.T) {
	env := setupTestServer(t, api.Config{})
	data := NewTestDataBuilder("1100", 2026)

	upload := func(items ...dispatch.Item) ([]dispatch.Result, error) {
		return env.disp.Run(context.Background(), dispatch.Context{
			Division: division, Service: "financial", Resource: "FFMatch", Operation: dispatch.OpPost,
			ContinueOnFail: true,
		}, items)
	}

	results, err := upload(
		dispatch.Item{Reconciliation: &dispatch.ReconciliationInput{MatchSets: []reconcile.MatchSet{
			data.MatchSet(1, "100.00", "-100.00"),
			data.MatchSet(3, "25.5", "-20", "-5.5"),
		}}},
		dispatch.Item{Reconciliation: &dispatch.ReconciliationInput{MatchSets: []reconcile.MatchSet{
			data.MatchSet(6, "100.00", "-99.00"),
		}}},
	)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Nil(t, results[0].Err)
	require.Len(t, results[0].Records, 2)
	assert.Equal(t, true, results[0].Records[0]["success"])
	assert.Equal(t, "FFMatch", results[0].Records[0]["topic"])

	require.NotNil(t, results[1].Err)
	assert.Equal(t, 1, results[1].Err.Index)
	var rej *apierror.ReconciliationRejection
	require.True(t, errors.As(results[1].Err, &rej))
	assert.Equal(t, []string{"Match set is not balanced: difference 1"}, rej.Descriptions)
	require.Len(t, results[1].Messages, 1)
	assert.True(t, results[1].Messages[0].IsError())
}

func TestOAuth2Refresh(t *testing.T) {
	env := setupTestServer(t, api.Config{})

	refresh, err := env.tokens.GenerateRefreshToken()
	require.NoError(t, err)

	tokenFile := filepath.Join(t.TempDir(), "token.json")
	provider := auth.NewOAuth2(auth.OAuth2Config{
		BaseURL:      env.server.URL,
		ClientID:     "client",
		ClientSecret: "secret",
		RefreshToken: refresh,
		Store:        auth.NewTokenStore(tokenFile),
		Timeout:      5 * time.Second,
	})
	client := exact.NewClient(provider)

	current, err := client.CurrentDivision(context.Background())
	require.NoError(t, err)
	assert.Equal(t, division, current)

	saved, err := auth.NewTokenStore(tokenFile).Load()
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.NotEmpty(t, saved.AccessToken)
	assert.NotEqual(t, refresh, saved.RefreshToken, "refresh tokens rotate")

	// The original refresh token is spent.
	valid, err := env.tokens.RedeemRefreshToken(refresh)
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestUnauthorized(t *testing.T) {
	env := setupTestServer(t, api.Config{})

	client := exact.NewClient(auth.NewAccessToken(env.server.URL, "bogus", time.Second))
	_, err := client.CurrentDivision(context.Background())

	var trErr *apierror.TransportError
	require.ErrorAs(t, err, &trErr)
	assert.Equal(t, http.StatusUnauthorized, trErr.StatusCode)
}
