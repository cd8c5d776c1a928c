package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/nordbrew/standing-orders/internal/testutil"
	"github.com/nordbrew/standing-orders/pkg/admin"
	"github.com/nordbrew/standing-orders/pkg/batch"
	"github.com/nordbrew/standing-orders/pkg/prefs"
	"github.com/nordbrew/standing-orders/pkg/runlock"
	"github.com/nordbrew/standing-orders/pkg/signature"
	"github.com/nordbrew/standing-orders/pkg/transport"
)

const testSecret = "test-proxy-secret"

// 2024-01-01 is a Monday.
var fixedMonday = time.Date(2024, 1, 1, 6, 0, 0, 0, time.UTC)

type fixture struct {
	mock     *testutil.MockAdmin
	verifier *signature.Verifier
	handler  http.Handler
	locker   runlock.Locker
}

func newFixture(t *testing.T, customers []int64) *fixture {
	t.Helper()

	mock := testutil.NewMockAdmin(customers, 250)
	t.Cleanup(mock.Close)

	api := admin.New(admin.Config{
		Shop:              "test-shop.myshopify.com",
		Token:             "test-token",
		BaseURL:           mock.URL(),
		Policy:            transport.Policy{MaxAttempts: 1, PerAttemptTimeout: 2 * time.Second, BaseBackoff: time.Millisecond},
		RequestsPerSecond: 1000,
	})

	store := prefs.NewStore(api)
	orch := batch.New(api, store)
	orch.SetClock(func() time.Time { return fixedMonday })

	verifier := signature.New(testSecret)
	locker := runlock.NewMemory()
	server := New(Config{
		Shop:         "test-shop.myshopify.com",
		Verifier:     verifier,
		Prefs:        store,
		Orchestrator: orch,
		Locker:       locker,
	})

	return &fixture{mock: mock, verifier: verifier, handler: server.Routes(), locker: locker}
}

// signedQuery builds a query string with a valid proxy signature appended.
func (f *fixture) signedQuery(params url.Values) string {
	params.Set(signature.Param, f.verifier.Sign(params))
	return params.Encode()
}

func (f *fixture) do(method, target string, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response body is not JSON: %v\n%s", err, rec.Body.String())
	}
	return body
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["ok"] != true {
		t.Errorf("ok = %v, want true", body["ok"])
	}
	if body["shop"] != "test-shop.myshopify.com" {
		t.Errorf("shop = %v", body["shop"])
	}
}

func TestGetPreferences_RejectsBadSignature(t *testing.T) {
	f := newFixture(t, []int64{1})

	tests := []struct {
		name  string
		query string
	}{
		{"missing signature", "customer_id=1"},
		{"wrong signature", "customer_id=1&signature=deadbeef"},
		{"signature for different params", func() string {
			params := url.Values{"customer_id": {"2"}}
			sig := f.verifier.Sign(params)
			return "customer_id=1&signature=" + sig
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(http.MethodGet, "/proxy/standing-orders?"+tt.query, "")
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rec.Code)
			}
			if decodeBody(t, rec)["error"] == "" {
				t.Error("error body missing")
			}
		})
	}
}

func TestGetPreferences_MissingCustomerID(t *testing.T) {
	f := newFixture(t, []int64{1})

	query := f.signedQuery(url.Values{"shop": {"test-shop.myshopify.com"}})
	rec := f.do(http.MethodGet, "/proxy/standing-orders?"+query, "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestGetPreferences_NoDocument(t *testing.T) {
	f := newFixture(t, []int64{1})

	query := f.signedQuery(url.Values{"customer_id": {"1"}})
	rec := f.do(http.MethodGet, "/proxy/standing-orders?"+query, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200\n%s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["data"] != nil {
		t.Errorf("data = %v, want null", body["data"])
	}
}

func TestGetPreferences_ReturnsStoredDocument(t *testing.T) {
	f := newFixture(t, []int64{1})
	f.mock.SeedMetafield(1, prefs.Namespace, prefs.Key, `{"products":[{"variantId":111}]}`)

	query := f.signedQuery(url.Values{"customer_id": {"1"}})
	rec := f.do(http.MethodGet, "/proxy/standing-orders?"+query, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200\n%s", rec.Code, rec.Body.String())
	}

	body := decodeBody(t, rec)
	data, ok := body["data"].(map[string]any)
	if !ok {
		t.Fatalf("data = %v, want object", body["data"])
	}
	if _, ok := data["products"]; !ok {
		t.Errorf("data missing products: %v", data)
	}
}

func TestSavePreferences(t *testing.T) {
	f := newFixture(t, []int64{1})

	query := f.signedQuery(url.Values{"customer_id": {"1"}})
	payload := `{"customer_id":1,"data":{"products":[{"variantId":111,"quantityPerWeekday":{"mon":2}}]}}`

	rec := f.do(http.MethodPost, "/proxy/standing-orders?"+query, payload)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200\n%s", rec.Code, rec.Body.String())
	}
	if decodeBody(t, rec)["ok"] != true {
		t.Error("response ok != true")
	}

	entries := f.mock.Metafields(1)
	if len(entries) != 1 {
		t.Fatalf("remote holds %d records, want 1", len(entries))
	}
	if entries[0].Namespace != prefs.Namespace || entries[0].Key != prefs.Key {
		t.Errorf("stored under %s.%s", entries[0].Namespace, entries[0].Key)
	}
}

func TestSavePreferences_RejectsBadSignature(t *testing.T) {
	f := newFixture(t, []int64{1})

	rec := f.do(http.MethodPost, "/proxy/standing-orders?customer_id=1&signature=bogus", `{"customer_id":1,"data":{}}`)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestSavePreferences_BadBody(t *testing.T) {
	f := newFixture(t, []int64{1})
	query := f.signedQuery(url.Values{"customer_id": {"1"}})

	tests := []struct {
		name string
		body string
	}{
		{"not JSON", `{"customer_id": `},
		{"missing customer_id", `{"data":{"products":[]}}`},
		{"missing data", `{"customer_id":1}`},
		{"null data", `{"customer_id":1,"data":null}`},
		{"null data with whitespace", `{"customer_id":1,"data": null }`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(http.MethodPost, "/proxy/standing-orders?"+query, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400\n%s", rec.Code, rec.Body.String())
			}
		})
	}

	if len(f.mock.Metafields(1)) != 0 {
		t.Error("rejected requests must not write anything")
	}
}

func TestRunJob(t *testing.T) {
	f := newFixture(t, []int64{1, 2})
	f.mock.SeedMetafield(1, prefs.Namespace, prefs.Key, `{"products":[{"variantId":111,"quantityPerWeekday":{"mon":2}}]}`)

	rec := f.do(http.MethodPost, "/jobs/standing-orders/run", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200\n%s", rec.Code, rec.Body.String())
	}

	body := decodeBody(t, rec)
	if body["ok"] != true {
		t.Error("response ok != true")
	}
	if body["weekday"] != "mon" {
		t.Errorf("weekday = %v, want mon", body["weekday"])
	}
	created, _ := body["created"].([]any)
	if len(created) != 1 {
		t.Errorf("created = %v, want one entry", body["created"])
	}
	if len(f.mock.Drafts()) != 1 {
		t.Errorf("mock captured %d drafts, want 1", len(f.mock.Drafts()))
	}
}

func TestRunJob_SurvivesTriggerDisconnect(t *testing.T) {
	f := newFixture(t, []int64{1})
	f.mock.SeedMetafield(1, prefs.Namespace, prefs.Key, `{"products":[{"variantId":111,"quantityPerWeekday":{"mon":2}}]}`)

	// A scheduler that gives up on the trigger request cancels its context;
	// the run itself must keep going to completion.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := httptest.NewRequest(http.MethodPost, "/jobs/standing-orders/run", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200\n%s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["ok"] != true {
		t.Errorf("response ok != true: %v", body)
	}
	if len(f.mock.Drafts()) != 1 {
		t.Errorf("mock captured %d drafts, want 1", len(f.mock.Drafts()))
	}
	if len(f.mock.Invoiced()) != 1 {
		t.Errorf("invoiced %d drafts, want 1", len(f.mock.Invoiced()))
	}
}

func TestRunJob_ConflictWhileRunning(t *testing.T) {
	f := newFixture(t, nil)

	release, ok, err := f.locker.Acquire(context.Background(), "standing-orders:run", time.Minute)
	if err != nil || !ok {
		t.Fatalf("pre-acquire: ok=%v err=%v", ok, err)
	}
	defer release()

	rec := f.do(http.MethodPost, "/jobs/standing-orders/run", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestRunJob_ReleasesLockAfterRun(t *testing.T) {
	f := newFixture(t, nil)

	if rec := f.do(http.MethodPost, "/jobs/standing-orders/run", ""); rec.Code != http.StatusOK {
		t.Fatalf("first run status = %d", rec.Code)
	}
	if rec := f.do(http.MethodPost, "/jobs/standing-orders/run", ""); rec.Code != http.StatusOK {
		t.Fatalf("second run status = %d, lock was not released", rec.Code)
	}
}

func TestMethodRouting(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		method string
		target string
		want   int
	}{
		{http.MethodDelete, "/proxy/standing-orders", http.StatusMethodNotAllowed},
		{http.MethodGet, "/jobs/standing-orders/run", http.StatusMethodNotAllowed},
		{http.MethodGet, "/nope", http.StatusNotFound},
	}
	for _, tt := range tests {
		rec := f.do(tt.method, tt.target, "")
		if rec.Code != tt.want {
			t.Errorf("%s %s = %d, want %d", tt.method, tt.target, rec.Code, tt.want)
		}
	}
}
