// Package testutil provides a configurable mock Admin API server for tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"sync"
)

// apiRoot must match the version the admin client is configured with.
const apiRoot = "/admin/api/2024-01"

// StoredMetafield is one metafield held by the mock platform.
type StoredMetafield struct {
	ID        int64  `json:"id"`
	Namespace string `json:"namespace"`
	Key       string `json:"key"`
	Value     string `json:"value"`
}

// CreatedDraft captures a draft order created against the mock platform.
type CreatedDraft struct {
	ID         int64
	CustomerID int64
	Note       string
	LineItems  []DraftLineItem
}

// DraftLineItem is one line of a captured draft order.
type DraftLineItem struct {
	VariantID int64 `json:"variant_id"`
	Quantity  int   `json:"quantity"`
}

// MockAdmin emulates the slice of the Admin API this service talks to:
// paginated customer listing (Link header continuation), customer
// metafields, draft orders, and draft order invoices. Custom handlers can
// override any path to inject failures.
type MockAdmin struct {
	server *httptest.Server

	mu         sync.Mutex
	customers  []int64
	pageSize   int
	metafields map[int64][]StoredMetafield
	nextID     int64
	drafts     []CreatedDraft
	invoiced   []int64
	handlers   map[string]http.HandlerFunc

	RequestCount      int
	LastRequestHeader http.Header
}

// NewMockAdmin creates a mock server with the given customer ids, paginated
// pageSize at a time.
func NewMockAdmin(customers []int64, pageSize int) *MockAdmin {
	if pageSize <= 0 {
		pageSize = 250
	}
	mock := &MockAdmin{
		customers:  customers,
		pageSize:   pageSize,
		metafields: make(map[int64][]StoredMetafield),
		nextID:     1000,
		handlers:   make(map[string]http.HandlerFunc),
	}
	mock.server = httptest.NewServer(http.HandlerFunc(mock.route))
	return mock
}

// URL returns the mock server origin, for use as the client's BaseURL.
func (m *MockAdmin) URL() string { return m.server.URL }

// Close shuts down the mock server.
func (m *MockAdmin) Close() { m.server.Close() }

// SetHandler overrides the handler for an exact path (relative to the API
// root, e.g. "/customers/2/metafields.json").
func (m *MockAdmin) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[apiRoot+path] = handler
}

// SeedMetafield attaches a metafield to a customer and returns its id.
func (m *MockAdmin) SeedMetafield(customerID int64, namespace, key, value string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.metafields[customerID] = append(m.metafields[customerID], StoredMetafield{
		ID: m.nextID, Namespace: namespace, Key: key, Value: value,
	})
	return m.nextID
}

// Metafields returns a copy of the metafields stored for a customer.
func (m *MockAdmin) Metafields(customerID int64) []StoredMetafield {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]StoredMetafield, len(m.metafields[customerID]))
	copy(out, m.metafields[customerID])
	return out
}

// Drafts returns a copy of all captured draft orders.
func (m *MockAdmin) Drafts() []CreatedDraft {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CreatedDraft, len(m.drafts))
	copy(out, m.drafts)
	return out
}

// Invoiced returns the draft order ids that had invoices sent.
func (m *MockAdmin) Invoiced() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int64, len(m.invoiced))
	copy(out, m.invoiced)
	return out
}

var (
	customerMetafieldsRe = regexp.MustCompile(`^` + apiRoot + `/customers/(\d+)/metafields\.json$`)
	metafieldRe          = regexp.MustCompile(`^` + apiRoot + `/metafields/(\d+)\.json$`)
	sendInvoiceRe        = regexp.MustCompile(`^` + apiRoot + `/draft_orders/(\d+)/send_invoice\.json$`)
)

func (m *MockAdmin) route(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.RequestCount++
	m.LastRequestHeader = r.Header.Clone()
	override, hasOverride := m.handlers[r.URL.Path]
	m.mu.Unlock()

	if hasOverride {
		override(w, r)
		return
	}

	path := r.URL.Path
	switch {
	case path == apiRoot+"/customers.json" && r.Method == http.MethodGet:
		m.handleCustomersPage(w, r)
	case customerMetafieldsRe.MatchString(path):
		customerID := pathID(customerMetafieldsRe, path)
		if r.Method == http.MethodGet {
			m.handleListMetafields(w, customerID)
		} else {
			m.handleCreateMetafield(w, r, customerID)
		}
	case metafieldRe.MatchString(path) && r.Method == http.MethodPut:
		m.handleUpdateMetafield(w, r, pathID(metafieldRe, path))
	case path == apiRoot+"/draft_orders.json" && r.Method == http.MethodPost:
		m.handleCreateDraft(w, r)
	case sendInvoiceRe.MatchString(path) && r.Method == http.MethodPost:
		m.handleSendInvoice(w, pathID(sendInvoiceRe, path))
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"errors": "Not Found"})
	}
}

func (m *MockAdmin) handleCustomersPage(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	offset := 0
	if pageInfo := r.URL.Query().Get("page_info"); pageInfo != "" {
		offset, _ = strconv.Atoi(pageInfo)
	}
	if offset > len(m.customers) {
		offset = len(m.customers)
	}

	end := offset + m.pageSize
	if end > len(m.customers) {
		end = len(m.customers)
	}

	if end < len(m.customers) {
		next := fmt.Sprintf("<%s%s/customers.json?limit=%d&page_info=%d>; rel=\"next\"",
			m.server.URL, apiRoot, m.pageSize, end)
		if offset > 0 {
			next = fmt.Sprintf("<%s%s/customers.json?limit=%d&page_info=%d>; rel=\"previous\", ",
				m.server.URL, apiRoot, m.pageSize, 0) + next
		}
		w.Header().Set("Link", next)
	}

	type customer struct {
		ID int64 `json:"id"`
	}
	page := make([]customer, 0, end-offset)
	for _, id := range m.customers[offset:end] {
		page = append(page, customer{ID: id})
	}
	writeJSON(w, http.StatusOK, map[string]any{"customers": page})
}

func (m *MockAdmin) handleListMetafields(w http.ResponseWriter, customerID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.metafields[customerID]
	if entries == nil {
		entries = []StoredMetafield{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"metafields": entries})
}

func (m *MockAdmin) handleCreateMetafield(w http.ResponseWriter, r *http.Request, customerID int64) {
	var payload struct {
		Metafield struct {
			Namespace string `json:"namespace"`
			Key       string `json:"key"`
			Value     string `json:"value"`
		} `json:"metafield"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"errors": err.Error()})
		return
	}

	m.mu.Lock()
	m.nextID++
	entry := StoredMetafield{
		ID:        m.nextID,
		Namespace: payload.Metafield.Namespace,
		Key:       payload.Metafield.Key,
		Value:     payload.Metafield.Value,
	}
	m.metafields[customerID] = append(m.metafields[customerID], entry)
	m.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]any{"metafield": entry})
}

func (m *MockAdmin) handleUpdateMetafield(w http.ResponseWriter, r *http.Request, metafieldID int64) {
	var payload struct {
		Metafield struct {
			Value string `json:"value"`
		} `json:"metafield"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"errors": err.Error()})
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for customerID, entries := range m.metafields {
		for i := range entries {
			if entries[i].ID == metafieldID {
				m.metafields[customerID][i].Value = payload.Metafield.Value
				writeJSON(w, http.StatusOK, map[string]any{"metafield": m.metafields[customerID][i]})
				return
			}
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"errors": "Not Found"})
}

func (m *MockAdmin) handleCreateDraft(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		DraftOrder struct {
			LineItems []DraftLineItem `json:"line_items"`
			Customer  struct {
				ID int64 `json:"id"`
			} `json:"customer"`
			Note string `json:"note"`
		} `json:"draft_order"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"errors": err.Error()})
		return
	}

	m.mu.Lock()
	m.nextID++
	draft := CreatedDraft{
		ID:         m.nextID,
		CustomerID: payload.DraftOrder.Customer.ID,
		Note:       payload.DraftOrder.Note,
		LineItems:  payload.DraftOrder.LineItems,
	}
	m.drafts = append(m.drafts, draft)
	m.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]any{"draft_order": map[string]any{"id": draft.ID}})
}

func (m *MockAdmin) handleSendInvoice(w http.ResponseWriter, draftID int64) {
	m.mu.Lock()
	m.invoiced = append(m.invoiced, draftID)
	m.mu.Unlock()
	writeJSON(w, http.StatusCreated, map[string]any{"draft_order_invoice": map[string]any{}})
}

func pathID(re *regexp.Regexp, path string) int64 {
	match := re.FindStringSubmatch(path)
	id, _ := strconv.ParseInt(match[1], 10, 64)
	return id
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
