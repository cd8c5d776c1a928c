package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/nordbrew/standing-orders/pkg/pagination"
)

// Metafield is one key-value entry attached to a platform resource. Value is
// the raw stored string; for "json"-typed entries it contains a JSON document.
type Metafield struct {
	ID        int64  `json:"id"`
	Namespace string `json:"namespace"`
	Key       string `json:"key"`
	Value     string `json:"value"`
}

// LineItem is one draft order line.
type LineItem struct {
	VariantID int64 `json:"variant_id"`
	Quantity  int   `json:"quantity"`
}

// CustomerRef identifies the customer a draft order belongs to.
type CustomerRef struct {
	ID int64 `json:"id"`
}

// DraftOrder is the creation payload for a draft order.
type DraftOrder struct {
	LineItems                 []LineItem  `json:"line_items"`
	Customer                  CustomerRef `json:"customer"`
	UseCustomerDefaultAddress bool        `json:"use_customer_default_address"`
	Note                      string      `json:"note,omitempty"`
}

// CustomerIDPage fetches one page of customer ids. pageInfo is the opaque
// continuation token from a previous page ("" for the first page); the
// returned token is "" when no further page exists. Implements
// pagination.Lister.
func (c *Client) CustomerIDPage(ctx context.Context, pageInfo string) ([]int64, string, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(c.pageSize))
	if pageInfo != "" {
		query.Set("page_info", pageInfo)
	}

	body, header, err := c.Call(ctx, http.MethodGet, "/customers.json?"+query.Encode(), nil)
	if err != nil {
		return nil, "", err
	}

	var resp struct {
		Customers []struct {
			ID int64 `json:"id"`
		} `json:"customers"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, "", fmt.Errorf("decode customers page: %w", err)
	}

	ids := make([]int64, 0, len(resp.Customers))
	for _, customer := range resp.Customers {
		ids = append(ids, customer.ID)
	}

	return ids, pagination.NextPageInfo(header.Get("Link")), nil
}

// CustomerMetafields lists all metafields attached to a customer.
func (c *Client) CustomerMetafields(ctx context.Context, customerID int64) ([]Metafield, error) {
	path := fmt.Sprintf("/customers/%d/metafields.json", customerID)
	body, _, err := c.Call(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Metafields []Metafield `json:"metafields"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode metafields: %w", err)
	}
	return resp.Metafields, nil
}

// CreateCustomerMetafield creates a new json-typed metafield on a customer.
func (c *Client) CreateCustomerMetafield(ctx context.Context, customerID int64, namespace, key, value string) (Metafield, error) {
	path := fmt.Sprintf("/customers/%d/metafields.json", customerID)
	payload := map[string]any{
		"metafield": map[string]any{
			"namespace": namespace,
			"key":       key,
			"type":      "json",
			"value":     value,
		},
	}

	body, _, err := c.Call(ctx, http.MethodPost, path, payload)
	if err != nil {
		return Metafield{}, err
	}

	var resp struct {
		Metafield Metafield `json:"metafield"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return Metafield{}, fmt.Errorf("decode created metafield: %w", err)
	}
	return resp.Metafield, nil
}

// UpdateMetafield replaces the value of an existing metafield by id.
func (c *Client) UpdateMetafield(ctx context.Context, metafieldID int64, value string) error {
	path := fmt.Sprintf("/metafields/%d.json", metafieldID)
	payload := map[string]any{
		"metafield": map[string]any{
			"id":    metafieldID,
			"type":  "json",
			"value": value,
		},
	}

	_, _, err := c.Call(ctx, http.MethodPut, path, payload)
	return err
}

// CreateDraftOrder creates a draft order and returns its id.
func (c *Client) CreateDraftOrder(ctx context.Context, draft DraftOrder) (int64, error) {
	body, _, err := c.Call(ctx, http.MethodPost, "/draft_orders.json", map[string]any{"draft_order": draft})
	if err != nil {
		return 0, err
	}

	var resp struct {
		DraftOrder struct {
			ID int64 `json:"id"`
		} `json:"draft_order"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("decode created draft order: %w", err)
	}
	return resp.DraftOrder.ID, nil
}

// SendDraftOrderInvoice asks the platform to email the invoice for a draft
// order.
func (c *Client) SendDraftOrderInvoice(ctx context.Context, draftOrderID int64) error {
	path := fmt.Sprintf("/draft_orders/%d/send_invoice.json", draftOrderID)
	_, _, err := c.Call(ctx, http.MethodPost, path, map[string]any{"draft_order_invoice": map[string]any{}})
	return err
}
