package remote

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"resty.dev/v3"

	"pos-offline-core/internal/config"
)

// Backend method names.
const (
	MethodSubmitInvoice  = "posawesome.posawesome.api.invoices.submit_invoice"
	MethodUpdateInvoice  = "posawesome.posawesome.api.invoices.update_invoice"
	MethodCreateCustomer = "posawesome.posawesome.api.customers.create_customer"
	MethodProcessPayment = "posawesome.posawesome.api.payment_entry.process_pos_payment"
	MethodItemDetails    = "posawesome.posawesome.api.items.get_items_details"
)

const (
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 512
)

// Client calls backend methods as POST /api/method/<method> with a JSON
// body. Results arrive wrapped as {"message": ...}.
type Client struct {
	http *resty.Client
}

func NewClient(cfg config.RemoteConfig) *Client {
	timeout := cfg.GetTimeout()
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		c.SetHeader("Authorization", "token "+cfg.APIKey+":"+cfg.APISecret)
	}
	return &Client{http: c}
}

func (c *Client) Close() error {
	return c.http.Close()
}

type envelope struct {
	Message json.RawMessage `json:"message"`
}

func (c *Client) call(ctx context.Context, method string, args interface{}, out interface{}) error {
	var env envelope
	res, err := c.http.R().
		SetContext(ctx).
		SetBody(args).
		SetResult(&env).
		Post("/api/method/" + method)
	if err != nil {
		return &Error{Method: method, Err: err}
	}
	if res.IsError() {
		body := res.String()
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return &Error{Method: method, Status: res.StatusCode(), Body: body}
	}
	if out == nil || len(env.Message) == 0 || string(env.Message) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Message, out); err != nil {
		return &Error{Method: method, Err: err}
	}
	return nil
}

func (c *Client) SubmitInvoice(ctx context.Context, invoice, data map[string]interface{}) error {
	return c.call(ctx, MethodSubmitInvoice, map[string]interface{}{"invoice": invoice, "data": data}, nil)
}

func (c *Client) UpdateInvoice(ctx context.Context, invoice map[string]interface{}) error {
	return c.call(ctx, MethodUpdateInvoice, map[string]interface{}{"data": invoice}, nil)
}

func (c *Client) CreateCustomer(ctx context.Context, args map[string]interface{}) (CustomerRef, error) {
	var ref CustomerRef
	err := c.call(ctx, MethodCreateCustomer, args, &ref)
	return ref, err
}

func (c *Client) ProcessPayment(ctx context.Context, args map[string]interface{}) error {
	return c.call(ctx, MethodProcessPayment, args, nil)
}

// ItemStock asks for the details of itemCodes and keeps their quantities.
// The backend expects both arguments as JSON strings.
func (c *Client) ItemStock(ctx context.Context, posProfile map[string]interface{}, itemCodes []string) ([]ItemStock, error) {
	profile, err := json.Marshal(posProfile)
	if err != nil {
		return nil, &Error{Method: MethodItemDetails, Err: err}
	}
	items := make([]map[string]string, len(itemCodes))
	for i, code := range itemCodes {
		items[i] = map[string]string{"item_code": code}
	}
	itemsData, err := json.Marshal(items)
	if err != nil {
		return nil, &Error{Method: MethodItemDetails, Err: err}
	}

	var out []ItemStock
	err = c.call(ctx, MethodItemDetails, map[string]string{
		"pos_profile": string(profile),
		"items_data":  string(itemsData),
	}, &out)
	return out, err
}
