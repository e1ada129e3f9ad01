// Package asaas is a thin client for the Asaas payment gateway REST API.
// Every operation is a synchronous request with a bounded timeout; transport
// and HTTP failures are normalized into a single *Error type.
package asaas

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Base URLs per environment.
const (
	SandboxBaseURL    = "https://sandbox.asaas.com/api/v3"
	ProductionBaseURL = "https://api.asaas.com/v3"
)

const defaultTimeout = 30 * time.Second

// Config holds the gateway client configuration. There is no ambient global
// state: construct a Client with the settings it should use.
type Config struct {
	// APIKey is sent as the access_token header.
	APIKey string
	// BaseURL overrides the environment-derived URL when set.
	BaseURL string
	// Env selects sandbox (default) or production when BaseURL is empty.
	Env string
	// Timeout bounds every request. Defaults to 30s.
	Timeout time.Duration
}

func (c Config) baseURL() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	if c.Env == "production" {
		return ProductionBaseURL
	}
	return SandboxBaseURL
}

// Error is the single error type surfaced for gateway failures. StatusCode
// is 0 for transport-level failures.
type Error struct {
	StatusCode int
	Body       string
	cause      error
}

func (e *Error) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("asaas: request failed: %v", e.cause)
	}
	return fmt.Sprintf("asaas: %d: %s", e.StatusCode, e.Body)
}

func (e *Error) Unwrap() error { return e.cause }

// IsGatewayError reports whether err originated from the gateway client.
func IsGatewayError(err error) bool {
	var ge *Error
	return errors.As(err, &ge)
}

// Client calls the Asaas REST API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	// newIdempotencyKey is replaceable in tests.
	newIdempotencyKey func() string
}

// NewClient creates a Client from the given configuration. The underlying
// transport is instrumented with otelhttp.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: cfg.baseURL(),
		apiKey:  cfg.APIKey,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		newIdempotencyKey: func() string { return uuid.New().String() },
	}
}

// do performs one request and decodes the 2xx response body into out.
// Non-2xx responses and transport failures become *Error.
func (c *Client) do(ctx context.Context, method, endpoint string, body, out any, header http.Header) error {
	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "marshal request")
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+endpoint, reqBody)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("access_token", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{cause: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &Error{cause: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Error{StatusCode: resp.StatusCode, Body: string(data)}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return errors.Wrap(err, "decode response")
		}
		if rc, ok := out.(rawCarrier); ok {
			rc.setRaw(data)
		}
	}
	return nil
}

// rawCarrier is implemented by response types that keep the unparsed body.
type rawCarrier interface{ setRaw([]byte) }

// doCreateCharge posts a charge payload with an idempotency key, retrying
// once on transport-level failures only. Charge creation is not naturally
// idempotent at the gateway; the key makes a retry after a timeout safe.
func (c *Client) doCreateCharge(ctx context.Context, body any, out any) error {
	header := http.Header{}
	header.Set("Idempotency-Key", c.newIdempotencyKey())

	err := c.do(ctx, http.MethodPost, "payments", body, out, header)
	var ge *Error
	if err != nil && errors.As(err, &ge) && ge.StatusCode == 0 {
		return c.do(ctx, http.MethodPost, "payments", body, out, header)
	}
	return err
}

// CreateCustomer creates a gateway customer and returns its id.
func (c *Client) CreateCustomer(ctx context.Context, req CustomerRequest) (*Customer, error) {
	var out Customer
	if err := c.do(ctx, http.MethodPost, "customers", req, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetCustomer fetches a gateway customer by id.
func (c *Client) GetCustomer(ctx context.Context, id string) (*Customer, error) {
	var out Customer
	if err := c.do(ctx, http.MethodGet, "customers/"+url.PathEscape(id), nil, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

type pixChargePayload struct {
	Customer          string `json:"customer"`
	BillingType       string `json:"billingType"`
	Value             money  `json:"value"`
	DueDate           Date   `json:"dueDate"`
	Description       string `json:"description"`
	ExternalReference string `json:"externalReference,omitempty"`
}

// CreatePixCharge creates a single PIX charge with the given due date.
func (c *Client) CreatePixCharge(ctx context.Context, req PixChargeRequest) (*Charge, error) {
	payload := pixChargePayload{
		Customer:          req.CustomerID,
		BillingType:       BillingPix,
		Value:             money(req.Value),
		DueDate:           NewDate(req.DueDate),
		Description:       req.Description,
		ExternalReference: req.ExternalReference,
	}
	var out Charge
	if err := c.doCreateCharge(ctx, payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type cardChargePayload struct {
	Customer             string                `json:"customer"`
	BillingType          string                `json:"billingType"`
	Description          string                `json:"description"`
	ExternalReference    string                `json:"externalReference,omitempty"`
	Capture              bool                  `json:"capture"`
	DueDate              Date                  `json:"dueDate"`
	CreditCard           *CreditCard           `json:"creditCard,omitempty"`
	CreditCardToken      string                `json:"creditCardToken,omitempty"`
	CreditCardHolderInfo *CreditCardHolderInfo `json:"creditCardHolderInfo,omitempty"`
	Value                *money                `json:"value,omitempty"`
	InstallmentCount     int                   `json:"installmentCount,omitempty"`
	InstallmentValue     *money                `json:"installmentValue,omitempty"`
}

// CreateCardCharge creates a credit card charge due today. With more than
// one installment the gateway splits the charge itself: the payload carries
// installmentCount and the per-installment value instead of the total.
func (c *Client) CreateCardCharge(ctx context.Context, req CardChargeRequest) (*Charge, error) {
	payload := cardChargePayload{
		Customer:             req.CustomerID,
		BillingType:          BillingCreditCard,
		Description:          req.Description,
		ExternalReference:    req.ExternalReference,
		Capture:              true,
		DueDate:              NewDate(time.Now()),
		CreditCard:           req.Card,
		CreditCardToken:      req.CardToken,
		CreditCardHolderInfo: req.HolderInfo,
	}
	if req.Installments > 1 {
		per := money(req.Value.DivRound(decimal.NewFromInt(int64(req.Installments)), 2))
		payload.InstallmentCount = req.Installments
		payload.InstallmentValue = &per
	} else {
		v := money(req.Value)
		payload.Value = &v
	}
	var out Charge
	if err := c.doCreateCharge(ctx, payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type subscriptionPayload struct {
	Customer          string `json:"customer"`
	BillingType       string `json:"billingType"`
	Value             money  `json:"value"`
	Cycle             string `json:"cycle"`
	Description       string `json:"description"`
	NextDueDate       Date   `json:"nextDueDate"`
	ExternalReference string `json:"externalReference,omitempty"`
}

// CreateSubscription creates a recurring subscription, distinct from one-off
// installment charges. NextDueDate defaults to tomorrow when unset.
func (c *Client) CreateSubscription(ctx context.Context, req SubscriptionRequest) (*Subscription, error) {
	next := req.NextDueDate
	if next.IsZero() {
		next = time.Now().AddDate(0, 0, 1)
	}
	payload := subscriptionPayload{
		Customer:          req.CustomerID,
		BillingType:       req.BillingType,
		Value:             money(req.Value),
		Cycle:             req.Cycle,
		Description:       req.Description,
		NextDueDate:       NewDate(next),
		ExternalReference: req.ExternalReference,
	}
	var out Subscription
	if err := c.do(ctx, http.MethodPost, "subscriptions", payload, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetCharge fetches the current state of a charge.
func (c *Client) GetCharge(ctx context.Context, id string) (*Charge, error) {
	var out Charge
	if err := c.do(ctx, http.MethodGet, "payments/"+url.PathEscape(id), nil, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetPixQRCode fetches the PIX QR artifacts for a charge.
func (c *Client) GetPixQRCode(ctx context.Context, id string) (*PixQRCode, error) {
	var out PixQRCode
	if err := c.do(ctx, http.MethodGet, "payments/"+url.PathEscape(id)+"/pixQrCode", nil, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelCharge cancels a charge at the gateway.
func (c *Client) CancelCharge(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "payments/"+url.PathEscape(id), nil, nil, nil)
}

// RefundCharge refunds a charge, partially when value is non-nil.
func (c *Client) RefundCharge(ctx context.Context, id string, value *decimal.Decimal) error {
	payload := map[string]any{}
	if value != nil {
		payload["value"] = money(*value)
	}
	return c.do(ctx, http.MethodPost, "payments/"+url.PathEscape(id)+"/refund", payload, nil, nil)
}

// ListCharges lists charges with the given filters.
func (c *Client) ListCharges(ctx context.Context, params ListChargesParams) (*ChargeList, error) {
	q := url.Values{}
	limit := params.Limit
	if limit <= 0 {
		limit = 100
	}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(params.Offset))
	if params.CustomerID != "" {
		q.Set("customer", params.CustomerID)
	}
	if params.Status != "" {
		q.Set("status", params.Status)
	}

	var out ChargeList
	if err := c.do(ctx, http.MethodGet, "payments?"+q.Encode(), nil, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}
