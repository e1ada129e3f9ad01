package asaas

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/felipeacampelo/Gestao-AreaMais/internal/domain/payment"
)

var _ payment.Gateway = (*PaymentGateway)(nil)

// PaymentGateway adapts the Asaas client to the orchestrator's Gateway port.
type PaymentGateway struct {
	client *Client
}

// NewPaymentGateway wraps the given client.
func NewPaymentGateway(client *Client) *PaymentGateway {
	return &PaymentGateway{client: client}
}

// CreateCustomer creates a gateway customer and returns its id.
func (g *PaymentGateway) CreateCustomer(ctx context.Context, req payment.CustomerRequest) (string, error) {
	cust, err := g.client.CreateCustomer(ctx, CustomerRequest{
		Name:        req.Name,
		Email:       req.Email,
		CpfCnpj:     req.TaxID,
		MobilePhone: req.Phone,
		PostalCode:  req.PostalCode,
	})
	if err != nil {
		return "", err
	}
	return cust.ID, nil
}

// CreatePixCharge creates a PIX charge.
func (g *PaymentGateway) CreatePixCharge(ctx context.Context, req payment.PixChargeRequest) (*payment.GatewayCharge, error) {
	charge, err := g.client.CreatePixCharge(ctx, PixChargeRequest{
		CustomerID:        req.CustomerID,
		Value:             req.Value,
		DueDate:           req.DueDate,
		Description:       req.Description,
		ExternalReference: req.ExternalReference,
	})
	if err != nil {
		return nil, err
	}
	return toGatewayCharge(charge), nil
}

// CreateCardCharge creates a credit card charge.
func (g *PaymentGateway) CreateCardCharge(ctx context.Context, req payment.CardChargeRequest) (*payment.GatewayCharge, error) {
	creq := CardChargeRequest{
		CustomerID:   req.CustomerID,
		Value:        req.Value,
		Installments: req.Installments,
		CardToken:    req.Card.Token,
		HolderInfo: &CreditCardHolderInfo{
			Name:          req.Holder.Name,
			Email:         req.Holder.Email,
			CpfCnpj:       req.Holder.TaxID,
			PostalCode:    defaultPostalCode(req.Holder.PostalCode),
			AddressNumber: "S/N",
			Phone:         req.Holder.Phone,
			MobilePhone:   req.Holder.Phone,
		},
		Description:       req.Description,
		ExternalReference: req.ExternalReference,
	}
	if req.Card.Number != "" {
		creq.Card = &CreditCard{
			HolderName:  req.Card.HolderName,
			Number:      req.Card.Number,
			ExpiryMonth: padMonth(req.Card.ExpiryMonth),
			ExpiryYear:  req.Card.ExpiryYear,
			CCV:         req.Card.CCV,
		}
	}
	charge, err := g.client.CreateCardCharge(ctx, creq)
	if err != nil {
		return nil, err
	}
	return toGatewayCharge(charge), nil
}

// GetCharge fetches a charge's current state.
func (g *PaymentGateway) GetCharge(ctx context.Context, id string) (*payment.GatewayCharge, error) {
	charge, err := g.client.GetCharge(ctx, id)
	if err != nil {
		return nil, err
	}
	return toGatewayCharge(charge), nil
}

// GetPixQRCode fetches the PIX artifacts for a charge.
func (g *PaymentGateway) GetPixQRCode(ctx context.Context, id string) (*payment.PixArtifacts, error) {
	qr, err := g.client.GetPixQRCode(ctx, id)
	if err != nil {
		return nil, err
	}
	return &payment.PixArtifacts{
		EncodedImage: qr.EncodedImage,
		Payload:      qr.Payload,
	}, nil
}

// CancelCharge cancels a charge.
func (g *PaymentGateway) CancelCharge(ctx context.Context, id string) error {
	return g.client.CancelCharge(ctx, id)
}

// RefundCharge refunds a charge, partially when value is non-nil.
func (g *PaymentGateway) RefundCharge(ctx context.Context, id string, value *decimal.Decimal) error {
	return g.client.RefundCharge(ctx, id, value)
}

func toGatewayCharge(c *Charge) *payment.GatewayCharge {
	return &payment.GatewayCharge{
		ID:         c.ID,
		Status:     c.Status,
		Value:      c.Value,
		DueDate:    c.DueDate.Time(),
		InvoiceURL: c.InvoiceURL,
		Raw:        c.Raw,
	}
}

// defaultPostalCode substitutes a fallback when the form carried none; the
// gateway requires one for cardholder info.
func defaultPostalCode(code string) string {
	if code == "" {
		return "01310100"
	}
	return code
}

func padMonth(m string) string {
	if len(m) == 1 {
		return "0" + m
	}
	return m
}
