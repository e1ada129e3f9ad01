package asaas

import (
	"time"

	"github.com/shopspring/decimal"
)

// Billing types accepted by the gateway.
const (
	BillingPix        = "PIX"
	BillingCreditCard = "CREDIT_CARD"
	BillingBoleto     = "BOLETO"
)

// Subscription cycles accepted by the gateway.
const (
	CycleWeekly   = "WEEKLY"
	CycleBiweekly = "BIWEEKLY"
	CycleMonthly  = "MONTHLY"
	CycleYearly   = "YEARLY"
)

// Date is a calendar date serialized as YYYY-MM-DD on the wire.
type Date time.Time

// NewDate truncates t to its calendar date.
func NewDate(t time.Time) Date {
	return Date(time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC))
}

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Time(d).Format("2006-01-02") + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" || s == `""` {
		*d = Date{}
		return nil
	}
	t, err := time.Parse(`"2006-01-02"`, s)
	if err != nil {
		return err
	}
	*d = Date(t)
	return nil
}

// Time returns the date as a time.Time at midnight UTC.
func (d Date) Time() time.Time { return time.Time(d) }

// money serializes a decimal amount as a plain JSON number with two decimal
// places, which is what the gateway expects for value fields.
type money decimal.Decimal

func (m money) MarshalJSON() ([]byte, error) {
	return []byte(decimal.Decimal(m).StringFixed(2)), nil
}

// CustomerRequest is the payload for creating a gateway customer.
type CustomerRequest struct {
	Name          string `json:"name"`
	Email         string `json:"email"`
	CpfCnpj       string `json:"cpfCnpj"`
	MobilePhone   string `json:"mobilePhone,omitempty"`
	PostalCode    string `json:"postalCode,omitempty"`
	Address       string `json:"address,omitempty"`
	AddressNumber string `json:"addressNumber,omitempty"`
	Province      string `json:"province,omitempty"`
}

// Customer is the gateway's customer object.
type Customer struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	CpfCnpj string `json:"cpfCnpj"`
}

// PixChargeRequest is the payload for a single PIX charge.
type PixChargeRequest struct {
	CustomerID        string
	Value             decimal.Decimal
	DueDate           time.Time
	Description       string
	ExternalReference string
}

// CreditCard carries raw card data for a direct card charge.
type CreditCard struct {
	HolderName  string `json:"holderName"`
	Number      string `json:"number"`
	ExpiryMonth string `json:"expiryMonth"`
	ExpiryYear  string `json:"expiryYear"`
	CCV         string `json:"ccv"`
}

// CreditCardHolderInfo identifies the cardholder for anti-fraud checks.
type CreditCardHolderInfo struct {
	Name          string `json:"name"`
	Email         string `json:"email"`
	CpfCnpj       string `json:"cpfCnpj"`
	PostalCode    string `json:"postalCode"`
	AddressNumber string `json:"addressNumber"`
	Phone         string `json:"phone,omitempty"`
	MobilePhone   string `json:"mobilePhone,omitempty"`
}

// CardChargeRequest is the payload for a credit card charge, optionally
// split into gateway-level installments.
type CardChargeRequest struct {
	CustomerID        string
	Value             decimal.Decimal
	Installments      int
	Card              *CreditCard
	CardToken         string
	HolderInfo        *CreditCardHolderInfo
	Description       string
	ExternalReference string
}

// SubscriptionRequest is the payload for a recurring subscription.
type SubscriptionRequest struct {
	CustomerID        string
	Value             decimal.Decimal
	BillingType       string
	Cycle             string
	Description       string
	NextDueDate       time.Time // zero value defaults to tomorrow
	ExternalReference string
}

// Subscription is the gateway's subscription object.
type Subscription struct {
	ID          string          `json:"id"`
	Customer    string          `json:"customer"`
	Value       decimal.Decimal `json:"value"`
	Cycle       string          `json:"cycle"`
	Status      string          `json:"status"`
	NextDueDate Date            `json:"nextDueDate"`
}

// Charge is the gateway's payment object. Only the fields the core depends
// on are mapped; the raw body is preserved by callers that need it.
type Charge struct {
	ID                string          `json:"id"`
	Customer          string          `json:"customer"`
	Status            string          `json:"status"`
	Value             decimal.Decimal `json:"value"`
	DueDate           Date            `json:"dueDate"`
	BillingType       string          `json:"billingType"`
	Description       string          `json:"description"`
	InvoiceURL        string          `json:"invoiceUrl"`
	ExternalReference string          `json:"externalReference"`

	// Raw is the unparsed response body, kept for audit storage.
	Raw []byte `json:"-"`
}

func (c *Charge) setRaw(b []byte) { c.Raw = append([]byte(nil), b...) }

// PixQRCode holds the PIX artifacts for a charge: the base64 QR image and
// the copy-paste payload.
type PixQRCode struct {
	EncodedImage string `json:"encodedImage"`
	Payload      string `json:"payload"`
}

// ChargeList is a page of charges.
type ChargeList struct {
	Data       []Charge `json:"data"`
	TotalCount int      `json:"totalCount"`
	HasMore    bool     `json:"hasMore"`
}

// ListChargesParams filters the charge listing.
type ListChargesParams struct {
	CustomerID string
	Status     string
	Limit      int
	Offset     int
}
