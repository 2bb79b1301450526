package model

import (
	"net/url"
	"strings"
	"time"
)

// CartLine mirrors the persisted cart entry. Field tags keep the stored shape
// compatible with carts written by the web storefront.
type CartLine struct {
	ItemID       string  `json:"_id"`
	Title        string  `json:"title"`
	UnitPrice    float64 `json:"price"`
	ProteinGrams float64 `json:"protein"`
	Calories     float64 `json:"calories"`
	ImageURL     string  `json:"imageUrl,omitempty"`
	Quantity     int     `json:"qty"`
}

// Item is what a shopper adds to the cart. Numeric fields may be missing or
// invalid; the cart normalizes them.
type Item struct {
	ID       string
	Title    string
	Price    float64
	Protein  float64
	Calories float64
	ImageURL string
}

type Meal struct {
	ID          string  `json:"_id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Price       float64 `json:"price"`
	Protein     float64 `json:"protein"`
	Calories    float64 `json:"calories"`
	ImageURL    string  `json:"imageUrl,omitempty"`
	Featured    bool    `json:"featured,omitempty"`
}

func (m Meal) Item() Item {
	return Item{
		ID:       m.ID,
		Title:    m.Title,
		Price:    m.Price,
		Protein:  m.Protein,
		Calories: m.Calories,
		ImageURL: m.ImageURL,
	}
}

const (
	LocationModeManual  = "manual"
	LocationModeCurrent = "current"
)

type Address struct {
	FullName     string   `json:"fullName"`
	Phone        string   `json:"phone"`
	Line1        string   `json:"line1"`
	Line2        string   `json:"line2"`
	City         string   `json:"city"`
	State        string   `json:"state"`
	Pincode      string   `json:"pincode"`
	LocationMode string   `json:"locationMode,omitempty"`
	LocationText string   `json:"locationText,omitempty"`
	Lat          *float64 `json:"lat,omitempty"`
	Lng          *float64 `json:"lng,omitempty"`
	MapsURL      string   `json:"mapsUrl,omitempty"`
}

// MissingFields lists required address fields that are blank.
func (a Address) MissingFields() []string {
	required := []struct {
		name  string
		value string
	}{
		{"fullName", a.FullName},
		{"phone", a.Phone},
		{"line1", a.Line1},
		{"city", a.City},
		{"state", a.State},
		{"pincode", a.Pincode},
	}
	var missing []string
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	return missing
}

func (a Address) Complete() bool {
	return len(a.MissingFields()) == 0
}

// MapsLink returns a link to the captured delivery location, or "" when the
// address carries none.
func (a Address) MapsLink() string {
	if a.LocationMode == LocationModeCurrent && a.MapsURL != "" {
		return a.MapsURL
	}
	t := strings.TrimSpace(a.LocationText)
	if t == "" {
		return ""
	}
	if strings.HasPrefix(t, "http://") || strings.HasPrefix(t, "https://") {
		return t
	}
	return "https://www.google.com/maps/search/?api=1&query=" + url.QueryEscape(t)
}

// DeliverySlot is an hourly delivery window. Date is YYYY-MM-DD.
type DeliverySlot struct {
	Date string `json:"date"`
	Hour int    `json:"-"`
}

type CouponApplication struct {
	Code     string  `json:"code"`
	Discount float64 `json:"discount"`
	Subtotal float64 `json:"subtotal"`
}

type Coupon struct {
	Code         string     `json:"code"`
	Type         string     `json:"type"`
	Value        float64    `json:"value"`
	MinCartTotal float64    `json:"minCartTotal"`
	MaxDiscount  float64    `json:"maxDiscount"`
	ValidFrom    *time.Time `json:"validFrom,omitempty"`
	ValidTo      *time.Time `json:"validTo,omitempty"`
}

// OrderHandle ties one checkout attempt to a backend order. Amount is in minor
// currency units, as the payment gateway expects.
type OrderHandle struct {
	OrderID         string `json:"orderId"`
	RazorpayOrderID string `json:"razorpayOrderId"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency,omitempty"`
	KeyID           string `json:"keyId"`
}

type OrderTotals struct {
	Subtotal      float64 `json:"subtotal"`
	Discount      float64 `json:"discount"`
	Payable       float64 `json:"payable"`
	TotalProtein  float64 `json:"totalProtein"`
	TotalCalories float64 `json:"totalCalories"`
}

type OrderSlot struct {
	Date string `json:"date"`
	Time string `json:"time"`
}

type OrderDelivery struct {
	Address Address   `json:"address"`
	Slot    OrderSlot `json:"slot"`
}

type OrderPayment struct {
	Status string `json:"status"`
}

type Order struct {
	ID        string        `json:"_id"`
	CreatedAt time.Time     `json:"createdAt"`
	Totals    OrderTotals   `json:"totals"`
	Delivery  OrderDelivery `json:"delivery"`
	Payment   OrderPayment  `json:"payment"`
}

type User struct {
	ID    string `json:"_id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

func (u User) IsAdmin() bool {
	return u.Role == "admin"
}
