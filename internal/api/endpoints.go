package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/macrobox/macrobox-cli/internal/model"
	"github.com/macrobox/macrobox-cli/internal/payment"
)

// OrderItem is one cart line in the create-order payload.
type OrderItem struct {
	MealID   string  `json:"mealId"`
	Title    string  `json:"title"`
	Price    float64 `json:"price"`
	Qty      int     `json:"qty"`
	Protein  float64 `json:"protein"`
	Calories float64 `json:"calories"`
}

type CreateOrderRequest struct {
	Items        []OrderItem     `json:"items"`
	CouponCode   string          `json:"couponCode,omitempty"`
	Address      model.Address   `json:"address"`
	DeliverySlot model.OrderSlot `json:"deliverySlot"`
}

type VerifyRequest struct {
	OrderID string `json:"orderId"`
	payment.Proof
}

func ItemsFromLines(lines []model.CartLine) []OrderItem {
	out := make([]OrderItem, 0, len(lines))
	for _, l := range lines {
		out = append(out, OrderItem{
			MealID:   l.ItemID,
			Title:    l.Title,
			Price:    l.UnitPrice,
			Qty:      l.Quantity,
			Protein:  l.ProteinGrams,
			Calories: l.Calories,
		})
	}
	return out
}

// ListMeals fetches the catalogue. A nil featured returns every meal.
func (c *Client) ListMeals(ctx context.Context, featured *bool) ([]model.Meal, error) {
	path := "/meals"
	if featured != nil {
		path += "?featured=" + strconv.FormatBool(*featured)
	}
	var meals []model.Meal
	if err := c.do(ctx, request{method: http.MethodGet, path: path}, &meals); err != nil {
		return nil, err
	}
	return meals, nil
}

func (c *Client) ApplyCoupon(ctx context.Context, code string, cartTotal float64) (model.CouponApplication, error) {
	var resp struct {
		Code     string  `json:"code"`
		Discount float64 `json:"discount"`
	}
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/coupons/apply",
		body:   map[string]any{"code": code, "cartTotal": cartTotal},
	}, &resp)
	if err != nil {
		return model.CouponApplication{}, err
	}
	if resp.Code == "" {
		resp.Code = code
	}
	return model.CouponApplication{Code: resp.Code, Discount: resp.Discount, Subtotal: cartTotal}, nil
}

func (c *Client) AvailableCoupons(ctx context.Context, cartTotal float64) ([]model.Coupon, error) {
	q := url.Values{}
	q.Set("cartTotal", strconv.FormatFloat(cartTotal, 'f', -1, 64))
	var coupons []model.Coupon
	if err := c.do(ctx, request{method: http.MethodGet, path: "/coupons/available?" + q.Encode()}, &coupons); err != nil {
		return nil, err
	}
	return coupons, nil
}

// CreateOrder registers a pending order. idempotencyKey identifies the
// checkout attempt so a replayed request maps to the same order.
func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest, idempotencyKey string) (model.OrderHandle, error) {
	var handle model.OrderHandle
	r := request{method: http.MethodPost, path: "/checkout/create-order", body: req}
	if idempotencyKey != "" {
		r.headers = map[string]string{headerIdempotencyKey: idempotencyKey}
	}
	if err := c.do(ctx, r, &handle); err != nil {
		return model.OrderHandle{}, err
	}
	return handle, nil
}

func (c *Client) VerifyPayment(ctx context.Context, orderID string, proof payment.Proof) error {
	return c.do(ctx, request{
		method: http.MethodPost,
		path:   "/checkout/verify",
		body:   VerifyRequest{OrderID: orderID, Proof: proof},
	}, nil)
}

func (c *Client) ListOrders(ctx context.Context) ([]model.Order, error) {
	var orders []model.Order
	if err := c.do(ctx, request{method: http.MethodGet, path: "/orders"}, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}
