package checkout

type State int

const (
	Idle State = iota
	Validating
	CreatingOrder
	AwaitingPayment
	Verifying
	Completed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Validating:
		return "validating"
	case CreatingOrder:
		return "creating_order"
	case AwaitingPayment:
		return "awaiting_payment"
	case Verifying:
		return "verifying"
	case Completed:
		return "completed"
	default:
		return "unknown"
	}
}

type Kind string

const (
	KindSuccess Kind = "success"
	KindError   Kind = "error"
	KindInfo    Kind = "info"
)

type Message struct {
	Kind Kind
	Text string
}

func (m Message) Empty() bool { return m.Text == "" }

func errorMsg(text string) Message   { return Message{Kind: KindError, Text: text} }
func infoMsg(text string) Message    { return Message{Kind: KindInfo, Text: text} }
func successMsg(text string) Message { return Message{Kind: KindSuccess, Text: text} }

// Messages are scoped to the field they concern. A coupon failure never
// surfaces as a checkout error and vice versa.
type Messages struct {
	Coupon   Message
	Address  Message
	Slot     Message
	Checkout Message
}

const (
	msgAddressIncomplete = "Please fill complete delivery address."
	msgSlotMissing       = "Please select delivery time."
	msgSlotUnavailable   = "Time slot is not available."
	msgCartEmpty         = "Your cart is empty."
	msgCouponMissing     = "Please enter a coupon code."
	msgCouponFallback    = "Coupon expired"
	msgCouponStale       = "Cart changed. Apply the coupon again."
	msgWidgetLoad        = "Razorpay failed to load. Try again."
	msgCreateOrder       = "Failed to create order"
	msgVerifyFailed      = "Payment verification failed"
	msgPaid              = "Payment successful ✅"
	msgCancelled         = "Payment cancelled."
	msgAbandoned         = "Payment was not completed in time."
	msgInterrupted       = "Checkout interrupted."
)
