package constants

// Static route constants
const (
	APIRoute = "/api"

	// Paths below are relative to their group in the router.
	CheckoutPath    = "/checkout"
	OrderStatusPath = "/orders/:id"
	RefundPath      = "/refunds"

	// NetopiaIPNRoute must match the ConfirmURL the gateway adapter sends
	// with every payment start request.
	NetopiaIPNRoute = "/webhook/netopia/ipn"
)
