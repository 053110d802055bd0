// internal/i18n/keys.go
package i18n

// Translation keys constants
const (
	// Common
	KeySuccess = "success"
	KeyError   = "error"

	// Authentication
	KeyAuthRequired      = "auth.required"
	KeyAuthInvalidToken  = "auth.invalid_token"
	KeyAuthTokenExpired  = "auth.token_expired"
	KeyAdminAccessDenied = "admin.access_denied"

	// Cart
	KeyCartItemAdded   = "cart.item_added"
	KeyCartItemRemoved = "cart.item_removed"

	// Payments
	KeyPaymentConfirmReceived = "payment.confirm_received"
	KeyPaymentRefunded        = "payment.refunded"
	KeyPaymentCallbackOK      = "payment.callback_ok"

	// Validation
	KeyValidationInvalid = "validation.invalid"

	// Rate limiting
	KeyRateLimited = "rate_limit.exceeded"
)

// ErrorKey is the message key for an apperr reason.
func ErrorKey(reason string) string {
	return "error." + reason
}

// OutcomeKey is the message key shown for a checkout outcome.
func OutcomeKey(outcome string) string {
	return "payment.outcome." + outcome
}
