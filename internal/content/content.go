// Package content renders the user-facing title and message for an event.
//
// Templates use {field} placeholders resolved from the event payload, with an
// optional default after a pipe: {total|N/A}. Rendering is pure.
package content

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/notifyhub/event-notification-service/internal/domain"
)

// Content is the rendered notification text.
type Content struct {
	Title    string
	Message  string
	Priority domain.Priority
}

type template struct {
	title    string
	message  string
	priority domain.Priority
}

var templates = map[string]template{
	"USER_REGISTERED": {
		title:   "Welcome! 🎉",
		message: "Welcome {username|}! Your account has been created successfully.",
	},
	"USER_LOGIN": {
		title:    "New Login Detected",
		message:  "New login from {device|unknown device} at {location|unknown location}.",
		priority: domain.PriorityHigh,
	},
	"ORDER_PLACED": {
		title:   "Order Placed Successfully",
		message: "Your order #{orderId} has been placed successfully. Total: {total|N/A}.",
	},
	"ORDER_SHIPPED": {
		title:   "Order Shipped 📦",
		message: "Your order #{orderId} has been shipped. Tracking: {trackingNumber|N/A}.",
	},
	"ORDER_DELIVERED": {
		title:   "Order Delivered ✅",
		message: "Your order #{orderId} has been delivered successfully.",
	},
	"PAYMENT_RECEIVED": {
		title:   "Payment Received",
		message: "Payment of {amount|N/A} received successfully for order #{orderId}.",
	},
	"PAYMENT_FAILED": {
		title:    "Payment Failed ⚠️",
		message:  "Your payment for order #{orderId} has failed. Reason: {reason|Unknown}. Please try again.",
		priority: domain.PriorityHigh,
	},
	"PASSWORD_RESET": {
		title:    "Password Reset Request",
		message:  "A password reset was requested for your account. Click the link to reset: {resetLink|N/A}",
		priority: domain.PriorityHigh,
	},
	"ACCOUNT_VERIFIED": {
		title:   "Account Verified ✓",
		message: "Your account has been verified successfully. You now have full access.",
	},
	"SUBSCRIPTION_RENEWED": {
		title:   "Subscription Renewed",
		message: "Your {plan|subscription} plan has been renewed. Next billing: {nextBilling|N/A}.",
	},
	"SUBSCRIPTION_CANCELLED": {
		title:   "Subscription Cancelled",
		message: "Your subscription has been cancelled. You have access until {expiryDate|N/A}.",
	},
}

var placeholder = regexp.MustCompile(`\{([A-Za-z0-9_]+)(\|[^}]*)?\}`)

// Render maps an event to its notification text. Unknown event types get a
// generic message instead of an error.
func Render(eventType string, payload map[string]any) Content {
	t, ok := templates[eventType]
	if !ok {
		return fallback(eventType)
	}
	priority := t.priority
	if priority == "" {
		priority = domain.PriorityMedium
	}
	return Content{
		Title:    expand(t.title, payload),
		Message:  expand(t.message, payload),
		Priority: priority,
	}
}

// HasTemplate reports whether eventType has a dedicated template.
func HasTemplate(eventType string) bool {
	_, ok := templates[eventType]
	return ok
}

func fallback(eventType string) Content {
	words := strings.ReplaceAll(strings.ToLower(eventType), "_", " ")
	return Content{
		Title:    "New Notification",
		Message:  fmt.Sprintf("You have a new %s notification.", words),
		Priority: domain.PriorityMedium,
	}
}

func expand(s string, payload map[string]any) string {
	return placeholder.ReplaceAllStringFunc(s, func(m string) string {
		parts := placeholder.FindStringSubmatch(m)
		field, def := parts[1], strings.TrimPrefix(parts[2], "|")
		v, ok := payload[field]
		if !ok || v == nil {
			return def
		}
		if str := stringify(v); str != "" {
			return str
		}
		return def
	})
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	default:
		return fmt.Sprint(x)
	}
}
