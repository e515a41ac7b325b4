// Package subscription evaluates whether a tenant's subscription, possibly
// extended by a grace window, still permits token issuance and refresh.
package subscription

import "time"

// State is the outcome of evaluating a subscription at a point in time.
type State struct {
	// SubscriptionActive means the paid period itself has not ended.
	SubscriptionActive bool
	// GraceActive means the paid period ended but the grace window has
	// not, and the token was issued before the subscription expired.
	GraceActive bool
	// Allowed is SubscriptionActive || GraceActive.
	Allowed bool
}

// Evaluate computes the subscription state for a token issued at issuedAt
// against a subscription expiring at expiresAt with graceDays of grace.
//
// Grace only covers tokens issued while the subscription was still paid:
// a token issued after expiry never rides the grace window, which stops a
// device from minting fresh credentials against a lapsed account. All
// comparisons are inclusive at the boundary.
func Evaluate(now, issuedAt, expiresAt time.Time, graceDays int) State {
	graceDeadline := expiresAt.Add(time.Duration(graceDays) * 24 * time.Hour)

	subscriptionActive := !now.After(expiresAt)
	graceActive := !subscriptionActive &&
		!now.After(graceDeadline) &&
		!issuedAt.After(expiresAt)

	return State{
		SubscriptionActive: subscriptionActive,
		GraceActive:        graceActive,
		Allowed:            subscriptionActive || graceActive,
	}
}
