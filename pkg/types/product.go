package types

type PaymentProvider string

const (
	PaymentProviderApple PaymentProvider = "apple"
)

// Product is one entry of the configured product catalog.
type Product struct {
	ProductID string             `json:"product_id" mapstructure:"product_id"`
	Period    SubscriptionPeriod `json:"period" mapstructure:"period"`
	// TrialEligible marks products whose introductory offer is a free trial.
	TrialEligible bool `json:"trial_eligible" mapstructure:"trial_eligible"`
}

// TestAccount is an internal identity answered with a canned record (store review, QA).
type TestAccount struct {
	UserID           string             `json:"user_id" mapstructure:"user_id"`
	Entitlement      Entitlement        `json:"entitlement" mapstructure:"entitlement"`
	Status           SubscriptionStatus `json:"status" mapstructure:"status"`
	SubscriptionType SubscriptionPeriod `json:"subscription_type" mapstructure:"subscription_type"`
	HasUsedTrial     bool               `json:"has_used_trial" mapstructure:"has_used_trial"`
}
