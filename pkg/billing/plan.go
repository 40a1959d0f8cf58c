package billing

// Plan describes a purchasable subscription plan. PriceRef is the payment
// provider's price identifier for the plan, mapped during checkout and
// webhook processing.
type Plan struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       Money           `json:"price"`
	Interval    BillingInterval `json:"interval"`
	PriceRef    string          `json:"-"`
}

// Catalog is an ordered, immutable-by-convention plan list.
type Catalog []Plan

// Find returns the plan with the given id.
func (c Catalog) Find(planID string) (Plan, error) {
	for _, p := range c {
		if p.ID == planID {
			return p, nil
		}
	}
	return Plan{}, ErrPlanNotFound
}

// DefaultCatalog returns the premium plans offered at signup.
func DefaultCatalog() Catalog {
	return Catalog{
		{
			ID:          "weekly",
			Name:        "Weekly Premium",
			Description: "Weekly Premium Subscription",
			Price:       Money{Amount: 499, Currency: "EUR"},
			Interval:    BillingIntervalWeekly,
		},
		{
			ID:          "monthly",
			Name:        "Monthly Premium",
			Description: "Monthly Premium Subscription",
			Price:       Money{Amount: 1999, Currency: "EUR"},
			Interval:    BillingIntervalMonthly,
		},
	}
}
