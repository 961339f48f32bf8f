package billing

import (
	"errors"
	"sort"

	"github.com/She20222w/AGILIZAP-ONLINE/app/config"
	"github.com/She20222w/AGILIZAP-ONLINE/app/models"
)

var ErrUnknownPlan = errors.New("unknown plan")

// Product is one sellable plan.
type Product struct {
	Plan    models.Plan `json:"plan"`
	PriceID string      `json:"priceId"`
	Name    string      `json:"name"`
	Minutes int         `json:"minutes"`
}

// Catalog maps plans to Stripe prices.
type Catalog struct {
	byPlan  map[models.Plan]Product
	byPrice map[string]models.Plan
}

func NewCatalog(cfg config.StripeConfig) Catalog {
	c := Catalog{
		byPlan:  map[models.Plan]Product{},
		byPrice: map[string]models.Plan{},
	}
	for plan, price := range map[models.Plan]string{
		models.PlanPersonal:  cfg.PriceIDPersonal,
		models.PlanBusiness:  cfg.PriceIDBusiness,
		models.PlanExclusive: cfg.PriceIDExclusive,
	} {
		if price == "" {
			continue
		}
		c.byPlan[plan] = Product{
			Plan:    plan,
			PriceID: price,
			Name:    productName(plan),
			Minutes: plan.Minutes(),
		}
		c.byPrice[price] = plan
	}
	return c
}

func productName(p models.Plan) string {
	switch p {
	case models.PlanPersonal:
		return "200 minutos Agilizap"
	case models.PlanBusiness:
		return "400 minutos Agilizap"
	case models.PlanExclusive:
		return "1000 minutos Agilizap"
	}
	return string(p)
}

// ForPlan fails with ErrUnknownPlan for plans without a configured price.
func (c Catalog) ForPlan(p models.Plan) (Product, error) {
	prod, ok := c.byPlan[p]
	if !ok {
		return Product{}, ErrUnknownPlan
	}
	return prod, nil
}

func (c Catalog) PlanForPrice(priceID string) (models.Plan, bool) {
	p, ok := c.byPrice[priceID]
	return p, ok
}

// Products lists the configured plans, smallest allotment first.
func (c Catalog) Products() []Product {
	out := make([]Product, 0, len(c.byPlan))
	for _, p := range c.byPlan {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Minutes < out[j].Minutes })
	return out
}
