// Package installment implements the pricing engine for installment
// (taksit) payments: per-installment amount, commission and interest
// (vade farkı) calculation, eligibility checks and tiered quoting.
// Calculations are gateway-independent and deterministic; the
// per-transaction Calculate result is the authoritative figure, any
// option-level preview is non-binding.
package installment

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

// Quote is the result of a pricing calculation. All amounts are rounded
// half-up to two decimals at the point of return, never earlier, so
// rounding error does not compound across intermediate steps.
type Quote struct {
	InstallmentCount  int     `json:"installmentCount"`
	InstallmentAmount float64 `json:"installmentAmount"`
	TotalAmount       float64 `json:"totalAmount"`
	CommissionAmount  float64 `json:"commissionAmount"`
	CommissionRate    float64 `json:"commissionRate"`
	InterestRate      float64 `json:"interestRate"`
	Label             string  `json:"label,omitempty"`
}

// Calculate prices an installment plan. Single payment (count <= 1) is
// fee-free by policy: the principal comes back unchanged with zero
// commission. Otherwise interest is applied first, commission on top of
// the interest-adjusted amount, and the total is split evenly.
func Calculate(principal float64, count int, commissionRate, interestRate float64) Quote {
	p := decimal.NewFromFloat(principal)

	if count <= 1 {
		rounded := round2(p)
		return Quote{
			InstallmentCount:  1,
			InstallmentAmount: rounded,
			TotalAmount:       rounded,
			CommissionAmount:  0,
		}
	}

	total := p
	if interestRate > 0 {
		rate := decimal.NewFromFloat(interestRate).Div(hundred)
		total = total.Mul(one.Add(rate))
	}

	commission := total.Mul(decimal.NewFromFloat(commissionRate)).Div(hundred)
	total = total.Add(commission)
	perInstallment := total.Div(decimal.NewFromInt(int64(count)))

	return Quote{
		InstallmentCount:  count,
		InstallmentAmount: round2(perInstallment),
		TotalAmount:       round2(total),
		CommissionAmount:  round2(commission),
		CommissionRate:    commissionRate,
		InterestRate:      interestRate,
	}
}

// round2 applies half-up rounding to two decimals.
func round2(d decimal.Decimal) float64 {
	f, _ := d.Round(2).Float64()
	return f
}

// Option is one installment plan offered under a gateway config.
type Option struct {
	ID             int64   `json:"id"`
	ConfigID       int64   `json:"configId"`
	Count          int     `json:"count"`
	CommissionRate float64 `json:"commissionRate"`
	InterestRate   float64 `json:"interestRate"`
	MinAmount      float64 `json:"minAmount"`
	MaxAmount      float64 `json:"maxAmount"`
	Active         bool    `json:"active"`
	Description    string  `json:"description,omitempty"`
}

// Validate checks the option invariants: count in [1,24] and
// max amount strictly above a non-negative min.
func (o Option) Validate() error {
	if o.Count < 1 || o.Count > 24 {
		return fmt.Errorf("installment count must be between 1 and 24, got %d", o.Count)
	}
	if o.MinAmount < 0 {
		return fmt.Errorf("minimum amount cannot be negative")
	}
	if o.MaxAmount <= o.MinAmount {
		return fmt.Errorf("maximum amount must be greater than minimum amount")
	}
	return nil
}

// Eligible reports whether the option applies to the given amount.
func (o Option) Eligible(amount float64) bool {
	return o.Active && o.MinAmount <= amount && amount <= o.MaxAmount
}

// Quote prices this option for an amount. The option-level commission
// preview stored elsewhere is display-only; this is the authoritative
// calculation.
func (o Option) Quote(amount float64) Quote {
	q := Calculate(amount, o.Count, o.CommissionRate, o.InterestRate)
	if o.Count <= 1 {
		q.Label = "Tek Çekim"
	} else {
		q.Label = fmt.Sprintf("%d Taksit", o.Count)
	}
	return q
}

// Tier is a campaign or bank-specific installment definition layered on
// top of the general options. Campaign tiers carry a date window.
type Tier struct {
	Name           string
	Count          int
	CommissionRate float64
	InterestRate   float64
	MinAmount      float64
	MaxAmount      float64
	Active         bool
	ValidFrom      time.Time
	ValidUntil     time.Time
}

// EligibleAt reports whether the tier applies to the amount at the given
// time. Tiers without a date window are always in season.
func (t Tier) EligibleAt(amount float64, at time.Time) bool {
	if !t.Active || amount < t.MinAmount || amount > t.MaxAmount {
		return false
	}
	if !t.ValidFrom.IsZero() && at.Before(t.ValidFrom) {
		return false
	}
	if !t.ValidUntil.IsZero() && at.After(t.ValidUntil) {
		return false
	}
	return true
}

// QuoteSet builds the quote list for an amount from general options plus
// campaign/bank tiers. Later entries win when several sources yield the
// same installment count (tiers are appended after options, so a
// campaign overrides the general plan for its count); the result is
// sorted ascending by count. maxCount caps the offered counts, typically
// from the most restrictive category policy.
func QuoteSet(amount float64, options []Option, tiers []Tier, maxCount int, at time.Time) []Quote {
	byCount := make(map[int]Quote)

	for _, opt := range options {
		if !opt.Eligible(amount) {
			continue
		}
		if maxCount > 0 && opt.Count > maxCount {
			continue
		}
		byCount[opt.Count] = opt.Quote(amount)
	}

	for _, tier := range tiers {
		if !tier.EligibleAt(amount, at) {
			continue
		}
		if maxCount > 0 && tier.Count > maxCount {
			continue
		}
		q := Calculate(amount, tier.Count, tier.CommissionRate, tier.InterestRate)
		if tier.Name != "" {
			q.Label = tier.Name
		} else {
			q.Label = fmt.Sprintf("%d Taksit", tier.Count)
		}
		byCount[tier.Count] = q
	}

	quotes := make([]Quote, 0, len(byCount))
	for _, q := range byCount {
		quotes = append(quotes, q)
	}
	sort.Slice(quotes, func(i, j int) bool {
		return quotes[i].InstallmentCount < quotes[j].InstallmentCount
	})
	return quotes
}
