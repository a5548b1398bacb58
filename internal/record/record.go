// Package record validates and normalizes price records before they reach a sink.
package record

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/JakeFAU/price-harvester/internal/crawler"
	"github.com/JakeFAU/price-harvester/internal/dates"
)

// ErrInvalidRecord is returned for records missing or malforming a mandatory field.
var ErrInvalidRecord = errors.New("invalid record")

var (
	dateFormat   = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	numericPrice = regexp.MustCompile(`^[0-9]*\.?[0-9]+$`)
	earliestDate = time.Date(1990, time.January, 1, 0, 0, 0, 0, time.UTC)
)

// Validator checks records against the mandatory field rules.
type Validator struct {
	validate *validator.Validate
	clock    crawler.Clock
}

// NewValidator builds a Validator; clock decides what "today" is.
func NewValidator(clock crawler.Clock) *Validator {
	v := &Validator{
		validate: validator.New(validator.WithRequiredStructEnabled()),
		clock:    clock,
	}
	// Registration only fails on an empty tag or nil func.
	_ = v.validate.RegisterValidation("pricedate", v.validDate)
	v.validate.RegisterStructValidation(validatePrices, crawler.Prices{})
	return v
}

// Validate returns nil when r carries every mandatory field in a valid format.
func (v *Validator) Validate(r crawler.Record) error {
	err := v.validate.Struct(r)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validate record: %w", err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("%w: %s", ErrInvalidRecord, strings.Join(msgs, "; "))
}

// Valid is Validate without the reasons.
func (v *Validator) Valid(r crawler.Record) bool {
	return v.Validate(r) == nil
}

func (v *Validator) validDate(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if !dateFormat.MatchString(s) {
		return false
	}
	now := time.Now()
	if v.clock != nil {
		now = v.clock.Now()
	}
	t, err := dates.Parse(s, now.Location())
	if err != nil {
		return false
	}
	return t.Before(now) && t.After(earliestDate)
}

func validatePrices(sl validator.StructLevel) {
	p, ok := sl.Current().Interface().(crawler.Prices)
	if !ok || PricesValid(p) {
		return
	}
	sl.ReportError(p.Avg, "Prices", "Prices", "prices", "")
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "len":
		return fmt.Sprintf("%s must be %s characters: %v", fe.Field(), fe.Param(), fe.Value())
	case "pricedate":
		return fmt.Sprintf("%s must be a YYYY-MM-DD date after 1990-01-01 and not in the future: %v", fe.Field(), fe.Value())
	case "url":
		return fmt.Sprintf("%s is not a valid URL: %v", fe.Field(), fe.Value())
	case "prices":
		return "prices need a valid average or both a valid minimum and maximum"
	default:
		return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
	}
}

// PriceValid reports whether p is a finite number above zero.
func PriceValid(p *float64) bool {
	return p != nil && !math.IsNaN(*p) && !math.IsInf(*p, 0) && *p > 0
}

// PricesValid reports whether the average, or both bounds, are valid.
func PricesValid(p crawler.Prices) bool {
	return PriceValid(p.Avg) || (PriceValid(p.Min) && PriceValid(p.Max))
}

// CleanPrices keeps the average when valid and the bounds only as a valid pair.
func CleanPrices(p crawler.Prices) crawler.Prices {
	var out crawler.Prices
	if PriceValid(p.Avg) {
		out.Avg = p.Avg
	}
	if PriceValid(p.Min) && PriceValid(p.Max) {
		out.Min, out.Max = p.Min, p.Max
	}
	return out
}

// ParsePrice reads a scraped price such as "1,234.50". Empty input yields nil.
func ParsePrice(s string) (*float64, error) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" {
		return nil, nil
	}
	if !numericPrice.MatchString(s) {
		return nil, fmt.Errorf("parse price %q: not numeric", s)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("parse price %q: %w", s, err)
	}
	return &f, nil
}

// Price is a convenience for building literal prices.
func Price(f float64) *float64 {
	return &f
}
