package engine

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/vi13x/classbank/internal/domain"
)

var (
	usernameRe      = regexp.MustCompile(`^[A-Za-z0-9_]+$`)
	accountNumberRe = regexp.MustCompile(`^[0-9]{3}$`)
)

// AccountNumberLen is the fixed width of generated and accepted account numbers.
const AccountNumberLen = 3

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return usernameRe.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("acctnum", func(fl validator.FieldLevel) bool {
		return accountNumberRe.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("jobtype", func(fl validator.FieldLevel) bool {
		return domain.JobType(fl.Field().String()).Valid()
	})
	return v
}

// check runs struct validation and folds the first violation into a
// ValidationError naming the field.
func (e *Engine) check(op string, s any) error {
	err := e.validate.Struct(s)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) || len(ve) == 0 {
		return &Error{Kind: KindValidation, Op: op, Msg: "invalid input", Err: err}
	}
	return &Error{Kind: KindValidation, Op: op, Msg: describe(ve[0])}
}

func describe(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field()[:1]) + fe.Field()[1:]
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "username":
		return field + " may only contain letters, digits and underscore"
	case "acctnum":
		return fmt.Sprintf("%s must be %d digits", field, AccountNumberLen)
	case "jobtype":
		return fmt.Sprintf("%s must be %q or %q", field, domain.JobFixed, domain.JobProject)
	}
	return fmt.Sprintf("%s failed %s", field, fe.Tag())
}

// checkAmount enforces amount > 0 with at most two decimals.
func checkAmount(op, field string, d decimal.Decimal) error {
	if !d.IsPositive() {
		return fail(KindAmountFormat, op, "%s must be greater than 0", field)
	}
	if !domain.HasValidPrecision(d) {
		return fail(KindAmountFormat, op, "%s can have at most %d decimals", field, domain.MaxDecimals)
	}
	return nil
}

// checkBalance is checkAmount that also admits zero.
func checkBalance(op, field string, d decimal.Decimal) error {
	if d.IsNegative() {
		return fail(KindAmountFormat, op, "%s cannot be negative", field)
	}
	if !domain.HasValidPrecision(d) {
		return fail(KindAmountFormat, op, "%s can have at most %d decimals", field, domain.MaxDecimals)
	}
	return nil
}

func trimPtr(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	return &t
}
