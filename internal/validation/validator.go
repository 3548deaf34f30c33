package validation

import (
	"errors"
	"reflect"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
	"github.com/shopspring/decimal"

	"github.com/imrishuroy/go-order-pipeline/internal/errs"
)

// New returns a validator that reports fields by their json names and
// understands decimal amounts in numeric rules such as gte=0. The
// notblank rule rejects strings holding only whitespace.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	if err := v.RegisterValidation("notblank", validators.NotBlank); err != nil {
		panic(err)
	}

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	v.RegisterCustomTypeFunc(decimalValue, decimal.Decimal{})

	return v
}

func decimalValue(f reflect.Value) interface{} {
	d, ok := f.Interface().(decimal.Decimal)
	if !ok {
		return nil
	}
	v, _ := d.Float64()
	return v
}

// Struct validates s and converts the first failing rule into an
// *errs.ValidationError naming the offending field.
func Struct(v *validatorv10.Validate, s interface{}) error {
	err := v.Struct(s)
	if err == nil {
		return nil
	}
	var ve validatorv10.ValidationErrors
	if errors.As(err, &ve) && len(ve) > 0 {
		fe := ve[0]
		return errs.NewValidationError(fieldPath(fe), "failed on "+fe.Tag())
	}
	return errs.NewValidationErrorWithCause("request", "is malformed", err)
}

// fieldPath drops the root struct name: "CreateOrderCommand.customer.email" -> "customer.email".
func fieldPath(fe validatorv10.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}
