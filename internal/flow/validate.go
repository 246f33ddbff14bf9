package flow

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/angelmondragon/posflow/internal/flowstate"
	pkgerrors "github.com/angelmondragon/posflow/pkg/errors"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" {
			return f.Name
		}
		return tag
	})
	return v
}

type entityInput struct {
	EntityID string `json:"entity_id" validate:"required"`
}

type detailsInput struct {
	CustomerName  string `json:"customer_name" validate:"required,max=120"`
	CustomerPhone string `json:"customer_phone" validate:"required,min=7,max=20"`
}

type amountInput struct {
	AmountCents int64 `json:"amount_cents" validate:"gt=0"`
}

type paymentInput struct {
	AmountCents   int64  `json:"amount_cents" validate:"gt=0"`
	PaymentMethod string `json:"payment_method" validate:"required,oneof=cash card"`
}

type transactionInput struct {
	RefundOfID string `json:"refund_of" validate:"required,uuid"`
}

// validateStepData checks the fields the named step is responsible for
// against the merged flow data.
func validateStepData(name StepName, data flowstate.FlowData) error {
	var input any
	switch name {
	case StepCustomer, StepCode:
		input = entityInput{EntityID: data.EntityID}
	case StepDetails:
		input = detailsInput{
			CustomerName:  strings.TrimSpace(data.CustomerName),
			CustomerPhone: strings.TrimSpace(data.CustomerPhone),
		}
	case StepAmount:
		input = amountInput{AmountCents: data.AmountCents}
	case StepPayment:
		input = paymentInput{AmountCents: data.AmountCents, PaymentMethod: data.PaymentMethod.String()}
	case StepTransaction:
		input = transactionInput{RefundOfID: data.RefundOfID}
	case StepConfirm:
		return pkgerrors.New(pkgerrors.CodeValidation, "the confirm step completes by committing")
	default:
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown step %q", name))
	}
	if err := validate.Struct(input); err != nil {
		return formatValidationErrors(name, err)
	}
	return nil
}

func formatValidationErrors(name StepName, err error) error {
	errs, ok := err.(validator.ValidationErrors)
	if !ok {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "validation failed")
	}
	details := map[string]string{}
	for _, fieldErr := range errs {
		details[fieldErr.Field()] = validationMessage(fieldErr)
	}
	return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("%s step is incomplete", name)).WithDetails(details)
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "uuid":
		return "must be a transaction id"
	}
	return "is invalid"
}
