package authguard

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

// MinPasswordLength matches the provider's default password policy.
const MinPasswordLength = 6

type credentialsPayload struct {
	Email    string
	Password string
}

func (p credentialsPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Email, validation.Required, is.Email),
		validation.Field(&p.Password, validation.Required, validation.Length(MinPasswordLength, 0)),
	)
}

// signInPayload leaves the password policy to the provider so accounts
// created under an older policy can still sign in.
type signInPayload struct {
	Email    string
	Password string
}

func (p signInPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Email, validation.Required, is.Email),
		validation.Field(&p.Password, validation.Required),
	)
}

type emailPayload struct {
	Email string
}

func (p emailPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Email, validation.Required, is.Email),
	)
}

type passwordPayload struct {
	Password string
}

func (p passwordPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Password, validation.Required, validation.Length(MinPasswordLength, 0)),
	)
}

func validateInput(v validation.Validatable) error {
	if err := v.Validate(); err != nil {
		return NewAuthError(ErrInvalidInput, err.Error(), err)
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}
