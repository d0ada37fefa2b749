package auth

import (
	"unicode"

	"github.com/go-playground/validator/v10"

	"wediscuss/errors"
)

var validate = validator.New()

type RegisterRequest struct {
	Username string `validate:"required,min=3,max=32,alphanum"`
	Password string `validate:"required,min=12,max=72"`
}

func ValidateRegister(req RegisterRequest) error {
	if err := validate.Struct(req); err != nil {
		return err
	}

	if !isPasswordComplex(req.Password) {
		return errors.ErrInvalidPassword
	}
	return nil
}

// ValidatePassword applies the password rules alone, for flows where the
// username is already known (password changes).
func ValidatePassword(password string) error {
	if err := validate.Var(password, "required,min=12,max=72"); err != nil {
		return err
	}
	if !isPasswordComplex(password) {
		return errors.ErrInvalidPassword
	}
	return nil
}

func isPasswordComplex(s string) bool {
	var (
		hasUpper   = false
		hasLower   = false
		hasNumber  = false
		hasSpecial = false
	)
	for _, char := range s {
		switch {
		case unicode.IsUpper(char):
			hasUpper = true
		case unicode.IsLower(char):
			hasLower = true
		case unicode.IsNumber(char):
			hasNumber = true
		case unicode.IsPunct(char) || unicode.IsSymbol(char):
			hasSpecial = true
		}
	}
	return hasUpper && hasLower && hasNumber && hasSpecial
}
