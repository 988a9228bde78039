package httpserver

import (
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validatorOnce sync.Once
	validatorInst *validator.Validate
)

// validate returns the process-wide validator instance, built once.
func validate() *validator.Validate {
	validatorOnce.Do(func() {
		validatorInst = validator.New()
	})
	return validatorInst
}

// userCreateRequest is the request body contract for POST /users and
// POST /async-users.
type userCreateRequest struct {
	Name  string `json:"name" validate:"required,min=1,max=200"`
	Email string `json:"email" validate:"required,email"`
}

// itemCreateRequest is the request body contract for POST /items.
type itemCreateRequest struct {
	SKU   string `json:"sku" validate:"required,min=1,max=64"`
	Name  string `json:"name" validate:"required,min=1,max=200"`
	Price int64  `json:"price" validate:"min=0"`
}
