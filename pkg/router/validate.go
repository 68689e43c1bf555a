package router

import (
	"sync"

	"github.com/go-playground/validator/v10"
)

// paramValidator validates decoded wire-message params the way the
// teacher's rpc_node.go getValidator() validates inbound RPC payloads: one
// shared *validator.Validate, built once.
var (
	paramValidatorOnce sync.Once
	paramValidatorInst *validator.Validate
)

func paramValidator() *validator.Validate {
	paramValidatorOnce.Do(func() {
		paramValidatorInst = validator.New()
	})
	return paramValidatorInst
}

// validateParams runs struct-tag validation over a bound params struct,
// returning a client-safe reason string on failure.
func validateParams(v interface{}) (reason string, ok bool) {
	if err := paramValidator().Struct(v); err != nil {
		return err.Error(), false
	}
	return "", true
}
