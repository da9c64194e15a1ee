package api

import (
	"sync"

	"production-ledger/internal/pipeline"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var registerOnce sync.Once

// registerValidators teaches gin's validator the stage and channel tags
func registerValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = v.RegisterValidation("stage", func(fl validator.FieldLevel) bool {
			st, ok := fl.Field().Interface().(pipeline.Stage)
			return ok && st.Valid()
		})
		_ = v.RegisterValidation("channel", func(fl validator.FieldLevel) bool {
			ch, ok := fl.Field().Interface().(pipeline.Channel)
			return ok && ch.Valid()
		})
	})
}
