package middleware

import (
	"reflect"
	"strings"
	"time"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// RegisterValidators installs the custom binding validators used by the
// booking handlers. Must run once before the router starts serving.
func RegisterValidators() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}

	if err := v.RegisterValidation("futuredate", futureDate); err != nil {
		panic(err)
	}

	// Report field names as they appear on the wire.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
}

func futureDate(fl validator.FieldLevel) bool {
	t, ok := fl.Field().Interface().(time.Time)
	return ok && t.After(time.Now())
}
