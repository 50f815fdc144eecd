package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/Rrens/secassist/internal/api/response"
)

var validate = validator.New()

const maxBodyBytes = 1 << 20

// normalizer is implemented by requests that clean their fields before validation
type normalizer interface {
	normalize()
}

// decode reads a JSON body into v and validates it, writing a 400 on failure.
// An empty body is accepted when allowEmpty is set.
func decode(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) bool {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if err != nil && !(allowEmpty && errors.Is(err, io.EOF)) {
		response.BadRequest(w, "invalid request body")
		return false
	}

	if n, ok := v.(normalizer); ok {
		n.normalize()
	}

	if err := validate.Struct(v); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			response.BadRequest(w, validationMessages(validationErrors))
			return false
		}
		response.BadRequest(w, err.Error())
		return false
	}
	return true
}

func validationMessages(validationErrors validator.ValidationErrors) map[string]string {
	errs := make(map[string]string)
	for _, e := range validationErrors {
		field := e.Namespace()
		switch e.Tag() {
		case "required":
			errs[field] = "field is required"
		case "min":
			errs[field] = "must be at least " + e.Param()
		case "max":
			errs[field] = "must be at most " + e.Param()
		case "oneof":
			errs[field] = "must be one of: " + e.Param()
		default:
			errs[field] = "validation failed on " + e.Tag()
		}
	}
	return errs
}
