package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ChaneHaDa/stock-batch-server/internal/contracts"
)

// ⭐ SSOT: 요청 검증기는 여기서만 생성
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationFailure converts validator errors to the field/reason shape used by imports
func validationFailure(err error) []contracts.FieldError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []contracts.FieldError{{Field: "request", Reason: err.Error()}}
	}

	out := make([]contracts.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		reason := "failed " + fe.Tag()
		switch fe.Tag() {
		case "required":
			reason = "is required"
		case "min":
			reason = "must be at least " + fe.Param()
		case "max":
			reason = "must be at most " + fe.Param()
		case "datetime":
			reason = "must be a date formatted " + fe.Param()
		}
		out = append(out, contracts.FieldError{Field: fe.Field(), Reason: reason})
	}
	return out
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}

func respondFields(w http.ResponseWriter, status int, message string, fields []contracts.FieldError) {
	respondJSON(w, status, map[string]interface{}{
		"error":  message,
		"fields": fields,
	})
}

// respondErr maps the batch error taxonomy to HTTP statuses
func respondErr(w http.ResponseWriter, err error, payload interface{}) {
	var ve *contracts.ValidationError
	var ie *contracts.ImportError

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, contracts.ErrDuplicateRun):
		status = http.StatusConflict
	case errors.Is(err, contracts.ErrNotFound):
		status = http.StatusNotFound
	case errors.As(err, &ve):
		status = http.StatusUnprocessableEntity
	case errors.As(err, &ie):
		status = http.StatusBadRequest
	}

	body := map[string]interface{}{"error": err.Error()}
	if ve != nil {
		body["validation"] = ve
	}
	if payload != nil {
		body["data"] = payload
	}
	respondJSON(w, status, body)
}
