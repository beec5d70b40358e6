package breachvip

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	"golang.org/x/text/unicode/norm"

	"breachvip/internal/services"
)

var (
	validatorOnce sync.Once
	payloadCheck  *validator.Validate
	payloadTrans  ut.Translator
)

// payloadValidator returns the shared validator with English messages keyed by json tag names.
func payloadValidator() (*validator.Validate, ut.Translator) {
	validatorOnce.Do(func() {
		enLoc := en.New()
		uni := ut.New(enLoc, enLoc)
		payloadTrans, _ = uni.GetTranslator("en")

		payloadCheck = validator.New(validator.WithRequiredStructEnabled())
		payloadCheck.RegisterTagNameFunc(func(fld reflect.StructField) string {
			tag := fld.Tag.Get("json")
			if tag == "-" || tag == "" {
				return fld.Name
			}
			if idx := strings.Index(tag, ","); idx >= 0 {
				tag = tag[:idx]
			}
			return tag
		})
		_ = en_translations.RegisterDefaultTranslations(payloadCheck, payloadTrans)
	})
	return payloadCheck, payloadTrans
}

// Build converts req into the canonical payload. The term is trimmed and
// NFC-normalized, blank and duplicate fields are dropped, and optional fields
// are copied only when set. An empty term or field list fails with an error
// matching services.ErrValidation.
func Build(req LookupRequest) (SearchPayload, error) {
	payload := SearchPayload{
		Term:   norm.NFC.String(strings.TrimSpace(req.Term)),
		Fields: cleanFields(req.Fields),
	}
	if req.Categories != nil {
		categories := make([]string, 0, len(req.Categories))
		for _, category := range req.Categories {
			if category = strings.TrimSpace(category); category != "" {
				categories = append(categories, category)
			}
		}
		payload.Categories = categories
	}
	if req.Wildcard != nil {
		payload.Wildcard = Bool(*req.Wildcard)
	}
	if req.CaseSensitive != nil {
		payload.CaseSensitive = Bool(*req.CaseSensitive)
	}

	check, trans := payloadValidator()
	if err := check.Struct(payload); err != nil {
		return SearchPayload{}, services.Wrap(services.ErrValidation, "build", "payload", describeValidation(err, trans), nil)
	}
	return payload, nil
}

func cleanFields(fields []string) []string {
	out := make([]string, 0, len(fields))
	seen := make(map[string]struct{}, len(fields))
	for _, field := range fields {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		if _, ok := seen[field]; ok {
			continue
		}
		seen[field] = struct{}{}
		out = append(out, field)
	}
	return out
}

func describeValidation(err error, trans ut.Translator) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err.Error()
	}
	messages := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		messages = append(messages, fe.Translate(trans))
	}
	return strings.Join(messages, "; ")
}
