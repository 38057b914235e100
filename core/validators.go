package core

import (
	"reflect"
	"regexp"
	"strings"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

var alphaNumUnderRegex = regexp.MustCompile(`^[\w\s]+$`)

// customValidators are the tags every domain can use.
var customValidators = []struct {
	tag  string
	text string
	fn   validator.Func
}{
	{
		tag:  "alphanum_",
		text: "only alphanumeric characters and underscores are allowed",
		fn:   func(fl validator.FieldLevel) bool { return alphaNumUnderRegex.MatchString(fl.Field().String()) },
	},
	{
		tag:  "notblank",
		text: "this field cannot be blank",
		fn:   func(fl validator.FieldLevel) bool { return strings.TrimSpace(fl.Field().String()) != "" },
	},
	{
		tag:  "singleline",
		text: "this field must fit on a single line",
		fn:   func(fl validator.FieldLevel) bool { return !strings.ContainsAny(fl.Field().String(), "\r\n") },
	},
}

// requiredTags share the same message, overriding the default translations.
var (
	requiredTags = []string{"required", "required_with"}
	requiredText = "this field is required"
)

// InitValidators registers the default English translations, JSON field names and the custom tags.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = en_translations.RegisterDefaultTranslations(validate, translator)

	validate.RegisterTagNameFunc(jsonFieldName)

	for _, cv := range customValidators {
		_ = validate.RegisterValidation(cv.tag, cv.fn)
		RegisterCustomTranslation(validate, translator, cv.tag, cv.text)
	}
	for _, tag := range requiredTags {
		RegisterCustomTranslation(validate, translator, tag, requiredText, true)
	}
}

// jsonFieldName names fields in errors after their JSON key.
func jsonFieldName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	return name
}

// RegisterCustomTranslation registers a custom translation for the specified validation tag.
func RegisterCustomTranslation(validate *validator.Validate, translator ut.Translator, tag, text string, override ...bool) {
	ovrd := len(override) > 0 && override[0]
	_ = validate.RegisterTranslation(
		tag, translator,
		func(t ut.Translator) error { return t.Add(tag, text, ovrd) },
		func(t ut.Translator, fe validator.FieldError) string {
			s, _ := t.T(tag, fe.Field())
			return s
		},
	)
}

// TranslateErrors flattens validator errors into field -> message.
func TranslateErrors(err error, translator ut.Translator) map[string]string {
	vErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return nil
	}
	fldErrs := make(map[string]string, len(vErrs))
	for _, vErr := range vErrs {
		fldErrs[vErr.Field()] = vErr.Translate(translator)
	}
	return fldErrs
}
