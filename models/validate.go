package models

import (
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	"github.com/leebenson/conform"
	"github.com/pkg/errors"
	errs "github.com/techagentng/citizenchat/errors"
)

var (
	validate  *validator.Validate
	trans     ut.Translator
	setupOnce sync.Once
)

func setup() {
	setupOnce.Do(func() {
		english := en.New()
		uni := ut.New(english, english)
		trans, _ = uni.GetTranslator("en")
		validate = validator.New()
		validate.SetTagName("binding")
		_ = registerTranslations(validate)
	})
}

// GinValidator plugs the package validator into gin's binding so query and
// form binding fail the same way socket payloads do.
type GinValidator struct{}

func (GinValidator) ValidateStruct(obj interface{}) error {
	v := reflect.ValueOf(obj)
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct || !v.CanAddr() {
		return nil
	}
	return ValidateStruct(v.Addr().Interface())
}

func (GinValidator) Engine() interface{} {
	setup()
	return validate
}

func registerTranslations(v *validator.Validate) error {
	v.RegisterTagNameFunc(jsonTagName)
	return en_translations.RegisterDefaultTranslations(v, trans)
}

func jsonTagName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	if name == "" {
		return fld.Name
	}
	return name
}

// ValidateStruct trims conform tagged strings in req and validates its binding
// tags. req must be a pointer to a struct.
func ValidateStruct(req interface{}) error {
	setup()
	if err := validateWhiteSpaces(req); err != nil {
		return errs.InvalidInput(err.Error())
	}
	return ValidationError(validate.Struct(req))
}

// ValidationError converts validator failures into an invalid_input error that
// carries one message per field.
func ValidationError(err error) error {
	if err == nil {
		return nil
	}
	var typed *errs.Error
	if errors.As(err, &typed) {
		return typed
	}
	setup()
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errs.InvalidInput("invalid request payload: " + err.Error())
	}
	e := errs.InvalidInput("invalid request payload")
	e.Fields = translateError(verrs, trans)
	return e
}

func validateWhiteSpaces(data interface{}) error {
	return conform.Strings(data)
}

func translateError(verrs validator.ValidationErrors, trans ut.Translator) map[string]string {
	fields := make(map[string]string, len(verrs))
	for _, e := range verrs {
		fields[e.Field()] = e.Translate(trans)
	}
	return fields
}
