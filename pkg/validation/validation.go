package validation

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/nervozny/factor/internal/factor"
	"github.com/nervozny/factor/pkg/pagination"
)

// DateLayout is the accepted period endpoint format.
const DateLayout = "2006-01-02"

var (
	v    *validator.Validate
	once sync.Once
)

// Validator returns a singleton validator with custom rules registered.
func Validator() *validator.Validate {
	once.Do(func() {
		v = validator.New()
		// Report fields by their JSON names so messages match tool schemas.
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		// Dataset and export paths must be Excel workbooks.
		_ = v.RegisterValidation("filepath_ext", func(fl validator.FieldLevel) bool {
			s := strings.ToLower(strings.TrimSpace(fl.Field().String()))
			if s == "" {
				return false
			}
			return strings.HasSuffix(s, ".xlsx") || strings.HasSuffix(s, ".xlsm")
		})
		_ = v.RegisterValidation("ymd", func(fl validator.FieldLevel) bool {
			_, err := time.Parse(DateLayout, strings.TrimSpace(fl.Field().String()))
			return err == nil
		})
		_ = v.RegisterValidation("axis", func(fl validator.FieldLevel) bool {
			_, err := factor.ParseAxis(fl.Field().String())
			return err == nil
		})
		// Empty cursors pass; pair with omitempty.
		_ = v.RegisterValidation("cursor", func(fl validator.FieldLevel) bool {
			s := strings.TrimSpace(fl.Field().String())
			if s == "" {
				return true
			}
			_, err := pagination.DecodeCursor(s)
			return err == nil
		})
	})
	return v
}

// ValidateStruct validates a struct and returns a user-friendly error string
// suitable for MCP tool errors. Returns empty string when valid.
func ValidateStruct(s any) string {
	if err := Validator().Struct(s); err != nil {
		if ve, ok := err.(validator.ValidationErrors); ok && len(ve) > 0 {
			fe := ve[0]
			field := strings.ToLower(fe.Field())
			switch fe.Tag() {
			case "required":
				return fmt.Sprintf("VALIDATION: %s is required", field)
			case "required_without":
				return fmt.Sprintf("VALIDATION: %s is required (or supply %s)", field, strings.ToLower(fe.Param()))
			case "filepath_ext":
				return fmt.Sprintf("VALIDATION: %s must be an Excel file (.xlsx, .xlsm)", field)
			case "ymd":
				return fmt.Sprintf("VALIDATION: %s must be a date formatted YYYY-MM-DD", field)
			case "axis":
				return fmt.Sprintf("VALIDATION: %s must be one of Branch, Channel, Brand, Group, Mark, Manager", field)
			case "cursor":
				return "CURSOR_INVALID: failed to decode cursor; restart paging from the first page"
			case "len":
				if fe.Kind().String() == "slice" {
					return fmt.Sprintf("INVALID_INTERVAL: %s needs exactly %s dates (start, end)", field, fe.Param())
				}
			case "min", "max", "gte", "lte":
				return fmt.Sprintf("VALIDATION: %s must satisfy %s=%s", field, fe.Tag(), fe.Param())
			}
			return fmt.Sprintf("VALIDATION: invalid %s", field)
		}
		return "VALIDATION: invalid inputs"
	}
	return ""
}
