package validation

import (
	"strings"
	"unicode"

	"github.com/devrev/paracore/internal/model"
)

// DefaultType replaces a type that is empty after sanitization
const DefaultType = model.TypeSysprop

// FixType sanitizes an object type: '#' and '/' are removed, then any run of leading
// reserved underscores and surrounding whitespace. Applying it twice equals applying it once.
func FixType(objType string) string {
	fixed := strings.Map(func(r rune) rune {
		if r == '#' || r == '/' {
			return -1
		}
		return r
	}, objType)
	fixed = strings.TrimLeftFunc(fixed, func(r rune) bool {
		return r == '_' || unicode.IsSpace(r)
	})
	fixed = strings.TrimRightFunc(fixed, unicode.IsSpace)
	if fixed == "" {
		return DefaultType
	}
	return fixed
}

// CheckAndFixType sanitizes the type of an object in place
func CheckAndFixType(obj *model.Object) {
	if obj == nil {
		return
	}
	obj.Type = FixType(obj.Type)
}
