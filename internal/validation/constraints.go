package validation

import (
	"fmt"
	"net/mail"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/devrev/paracore/internal/model"
)

// Constraint checks a single field value. present is false when the object does not carry
// the field at all. It returns a violation message or an empty string.
type Constraint func(field string, value any, present bool) string

// Required rejects absent, nil and blank values
func Required() Constraint {
	return func(field string, value any, present bool) string {
		if !present || isBlank(value) {
			return fmt.Sprintf("%s is required", field)
		}
		return ""
	}
}

// MinLength requires strings and lists to have at least n elements
func MinLength(n int) Constraint {
	return func(field string, value any, present bool) string {
		if l, ok := length(value); present && ok && l < n {
			return fmt.Sprintf("%s must be at least %d long", field, n)
		}
		return ""
	}
}

// MaxLength limits strings and lists to n elements
func MaxLength(n int) Constraint {
	return func(field string, value any, present bool) string {
		if l, ok := length(value); present && ok && l > n {
			return fmt.Sprintf("%s must be at most %d long", field, n)
		}
		return ""
	}
}

// Min requires a numeric value >= n
func Min(n float64) Constraint {
	return func(field string, value any, present bool) string {
		if f, ok := number(value); present && ok && f < n {
			return fmt.Sprintf("%s must be >= %v", field, n)
		}
		return ""
	}
}

// Max requires a numeric value <= n
func Max(n float64) Constraint {
	return func(field string, value any, present bool) string {
		if f, ok := number(value); present && ok && f > n {
			return fmt.Sprintf("%s must be <= %v", field, n)
		}
		return ""
	}
}

// Pattern requires string values to match the expression
func Pattern(expr string) Constraint {
	re := regexp.MustCompile(expr)
	return func(field string, value any, present bool) string {
		s, ok := value.(string)
		if present && ok && s != "" && !re.MatchString(s) {
			return fmt.Sprintf("%s does not match pattern %s", field, expr)
		}
		return ""
	}
}

// Email requires string values to be a single email address
func Email() Constraint {
	return func(field string, value any, present bool) string {
		s, ok := value.(string)
		if !present || !ok || s == "" {
			return ""
		}
		if addr, err := mail.ParseAddress(s); err != nil || addr.Address != s {
			return fmt.Sprintf("%s is not a valid email address", field)
		}
		return ""
	}
}

// URL requires string values to be absolute http(s) URLs
func URL() Constraint {
	return func(field string, value any, present bool) string {
		s, ok := value.(string)
		if !present || !ok || s == "" {
			return ""
		}
		u, err := url.Parse(s)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Sprintf("%s is not a valid URL", field)
		}
		return ""
	}
}

// Registry holds the declared field constraints per object type
type Registry struct {
	mu     sync.RWMutex
	byType map[string]map[string][]Constraint
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{byType: make(map[string]map[string][]Constraint)}
}

// DefaultRegistry returns a registry with the constraints of the built-in types
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(model.TypeTag, model.TypeTag, Required(), MaxLength(MaxTagSize))
	r.Register(model.TypeVote, "value", Required(), Min(-1), Max(1))
	r.Register(model.TypeAddress, "address", Required(), MaxLength(255))
	r.Register(model.TypeAddress, "country", Required())
	r.Register(model.TypeTranslation, "locale", Required())
	r.Register(model.TypeTranslation, "value", Required())
	return r
}

// Register adds constraints for a field of the given type
func (r *Registry) Register(objType, field string, constraints ...Constraint) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fields, ok := r.byType[objType]
	if !ok {
		fields = make(map[string][]Constraint)
		r.byType[objType] = fields
	}
	fields[field] = append(fields[field], constraints...)
}

// check runs the constraints declared for the object's type, in field name order
func (r *Registry) check(obj *model.Object) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fields := r.byType[obj.Type]
	if len(fields) == 0 {
		return nil
	}
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	var violations []string
	for _, name := range names {
		value, present := fieldValue(obj, name)
		for _, c := range fields[name] {
			if msg := c(name, value, present); msg != "" {
				violations = append(violations, msg)
			}
		}
	}
	return violations
}

// fieldValue resolves a core field or a free-form property
func fieldValue(obj *model.Object, field string) (any, bool) {
	switch field {
	case model.FieldID:
		return obj.ID, obj.ID != ""
	case model.FieldName:
		return obj.Name, obj.Name != ""
	case model.FieldTags:
		return obj.Tags, obj.Tags != nil
	default:
		return obj.Property(field)
	}
}

func isBlank(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case []string:
		return len(v) == 0
	case []any:
		return len(v) == 0
	default:
		return false
	}
}

func length(value any) (int, bool) {
	switch v := value.(type) {
	case string:
		return len([]rune(v)), true
	case []string:
		return len(v), true
	case []any:
		return len(v), true
	default:
		return 0, false
	}
}

func number(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
