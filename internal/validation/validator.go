package validation

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/devrev/paracore/internal/errors"
	"github.com/devrev/paracore/internal/model"
)

const (
	// Size limits
	MaxIDSize       = 1024 // 1 KB
	MaxTenantIDSize = 256
	MaxNameSize     = 255
	MaxTagSize      = 255
	MaxTags         = 100
	MaxProperties   = 1000
	MaxPropertyKey  = 255
)

// Validator validates objects before they reach any backend
type Validator struct {
	maxIDSize       int
	maxTenantIDSize int
	registry        *Registry
}

var defaultValidator = NewValidator(DefaultRegistry())

// NewValidator creates a new validator with default limits
func NewValidator(registry *Registry) *Validator {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Validator{
		maxIDSize:       MaxIDSize,
		maxTenantIDSize: MaxTenantIDSize,
		registry:        registry,
	}
}

// Registry returns the constraint registry consulted by the validator
func (v *Validator) Registry() *Registry {
	return v.registry
}

// ValidateObject validates an object with the default validator
func ValidateObject(obj *model.Object) []string {
	return defaultValidator.ValidateObject(obj)
}

// ValidateObject runs the built-in and the declared constraints for the object's type.
// It returns one human-readable message per violation; an empty result means valid.
func (v *Validator) ValidateObject(obj *model.Object) []string {
	if obj == nil {
		return []string{"object cannot be nil"}
	}

	var violations []string
	add := func(err error) {
		if err != nil {
			violations = append(violations, err.Error())
		}
	}

	add(v.ValidateTenantID(obj.TenantID))
	if obj.ID != "" {
		add(v.ValidateID(obj.ID))
	}
	if len(obj.Name) > MaxNameSize {
		violations = append(violations, fmt.Sprintf("name exceeds maximum size of %d characters", MaxNameSize))
	}
	if obj.Version < model.VersionConflict {
		violations = append(violations, fmt.Sprintf("version %d is invalid", obj.Version))
	}

	if len(obj.Tags) > MaxTags {
		violations = append(violations, fmt.Sprintf("object has too many tags: %d > %d", len(obj.Tags), MaxTags))
	}
	for i, tag := range obj.Tags {
		if len(tag) > MaxTagSize {
			violations = append(violations, fmt.Sprintf("tag %d exceeds maximum size of %d characters", i, MaxTagSize))
		}
	}

	if len(obj.Properties) > MaxProperties {
		violations = append(violations, fmt.Sprintf("object has too many properties: %d > %d", len(obj.Properties), MaxProperties))
	}
	for key := range obj.Properties {
		if strings.TrimSpace(key) == "" {
			violations = append(violations, "property key cannot be blank")
			continue
		}
		if len(key) > MaxPropertyKey {
			violations = append(violations, fmt.Sprintf("property key '%s' exceeds maximum size of %d", key[:32], MaxPropertyKey))
		}
	}

	violations = append(violations, v.registry.check(obj)...)
	return violations
}

// ValidateTenantID validates a tenant ID
func (v *Validator) ValidateTenantID(tenantID string) error {
	// Check if empty
	if tenantID == "" {
		return errors.InvalidTenantID(tenantID, "tenant ID cannot be empty")
	}

	// Check size
	if len(tenantID) > v.maxTenantIDSize {
		return errors.InvalidTenantID(tenantID, fmt.Sprintf("tenant ID exceeds maximum size of %d bytes", v.maxTenantIDSize))
	}

	// Tenant ID should not contain ':' as it's used as a separator in composite keys
	if strings.Contains(tenantID, ":") {
		return errors.InvalidTenantID(tenantID, "tenant ID cannot contain ':' character")
	}

	for _, r := range tenantID {
		if unicode.IsControl(r) {
			return errors.InvalidTenantID(tenantID, "tenant ID cannot contain control characters")
		}
	}

	return nil
}

// ValidateID validates an object id
func (v *Validator) ValidateID(id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.InvalidID(id, "id cannot be blank")
	}

	if len(id) > v.maxIDSize {
		return errors.InvalidID(id[:64], fmt.Sprintf("id exceeds maximum size of %d bytes", v.maxIDSize))
	}

	// Null bytes and control characters would corrupt composite keys
	for _, r := range id {
		if unicode.IsControl(r) {
			return errors.InvalidID(id, "id cannot contain control characters")
		}
	}

	return nil
}

// SanitizeTenantID sanitizes a tenant ID by removing forbidden characters
func SanitizeTenantID(tenantID string) string {
	sanitized := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || r == ':' {
			return -1
		}
		return r
	}, tenantID)

	sanitized = strings.TrimSpace(sanitized)

	if len(sanitized) > MaxTenantIDSize {
		sanitized = sanitized[:MaxTenantIDSize]
	}

	return sanitized
}
