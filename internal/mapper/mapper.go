// Package mapper converts objects to and from the flat field maps used by index
// documents and queue messages.
package mapper

import (
	"fmt"
	"maps"

	"github.com/devrev/paracore/internal/model"
	"github.com/go-viper/mapstructure/v2"
)

// LockedFields are never overwritten when merging externally sourced fields
var LockedFields = map[string]struct{}{
	model.FieldID:        {},
	model.FieldType:      {},
	model.FieldTenantID:  {},
	model.FieldTimestamp: {},
	model.FieldUpdated:   {},
	model.FieldVersion:   {},
}

var coreFields = map[string]struct{}{
	model.FieldID:         {},
	model.FieldType:       {},
	model.FieldTenantID:   {},
	model.FieldName:       {},
	model.FieldTags:       {},
	model.FieldTimestamp:  {},
	model.FieldUpdated:    {},
	model.FieldVersion:    {},
	model.FieldStored:     {},
	model.FieldIndexed:    {},
	model.FieldCached:     {},
	model.FieldProperties: {},
}

// IsCoreField reports whether the name addresses a core object field
func IsCoreField(name string) bool {
	_, ok := coreFields[name]
	return ok
}

// ToMap flattens an object: core fields and free-form properties share one namespace.
// Properties shadowed by a core field name are dropped.
func ToMap(obj *model.Object) map[string]any {
	if obj == nil {
		return nil
	}
	m := make(map[string]any, len(obj.Properties)+len(coreFields))
	for k, v := range obj.Properties {
		if IsCoreField(k) {
			continue
		}
		m[k] = v
	}
	m[model.FieldID] = obj.ID
	m[model.FieldType] = obj.Type
	m[model.FieldTenantID] = obj.TenantID
	m[model.FieldTimestamp] = obj.Timestamp
	m[model.FieldUpdated] = obj.Updated
	m[model.FieldVersion] = obj.Version
	m[model.FieldStored] = obj.IsStored()
	m[model.FieldIndexed] = obj.IsIndexed()
	m[model.FieldCached] = obj.IsCached()
	if obj.Name != "" {
		m[model.FieldName] = obj.Name
	}
	if len(obj.Tags) > 0 {
		m[model.FieldTags] = append([]string(nil), obj.Tags...)
	}
	return m
}

// FromMap materializes an object from a flat field map. Values are weakly typed so that
// JSON numbers and "true"/"false" strings decode into the core fields; unknown keys
// become properties. A nested "properties" object is merged into the properties.
func FromMap(data map[string]any) (*model.Object, error) {
	obj := &model.Object{}
	if err := decode(data, obj); err != nil {
		return nil, err
	}
	if obj.Properties == nil {
		obj.Properties = make(map[string]any)
	}
	if nested, ok := obj.Properties[model.FieldProperties].(map[string]any); ok {
		delete(obj.Properties, model.FieldProperties)
		for k, v := range nested {
			if _, exists := obj.Properties[k]; !exists {
				obj.Properties[k] = v
			}
		}
	}
	return obj, nil
}

// Merge applies data onto dst, skipping the locked fields
func Merge(dst *model.Object, data map[string]any) error {
	if dst == nil {
		return fmt.Errorf("cannot merge into nil object")
	}
	m := ToMap(dst)
	for k, v := range data {
		if _, locked := LockedFields[k]; locked {
			continue
		}
		m[k] = v
	}
	merged, err := FromMap(m)
	if err != nil {
		return err
	}
	*dst = *merged
	return nil
}

// Copy returns a detached copy of a field map
func Copy(data map[string]any) map[string]any {
	return maps.Clone(data)
}

func decode(input map[string]any, out *model.Object) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
		TagName:          "mapstructure",
	})
	if err != nil {
		return fmt.Errorf("failed to create field decoder: %w", err)
	}
	if err := decoder.Decode(input); err != nil {
		return fmt.Errorf("failed to decode object fields: %w", err)
	}
	return nil
}
