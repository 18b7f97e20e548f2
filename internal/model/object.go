package model

import (
	"maps"
	"slices"
	"time"
)

// Core field names shared by the field mapper, the index and the queue wire format
const (
	FieldID         = "id"
	FieldType       = "type"
	FieldTenantID   = "tenantid"
	FieldName       = "name"
	FieldTags       = "tags"
	FieldTimestamp  = "timestamp"
	FieldUpdated    = "updated"
	FieldVersion    = "version"
	FieldStored     = "stored"
	FieldIndexed    = "indexed"
	FieldCached     = "cached"
	FieldProperties = "properties"
	FieldLatLng     = "latlng"
)

// Well-known object types
const (
	TypeSysprop        = "sysprop"
	TypeTag            = "tag"
	TypeAddress        = "address"
	TypeVote           = "vote"
	TypeTranslation    = "translation"
	TypeWebhookPayload = "webhookpayload"
)

// VersionConflict marks an object whose conditional write was rejected by the store
const VersionConflict int64 = -1

// Object is the unit of persistence. Every store, index and cache entry is an Object
// addressed by (TenantID, ID).
type Object struct {
	ID         string         `json:"id" mapstructure:"id"`
	Type       string         `json:"type" mapstructure:"type"`
	TenantID   string         `json:"tenantid" mapstructure:"tenantid"`
	Name       string         `json:"name,omitempty" mapstructure:"name"`
	Tags       []string       `json:"tags,omitempty" mapstructure:"tags"`
	Timestamp  int64          `json:"timestamp,omitempty" mapstructure:"timestamp"`
	Updated    int64          `json:"updated,omitempty" mapstructure:"updated"`
	Version    int64          `json:"version,omitempty" mapstructure:"version"` // 0 disables optimistic locking
	Stored     *bool          `json:"stored,omitempty" mapstructure:"stored"`
	Indexed    *bool          `json:"indexed,omitempty" mapstructure:"indexed"`
	Cached     *bool          `json:"cached,omitempty" mapstructure:"cached"`
	Properties map[string]any `json:"properties,omitempty" mapstructure:",remain"`
}

// NewObject creates an object of the given type with default policy flags
func NewObject(tenantID, objType string) *Object {
	return &Object{
		Type:       objType,
		TenantID:   tenantID,
		Properties: make(map[string]any),
	}
}

// NewTag creates a tag object. Tags are keyed by their name so that re-creating the
// same tag is idempotent.
func NewTag(tenantID, tag string) *Object {
	obj := NewObject(tenantID, TypeTag)
	obj.ID = TypeTag + ":" + tag
	obj.Name = tag
	obj.SetProperty(TypeTag, tag)
	return obj
}

// IsStored reports whether the object is persisted in the store (default true)
func (o *Object) IsStored() bool { return flag(o.Stored) }

// IsIndexed reports whether the object is propagated to the search index (default true)
func (o *Object) IsIndexed() bool { return flag(o.Indexed) }

// IsCached reports whether the object is propagated to the cache (default true)
func (o *Object) IsCached() bool { return flag(o.Cached) }

// SetStored sets the stored policy flag
func (o *Object) SetStored(v bool) *Object {
	o.Stored = &v
	return o
}

// SetIndexed sets the indexed policy flag
func (o *Object) SetIndexed(v bool) *Object {
	o.Indexed = &v
	return o
}

// SetCached sets the cached policy flag
func (o *Object) SetCached(v bool) *Object {
	o.Cached = &v
	return o
}

// Propagatable reports whether the object may be written to the index or cache.
// Objects carrying a failed conditional write must never leave the store layer.
func (o *Object) Propagatable() bool {
	return o.Version >= 0
}

// LockingEnabled reports whether the store should apply optimistic locking
func (o *Object) LockingEnabled() bool {
	return o.Version > 0
}

// Property returns a free-form property value
func (o *Object) Property(name string) (any, bool) {
	if o.Properties == nil {
		return nil, false
	}
	v, ok := o.Properties[name]
	return v, ok
}

// SetProperty sets a free-form property value
func (o *Object) SetProperty(name string, value any) *Object {
	if o.Properties == nil {
		o.Properties = make(map[string]any)
	}
	o.Properties[name] = value
	return o
}

// Touch stamps the creation timestamp if absent
func (o *Object) Touch(now time.Time) {
	if o.Timestamp == 0 {
		o.Timestamp = now.UnixMilli()
	}
}

// Clone returns a copy of the object safe to hand to another backend.
// Property values are copied one level deep.
func (o *Object) Clone() *Object {
	if o == nil {
		return nil
	}
	c := *o
	c.Tags = slices.Clone(o.Tags)
	c.Properties = maps.Clone(o.Properties)
	c.Stored = cloneFlag(o.Stored)
	c.Indexed = cloneFlag(o.Indexed)
	c.Cached = cloneFlag(o.Cached)
	return &c
}

// IDs returns the ids of the given objects in order, skipping nil entries
func IDs(objs []*Object) []string {
	ids := make([]string, 0, len(objs))
	for _, o := range objs {
		if o != nil {
			ids = append(ids, o.ID)
		}
	}
	return ids
}

func flag(v *bool) bool {
	return v == nil || *v
}

func cloneFlag(v *bool) *bool {
	if v == nil {
		return nil
	}
	b := *v
	return &b
}
