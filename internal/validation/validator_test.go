package validation

import (
	"strings"
	"testing"

	"github.com/devrev/paracore/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixType(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "___NOT_OK_", want: "NOT_OK_"},
		{in: "NOT/OK/.OK", want: "NOTOK.OK"},
		{in: "____", want: DefaultType},
		{in: "", want: DefaultType},
		{in: "#/_", want: DefaultType},
		{in: "#_user", want: "user"},
		{in: "tag", want: "tag"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := FixType(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, FixType(got), "FixType must be idempotent")
		})
	}
}

func TestCheckAndFixType(t *testing.T) {
	obj := model.NewObject("t1", "__a#b")
	CheckAndFixType(obj)
	assert.Equal(t, "ab", obj.Type)

	CheckAndFixType(nil)
}

func TestValidateObject(t *testing.T) {
	tests := []struct {
		name     string
		obj      *model.Object
		wantMsgs int
		contains string
	}{
		{name: "valid tag", obj: model.NewTag("t1", "tag1")},
		{name: "nil object", obj: nil, wantMsgs: 1, contains: "nil"},
		{name: "missing tenant", obj: model.NewTag("", "tag1"), wantMsgs: 1, contains: "tenant ID cannot be empty"},
		{name: "tenant with colon", obj: model.NewObject("a:b", "sysprop"), wantMsgs: 1, contains: "':'"},
		{name: "tag without tag property", obj: model.NewObject("t1", model.TypeTag), wantMsgs: 1, contains: "tag is required"},
		{name: "failed version", obj: &model.Object{TenantID: "t1", Version: -5}, wantMsgs: 1, contains: "version"},
		{name: "name too long", obj: &model.Object{TenantID: "t1", Name: strings.Repeat("n", MaxNameSize+1)}, wantMsgs: 1, contains: "name"},
		{name: "control char in id", obj: &model.Object{TenantID: "t1", ID: "a\x00b"}, wantMsgs: 1, contains: "control"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs := ValidateObject(tt.obj)
			require.Len(t, msgs, tt.wantMsgs, "violations: %v", msgs)
			if tt.contains != "" {
				assert.Contains(t, msgs[0], tt.contains)
			}
		})
	}
}

func TestRegistry_DeclaredConstraints(t *testing.T) {
	r := NewRegistry()
	r.Register("user", "email", Required(), Email())
	r.Register("user", "age", Min(0), Max(150))
	r.Register("user", "site", URL())
	r.Register("user", "code", Pattern(`^[A-Z]{3}$`), MinLength(3), MaxLength(3))
	v := NewValidator(r)

	ok := model.NewObject("t1", "user").
		SetProperty("email", "a@b.io").
		SetProperty("age", 30).
		SetProperty("site", "https://example.com").
		SetProperty("code", "ABC")
	assert.Empty(t, v.ValidateObject(ok))

	bad := model.NewObject("t1", "user").
		SetProperty("email", "not-an-email").
		SetProperty("age", 200.0).
		SetProperty("site", "ftp://example.com").
		SetProperty("code", "abcd")
	msgs := v.ValidateObject(bad)
	assert.Len(t, msgs, 5, "violations: %v", msgs)

	missing := model.NewObject("t1", "user")
	msgs = v.ValidateObject(missing)
	assert.Equal(t, []string{"email is required"}, msgs)
}

func TestPartitionByPolicy(t *testing.T) {
	a := model.NewObject("t1", "x")
	a.ID = "a"
	b := model.NewObject("t1", "x").SetStored(false)
	b.ID = "b"
	c := model.NewObject("t1", "x").SetIndexed(false)
	c.ID = "c"
	d := model.NewObject("t1", "x").SetStored(false).SetIndexed(false)
	d.ID = "d"
	e := model.NewObject("t1", "x")
	e.ID = "e"

	original := []*model.Object{a, b, c, d, e}
	list := original
	var sink []*model.Object

	removed := PartitionByPolicy(&list, &sink)

	assert.Equal(t, []string{"b", "d"}, model.IDs(removed))
	assert.Equal(t, []string{"a", "c", "e"}, model.IDs(list))
	assert.Equal(t, []string{"a", "b", "e"}, model.IDs(sink))
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, model.IDs(original), "caller backing array must be untouched")
}

func TestPartitionByPolicy_NilInputs(t *testing.T) {
	assert.Nil(t, PartitionByPolicy(nil, nil))

	list := []*model.Object{model.NewObject("t1", "x").SetStored(false)}
	removed := PartitionByPolicy(&list, nil)
	assert.Len(t, removed, 1)
	assert.Empty(t, list)
}

func TestSanitizeTenantID(t *testing.T) {
	assert.Equal(t, "ab", SanitizeTenantID(" a:b\n"))
}
