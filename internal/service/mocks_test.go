package service

import (
	"context"
	"fmt"
	"time"

	"github.com/devrev/paracore/internal/model"
	"github.com/stretchr/testify/mock"
)

// MockStore is a mock implementation of store.Store
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Create(ctx context.Context, tenantID string, obj *model.Object) (string, error) {
	args := m.Called(ctx, tenantID, obj)
	return args.String(0), args.Error(1)
}

func (m *MockStore) Read(ctx context.Context, tenantID, id string) (*model.Object, error) {
	args := m.Called(ctx, tenantID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Object), args.Error(1)
}

func (m *MockStore) Update(ctx context.Context, tenantID string, obj *model.Object) error {
	args := m.Called(ctx, tenantID, obj)
	return args.Error(0)
}

func (m *MockStore) Delete(ctx context.Context, tenantID string, obj *model.Object) error {
	args := m.Called(ctx, tenantID, obj)
	return args.Error(0)
}

func (m *MockStore) CreateAll(ctx context.Context, tenantID string, objs []*model.Object) error {
	args := m.Called(ctx, tenantID, objs)
	return args.Error(0)
}

func (m *MockStore) ReadAll(ctx context.Context, tenantID string, ids []string) (map[string]*model.Object, error) {
	args := m.Called(ctx, tenantID, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]*model.Object), args.Error(1)
}

func (m *MockStore) UpdateAll(ctx context.Context, tenantID string, objs []*model.Object) error {
	args := m.Called(ctx, tenantID, objs)
	return args.Error(0)
}

func (m *MockStore) DeleteAll(ctx context.Context, tenantID string, objs []*model.Object) error {
	args := m.Called(ctx, tenantID, objs)
	return args.Error(0)
}

func (m *MockStore) ReadPage(ctx context.Context, tenantID string, pager *model.Pager) ([]*model.Object, error) {
	args := m.Called(ctx, tenantID, pager)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Object), args.Error(1)
}

// MockCache is a mock implementation of cache.Cache
type MockCache struct {
	mock.Mock
}

func (m *MockCache) Get(ctx context.Context, tenantID, id string) (*model.Object, error) {
	args := m.Called(ctx, tenantID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Object), args.Error(1)
}

func (m *MockCache) Put(ctx context.Context, tenantID, id string, obj *model.Object, ttl time.Duration) error {
	args := m.Called(ctx, tenantID, id, obj, ttl)
	return args.Error(0)
}

func (m *MockCache) Remove(ctx context.Context, tenantID, id string) error {
	args := m.Called(ctx, tenantID, id)
	return args.Error(0)
}

func (m *MockCache) GetAll(ctx context.Context, tenantID string, ids []string) (map[string]*model.Object, error) {
	args := m.Called(ctx, tenantID, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]*model.Object), args.Error(1)
}

func (m *MockCache) PutAll(ctx context.Context, tenantID string, objs map[string]*model.Object, ttl time.Duration) error {
	args := m.Called(ctx, tenantID, objs, ttl)
	return args.Error(0)
}

func (m *MockCache) RemoveAll(ctx context.Context, tenantID string, ids []string) error {
	args := m.Called(ctx, tenantID, ids)
	return args.Error(0)
}

func (m *MockCache) Contains(ctx context.Context, tenantID, id string) (bool, error) {
	args := m.Called(ctx, tenantID, id)
	return args.Bool(0), args.Error(1)
}

// sequenceIDs issues predictable ids
type sequenceIDs struct {
	next int
	err  error
}

func (g *sequenceIDs) NextID() (string, error) {
	if g.err != nil {
		return "", g.err
	}
	g.next++
	return fmt.Sprintf("gen-%d", g.next), nil
}
