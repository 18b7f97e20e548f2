package service

import (
	"context"
	"time"

	"github.com/devrev/paracore/internal/model"
)

// Event describes one delegated Store call
type Event struct {
	Operation  Operation
	TenantID   string
	ObjectType string
	IDs        []string
	// Objects are the objects passed to a write call
	Objects []*model.Object
	// Result, Err and Duration are set for After only. Result holds the id returned by
	// Create, the object found by Read, the map returned by ReadAll or the page returned
	// by ReadPage; it is nil for the other operations.
	Result   any
	Err      error
	Duration time.Duration
}

// Listener observes Store calls made by the orchestrator. Panics are recovered.
type Listener interface {
	Before(ctx context.Context, ev Event)
	After(ctx context.Context, ev Event)
}

// ListenerFuncs adapts plain functions to Listener; nil funcs are skipped
type ListenerFuncs struct {
	BeforeFn func(ctx context.Context, ev Event)
	AfterFn  func(ctx context.Context, ev Event)
}

func (l ListenerFuncs) Before(ctx context.Context, ev Event) {
	if l.BeforeFn != nil {
		l.BeforeFn(ctx, ev)
	}
}

func (l ListenerFuncs) After(ctx context.Context, ev Event) {
	if l.AfterFn != nil {
		l.AfterFn(ctx, ev)
	}
}
