package service

import "context"

type interceptKey struct{}

type intercept struct {
	op      Operation
	objType string
}

// inFlight returns the (operation, type) pairs already being intercepted on this call path
func inFlight(ctx context.Context) map[intercept]struct{} {
	set, _ := ctx.Value(interceptKey{}).(map[intercept]struct{})
	return set
}

// isIntercepted reports whether (op, objType) is already in flight on ctx
func isIntercepted(ctx context.Context, op Operation, objType string) bool {
	_, ok := inFlight(ctx)[intercept{op: op, objType: objType}]
	return ok
}

// withIntercept returns a child context marking (op, objType) as in flight.
// The parent's set is copied so sibling calls do not observe each other.
func withIntercept(ctx context.Context, op Operation, objType string) context.Context {
	parent := inFlight(ctx)
	set := make(map[intercept]struct{}, len(parent)+1)
	for k := range parent {
		set[k] = struct{}{}
	}
	set[intercept{op: op, objType: objType}] = struct{}{}
	return context.WithValue(ctx, interceptKey{}, set)
}
