package service

// Operation identifies a Store operation routed through the orchestrator
type Operation int

const (
	OpCreate Operation = iota
	OpRead
	OpUpdate
	OpDelete
	OpCreateAll
	OpReadAll
	OpUpdateAll
	OpDeleteAll
	OpReadPage
)

var operationNames = map[Operation]string{
	OpCreate:    "create",
	OpRead:      "read",
	OpUpdate:    "update",
	OpDelete:    "delete",
	OpCreateAll: "create_all",
	OpReadAll:   "read_all",
	OpUpdateAll: "update_all",
	OpDeleteAll: "delete_all",
	OpReadPage:  "read_page",
}

func (o Operation) String() string {
	if name, ok := operationNames[o]; ok {
		return name
	}
	return "unknown"
}

// IsRead reports whether the operation never writes
func (o Operation) IsRead() bool {
	return o == OpRead || o == OpReadAll || o == OpReadPage
}

// IndexAction is the index propagation step of an operation
type IndexAction int

const (
	IndexNone IndexAction = iota
	IndexAdd
	IndexRemove
	IndexAddAll
	IndexRemoveAll
)

// CacheAction is the cache propagation step of an operation
type CacheAction int

const (
	CacheNone CacheAction = iota
	CacheGet
	CachePut
	CacheDelete
	CacheGetAll
	CachePutAll
	CacheDeleteAll
)

// Actions pairs the index and cache steps of one operation
type Actions struct {
	Index IndexAction
	Cache CacheAction
}

// operationActions is the propagation table consulted on every call
var operationActions = map[Operation]Actions{
	OpCreate:    {Index: IndexAdd, Cache: CachePut},
	OpRead:      {Index: IndexNone, Cache: CacheGet},
	OpUpdate:    {Index: IndexAdd, Cache: CachePut},
	OpDelete:    {Index: IndexRemove, Cache: CacheDelete},
	OpCreateAll: {Index: IndexAddAll, Cache: CachePutAll},
	OpReadAll:   {Index: IndexNone, Cache: CacheGetAll},
	OpUpdateAll: {Index: IndexAddAll, Cache: CachePutAll},
	OpDeleteAll: {Index: IndexRemoveAll, Cache: CacheDeleteAll},
	OpReadPage:  {Index: IndexNone, Cache: CacheNone},
}

// ActionsFor returns the propagation steps of op
func ActionsFor(op Operation) Actions {
	return operationActions[op]
}
