package search

import (
	"cmp"
	"context"
	"fmt"
	"path"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/devrev/paracore/internal/mapper"
	"github.com/devrev/paracore/internal/model"
	"go.uber.org/zap"
)

type document struct {
	fields  map[string]any
	expires time.Time // zero means no expiry
}

type hit struct {
	doc   *document
	score float64
}

// MemoryIndex implements Index over flattened documents held in process memory.
// Each tenant gets its own index named after the tenant id.
type MemoryIndex struct {
	mu      sync.RWMutex
	indexes map[string]map[string]*document
	now     func() time.Time
	logger  *zap.Logger
}

// NewMemoryIndex creates an empty in-memory index
func NewMemoryIndex(logger *zap.Logger) *MemoryIndex {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryIndex{
		indexes: make(map[string]map[string]*document),
		now:     time.Now,
		logger:  logger,
	}
}

// Name returns the backend name
func (x *MemoryIndex) Name() string {
	return "memory"
}

// Index adds or replaces the document for obj. A positive ttl expires the document.
func (x *MemoryIndex) Index(ctx context.Context, tenantID string, obj *model.Object, ttl time.Duration) error {
	if obj == nil || obj.ID == "" {
		return fmt.Errorf("cannot index an object without id")
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	x.putLocked(tenantID, obj, ttl)
	return nil
}

func (x *MemoryIndex) putLocked(indexName string, obj *model.Object, ttl time.Duration) {
	docs, ok := x.indexes[indexName]
	if !ok {
		docs = make(map[string]*document)
		x.indexes[indexName] = docs
	}
	doc := &document{fields: mapper.ToMap(obj)}
	if ttl > 0 {
		doc.expires = x.now().Add(ttl)
	}
	docs[obj.ID] = doc
}

// Unindex removes the document for obj
func (x *MemoryIndex) Unindex(ctx context.Context, tenantID string, obj *model.Object) error {
	if obj == nil {
		return nil
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.indexes[tenantID], obj.ID)
	return nil
}

// IndexAll indexes a batch, skipping objects without id
func (x *MemoryIndex) IndexAll(ctx context.Context, tenantID string, objs []*model.Object) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, obj := range objs {
		if obj == nil || obj.ID == "" {
			continue
		}
		x.putLocked(tenantID, obj, 0)
	}
	return nil
}

// UnindexAll removes a batch
func (x *MemoryIndex) UnindexAll(ctx context.Context, tenantID string, objs []*model.Object) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	docs := x.indexes[tenantID]
	for _, obj := range objs {
		if obj != nil {
			delete(docs, obj.ID)
		}
	}
	return nil
}

// FindByID returns the indexed object or nil
func (x *MemoryIndex) FindByID(ctx context.Context, tenantID, id string) (*model.Object, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	doc, ok := x.indexes[tenantID][id]
	if !ok || !x.live(doc) {
		return nil, nil
	}
	return x.toObject(doc), nil
}

// FindByIDs returns the indexed objects in the order of ids, skipping misses
func (x *MemoryIndex) FindByIDs(ctx context.Context, tenantID string, ids []string) ([]*model.Object, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	docs := x.indexes[tenantID]
	result := make([]*model.Object, 0, len(ids))
	for _, id := range ids {
		if doc, ok := docs[id]; ok && x.live(doc) {
			if obj := x.toObject(doc); obj != nil {
				result = append(result, obj)
			}
		}
	}
	return result, nil
}

// FindQuery matches every whitespace separated clause of query
func (x *MemoryIndex) FindQuery(ctx context.Context, tenantID, objType, query string, pager *model.Pager) ([]*model.Object, error) {
	match := compileQuery(query)
	return x.find(tenantID, objType, pager, func(doc *document) (float64, bool) {
		return 0, match(doc.fields)
	})
}

// FindTerms matches field=value terms; all of them when matchAll, any otherwise
func (x *MemoryIndex) FindTerms(ctx context.Context, tenantID, objType string, terms map[string]any, matchAll bool, pager *model.Pager) ([]*model.Object, error) {
	return x.find(tenantID, objType, pager, func(doc *document) (float64, bool) {
		if len(terms) == 0 {
			return 0, true
		}
		matched := 0
		for field, want := range terms {
			if slices.Contains(values(doc.fields[field]), lower(want)) {
				matched++
			}
		}
		if matchAll {
			return 0, matched == len(terms)
		}
		return 0, matched > 0
	})
}

// FindTagged returns objects carrying every tag
func (x *MemoryIndex) FindTagged(ctx context.Context, tenantID, objType string, tags []string, pager *model.Pager) ([]*model.Object, error) {
	return x.find(tenantID, objType, pager, func(doc *document) (float64, bool) {
		have := values(doc.fields[model.FieldTags])
		for _, tag := range tags {
			if !slices.Contains(have, strings.ToLower(tag)) {
				return 0, false
			}
		}
		return 0, true
	})
}

// FindPrefix matches objects whose field starts with prefix
func (x *MemoryIndex) FindPrefix(ctx context.Context, tenantID, objType, field, prefix string, pager *model.Pager) ([]*model.Object, error) {
	prefix = strings.ToLower(prefix)
	return x.find(tenantID, objType, pager, func(doc *document) (float64, bool) {
		for _, v := range values(doc.fields[field]) {
			if strings.HasPrefix(v, prefix) {
				return 0, true
			}
		}
		return 0, false
	})
}

// FindWildcard matches objects whose field matches a shell-style pattern (* and ?)
func (x *MemoryIndex) FindWildcard(ctx context.Context, tenantID, objType, field, wildcard string, pager *model.Pager) ([]*model.Object, error) {
	pattern := strings.ToLower(wildcard)
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid wildcard %q: %w", wildcard, err)
	}
	return x.find(tenantID, objType, pager, func(doc *document) (float64, bool) {
		return 0, matchesWildcard(values(doc.fields[field]), pattern)
	})
}

// FindNearby returns objects with a latlng within radiusKm of (lat, lng) that also match query.
// Results are ordered by distance unless the pager sorts by a field.
func (x *MemoryIndex) FindNearby(ctx context.Context, tenantID, objType, query string, radiusKm, lat, lng float64, pager *model.Pager) ([]*model.Object, error) {
	match := compileQuery(query)
	return x.find(tenantID, objType, pager, func(doc *document) (float64, bool) {
		raw, ok := doc.fields[model.FieldLatLng]
		if !ok {
			return 0, false
		}
		dLat, dLng, err := parseLatLng(raw)
		if err != nil {
			return 0, false
		}
		dist := haversineKm(lat, lng, dLat, dLng)
		if dist > radiusKm || !match(doc.fields) {
			return 0, false
		}
		// closer is better
		return -dist, true
	})
}

// FindSimilar ranks objects by how many words of likeText appear in fields (name when empty),
// excluding filterID
func (x *MemoryIndex) FindSimilar(ctx context.Context, tenantID, objType, filterID string, fields []string, likeText string, pager *model.Pager) ([]*model.Object, error) {
	if len(fields) == 0 {
		fields = []string{model.FieldName}
	}
	want := tokenize(likeText)
	return x.find(tenantID, objType, pager, func(doc *document) (float64, bool) {
		if doc.fields[model.FieldID] == filterID || len(want) == 0 {
			return 0, false
		}
		have := make(map[string]struct{})
		for _, f := range fields {
			for _, v := range values(doc.fields[f]) {
				for _, tok := range tokenize(v) {
					have[tok] = struct{}{}
				}
			}
		}
		score := 0
		for _, tok := range want {
			if _, ok := have[tok]; ok {
				score++
			}
		}
		return float64(score), score > 0
	})
}

// FindTermInList matches objects whose field equals any of terms
func (x *MemoryIndex) FindTermInList(ctx context.Context, tenantID, objType, field string, terms []string, pager *model.Pager) ([]*model.Object, error) {
	set := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		set[strings.ToLower(t)] = struct{}{}
	}
	return x.find(tenantID, objType, pager, func(doc *document) (float64, bool) {
		for _, v := range values(doc.fields[field]) {
			if _, ok := set[v]; ok {
				return 0, true
			}
		}
		return 0, false
	})
}

// GetCount counts live documents of objType (all types when empty)
func (x *MemoryIndex) GetCount(ctx context.Context, tenantID, objType string) (int64, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	var n int64
	for _, doc := range x.indexes[tenantID] {
		if x.live(doc) && typeMatches(doc, objType) {
			n++
		}
	}
	return n, nil
}

// find filters, orders and pages the documents of one index.
// score > 0 or a negative distance orders results when the pager has no SortBy.
func (x *MemoryIndex) find(indexName, objType string, pager *model.Pager, pred func(*document) (float64, bool)) ([]*model.Object, error) {
	if pager == nil {
		pager = model.NewPager(0)
	}

	x.mu.RLock()
	hits := make([]hit, 0)
	ranked := false
	for _, doc := range x.indexes[indexName] {
		if !x.live(doc) || !typeMatches(doc, objType) {
			continue
		}
		score, ok := pred(doc)
		if !ok {
			continue
		}
		if score != 0 {
			ranked = true
		}
		hits = append(hits, hit{doc: doc, score: score})
	}
	x.mu.RUnlock()

	sortHits(hits, pager, ranked)
	pager.Count = int64(len(hits))

	offset := min(pager.Offset(), len(hits))
	end := min(offset+pager.EffectiveLimit(), len(hits))

	result := make([]*model.Object, 0, end-offset)
	for _, h := range hits[offset:end] {
		if obj := x.toObject(h.doc); obj != nil {
			result = append(result, obj)
		}
	}
	return result, nil
}

func sortHits(hits []hit, pager *model.Pager, ranked bool) {
	sortBy := pager.SortBy
	slices.SortFunc(hits, func(a, b hit) int {
		var c int
		switch {
		case sortBy == "" && ranked:
			c = cmp.Compare(b.score, a.score)
		default:
			field := sortBy
			if field == "" {
				field = model.FieldTimestamp
			}
			c = compareValues(a.doc.fields[field], b.doc.fields[field])
			if pager.Desc {
				c = -c
			}
		}
		if c == 0 {
			c = strings.Compare(fmt.Sprint(a.doc.fields[model.FieldID]), fmt.Sprint(b.doc.fields[model.FieldID]))
		}
		return c
	})
}

func (x *MemoryIndex) live(doc *document) bool {
	return doc.expires.IsZero() || x.now().Before(doc.expires)
}

func (x *MemoryIndex) toObject(doc *document) *model.Object {
	obj, err := mapper.FromMap(mapper.Copy(doc.fields))
	if err != nil {
		x.logger.Warn("Failed to rebuild object from index document",
			zap.Any("id", doc.fields[model.FieldID]),
			zap.Error(err))
		return nil
	}
	return obj
}

func typeMatches(doc *document, objType string) bool {
	return objType == "" || doc.fields[model.FieldType] == objType
}
