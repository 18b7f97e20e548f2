package validation

import "github.com/devrev/paracore/internal/model"

// PartitionByPolicy removes every object with stored=false from *list and returns them in
// order; the remaining objects keep their relative order. Every object with indexed=true,
// stored or not, is appended to *indexSink.
//
// Batch writes rely on this split: the store receives only *list, while the caller appends
// the returned objects back onto *list after indexing so the cache stage still sees them.
func PartitionByPolicy(list *[]*model.Object, indexSink *[]*model.Object) []*model.Object {
	if list == nil {
		return nil
	}

	var removed []*model.Object
	kept := (*list)[:0:0]
	for _, obj := range *list {
		if obj == nil {
			continue
		}
		if indexSink != nil && obj.IsIndexed() {
			*indexSink = append(*indexSink, obj)
		}
		if !obj.IsStored() {
			removed = append(removed, obj)
			continue
		}
		kept = append(kept, obj)
	}
	*list = kept
	return removed
}
