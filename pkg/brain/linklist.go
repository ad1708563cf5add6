package brain

import "slices"

// linkList is one direction of a neuron's links.
//
// Links are kept in insertion order. Leaf neurons hold a nil slice and no
// index. Once the list holds indexThreshold links a meaning index is built;
// it is dropped again when the list shrinks below half that size. Buckets
// keep insertion order, so a bucket lists exactly the links a linear scan
// filtered on the same meaning would produce.
//
// All methods require the owning neuron's lock for this direction.
type linkList struct {
	items []*Link
	index map[ID][]*Link
}

func (l *linkList) add(link *Link, threshold int) {
	l.items = append(l.items, link)
	if l.index != nil {
		l.index[link.meaning] = append(l.index[link.meaning], link)
		return
	}
	if threshold > 0 && len(l.items) >= threshold {
		l.buildIndex()
	}
}

func (l *linkList) remove(link *Link, threshold int) bool {
	i := slices.Index(l.items, link)
	if i < 0 {
		return false
	}
	l.items = slices.Delete(l.items, i, i+1)
	if len(l.items) == 0 {
		l.items = nil
	}

	if l.index == nil {
		return true
	}
	if len(l.items) < threshold/2 || threshold <= 0 {
		l.index = nil
		return true
	}
	bucket := l.index[link.meaning]
	if j := slices.Index(bucket, link); j >= 0 {
		bucket = slices.Delete(bucket, j, j+1)
	}
	if len(bucket) == 0 {
		delete(l.index, link.meaning)
	} else {
		l.index[link.meaning] = bucket
	}
	return true
}

func (l *linkList) buildIndex() {
	l.index = make(map[ID][]*Link)
	for _, link := range l.items {
		l.index[link.meaning] = append(l.index[link.meaning], link)
	}
}

// byMeaning returns the index bucket for meaning. indexed is false when the
// list has no index and the caller must scan items instead.
func (l *linkList) byMeaning(meaning ID) (links []*Link, indexed bool) {
	if l.index == nil {
		return nil, false
	}
	return l.index[meaning], true
}

// find returns the link with the given meaning whose other endpoint is
// other. pick selects which endpoint is compared.
func (l *linkList) find(other, meaning ID, pick func(*Link) ID) *Link {
	candidates := l.items
	if bucket, ok := l.byMeaning(meaning); ok {
		candidates = bucket
	}
	for _, link := range candidates {
		if link.meaning == meaning && pick(link) == other {
			return link
		}
	}
	return nil
}
