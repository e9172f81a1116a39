package monitoring

import (
	"sort"
	"sync"
)

// keywordLocks is the set of keywords with a cycle in flight
type keywordLocks struct {
	mu     sync.Mutex
	active map[string]struct{}
}

func newKeywordLocks() *keywordLocks {
	return &keywordLocks{active: make(map[string]struct{})}
}

// TryAcquire claims keyword without waiting. The returned release func is safe to call more than once.
func (l *keywordLocks) TryAcquire(keyword string) (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.active[keyword]; busy {
		return nil, false
	}
	l.active[keyword] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.active, keyword)
			l.mu.Unlock()
		})
	}, true
}

func (l *keywordLocks) Held(keyword string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, busy := l.active[keyword]
	return busy
}

func (l *keywordLocks) List() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]string, 0, len(l.active))
	for k := range l.active {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
