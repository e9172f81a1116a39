package monitoring

import (
	"fmt"
	"sync"
)

// fanOut runs workers concurrently and turns the first worker panic into an error
type fanOut struct {
	wg   sync.WaitGroup
	once sync.Once
	err  error
}

func (f *fanOut) Go(fn func()) {
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				f.once.Do(func() { f.err = fmt.Errorf("worker panicked: %v", r) })
			}
		}()
		fn()
	}()
}

// Wait blocks until every worker returns
func (f *fanOut) Wait() error {
	f.wg.Wait()
	return f.err
}
