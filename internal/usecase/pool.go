package usecase

import (
	"context"
	"sync"
)

// forEachSymbol runs fn over symbols on at most workers goroutines. Work not
// yet started is abandoned once ctx is done.
func forEachSymbol(ctx context.Context, workers int, symbols []string, fn func(ctx context.Context, symbol string)) {
	if workers <= 0 {
		workers = 1
	}
	if workers > len(symbols) {
		workers = len(symbols)
	}
	jobs := make(chan string)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sym := range jobs {
				fn(ctx, sym)
			}
		}()
	}
	defer wg.Wait()
	defer close(jobs)
	for _, sym := range symbols {
		select {
		case <-ctx.Done():
			return
		case jobs <- sym:
		}
	}
}
