package url_frontier

import (
	"context"
	"sync"
	"time"
)

// プロセス内で完結するURLFrontier
type MemoryURLFrontier struct {
	m            sync.Mutex
	queue        []string
	signal       chan struct{}
	pollInterval time.Duration
}

func NewMemoryURLFrontier(pollInterval time.Duration) *MemoryURLFrontier {
	return &MemoryURLFrontier{
		queue:        make([]string, 0, 1024),
		signal:       make(chan struct{}, 1),
		pollInterval: pollInterval,
	}
}

func (f *MemoryURLFrontier) Enqueue(_ context.Context, url string) error {
	f.m.Lock()
	f.queue = append(f.queue, url)
	f.m.Unlock()

	select {
	case f.signal <- struct{}{}:
	default:
	}

	return nil
}

func (f *MemoryURLFrontier) Dequeue(ctx context.Context) (string, error) {
	timer := time.NewTimer(f.pollInterval)
	defer timer.Stop()

	for {
		if url, ok := f.pop(); ok {
			return url, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-f.signal:
		case <-timer.C:
			return "", nil
		}
	}
}

func (f *MemoryURLFrontier) IsEmpty(_ context.Context) (bool, error) {
	f.m.Lock()
	defer f.m.Unlock()

	return len(f.queue) == 0, nil
}

func (f *MemoryURLFrontier) Reset() error {
	f.m.Lock()
	defer f.m.Unlock()

	f.queue = f.queue[:0]
	return nil
}

func (f *MemoryURLFrontier) Finish() error {
	return nil
}

func (f *MemoryURLFrontier) pop() (string, bool) {
	f.m.Lock()
	defer f.m.Unlock()

	if len(f.queue) == 0 {
		return "", false
	}

	url := f.queue[0]
	f.queue[0] = ""
	f.queue = f.queue[1:]
	return url, true
}
