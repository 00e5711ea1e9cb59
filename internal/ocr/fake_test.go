package ocr

import (
	"context"
	"sync"
)

// fakeEngine returns canned readings keyed by image path, or a default.
type fakeEngine struct {
	name  string
	rec   Recognition
	err   error
	byImg map[string]Recognition
	block map[string]bool // images that wait for ctx to expire
	fail  func(imagePath string) error

	mu    sync.Mutex
	calls []string
}

func (f *fakeEngine) Name() string { return f.name }

func (f *fakeEngine) Recognize(ctx context.Context, imagePath string) (Recognition, error) {
	f.mu.Lock()
	f.calls = append(f.calls, imagePath)
	f.mu.Unlock()

	if f.block[imagePath] {
		<-ctx.Done()
		return Recognition{}, ctx.Err()
	}
	if f.err != nil {
		return Recognition{}, f.err
	}
	if f.fail != nil {
		if err := f.fail(imagePath); err != nil {
			return Recognition{}, err
		}
	}
	if rec, ok := f.byImg[imagePath]; ok {
		return rec, nil
	}
	return f.rec, nil
}
