package syncjob

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/hibiken/asynq"

	"bggsync/internal/core/bgg"
	"bggsync/internal/core/catalog"
	"bggsync/internal/core/match"
)

type fakeCatalog struct {
	mu         sync.Mutex
	items      []catalog.Item
	listErr    error
	uploadErrs map[string][]error
	descErrs   map[string][]error
	uploads    []string
	described  []string
	runIDs     []string
	// onUpload, when set, runs inside UploadAsset with the step context.
	onUpload func(ctx context.Context) error
}

func (f *fakeCatalog) ListItems(context.Context) ([]catalog.Item, error) {
	return f.items, f.listErr
}

func popErr(m map[string][]error, key string) error {
	errs := m[key]
	if len(errs) == 0 {
		return nil
	}
	m[key] = errs[1:]
	return errs[0]
}

func (f *fakeCatalog) UploadAsset(ctx context.Context, itemID, assetURL, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runIDs = append(f.runIDs, catalog.RunIDFromContext(ctx))
	if err := popErr(f.uploadErrs, itemID); err != nil {
		return "", err
	}
	if f.onUpload != nil {
		if err := f.onUpload(ctx); err != nil {
			return "", err
		}
	}
	f.uploads = append(f.uploads, itemID)
	return "IMG_" + itemID, nil
}

func (f *fakeCatalog) UpdateDescription(_ context.Context, itemID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := popErr(f.descErrs, itemID); err != nil {
		return err
	}
	f.described = append(f.described, itemID)
	return nil
}

type fakeMatcher struct {
	mu      sync.Mutex
	details map[string]*bgg.Detail
	errs    map[string]error
	calls   map[string]int
}

func (f *fakeMatcher) FindBestMatch(_ context.Context, name string, _ match.Hints) (*bgg.Detail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[name]++
	if err := f.errs[name]; err != nil {
		return nil, err
	}
	return f.details[name], nil
}

type enqueued struct {
	task  *asynq.Task
	queue string
	retry int
}

type fakeEnqueuer struct {
	mu      sync.Mutex
	tasks   []enqueued
	failFor map[string]bool
	onCount int
	onReach func()
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, task *asynq.Task, queue string, maxRetries int, _ ...asynq.Option) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var p ItemPayload
	_ = json.Unmarshal(task.Payload(), &p)
	if f.failFor[p.Item.ID] {
		return fmt.Errorf("queue unavailable")
	}
	f.tasks = append(f.tasks, enqueued{task: task, queue: queue, retry: maxRetries})
	if f.onReach != nil && len(f.tasks) == f.onCount {
		f.onReach()
	}
	return nil
}

func items(n int, prefix string) []catalog.Item {
	out := make([]catalog.Item, n)
	for i := range out {
		out[i] = catalog.Item{ID: fmt.Sprintf("%s%03d", prefix, i), Name: fmt.Sprintf("%s game %d", prefix, i)}
	}
	return out
}

func detail(id int, name string) *bgg.Detail {
	return &bgg.Detail{ExternalID: id, Name: name, ImageURL: "https://img/" + name, DescriptionHTML: "<p>" + name + "</p>"}
}
