package download

import (
	"context"
	"fmt"
	"sync"

	"github.com/Duke-GCB/DukeDSClient-sub000/internal/ddsapi"
	"golang.org/x/sync/singleflight"
)

// urlCache holds the current signed URL per file. Concurrent refreshes of
// the same file collapse into one GetFileURL call.
type urlCache struct {
	mu    sync.Mutex
	urls  map[string]ddsapi.URLInfo
	group singleflight.Group
}

func newURLCache() *urlCache {
	return &urlCache{urls: make(map[string]ddsapi.URLInfo)}
}

// get returns the cached URL for fileID, fetching one if needed.
func (c *urlCache) get(ctx context.Context, client *ddsapi.Client, fileID string) (ddsapi.URLInfo, error) {
	c.mu.Lock()
	u, ok := c.urls[fileID]
	c.mu.Unlock()
	if ok {
		return u, nil
	}
	return c.fetch(ctx, client, fileID)
}

// refresh replaces stale with a fresh URL. If another worker already
// replaced it, the newer URL is returned without a request.
func (c *urlCache) refresh(ctx context.Context, client *ddsapi.Client, fileID string, stale ddsapi.URLInfo) (ddsapi.URLInfo, error) {
	c.mu.Lock()
	u, ok := c.urls[fileID]
	if ok && u.FullURL() == stale.FullURL() {
		delete(c.urls, fileID)
		ok = false
	}
	c.mu.Unlock()
	if ok {
		return u, nil
	}
	return c.fetch(ctx, client, fileID)
}

func (c *urlCache) fetch(ctx context.Context, client *ddsapi.Client, fileID string) (ddsapi.URLInfo, error) {
	v, err, _ := c.group.Do(fileID, func() (any, error) {
		info, err := client.GetFileURL(ctx, fileID)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.urls[fileID] = *info
		c.mu.Unlock()
		return *info, nil
	})
	if err != nil {
		return ddsapi.URLInfo{}, fmt.Errorf("get download url for file %s: %w", fileID, err)
	}
	return v.(ddsapi.URLInfo), nil
}
