package publish

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gosimple/slug"

	"github.com/gameforge/publish-worker/hasher"
)

const (
	slugMaxLen    = 40
	slugSuffixLen = 6
	slugFallback  = "game"
)

// Slug builds the public subdomain label of a project. The suffix is derived from projectId,
// so equal names of different projects never collide.
func Slug(name, projectId string) string {
	base := slug.Make(name)
	if len(base) > slugMaxLen {
		base = strings.TrimRight(base[:slugMaxLen], "-")
	}
	if base == "" {
		base = slugFallback
	}
	return base + "-" + hasher.Short(projectId, slugSuffixLen)
}

func subdomainUrl(slug, platformDomain string) string {
	return "https://" + slug + "." + platformDomain
}

// versionClock issues version tags: zero-padded unix milliseconds, strictly increasing.
type versionClock struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

func (c *versionClock) Next() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ms := c.now().UTC().UnixMilli()
	if ms <= c.last {
		ms = c.last + 1
	}
	c.last = ms
	return fmt.Sprintf("%013d", ms)
}
