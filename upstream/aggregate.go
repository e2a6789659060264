package upstream

import (
	"context"
	"net/http"

	"github.com/tarik02/apiproxy/api"
	"golang.org/x/sync/errgroup"
)

// Aggregate reads every named operation with GET, at most maxParallel at a time.
// Operations that do not allow GET get a request envelope and are never called.
// Duplicate names are called once.
func (p *Proxy) Aggregate(ctx context.Context, names []string) map[string]api.Envelope {
	uniq := make([]string, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if !seen[name] {
			seen[name] = true
			uniq = append(uniq, name)
		}
	}

	results := make([]api.Envelope, len(uniq))

	var g errgroup.Group
	g.SetLimit(p.maxParallel)
	for i, name := range uniq {
		g.Go(func() error {
			results[i] = p.Call(ctx, name, Call{Method: http.MethodGet})
			return nil
		})
	}
	_ = g.Wait()

	res := make(map[string]api.Envelope, len(uniq))
	for i, name := range uniq {
		res[name] = results[i]
	}
	return res
}
