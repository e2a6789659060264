package recordstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/tarik02/apiproxy/api"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrUnknownDriver = errors.New("unknown record store driver")
	ErrInvalidSort   = errors.New("invalid sort field")
)

type Store interface {
	List(ctx context.Context) ([]api.Record, error)
	Get(ctx context.Context, id int) (api.Record, error)
	Add(ctx context.Context, rec api.Record) (api.Record, error)
	Update(ctx context.Context, rec api.Record) (api.Record, error)
	Delete(ctx context.Context, id int) error
	Search(ctx context.Context, q Query) ([]api.Record, error)
	Close() error
}

type Config struct {
	Driver string
	Path   string
}

func Open(cfg Config) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "json":
		return OpenJSONFile(cfg.Path)
	case "sqlite":
		return OpenSQLite(cfg.Path)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}

// Query filters on activity and an inclusive date range, then sorts. Dates are
// compared as YYYY-MM-DD strings.
type Query struct {
	Actividad string
	From      string
	To        string
	SortBy    string
	Desc      bool
	Limit     int
}

var sortFields = map[string]func(a, b api.Record) int{
	"id":        func(a, b api.Record) int { return cmpOrdered(a.ID, b.ID) },
	"fecha":     func(a, b api.Record) int { return strings.Compare(a.Fecha, b.Fecha) },
	"calorias":  func(a, b api.Record) int { return cmpOrdered(a.Calorias, b.Calorias) },
	"peso":      func(a, b api.Record) int { return cmpOrdered(a.Peso, b.Peso) },
	"edad":      func(a, b api.Record) int { return cmpOrdered(a.Edad, b.Edad) },
	"altura":    func(a, b api.Record) int { return cmpOrdered(a.Altura, b.Altura) },
	"actividad": func(a, b api.Record) int { return strings.Compare(a.Actividad, b.Actividad) },
}

func (q Query) Validate() error {
	if q.SortBy != "" {
		if _, ok := sortFields[q.SortBy]; !ok {
			return fmt.Errorf("%w: %q", ErrInvalidSort, q.SortBy)
		}
	}
	return nil
}

func (q Query) Match(r api.Record) bool {
	if q.Actividad != "" && !strings.EqualFold(q.Actividad, r.Actividad) {
		return false
	}
	if q.From != "" && r.Fecha < q.From {
		return false
	}
	if q.To != "" && r.Fecha > q.To {
		return false
	}
	return true
}

// Apply filters and sorts records in memory.
func (q Query) Apply(records []api.Record) ([]api.Record, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	res := make([]api.Record, 0, len(records))
	for _, r := range records {
		if q.Match(r) {
			res = append(res, r)
		}
	}

	by := sortFields["id"]
	if q.SortBy != "" {
		by = sortFields[q.SortBy]
	}
	sort.SliceStable(res, func(i, j int) bool {
		c := by(res[i], res[j])
		if q.Desc {
			return c > 0
		}
		return c < 0
	})

	if q.Limit > 0 && len(res) > q.Limit {
		res = res[:q.Limit]
	}
	return res, nil
}

func cmpOrdered[T int | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
