// Package settings serves prompt templates and configuration values from the
// store through a short-lived cache, backed by compiled-in defaults.
package settings

import (
	"context"
	"regexp"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/cache"
	"github.com/sells-group/outreach-cli/internal/model"
)

// DefaultTTL is how long a settings snapshot is served before re-reading the store.
const DefaultTTL = 5 * time.Minute

// Source is the backing store for settings.
type Source interface {
	ListSettings(ctx context.Context) ([]model.Setting, error)
	SetSetting(ctx context.Context, s model.Setting) error
	SeedSettings(ctx context.Context, settings []model.Setting) (int, error)
}

// Service reads and writes settings with a process-wide snapshot cache.
type Service struct {
	src   Source
	cache *cache.TTL[[]model.Setting]
}

// NewService creates a Service. A nil cache gets one with DefaultTTL.
func NewService(src Source, c *cache.TTL[[]model.Setting]) *Service {
	if c == nil {
		c = cache.NewTTL[[]model.Setting](DefaultTTL)
	}
	return &Service{src: src, cache: c}
}

// GetAll returns every stored setting. It never fails: on a store error it
// serves the last snapshot, or nothing.
func (s *Service) GetAll(ctx context.Context) []model.Setting {
	if all, ok := s.cache.Get(); ok {
		return all
	}

	all, err := s.src.ListSettings(ctx)
	if err != nil {
		stale, ok := s.cache.Stale()
		zap.L().Warn("settings: store read failed, serving cached snapshot",
			zap.Error(err),
			zap.Bool("stale_available", ok),
		)
		if ok {
			return stale
		}
		return nil
	}

	s.cache.Set(all)
	return all
}

// GetMap projects the requested keys. Keys missing from the store take their
// compiled-in default; keys with neither are omitted.
func (s *Service) GetMap(ctx context.Context, keys ...string) map[string]string {
	stored := make(map[string]string)
	for _, st := range s.GetAll(ctx) {
		stored[st.Key] = st.Value
	}

	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := stored[k]; ok && v != "" {
			out[k] = v
			continue
		}
		if v, ok := Default(k); ok {
			out[k] = v
		}
	}
	return out
}

// Lookup returns the value for key, falling back to its default.
func (s *Service) Lookup(ctx context.Context, key string) (string, bool) {
	v, ok := s.GetMap(ctx, key)[key]
	return v, ok
}

// Get returns the value for key, or "" when it has no value or default.
func (s *Service) Get(ctx context.Context, key string) string {
	v, _ := s.Lookup(ctx, key)
	return v
}

// Update writes a value through to the store and drops the cached snapshot.
func (s *Service) Update(ctx context.Context, key, value string) error {
	st := model.Setting{Key: key, Value: value}
	if d, ok := defaultIndex[key]; ok {
		st.Category = d.Category
		st.Description = d.Description
	}
	if err := s.src.SetSetting(ctx, st); err != nil {
		return eris.Wrapf(err, "settings: update %s", key)
	}
	s.cache.Invalidate()
	return nil
}

// Seed inserts compiled-in defaults for keys not yet stored.
func (s *Service) Seed(ctx context.Context) (int, error) {
	n, err := s.src.SeedSettings(ctx, Defaults())
	if err != nil {
		return 0, eris.Wrap(err, "settings: seed")
	}
	s.cache.Invalidate()
	return n, nil
}

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)

// Interpolate replaces {{name}} placeholders with vars[name]. Placeholders
// without a variable are left verbatim.
func Interpolate(template string, vars map[string]string) string {
	return placeholder.ReplaceAllStringFunc(template, func(m string) string {
		name := placeholder.FindStringSubmatch(m)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		return m
	})
}
