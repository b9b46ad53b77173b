package replay

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Strategy decides how a GET is answered.
type Strategy string

const (
	CacheFirst           Strategy = "cache-first"
	NetworkFirst         Strategy = "network-first"
	StaleWhileRevalidate Strategy = "stale-while-revalidate"
	NetworkOnly          Strategy = "network-only"
)

func (s Strategy) Validate() error {
	switch s {
	case CacheFirst, NetworkFirst, StaleWhileRevalidate, NetworkOnly:
		return nil
	}
	return fmt.Errorf("unknown cache strategy %q", string(s))
}

// Cache tiers. TierShell is resolved to the active shell version, e.g.
// "shell-1.4.0".
const (
	TierShell   = "shell"
	TierAPI     = "api"
	TierDynamic = "dynamic"
	TierOffline = "offline"
)

// Route binds a path prefix to a strategy. An empty Tier disables storing.
type Route struct {
	Prefix   string   `yaml:"prefix"`
	Strategy Strategy `yaml:"strategy"`
	Tier     string   `yaml:"tier"`
}

// Routes is a static route table; the longest matching prefix wins.
type Routes struct {
	routes []Route
}

// NewRoutes validates routes and orders them for matching.
func NewRoutes(routes []Route) (Routes, error) {
	sorted := append([]Route(nil), routes...)
	for i, r := range sorted {
		if r.Prefix == "" || !strings.HasPrefix(r.Prefix, "/") {
			return Routes{}, fmt.Errorf("route[%d]: prefix must start with /", i)
		}
		if err := r.Strategy.Validate(); err != nil {
			return Routes{}, fmt.Errorf("route[%d]: %w", i, err)
		}
		if r.Strategy == NetworkOnly && r.Tier != "" {
			return Routes{}, fmt.Errorf("route[%d]: network-only route %s cannot have a tier", i, r.Prefix)
		}
		if r.Strategy != NetworkOnly && r.Tier == "" {
			return Routes{}, fmt.Errorf("route[%d]: %s route %s needs a tier", i, r.Strategy, r.Prefix)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool { return len(sorted[i].Prefix) > len(sorted[j].Prefix) })
	return Routes{routes: sorted}, nil
}

// DefaultRoutes is the table used when no routes file is configured.
func DefaultRoutes() Routes {
	r, err := NewRoutes([]Route{
		{Prefix: "/api/guidelines/", Strategy: CacheFirst, Tier: TierAPI},
		{Prefix: "/api/protocols/", Strategy: CacheFirst, Tier: TierAPI},
		{Prefix: "/api/cases/", Strategy: StaleWhileRevalidate, Tier: TierDynamic},
		{Prefix: "/api/cases/recent", Strategy: NetworkFirst, Tier: TierDynamic},
		{Prefix: "/api/dashboard/", Strategy: NetworkFirst, Tier: TierDynamic},
		{Prefix: "/api/auth/", Strategy: NetworkOnly},
		{Prefix: "/api/users/me", Strategy: NetworkOnly},
		{Prefix: "/api/", Strategy: NetworkFirst, Tier: TierDynamic},
	})
	if err != nil {
		panic(err)
	}
	return r
}

// LoadRoutes reads a YAML list of routes:
//
//	routes:
//	  - prefix: /api/cases/
//	    strategy: stale-while-revalidate
//	    tier: dynamic
func LoadRoutes(path string) (Routes, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Routes{}, fmt.Errorf("read routes %s: %w", path, err)
	}
	var file struct {
		Routes []Route `yaml:"routes"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Routes{}, fmt.Errorf("parse routes %s: %w", path, err)
	}
	if len(file.Routes) == 0 {
		return Routes{}, fmt.Errorf("routes %s: no routes", path)
	}
	return NewRoutes(file.Routes)
}

// Match returns the route for path. Paths outside /api/ are application
// shell assets and are served cache-first from the shell tier; unmatched
// API paths go to the network without caching.
func (r Routes) Match(path string) Route {
	for _, route := range r.routes {
		if strings.HasPrefix(path, route.Prefix) {
			return route
		}
	}
	if !IsAPI(path) {
		return Route{Prefix: "/", Strategy: CacheFirst, Tier: TierShell}
	}
	return Route{Prefix: "/api/", Strategy: NetworkOnly}
}

// All returns the table in match order.
func (r Routes) All() []Route {
	return append([]Route(nil), r.routes...)
}

func IsAPI(path string) bool {
	return path == "/api" || strings.HasPrefix(path, "/api/")
}
