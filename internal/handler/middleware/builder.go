// Package middleware holds the huma middlewares shared by the sync server
// and the client agent.
package middleware

import (
	"github.com/danielgtaylor/huma/v2"
)

// Container collects middlewares for the next handler being built.
type Container struct {
	huma.Middlewares
}

func NewContainer() *Container {
	return &Container{
		Middlewares: make(huma.Middlewares, 0),
	}
}

func (mc *Container) Add(middleware func(ctx huma.Context, next func(huma.Context))) {
	mc.Middlewares = append(mc.Middlewares, middleware)
}

// GetAllAndClear hands the collected middlewares to one handler and starts
// a fresh list for the next.
func (mc *Container) GetAllAndClear() huma.Middlewares {
	result := mc.Middlewares
	mc.Middlewares = nil
	return result
}
