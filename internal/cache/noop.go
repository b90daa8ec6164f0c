package cache

import (
	"context"
	"time"
)

// Noop — кеш, который ничего не хранит.
type Noop struct{}

func (Noop) Get(context.Context, string, any) bool           { return false }
func (Noop) Set(context.Context, string, any, time.Duration) {}
func (Noop) Del(context.Context, ...string)                  {}
func (Noop) DelPattern(context.Context, string)              {}

var _ Cache = Noop{}
