//go:build !linux

package runner

import (
	"context"
	"fmt"
)

type stubEngine struct{}

// NewEngine returns a stub on non-linux platforms; sandboxed execution is
// only supported on Linux.
func NewEngine(cfg EngineConfig) (Engine, error) {
	return &stubEngine{}, nil
}

func (s *stubEngine) Run(ctx context.Context, spec RunSpec) (RawResult, error) {
	return RawResult{}, fmt.Errorf("sandbox engine is only supported on linux")
}
