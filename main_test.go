package main

import (
	"testing"

	"rbridge/bridge"
	"rbridge/engine"
	"rbridge/marshal"
	"rbridge/resolver"
	"rbridge/runtime/rtest"
)

func newFakeBridge(t *testing.T) (*bridge.Bridge, *rtest.Session) {
	t.Helper()
	fake := rtest.New()

	resOpts := resolver.DefaultOptions()
	resOpts.PrimaryRepo = "primary"
	resOpts.FallbackRepo = "fallback"
	res := resolver.New(fake, resOpts, nil)

	engOpts := engine.DefaultOptions()
	engOpts.TempDir = t.TempDir()
	m := marshal.New(fake, nil)
	eng := engine.New(fake, res, m, engOpts, nil)

	b := bridge.New(fake, eng, m, bridge.DefaultOptions(), nil, nil)
	t.Cleanup(b.Close)
	return b, fake
}
