package devicesim

import (
	"context"
	"testing"
	"time"

	"github.com/danmuck/togglectl/internal/engine"
	"github.com/danmuck/togglectl/internal/idempotency"
	"github.com/danmuck/togglectl/internal/protocol/session"
	"github.com/danmuck/togglectl/internal/protocol/wire"
	"github.com/danmuck/togglectl/internal/testutil/testlog"
)

func startSim(t *testing.T, cfg Config) *Simulator {
	t.Helper()
	sim := New(cfg, testlog.Logger(t))
	if err := sim.Start(); err != nil {
		t.Fatalf("start simulator: %v", err)
	}
	t.Cleanup(func() { sim.Close() })
	return sim
}

func startEngine(t *testing.T, cfg engine.Config) *engine.Engine {
	t.Helper()
	cache, err := idempotency.New(32, time.Minute)
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	eng, err := engine.New(cfg, cache, nil, testlog.Logger(t))
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	t.Cleanup(eng.Close)
	return eng
}

func fastEngineConfig() engine.Config {
	cfg := engine.DefaultConfig()
	cfg.Backoff = engine.BackoffConfig{Base: 10 * time.Millisecond, JitterFrac: 0}
	cfg.Session = session.Config{
		ConnectTimeout: 2 * time.Second,
		SendTimeout:    2 * time.Second,
		RecvTimeout:    200 * time.Millisecond,
	}
	return cfg
}

func TestToggleAppliedOverRealSocket(t *testing.T) {
	sim := startSim(t, Config{})
	eng := startEngine(t, fastEngineConfig())

	cmd, err := engine.NewCommand(context.Background(), "relay-1", sim.Addr(), wire.OpcodeToggle, true)
	if err != nil {
		t.Fatalf("new command: %v", err)
	}
	res := eng.Execute(cmd)
	if !res.Success() {
		t.Fatalf("result=%+v", res)
	}
	if res.Attempts != 1 {
		t.Fatalf("attempts=%d", res.Attempts)
	}
	state, ok := sim.DeviceState("relay-1")
	if !ok || !state {
		t.Fatalf("device state not applied: ok=%v state=%v", ok, state)
	}
}

func TestDroppedFirstCommandRecoversOnRetry(t *testing.T) {
	sim := startSim(t, Config{DropFirst: 1})
	eng := startEngine(t, fastEngineConfig())

	cmd, err := engine.NewCommand(context.Background(), "relay-1", sim.Addr(), wire.OpcodeToggle, true)
	if err != nil {
		t.Fatalf("new command: %v", err)
	}
	res := eng.Execute(cmd)
	if !res.Success() {
		t.Fatalf("result=%+v", res)
	}
	if res.Attempts != 2 {
		t.Fatalf("attempts=%d", res.Attempts)
	}
	if got := sim.Received(); got != 2 {
		t.Fatalf("simulator saw %d commands", got)
	}
}

func TestNackingDeviceFailsTerminal(t *testing.T) {
	sim := startSim(t, Config{NackAll: true})
	eng := startEngine(t, fastEngineConfig())

	cmd, err := engine.NewCommand(context.Background(), "relay-1", sim.Addr(), wire.OpcodeToggle, true)
	if err != nil {
		t.Fatalf("new command: %v", err)
	}
	res := eng.Execute(cmd)
	if res.Success() {
		t.Fatalf("nacked command reported success")
	}
	if res.Reason != engine.ReasonDeviceRejected {
		t.Fatalf("reason=%q", res.Reason)
	}
	if _, ok := sim.DeviceState("relay-1"); ok {
		t.Fatalf("nack must not apply state")
	}
}
