package scheduler

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/upcheck/upcheck/internal/config"
	"github.com/upcheck/upcheck/internal/metrics"
	"github.com/upcheck/upcheck/internal/sharedstate"
	"github.com/upcheck/upcheck/internal/statemachine"
)

func TestPollPeriod_FloorsAtOneSecond(t *testing.T) {
	if got := pollPeriod(500 * time.Millisecond); got != pollFloor {
		t.Fatalf("expected floor of %v, got %v", pollFloor, got)
	}
	if got := pollPeriod(4 * time.Second); got != 2*time.Second {
		t.Fatalf("expected half of 4s, got %v", got)
	}
}

func TestScheduler_RunsProbeOnTick(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Write([]byte{0x01})
			conn.Close()
		}
	}()

	path := filepath.Join(t.TempDir(), "region")
	region, err := sharedstate.Create(path, 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	defer region.Close()

	m := metrics.NewMetrics("upcheck_test_scheduler_tick")
	runner := statemachine.New(region, m, zap.NewNop())
	sched := New(region, runner, m, zap.NewNop(), 1)

	peer := config.UpstreamConfig{
		Index: 0, Name: "peer", Addr: ln.Addr().String(),
		Check: config.CheckConfig{Kind: config.KindTCP, IntervalMS: 50, TimeoutMS: 200, Rise: 1, Fall: 1},
	}

	// the first tick is jittered by up to max(1s, interval), so the run
	// window must outlast that ceiling plus one probe timeout.
	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()
	sched.Run(ctx, peer)

	snap, err := region.Snapshot(0)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Down {
		t.Fatal("expected at least one probe cycle to have run and brought the peer up")
	}
}

func TestScheduler_SkipsTickWhenAlreadyOwned(t *testing.T) {
	path := filepath.Join(t.TempDir(), "region")
	region, err := sharedstate.Create(path, 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	defer region.Close()

	m := metrics.NewMetrics("upcheck_test_scheduler_owned")
	runner := statemachine.New(region, m, zap.NewNop())
	sched := New(region, runner, m, zap.NewNop(), 1)

	if !region.TryTakeOwnership(0, time.Now(), time.Second) {
		t.Fatal("expected initial take to succeed")
	}

	peer := config.UpstreamConfig{
		Index: 0, Name: "peer", Addr: "127.0.0.1:1", // unroutable; must never be dialed
		Check: config.CheckConfig{Kind: config.KindTCP, IntervalMS: 1000, TimeoutMS: 100, Rise: 1, Fall: 1},
	}

	sched.tick(context.Background(), peer)

	if !region.Owns(0) {
		t.Fatal("expected ownership to remain untouched since tick must skip an already-owned peer")
	}
}
