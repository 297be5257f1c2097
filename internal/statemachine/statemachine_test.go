package statemachine

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
)

func newTestRunner(t *testing.T) (*Runner, *sharedstate.Region) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "region")
	region, err := sharedstate.Create(path, 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { region.Close() })
	return New(region, metrics.NewMetrics("upcheck_test_"+t.Name()), zap.NewNop()), region
}

func serveOnce(t *testing.T, handle func(net.Conn)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn)
	}()

	return ln.Addr().String()
}

func TestRunner_HTTPUp(t *testing.T) {
	addr := serveOnce(t, func(conn net.Conn) {
		buf := make([]byte, 4096)
		conn.Read(buf)
		conn.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n"))
	})

	runner, region := newTestRunner(t)
	peer := config.UpstreamConfig{
		Index: 0, Name: "web", Addr: addr,
		Check: config.CheckConfig{
			Kind: config.KindHTTP, IntervalMS: 1000, TimeoutMS: 1000,
			Rise: 1, Fall: 1, StatusMask: config.Status2xx | config.Status3xx,
		},
	}

	runner.Run(context.Background(), peer)

	snap, err := region.Snapshot(0)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Down {
		t.Fatal("expected peer to be up after a successful HTTP probe with rise=1")
	}
}

func TestRunner_TCPPeekSuccess(t *testing.T) {
	addr := serveOnce(t, func(conn net.Conn) {
		conn.Write([]byte{0x01})
		time.Sleep(50 * time.Millisecond)
	})

	runner, region := newTestRunner(t)
	peer := config.UpstreamConfig{
		Index: 0, Name: "tcp-peer", Addr: addr,
		Check: config.CheckConfig{Kind: config.KindTCP, IntervalMS: 1000, TimeoutMS: 500, Rise: 1, Fall: 1},
	}

	runner.Run(context.Background(), peer)

	snap, err := region.Snapshot(0)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Down {
		t.Fatal("expected a live TCP peer to peek successfully")
	}
}

func TestRunner_ConnectFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close() // nothing listens here anymore

	runner, region := newTestRunner(t)
	peer := config.UpstreamConfig{
		Index: 0, Name: "dead", Addr: addr,
		Check: config.CheckConfig{Kind: config.KindTCP, IntervalMS: 1000, TimeoutMS: 200, Rise: 1, Fall: 1},
	}

	runner.Run(context.Background(), peer)

	snap, err := region.Snapshot(0)
	if err != nil {
		t.Fatal(err)
	}
	if !snap.Down {
		t.Fatal("expected peer to stay down after a connect failure")
	}
	if snap.FallCount != 1 {
		t.Fatalf("expected fall_count=1, got %d", snap.FallCount)
	}
}

func TestRunner_Timeout(t *testing.T) {
	addr := serveOnce(t, func(conn net.Conn) {
		time.Sleep(500 * time.Millisecond) // never writes before the probe's timeout
	})

	runner, region := newTestRunner(t)
	peer := config.UpstreamConfig{
		Index: 0, Name: "slow", Addr: addr,
		Check: config.CheckConfig{
			Kind: config.KindHTTP, IntervalMS: 1000, TimeoutMS: 50,
			Rise: 1, Fall: 1, StatusMask: config.Status2xx,
		},
	}

	runner.Run(context.Background(), peer)

	snap, err := region.Snapshot(0)
	if err != nil {
		t.Fatal(err)
	}
	if !snap.Down {
		t.Fatal("expected timeout to be recorded as a failure")
	}
}

func TestRunner_ReleasesOwnershipAfterRun(t *testing.T) {
	addr := serveOnce(t, func(conn net.Conn) {
		conn.Write([]byte{0x01})
	})

	runner, region := newTestRunner(t)
	peer := config.UpstreamConfig{
		Index: 0, Name: "tcp-peer", Addr: addr,
		Check: config.CheckConfig{Kind: config.KindTCP, IntervalMS: 1000, TimeoutMS: 500, Rise: 1, Fall: 1},
	}

	if !region.TryTakeOwnership(0, time.Now(), peer.Check.Interval()) {
		t.Fatal("expected initial ownership take to succeed")
	}

	runner.Run(context.Background(), peer)

	if region.Owns(0) {
		t.Fatal("expected ownership to be dropped once Run returns")
	}
}
