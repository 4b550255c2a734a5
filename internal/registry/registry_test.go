package registry

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/FayzaCH/fog-server/internal/logging"
)

func TestIsAliveReflectsTouchAndTimeout(t *testing.T) {
	reg := New(logging.Noop())
	if reg.IsAlive("n1", time.Second) {
		t.Fatalf("expected n1 to be unknown")
	}
	reg.Touch("n1")
	if !reg.IsAlive("n1", time.Second) {
		t.Fatalf("expected n1 to be alive right after touch")
	}
	if reg.IsAlive("n1", -time.Nanosecond) {
		t.Fatalf("expected n1 to be stale with a negative timeout")
	}
}

func TestRunPrunerExpiresStaleClients(t *testing.T) {
	reg := New(logging.Noop())
	reg.Touch("n1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go reg.RunPruner(ctx, 10*time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for reg.IsAlive("n1", time.Hour) {
		if time.Now().After(deadline) {
			t.Fatalf("expected pruner to evict n1")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestListenUDPTouchesOnDatagram(t *testing.T) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: 0})
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	_, portStr, _ := net.SplitHostPort(conn.LocalAddr().String())
	port, _ := strconv.Atoi(portStr)
	conn.Close()

	reg := New(logging.Noop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- reg.ListenUDP(ctx, port) }()
	time.Sleep(50 * time.Millisecond)

	cli, err := net.Dial("udp", net.JoinHostPort("127.0.0.1", portStr))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer cli.Close()
	if _, err := cli.Write([]byte("node-7\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for !reg.IsAlive("node-7", time.Hour) {
		if time.Now().After(deadline) {
			t.Fatalf("expected node-7 to be touched by heartbeat")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	<-errCh
}
