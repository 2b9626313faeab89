package rcon_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/AngellusMortis/ark-operator/internal/rcon"
)

// fakeServer is a minimal Source RCON server: it accepts the auth packet
// unconditionally and echoes "ok:<body>" for every exec command packet.
func fakeServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go serveConn(c)
		}
	}()
	return ln.Addr().String()
}

func serveConn(c net.Conn) {
	defer c.Close()
	for {
		size, ok := readSize(c)
		if !ok {
			return
		}
		payload := make([]byte, size)
		if _, err := readFull(c, payload); err != nil {
			return
		}
		id := int32(payload[0]) | int32(payload[1])<<8 | int32(payload[2])<<16 | int32(payload[3])<<24
		typ := int32(payload[4]) | int32(payload[5])<<8 | int32(payload[6])<<16 | int32(payload[7])<<24
		body := string(payload[8 : len(payload)-2])

		switch typ {
		case 3: // auth
			writeFrame(c, id, 2, "")
		case 2: // exec command
			writeFrame(c, id, 0, "ok:"+body)
		}
	}
}

func readSize(c net.Conn) (int32, bool) {
	buf := make([]byte, 4)
	if _, err := readFull(c, buf); err != nil {
		return 0, false
	}
	return int32(buf[0]) | int32(buf[1])<<8 | int32(buf[2])<<16 | int32(buf[3])<<24, true
}

func readFull(c net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := c.Read(buf[total:])
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func writeFrame(c net.Conn, id, typ int32, body string) {
	b := append([]byte(body), 0, 0)
	size := int32(4 + 4 + len(b))
	frame := make([]byte, 0, 4+size)
	frame = appendInt32(frame, size)
	frame = appendInt32(frame, id)
	frame = appendInt32(frame, typ)
	frame = append(frame, b...)
	_, _ = c.Write(frame)
}

func appendInt32(b []byte, v int32) []byte {
	return append(b, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func splitHostPort(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatal(err)
	}
	var port int
	_, err = fscanPort(portStr, &port)
	if err != nil {
		t.Fatal(err)
	}
	return host, port
}

func fscanPort(s string, port *int) (int, error) {
	n := 0
	for _, r := range s {
		n = n*10 + int(r-'0')
	}
	*port = n
	return n, nil
}

func TestSendReturnsReply(t *testing.T) {
	addr := fakeServer(t)
	host, port := splitHostPort(t, addr)

	pool := rcon.NewPool(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	reply, err := pool.Send(ctx, host, port, "pw", "ServerChat hello", true)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if reply != "ok:ServerChat hello" {
		t.Fatalf("unexpected reply: %q", reply)
	}
}

func TestSendAllPreservesOrder(t *testing.T) {
	addr := fakeServer(t)
	host, port := splitHostPort(t, addr)

	pool := rcon.NewPool(nil)
	targets := []rcon.Target{
		{MapID: "TheIsland_WP", Host: host, Port: port},
		{MapID: "TheCenter_WP", Host: host, Port: port},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	results, err := pool.SendAll(ctx, "SaveWorld", "pw", targets, true, false)
	if err != nil {
		t.Fatalf("SendAll: %v", err)
	}
	if len(results) != 2 || results[0].MapID != "TheIsland_WP" || results[1].MapID != "TheCenter_WP" {
		t.Fatalf("order not preserved: %+v", results)
	}
}
