package interceptor

import (
	"bytes"
	"strings"
	"testing"

	"github.com/mevdschee/pgquerylog/connection"
)

func TestHexDumpInterceptor_OnClientData(t *testing.T) {
	var buf bytes.Buffer
	h := NewHexDumpInterceptor(&buf)

	conn := connection.New()
	conn.ClientAddr = "10.0.0.1:5432"
	conn.ServerAddr = "127.0.0.1:5432"
	conn.ClientFD = 5
	conn.ServerFD = 6

	h.OnClientData(conn, []byte{0x51, 0x00})

	out := buf.String()
	if !strings.HasPrefix(out, "C->S") {
		t.Errorf("expected C->S prefix, got %q", out)
	}
	if !strings.Contains(out, "5100") {
		t.Errorf("expected hex payload 5100, got %q", out)
	}
}

func TestHexDumpInterceptor_OnServerData(t *testing.T) {
	var buf bytes.Buffer
	h := NewHexDumpInterceptor(&buf)
	conn := connection.New()

	h.OnServerData(conn, []byte{0x52})

	if !strings.HasPrefix(buf.String(), "S->C") {
		t.Errorf("expected S->C prefix, got %q", buf.String())
	}
}

func TestHexDumpInterceptor_ForgetIsNoop(t *testing.T) {
	h := NewHexDumpInterceptor(&bytes.Buffer{})
	conn := connection.New()
	h.Forget(conn) // must not panic
}
