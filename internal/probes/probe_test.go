package probes

import (
	"testing"

	"github.com/upcheck/upcheck/internal/config"
)

// feedChunked replays data through h.Parse split at every boundary in
// chunkSizes, accumulating the buffer exactly as the receive loop
// would, and returns the final verdict. Every handler here must reach
// the same final verdict regardless of how the bytes are chunked.
func feedChunked(h Handler, cfg config.CheckConfig, data []byte, chunkSizes []int) Verdict {
	var buf []byte
	pos := 0
	verdict := Again
	for _, n := range chunkSizes {
		end := pos + n
		if end > len(data) {
			end = len(data)
		}
		buf = append(buf, data[pos:end]...)
		pos = end
		eof := pos >= len(data)
		verdict = h.Parse(cfg, buf, eof)
		if verdict != Again {
			return verdict
		}
		if eof {
			break
		}
	}
	return verdict
}

func TestHTTP_ChunkingInvariant(t *testing.T) {
	data := []byte("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n")
	cfg := config.CheckConfig{StatusMask: config.Status2xx | config.Status3xx}

	whole := feedChunked(HTTP{}, cfg, data, []int{len(data)})
	oneByOne := feedChunked(HTTP{}, cfg, data, ones(len(data)))
	if whole != OK || oneByOne != OK {
		t.Fatalf("expected OK both ways, got whole=%v oneByOne=%v", whole, oneByOne)
	}
}

func TestHTTP_Scenario1_Up(t *testing.T) {
	cfg := config.CheckConfig{StatusMask: config.Status2xx | config.Status3xx}
	data := []byte("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n")
	if v := (HTTP{}).Parse(cfg, data, false); v != OK {
		t.Fatalf("expected OK, got %v", v)
	}
}

func TestHTTP_RejectsUnacceptedBucket(t *testing.T) {
	cfg := config.CheckConfig{StatusMask: config.Status2xx}
	data := []byte("HTTP/1.1 404 Not Found\r\n\r\n")
	if v := (HTTP{}).Parse(cfg, data, false); v != Failed {
		t.Fatalf("expected Failed for 404 against a 2xx-only mask, got %v", v)
	}
}

func TestHTTP_AgainUntilStatusLine(t *testing.T) {
	cfg := config.CheckConfig{StatusMask: config.Status2xx}
	if v := (HTTP{}).Parse(cfg, []byte("HTTP/1.1 2"), false); v != Again {
		t.Fatalf("expected Again before the status line completes, got %v", v)
	}
}

func TestSMTP_LenientFallback(t *testing.T) {
	// scenario 3: truncated greeting, strict parse can't find a CRLF,
	// but the leading byte is '2' so it still succeeds.
	cfg := config.CheckConfig{StatusMask: config.Status2xx}
	data := []byte("220 welc")
	if v := (SMTP{}).Parse(cfg, data, true); v != OK {
		t.Fatalf("expected lenient OK, got %v", v)
	}
}

func TestSMTP_StrictAccept(t *testing.T) {
	cfg := config.CheckConfig{StatusMask: config.Status2xx}
	data := []byte("220 welcome\r\n")
	if v := (SMTP{}).Parse(cfg, data, false); v != OK {
		t.Fatalf("expected OK, got %v", v)
	}
}

func TestSMTP_RejectsWrongBucket(t *testing.T) {
	cfg := config.CheckConfig{StatusMask: config.Status2xx}
	data := []byte("421 too busy\r\n")
	if v := (SMTP{}).Parse(cfg, data, false); v != Failed {
		t.Fatalf("expected Failed, got %v", v)
	}
}

func TestMySQL_Scenario4_Greeting(t *testing.T) {
	// the check only ever looks at the first received byte.
	data := []byte{0x00, 0x00, 0x00, 0x0a, 0x35, 0x2e, 0x37}
	if v := (MySQL{}).Parse(config.CheckConfig{}, data, false); v != OK {
		t.Fatalf("expected OK when first byte is 0x00, got %v", v)
	}
}

func TestMySQL_RejectsNonZeroFirstByte(t *testing.T) {
	data := []byte{0x4a, 0x00, 0x00, 0x00, 0x0a}
	if v := (MySQL{}).Parse(config.CheckConfig{}, data, false); v != Failed {
		t.Fatalf("expected Failed when first byte is nonzero, got %v", v)
	}
}

func TestPOP3_AcceptsPlusOK(t *testing.T) {
	if v := (POP3{}).Parse(config.CheckConfig{}, []byte("+OK POP3 ready\r\n"), false); v != OK {
		t.Fatalf("expected OK, got %v", v)
	}
}

func TestPOP3_RejectsOther(t *testing.T) {
	if v := (POP3{}).Parse(config.CheckConfig{}, []byte("-ERR\r\n"), false); v != Failed {
		t.Fatalf("expected Failed, got %v", v)
	}
}

func TestIMAP_AcceptsOK(t *testing.T) {
	if v := (IMAP{}).Parse(config.CheckConfig{}, []byte("* OK IMAP4 ready\r\n"), false); v != OK {
		t.Fatalf("expected OK, got %v", v)
	}
}

func TestIMAP_RejectsNonOK(t *testing.T) {
	if v := (IMAP{}).Parse(config.CheckConfig{}, []byte("* BAD command\r\n"), false); v != Failed {
		t.Fatalf("expected Failed, got %v", v)
	}
}

func TestIMAP_AgainBeforeSpace(t *testing.T) {
	if v := (IMAP{}).Parse(config.CheckConfig{}, []byte("*"), false); v != Again {
		t.Fatalf("expected Again, got %v", v)
	}
}

func TestSSLHello_Scenario5_Success(t *testing.T) {
	data := []byte{0x16, 0x03, 0x01, 0x00, 0x4a, 0x02}
	if v := (SSLHello{}).Parse(config.CheckConfig{}, data, false); v != OK {
		t.Fatalf("expected OK, got %v", v)
	}
}

func TestSSLHello_Scenario5_AlertIsFailure(t *testing.T) {
	data := []byte{0x15, 0x03, 0x01, 0x00, 0x02, 0x00}
	if v := (SSLHello{}).Parse(config.CheckConfig{}, data, false); v != Failed {
		t.Fatalf("expected Failed for an alert record, got %v", v)
	}
}

func TestSSLHello_AgainUntilHeaderComplete(t *testing.T) {
	data := []byte{0x16, 0x03, 0x01, 0x00, 0x4a}
	if v := (SSLHello{}).Parse(config.CheckConfig{}, data, false); v != Again {
		t.Fatalf("expected Again with only 5 of 6 header bytes, got %v", v)
	}
}

func TestSSLHello_DefaultPayloadIs127Bytes(t *testing.T) {
	payload := (SSLHello{}).DefaultPayload(config.CheckConfig{})
	if len(payload) != 127 {
		t.Fatalf("expected a 127-byte ClientHello, got %d", len(payload))
	}
}

func TestPayload_OverrideWins(t *testing.T) {
	cfg := config.CheckConfig{SendOverride: []byte("custom")}
	if got := Payload(HTTP{}, cfg); string(got) != "custom" {
		t.Fatalf("expected override payload, got %q", got)
	}
}

func TestPayload_DefaultWhenNoOverride(t *testing.T) {
	cfg := config.CheckConfig{}
	if got := Payload(HTTP{}, cfg); string(got) != defaultHTTPPayload {
		t.Fatalf("expected default HTTP payload, got %q", got)
	}
}

func TestTCP_EmptyPayloadStillOK(t *testing.T) {
	// a probe whose send_payload is empty must still produce a verdict
	// in one step; TCP never sends anything at all.
	if v := (TCP{}).Parse(config.CheckConfig{}, nil, true); v != OK {
		t.Fatalf("expected OK, got %v", v)
	}
}

func ones(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = 1
	}
	return out
}
