// SPDX-License-Identifier: MIT
package transport

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"beatflux/internal/onset"

	"github.com/gorilla/websocket"
)

type recorder struct {
	sent   []any
	err    error
	closed bool
}

func (r *recorder) Send(data any) error { r.sent = append(r.sent, data); return r.err }
func (r *recorder) Close() error        { r.closed = true; return r.err }

func testSample(index int, peak bool) onset.Sample {
	return onset.Sample{
		Index:        index,
		Time:         float64(index) * 0.02,
		SpectralFlux: 10,
		SubBandFlux:  []float64{4, 6},
		Threshold:    onset.ReadyField(2.0),
		PrunedFlux:   onset.ReadyField(8.0),
		IsPeak:       onset.ReadyField(peak),
		Tempo:        onset.UndefinedField[float64](),
	}
}

func TestFanout(t *testing.T) {
	boom := errors.New("boom")
	a, b := &recorder{}, &recorder{err: boom}
	f := Fanout{a, b}

	if err := f.Send("x"); !errors.Is(err, boom) {
		t.Errorf("Send() error = %v, want %v", err, boom)
	}
	if len(a.sent) != 1 || len(b.sent) != 1 {
		t.Errorf("each transport should receive the message once")
	}
	if err := f.Close(); !errors.Is(err, boom) || !a.closed || !b.closed {
		t.Errorf("Close() = %v, closed = %v/%v", err, a.closed, b.closed)
	}
}

func TestLoggingTransport(t *testing.T) {
	lt := NewLoggingTransport()
	for _, data := range []any{testSample(1, true), testSample(2, false), "event"} {
		if err := lt.Send(data); err != nil {
			t.Errorf("Send(%T) error = %v", data, err)
		}
	}
	if err := lt.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func dialTestServer(t *testing.T, wst *WebSocketTransport) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(wst.Handler())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + OnsetPath
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for wst.Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func TestWebSocketBroadcast(t *testing.T) {
	wst := NewWebSocketTransport("", 0)
	defer wst.Close()
	conn := dialTestServer(t, wst)

	if err := wst.Send(testSample(7, true)); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	var msg struct {
		Type string `json:"type"`
		Data struct {
			Index     int      `json:"index"`
			IsPeak    bool     `json:"isPeak"`
			Threshold float64  `json:"threshold"`
			Tempo     *float64 `json:"tempoEstimate"`
		} `json:"data"`
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if msg.Type != "peak" || msg.Data.Index != 7 || !msg.Data.IsPeak || msg.Data.Threshold != 2 {
		t.Errorf("unexpected message %+v", msg)
	}
	if msg.Data.Tempo != nil {
		t.Errorf("undefined tempo should encode as null, got %v", *msg.Data.Tempo)
	}
}

func TestWebSocketRateLimitKeepsPeaks(t *testing.T) {
	// One non-peak sample per hour: only the burst token passes.
	wst := NewWebSocketTransport("", 1.0/3600)
	defer wst.Close()
	conn := dialTestServer(t, wst)

	wst.Send(testSample(1, false))
	wst.Send(testSample(2, false))
	wst.Send(testSample(3, false))
	wst.Send(testSample(4, true))

	var got []string
	for range 2 {
		var msg Message
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("ReadJSON() error = %v", err)
		}
		got = append(got, msg.Type)
	}
	if got[0] != "sample" || got[1] != "peak" {
		t.Errorf("received %v, want [sample peak]", got)
	}
}

func TestWebSocketSendAfterClose(t *testing.T) {
	wst := NewWebSocketTransport("", 0)
	if err := wst.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := wst.Send("late"); !errors.Is(err, ErrTransportClosed) {
		t.Errorf("Send() after Close = %v, want ErrTransportClosed", err)
	}
	if err := wst.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}
