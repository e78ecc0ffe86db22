package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-mudoa/internal/acquisition"
	"github.com/teslashibe/go-mudoa/internal/beamformer"
	"github.com/teslashibe/go-mudoa/internal/config"
	"github.com/teslashibe/go-mudoa/internal/doa"
	"github.com/teslashibe/go-mudoa/internal/protocol"
	"github.com/teslashibe/go-mudoa/internal/synth"
)

const testTone = 3000

func setupTestServer(t *testing.T) (*Server, *doa.Tracker) {
	t.Helper()

	cfg := config.Default()
	logger := slog.Default()

	g := beamformer.NewLinearArray([3]float64{}, cfg.Array.Mics, 0, cfg.Array.Spacing)
	bank, err := beamformer.Build(g, cfg.Beamformer.Beams, cfg.Beamformer.SamplingFrequency, cfg.Beamformer.WindowDuration)
	if err != nil {
		t.Fatalf("failed to build bank: %v", err)
	}

	mock := acquisition.DefaultMockConfig()
	mock.Frequency = testTone
	mock.Noise = 0
	mock.Realtime = false
	mock.Angle = bank.Angles()[6]

	acq := acquisition.NewMockSource(acquisition.Config{
		SampleRate:    cfg.Beamformer.SamplingFrequency,
		BlockDuration: cfg.Beamformer.WindowDuration,
		Mock:          mock,
	}, g)

	source := doa.NewBeamformerSource(bank, acq, cfg.Beamformer.ActivityThreshold, logger)

	trackerCfg := doa.DefaultTrackerConfig()
	trackerCfg.PollInterval = 10 * time.Millisecond
	tracker := doa.NewTracker(source, trackerCfg, logger)

	server := New(cfg, Deps{Bank: bank, Tracker: tracker, Source: source}, logger, "test")

	return server, tracker
}

func runTracker(t *testing.T, tracker *doa.Tracker) {
	t.Helper()

	go func() {
		tracker.Run(t.Context())
	}()
	t.Cleanup(tracker.Stop)

	deadline := time.Now().Add(2 * time.Second)
	for tracker.Stats().PollCount < 2 {
		if time.Now().After(deadline) {
			t.Fatal("tracker did not poll")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func doRequest(t *testing.T, server *Server, req *http.Request) (int, []byte) {
	t.Helper()

	resp, err := server.app.Test(req, -1)
	if err != nil {
		t.Fatalf("failed to make request: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}

	return resp.StatusCode, body
}

func get(t *testing.T, server *Server, path string) (int, []byte) {
	t.Helper()
	return doRequest(t, server, httptest.NewRequest("GET", path, nil))
}

func TestServer_Health(t *testing.T) {
	server, _ := setupTestServer(t)

	status, body := get(t, server, "/health")
	if status != 200 {
		t.Errorf("expected status 200, got %d", status)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}

	if result["version"] != "test" {
		t.Errorf("expected version 'test', got %v", result["version"])
	}

	if _, ok := result["uptime_seconds"]; !ok {
		t.Error("expected uptime_seconds in response")
	}

	components, ok := result["components"].(map[string]interface{})
	if !ok {
		t.Fatal("expected components in response")
	}
	for _, name := range []string{"acquisition", "tracker"} {
		if _, ok := components[name]; !ok {
			t.Errorf("expected %s component", name)
		}
	}
}

func TestServer_DOA(t *testing.T) {
	server, tracker := setupTestServer(t)
	runTracker(t, tracker)

	status, body := get(t, server, "/api/doa")
	if status != 200 {
		t.Errorf("expected status 200, got %d", status)
	}

	var result doa.Result
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}

	if result.Timestamp.IsZero() {
		t.Error("expected non-zero timestamp")
	}

	if result.Beam != 6 {
		t.Errorf("expected beam 6, got %d", result.Beam)
	}

	if !result.Active {
		t.Error("expected active reading")
	}
}

func TestServer_Stats(t *testing.T) {
	server, tracker := setupTestServer(t)
	runTracker(t, tracker)

	status, body := get(t, server, "/api/stats")
	if status != 200 {
		t.Errorf("expected status 200, got %d", status)
	}

	var stats doa.TrackerStats
	if err := json.Unmarshal(body, &stats); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}

	if stats.PollCount == 0 {
		t.Error("expected non-zero poll count")
	}

	if stats.SourceName != "beamformer/mock" {
		t.Errorf("unexpected source name %s", stats.SourceName)
	}
}

func TestServer_Metrics(t *testing.T) {
	server, tracker := setupTestServer(t)
	runTracker(t, tracker)

	status, body := get(t, server, "/metrics")
	if status != 200 {
		t.Errorf("expected status 200, got %d", status)
	}

	expectedMetrics := []string{
		"mudoa_doa_angle_radians",
		"mudoa_doa_beam 6",
		"mudoa_active 1",
		"mudoa_doa_confidence",
		"mudoa_poll_count",
		"mudoa_estimates_total",
		"mudoa_source_healthy 1",
	}

	for _, metric := range expectedMetrics {
		if !strings.Contains(string(body), metric) {
			t.Errorf("expected metric %s in response", metric)
		}
	}
}

func TestServer_Config(t *testing.T) {
	server, _ := setupTestServer(t)

	status, body := get(t, server, "/api/config")
	if status != 200 {
		t.Errorf("expected status 200, got %d", status)
	}

	var result map[string]map[string]interface{}
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}

	if result["server"]["port"].(float64) != 9000 {
		t.Errorf("expected port 9000, got %v", result["server"]["port"])
	}

	if result["array"]["mics"].(float64) != 8 {
		t.Errorf("expected 8 mics, got %v", result["array"]["mics"])
	}
}

func TestServer_Beams(t *testing.T) {
	server, _ := setupTestServer(t)

	status, body := get(t, server, "/api/beams")
	if status != 200 {
		t.Fatalf("expected status 200, got %d", status)
	}

	var result struct {
		WindowSamples int               `json:"window_samples"`
		FFTSize       int               `json:"fft_size"`
		Layout        string            `json:"layout"`
		Positions     [][3]float64      `json:"positions"`
		Beams         []beamformer.Beam `json:"beams"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}

	if result.WindowSamples != 5000 || result.FFTSize != 8192 {
		t.Errorf("expected 5000 samples in 8192 bins, got %d in %d", result.WindowSamples, result.FFTSize)
	}

	if len(result.Beams) != 8 || len(result.Positions) != 8 {
		t.Fatalf("expected 8 beams and 8 positions, got %d and %d", len(result.Beams), len(result.Positions))
	}

	if result.Layout != "linear" {
		t.Errorf("expected linear layout, got %s", result.Layout)
	}

	for i, b := range result.Beams {
		if b.Index != i || len(b.Delays) != 8 {
			t.Errorf("beam %d malformed: %+v", i, b)
		}
	}
}

func TestServer_Power(t *testing.T) {
	server, tracker := setupTestServer(t)

	status, _ := get(t, server, "/api/power")
	if status != 404 {
		t.Errorf("expected 404 before the first estimate, got %d", status)
	}

	runTracker(t, tracker)

	status, body := get(t, server, "/api/power")
	if status != 200 {
		t.Fatalf("expected status 200, got %d", status)
	}

	var result struct {
		MeanPower []float64 `json:"mean_power"`
		PeakBeams []int     `json:"peak_beams"`
		Matrix    struct {
			Beams  int         `json:"beams"`
			Frames int         `json:"frames"`
			Power  [][]float64 `json:"power"`
		} `json:"matrix"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}

	if result.Matrix.Beams != 8 || result.Matrix.Frames != 1 || len(result.MeanPower) != 8 {
		t.Errorf("unexpected shape %+v", result.Matrix)
	}

	if len(result.PeakBeams) != 1 || result.PeakBeams[0] != 6 {
		t.Errorf("expected peak beam 6, got %v", result.PeakBeams)
	}
}

// planeWaveBody returns a raw interleaved int32 body of a tone arriving on beam.
func planeWaveBody(t *testing.T, server *Server, beam, samples int) []byte {
	t.Helper()

	angle := server.bank.Angles()[beam]
	block := synth.PlaneWave(server.bank.Geometry(), angle, synth.Tone(testTone, 0.5).Eval,
		server.bank.SampleRate(), samples)

	return acquisition.EncodeFrame(synth.Quantize(block))
}

func postEstimate(t *testing.T, server *Server, query string, body []byte) (int, []byte) {
	t.Helper()

	req := httptest.NewRequest("POST", "/api/estimate"+query, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/octet-stream")
	return doRequest(t, server, req)
}

func TestServer_Estimate(t *testing.T) {
	server, _ := setupTestServer(t)

	// Two full windows plus a partial one
	status, body := postEstimate(t, server, "", planeWaveBody(t, server, 6, 12000))
	if status != 200 {
		t.Fatalf("expected status 200, got %d: %s", status, body)
	}

	var result struct {
		Beams     int         `json:"beams"`
		Frames    int         `json:"frames"`
		Power     [][]float64 `json:"power"`
		PeakBeams []int       `json:"peak_beams"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}

	if result.Beams != 8 || result.Frames != 2 || len(result.Power) != 8 {
		t.Errorf("expected 8 beams by 2 frames, got %d by %d", result.Beams, result.Frames)
	}

	for f, b := range result.PeakBeams {
		if b != 6 {
			t.Errorf("frame %d: expected peak beam 6, got %d", f, b)
		}
	}
}

func TestServer_EstimateCounter(t *testing.T) {
	server, _ := setupTestServer(t)

	samples := 5000
	block := synth.PlaneWave(server.bank.Geometry(), server.bank.Angles()[2],
		synth.Tone(testTone, 0.5).Eval, server.bank.SampleRate(), samples)

	counter := make([]int32, samples)
	for i := range counter {
		counter[i] = int32(i)
	}
	raw := append([][]int32{counter}, synth.Quantize(block)...)

	status, body := postEstimate(t, server, "?channels=9&counter=true", acquisition.EncodeFrame(raw))
	if status != 200 {
		t.Fatalf("expected status 200, got %d: %s", status, body)
	}

	var result struct {
		PeakBeams []int `json:"peak_beams"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}

	if len(result.PeakBeams) != 1 || result.PeakBeams[0] != 2 {
		t.Errorf("expected peak beam 2, got %v", result.PeakBeams)
	}
}

func TestServer_EstimateErrors(t *testing.T) {
	server, _ := setupTestServer(t)

	full := planeWaveBody(t, server, 0, 5000)

	tests := []struct {
		name   string
		query  string
		body   []byte
		status int
	}{
		{"channel mismatch", "?channels=4", full, 422},
		{"shorter than a window", "", planeWaveBody(t, server, 0, 100), 422},
		{"sampling frequency mismatch", "?sampling_frequency=48000", full, 400},
		{"window duration mismatch", "?window_duration=0.05", full, 400},
		{"bad sampling frequency", "?sampling_frequency=fast", full, 400},
		{"ragged body", "", full[:len(full)-3], 400},
		{"empty body", "", nil, 422},
		{"empty body with counter", "?counter=true&channels=9", nil, 422},
		{"empty body, sampling frequency mismatch", "?sampling_frequency=48000", nil, 400},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := postEstimate(t, server, tt.query, tt.body)
			if status != tt.status {
				t.Errorf("expected status %d, got %d: %s", tt.status, status, body)
			}

			var result map[string]interface{}
			if err := json.Unmarshal(body, &result); err != nil {
				t.Fatalf("failed to parse JSON: %v", err)
			}
			if _, ok := result["error"]; !ok {
				t.Error("expected error in response")
			}
		})
	}
}

func TestServer_RequestID(t *testing.T) {
	server, _ := setupTestServer(t)

	req := httptest.NewRequest("GET", "/api/config", nil)
	req.Header.Set(RequestIDHeader, "abc-123")

	resp, err := server.app.Test(req, -1)
	if err != nil {
		t.Fatalf("failed to make request: %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get(RequestIDHeader); got != "abc-123" {
		t.Errorf("expected request id to be echoed, got %q", got)
	}
}

func TestServer_DOAStream_UpgradeRequired(t *testing.T) {
	server, _ := setupTestServer(t)

	// Non-WebSocket request should get 426
	status, _ := get(t, server, "/api/doa/stream")
	if status != 426 {
		t.Errorf("expected status 426, got %d", status)
	}
}

// listen serves the app on a loopback port and returns its address.
func listen(t *testing.T, server *Server) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	go server.app.Listener(ln)
	t.Cleanup(func() { server.app.Shutdown() })

	return ln.Addr().String()
}

func dialStream(t *testing.T, addr, format string) *websocket.Conn {
	t.Helper()

	url := fmt.Sprintf("ws://%s/api/doa/stream?format=%s", addr, format)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	return conn
}

func TestServer_DOAStream_Commands(t *testing.T) {
	server, tracker := setupTestServer(t)
	runTracker(t, tracker)
	addr := listen(t, server)

	t.Run("json", func(t *testing.T) {
		conn := dialStream(t, addr, "json")

		ping, _ := protocol.NewMessage(protocol.TypePing, nil).Bytes()
		if err := conn.WriteMessage(websocket.TextMessage, ping); err != nil {
			t.Fatalf("write: %v", err)
		}

		kind, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if kind != websocket.TextMessage {
			t.Errorf("expected text frame, got %d", kind)
		}

		msg, err := protocol.ParseMessage(data)
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if msg.Type != protocol.TypePong {
			t.Errorf("expected pong, got %s", msg.Type)
		}
	})

	t.Run("msgpack", func(t *testing.T) {
		conn := dialStream(t, addr, "msgpack")

		req, err := protocol.NewMessage(protocol.TypeGetStats, nil).Encode(protocol.EncodingMsgpack)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, req); err != nil {
			t.Fatalf("write: %v", err)
		}

		kind, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if kind != websocket.BinaryMessage {
			t.Errorf("expected binary frame, got %d", kind)
		}

		msg, err := protocol.Decode(protocol.EncodingMsgpack, data)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if msg.Type != protocol.TypeStats {
			t.Fatalf("expected stats, got %s", msg.Type)
		}

		var stats doa.TrackerStats
		if err := msg.ParseData(&stats); err != nil {
			t.Fatalf("parse stats: %v", err)
		}
		if stats.PollCount == 0 {
			t.Error("expected non-zero poll count")
		}
	})

	t.Run("unknown type", func(t *testing.T) {
		conn := dialStream(t, addr, "json")

		if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"subscribe"}`)); err != nil {
			t.Fatalf("write: %v", err)
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}

		msg, err := protocol.ParseMessage(data)
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		errData, err := msg.GetErrorData()
		if err != nil || msg.Type != protocol.TypeError {
			t.Fatalf("expected error message, got %s (%v)", msg.Type, err)
		}
		if errData.Code != "unknown_type" {
			t.Errorf("expected unknown_type, got %s", errData.Code)
		}
	})
}

func TestServer_DOAStream_Broadcast(t *testing.T) {
	server, tracker := setupTestServer(t)
	runTracker(t, tracker)
	addr := listen(t, server)

	conn := dialStream(t, addr, "json")

	go server.WSHub().Run(t.Context())
	t.Cleanup(server.WSHub().Close)

	seen := map[protocol.MessageType]bool{}
	for !(seen[protocol.TypeDOA] && seen[protocol.TypePower] && seen[protocol.TypeActivity]) {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read (seen %v): %v", seen, err)
		}

		msg, err := protocol.ParseMessage(data)
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		seen[msg.Type] = true

		if msg.Type == protocol.TypeDOA {
			d, err := msg.GetDOAData()
			if err != nil {
				t.Fatalf("doa data: %v", err)
			}
			if d.Beam != 6 {
				t.Errorf("expected beam 6, got %d", d.Beam)
			}
		}
	}

	if server.WSHub().ClientCount() != 1 {
		t.Errorf("expected 1 client, got %d", server.WSHub().ClientCount())
	}
}

func TestServer_DOAStream_BadFormat(t *testing.T) {
	server, _ := setupTestServer(t)
	addr := listen(t, server)

	_, resp, err := websocket.DefaultDialer.Dial("ws://"+addr+"/api/doa/stream?format=xml", nil)
	if err == nil {
		t.Fatal("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != 400 {
		t.Errorf("expected status 400, got %v", resp)
	}
}
