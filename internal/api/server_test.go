package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"weinstein/internal/cache"
	"weinstein/internal/dashboard"
	"weinstein/internal/domain"
	"weinstein/internal/store"
)

func newDashboard(t *testing.T) *dashboard.Service {
	t.Helper()
	st, err := store.OpenSQLite(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	s := &domain.Stock{Ticker: "MSFT", Name: "Microsoft", Exchange: "NASDAQ", Active: true}
	if err := st.UpsertStock(ctx, s); err != nil {
		t.Fatalf("UpsertStock: %v", err)
	}
	stages := []domain.Stage{domain.StageBase, domain.StageUptrend, domain.StageUptrend, domain.StageTop, domain.StageDowntrend}
	start := domain.MustDate("2024-01-05")
	var recs []domain.WeeklyRecord
	for i, stage := range stages {
		c := 300 + 10*float64(i)
		recs = append(recs, domain.WeeklyRecord{
			StockID:     s.ID,
			WeekEndDate: domain.NewDate(start.AddDate(0, 0, 7*i)),
			Open:        domain.Float(c - 2),
			High:        domain.Float(c + 4),
			Low:         domain.Float(c - 4),
			Close:       domain.Float(c),
			MA30:        domain.Float(c - 8),
			RS:          domain.Float(1.2),
			Volume:      domain.Int(25_000_000),
			Stage:       stage,
		})
	}
	if err := st.WriteWeekly(ctx, recs); err != nil {
		t.Fatalf("WriteWeekly: %v", err)
	}
	return dashboard.NewService(st, cache.NewMemory(), dashboard.ServiceOptions{CacheTTL: time.Minute}, nil)
}

func dialBufconn(t *testing.T, gs *grpc.Server) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	go gs.Serve(lis)
	t.Cleanup(gs.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("grpc.NewClient: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestStageServiceOverGRPC(t *testing.T) {
	srv := NewServer(http.NotFoundHandler(), NewStageService(newDashboard(t), 52, nil), nil, Options{}, nil)
	conn := dialBufconn(t, srv.GRPC())
	client := NewStageClient(conn)
	ctx := context.Background()

	d, err := client.StockDetail(ctx, "msft", 2)
	if err != nil {
		t.Fatalf("StockDetail: %v", err)
	}
	if d.Ticker != "MSFT" || d.Weeks != 2 || len(d.History) != 5 {
		t.Errorf("detail = %s weeks=%d history=%d", d.Ticker, d.Weeks, len(d.History))
	}
	if d.Current.Stage != domain.StageDowntrend || d.Current.Price == nil || *d.Current.Price != 340 {
		t.Errorf("current = %+v", d.Current)
	}
	if len(d.Chart.Labels) != 2 {
		t.Errorf("chart labels = %v", d.Chart.Labels)
	}
	if d.History[0].Volume == nil || *d.History[0].Volume != 25_000_000 {
		t.Errorf("volume did not survive the round trip: %v", d.History[0].Volume)
	}

	ts, err := client.Transitions(ctx, "MSFT", 0, 2)
	if err != nil {
		t.Fatalf("Transitions: %v", err)
	}
	if len(ts) != 2 || ts[0].To != domain.StageDowntrend || ts[0].From == nil || *ts[0].From != domain.StageTop {
		t.Errorf("transitions = %+v", ts)
	}

	_, err = client.StockDetail(ctx, "NOPE", 0)
	if status.Code(err) != codes.NotFound {
		t.Errorf("unknown ticker code = %v", status.Code(err))
	}
	_, err = client.StockDetail(ctx, "", 0)
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("empty ticker code = %v", status.Code(err))
	}

	hc := healthpb.NewHealthClient(conn)
	resp, err := hc.Check(ctx, &healthpb.HealthCheckRequest{Service: StageServiceName})
	if err != nil {
		t.Fatalf("health check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("health = %v", resp.GetStatus())
	}
}

func TestHubBroadcast(t *testing.T) {
	h := NewHub(nil, nil)
	id1, ch1 := h.Subscribe(1)
	_, ch2 := h.Subscribe(1)
	if h.Clients() != 2 {
		t.Fatalf("Clients = %d", h.Clients())
	}

	h.BroadcastSignals(nil)
	h.BroadcastSignals([]domain.Signal{{Ticker: "AAPL", Type: domain.SignalBuy}})
	// Full buffer drops rather than blocks.
	h.Broadcast([]byte("second"))

	for _, ch := range []<-chan []byte{ch1, ch2} {
		var ev SignalEvent
		if err := json.Unmarshal(<-ch, &ev); err != nil {
			t.Fatalf("decoding event: %v", err)
		}
		if ev.Type != "signals" || len(ev.Signals) != 1 || ev.Signals[0].Ticker != "AAPL" {
			t.Errorf("event = %+v", ev)
		}
		select {
		case msg := <-ch:
			t.Errorf("unexpected message %q", msg)
		default:
		}
	}

	h.Unsubscribe(id1)
	if _, ok := <-ch1; ok {
		t.Error("unsubscribed channel still open")
	}
	h.Close()
	if _, ok := <-ch2; ok {
		t.Error("channel open after Close")
	}
	_, late := h.Subscribe(1)
	if _, ok := <-late; ok {
		t.Error("subscription after Close is open")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHubWebsocket(t *testing.T) {
	h := NewHub(nil, nil)
	ts := httptest.NewServer(h)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.CloseNow()

	waitFor(t, func() bool { return h.Clients() == 1 })
	h.BroadcastSignals([]domain.Signal{{Ticker: "NVDA", Type: domain.SignalSell}})

	typ, msg, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if typ != websocket.MessageText {
		t.Errorf("message type = %v", typ)
	}
	var ev SignalEvent
	if err := json.Unmarshal(msg, &ev); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(ev.Signals) != 1 || ev.Signals[0].Type != domain.SignalSell {
		t.Errorf("event = %+v", ev)
	}

	h.Close()
	_, _, err = conn.Read(ctx)
	if websocket.CloseStatus(err) != websocket.StatusGoingAway {
		t.Errorf("close status = %v (%v)", websocket.CloseStatus(err), err)
	}
}

func TestServerServeAndShutdown(t *testing.T) {
	httpLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	grpcLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	srv := NewServer(handler, nil, NewHub(nil, nil), Options{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, httpLn, grpcLn) }()

	resp, err := http.Get("http://" + httpLn.Addr().String() + "/")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(ShutdownTimeout + time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
