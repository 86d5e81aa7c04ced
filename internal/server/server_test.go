package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	cws "github.com/coder/websocket"
	"github.com/creachadair/jrpc2"

	"github.com/portplayer/portplayer/common"
	"github.com/portplayer/portplayer/internal/session"
	"github.com/portplayer/portplayer/internal/store"
	"github.com/portplayer/portplayer/pkg/client"
	"github.com/portplayer/portplayer/pkg/logger"
	"github.com/portplayer/portplayer/pkg/pins"
	"github.com/portplayer/portplayer/pkg/playlist"
	"github.com/portplayer/portplayer/pkg/trigger"
)

const testSecret = "test-token"

type testDaemon struct {
	srv     *Server
	store   *store.Store
	socket  string
	backend *pins.MemoryBackend
}

func saveProfile(t *testing.T, st *store.Store, name, durations string) {
	t.Helper()
	p := &store.Profile{
		Name:          name,
		Backend:       store.BackendMemory,
		Pins:          "a 0x20 0 b 0x20 1",
		Playlist:      "10 01",
		Durations:     durations,
		Unit:          playlist.Millisecond,
		TriggerPeriod: 2 * time.Millisecond,
		TriggerMode:   trigger.TickMode.String(),
	}
	if err := st.SaveProfile(context.Background(), p); err != nil {
		t.Fatalf("SaveProfile: %v", err)
	}
}

func startDaemon(t *testing.T) *testDaemon {
	t.Helper()
	// Unix socket paths are length limited, so stay out of t.TempDir.
	dir, err := os.MkdirTemp("", "pp")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	st, err := store.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	saveProfile(t, st, "quick", "20 20")
	saveProfile(t, st, "slow", "5000 5000")

	d := &testDaemon{store: st, socket: filepath.Join(dir, "pp.sock"), backend: pins.NewMemoryBackend()}
	d.srv = NewServer(&Config{
		SocketPath:   d.socket,
		Secret:       testSecret,
		Version:      "1.2.3",
		Commit:       "abc",
		Session:      session.Options{Backend: d.backend},
		RateInterval: 20 * time.Millisecond,
	}, st, logger.NewNopLogger())

	errc := make(chan error, 1)
	go func() { errc <- d.srv.Start(context.Background()) }()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if c, err := client.Dial(&client.Options{SocketPath: d.socket}); err == nil {
			c.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("daemon did not start listening")
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Cleanup(func() {
		if err := d.srv.Shutdown(); err != nil {
			t.Errorf("Shutdown: %v", err)
		}
		if err := <-errc; err != nil {
			t.Errorf("Start: %v", err)
		}
		st.Close()
	})
	return d
}

type notifications struct {
	mu   sync.Mutex
	seen []*jrpc2.Request
	ch   chan string
}

func newNotifications() *notifications {
	return &notifications{ch: make(chan string, 1024)}
}

func (n *notifications) record(method string, req *jrpc2.Request) {
	n.mu.Lock()
	n.seen = append(n.seen, req)
	n.mu.Unlock()
	select {
	case n.ch <- method:
	default:
	}
}

func (n *notifications) waitFor(t *testing.T, method string, count int) {
	t.Helper()
	timeout := time.After(3 * time.Second)
	got := 0
	for got < count {
		select {
		case m := <-n.ch:
			if m == method {
				got++
			}
		case <-timeout:
			t.Fatalf("saw %d %s notifications, want %d", got, method, count)
		}
	}
}

func (n *notifications) params(method string) []*jrpc2.Request {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []*jrpc2.Request
	for _, r := range n.seen {
		if r.Method() == method {
			out = append(out, r)
		}
	}
	return out
}

func (d *testDaemon) dial(t *testing.T, n *notifications) *client.Client {
	t.Helper()
	opts := &client.Options{SocketPath: d.socket}
	if n != nil {
		opts.OnNotify = n.record
	}
	c, err := client.Dial(opts)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	// One round trip so the connection is registered for notifications.
	if _, err := c.Version(context.Background()); err != nil {
		t.Fatalf("Version: %v", err)
	}
	return c
}

func errCode(err error) jrpc2.Code {
	var e *jrpc2.Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}

func waitRun(t *testing.T, st *store.Store, kind string) *store.Run {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		runs, err := st.Runs(context.Background(), 0)
		if err != nil {
			t.Fatalf("Runs: %v", err)
		}
		for _, r := range runs {
			if r.Kind == kind && r.Finished() {
				return r
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no finished %s run", kind)
	return nil
}

func TestVersionAndNoProfile(t *testing.T) {
	d := startDaemon(t)
	c := d.dial(t, nil)
	ctx := context.Background()

	v, err := c.Version(ctx)
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	if v.Version != "1.2.3" || v.Commit != "abc" {
		t.Fatalf("version = %+v", v)
	}
	if _, err := c.PlayerStatus(ctx); errCode(err) != codeNoProfile {
		t.Fatalf("PlayerStatus err = %v, want no profile", err)
	}
	if err := c.StopPlayer(ctx); errCode(err) != codeNoProfile {
		t.Fatalf("StopPlayer err = %v, want no profile", err)
	}
	if _, err := c.Load(ctx, "missing"); errCode(err) != codeNotFound {
		t.Fatalf("Load err = %v, want not found", err)
	}
}

func TestPlayPushesNotifications(t *testing.T) {
	d := startDaemon(t)
	n := newNotifications()
	c := d.dial(t, n)
	ctx := context.Background()

	st, err := c.Load(ctx, "quick")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if st.NumStates != 2 || st.State != "stopped" || len(st.Pins) != 2 {
		t.Fatalf("status = %+v", st)
	}
	st, err = c.Play(ctx, "", 0)
	if err != nil {
		t.Fatalf("Play: %v", err)
	}
	if st.RunID == "" {
		t.Fatal("missing run id")
	}

	n.waitFor(t, common.NotifyPlayerDone, 1)

	changed := n.params(common.NotifyStateChanged)
	if len(changed) != 1 {
		t.Fatalf("got %d stateChanged notifications, want 1", len(changed))
	}
	var sc common.StateChangedNotification
	if err := changed[0].UnmarshalParams(&sc); err != nil {
		t.Fatal(err)
	}
	if sc.State != 1 {
		t.Fatalf("stateChanged = %d, want 1", sc.State)
	}
	var done common.DoneNotification
	if err := n.params(common.NotifyPlayerDone)[0].UnmarshalParams(&done); err != nil {
		t.Fatal(err)
	}
	if done.Profile != "quick" || done.RunID != st.RunID || done.Error != "" {
		t.Fatalf("done = %+v", done)
	}

	run := waitRun(t, d.store, store.KindPlaylist)
	if run.Outcome != store.OutcomeFinished || run.ID != st.RunID {
		t.Fatalf("run = %+v", run)
	}
	if v := d.backend.Port(0x20).Value(); v != 0x02 {
		t.Fatalf("port = %#x, want 0x02", v)
	}
}

func TestBusyAndStop(t *testing.T) {
	d := startDaemon(t)
	c := d.dial(t, nil)
	ctx := context.Background()

	if _, err := c.Play(ctx, "slow", 0); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if _, err := c.Play(ctx, "", 0); errCode(err) != codeBusy {
		t.Fatalf("second Play err = %v, want busy", err)
	}
	if _, err := c.Load(ctx, "quick"); errCode(err) != codeBusy {
		t.Fatalf("Load err = %v, want busy", err)
	}
	if err := c.PausePlayer(ctx, true); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	st, err := c.PlayerStatus(ctx)
	if err != nil {
		t.Fatalf("PlayerStatus: %v", err)
	}
	if st.State != "paused" {
		t.Fatalf("state = %s, want paused", st.State)
	}
	if err := c.StopPlayer(ctx); err != nil {
		t.Fatalf("StopPlayer: %v", err)
	}
	run := waitRun(t, d.store, store.KindPlaylist)
	if run.Outcome != store.OutcomeStopped {
		t.Fatalf("outcome = %s, want stopped", run.Outcome)
	}
	if err := c.PausePlayer(ctx, true); errCode(err) != codeNotRunning {
		t.Fatalf("Pause after stop err = %v, want not running", err)
	}
	if _, err := c.Load(ctx, "quick"); err != nil {
		t.Fatalf("Load after stop: %v", err)
	}
}

func TestTriggerRun(t *testing.T) {
	d := startDaemon(t)
	n := newNotifications()
	c := d.dial(t, n)
	ctx := context.Background()

	st, err := c.StartTrigger(ctx, "quick")
	if err != nil {
		t.Fatalf("StartTrigger: %v", err)
	}
	if st.Mode != "tick" || st.PeriodMs != 2 {
		t.Fatalf("status = %+v", st)
	}
	n.waitFor(t, common.NotifyTriggerFired, 5)

	if err := c.StopTrigger(ctx); err != nil {
		t.Fatalf("StopTrigger: %v", err)
	}
	st, err = c.TriggerStatus(ctx)
	if err != nil {
		t.Fatalf("TriggerStatus: %v", err)
	}
	if st.State != "stopped" || st.NextID < 5 {
		t.Fatalf("status = %+v", st)
	}

	var first common.TriggerFiredNotification
	if err := n.params(common.NotifyTriggerFired)[0].UnmarshalParams(&first); err != nil {
		t.Fatal(err)
	}
	if first.ID != 0 {
		t.Fatalf("first trigger id = %d, want 0", first.ID)
	}

	run := waitRun(t, d.store, store.KindTrigger)
	if run.Outcome != store.OutcomeStopped || run.Triggers < 5 {
		t.Fatalf("run = %+v", run)
	}
}

func TestSchedules(t *testing.T) {
	d := startDaemon(t)
	c := d.dial(t, nil)
	ctx := context.Background()

	tests := []struct {
		name   string
		params *common.ScheduleParams
		code   jrpc2.Code
	}{
		{"no profile", &common.ScheduleParams{Action: "play", At: time.Now().Add(time.Hour)}, codeInvalidParams},
		{"bad action", &common.ScheduleParams{Profile: "quick", Action: "dance", At: time.Now().Add(time.Hour)}, codeInvalidParams},
		{"unknown profile", &common.ScheduleParams{Profile: "nope", Action: "play", At: time.Now().Add(time.Hour)}, codeNotFound},
		{"past", &common.ScheduleParams{Profile: "quick", Action: "play", At: time.Now().Add(-time.Hour)}, codeInvalidParams},
		{"no time", &common.ScheduleParams{Profile: "quick", Action: "play"}, codeInvalidParams},
		{"bad cron", &common.ScheduleParams{Profile: "quick", Action: "play", Cron: "not cron"}, codeInvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := c.Schedule(ctx, tt.params); errCode(err) != tt.code {
				t.Fatalf("err = %v, want code %d", err, tt.code)
			}
		})
	}

	item, err := c.Schedule(ctx, &common.ScheduleParams{Profile: "quick", Action: "trigger", Cron: "0 3 * * *"})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if item.ID == "" || item.State != string(store.ScheduleStateScheduled) || !item.At.After(time.Now()) {
		t.Fatalf("item = %+v", item)
	}
	list, err := c.Schedules(ctx)
	if err != nil || len(list.Schedules) != 1 {
		t.Fatalf("Schedules = %+v, %v", list, err)
	}
	if err := c.Unschedule(ctx, item.ID); err != nil {
		t.Fatalf("Unschedule: %v", err)
	}
	if err := c.Unschedule(ctx, item.ID); errCode(err) != codeNotFound {
		t.Fatalf("second Unschedule err = %v, want not found", err)
	}
	list, err = c.Schedules(ctx)
	if err != nil || len(list.Schedules) != 0 {
		t.Fatalf("Schedules after remove = %+v, %v", list, err)
	}
}

func TestScheduledRunFires(t *testing.T) {
	d := startDaemon(t)
	n := newNotifications()
	c := d.dial(t, n)
	ctx := context.Background()

	item, err := c.Schedule(ctx, &common.ScheduleParams{Profile: "quick", Action: "play", At: time.Now().Add(100 * time.Millisecond)})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	n.waitFor(t, common.NotifyPlayerDone, 1)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		all, err := d.store.Schedules(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(all) == 1 && all[0].ID == item.ID && all[0].State == store.ScheduleStateFired {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("schedule not marked fired")
}

func TestRestoreSchedulesMarksMissed(t *testing.T) {
	dir, err := os.MkdirTemp("", "pp")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	st, err := store.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	ctx := context.Background()
	past := &store.Schedule{Profile: "quick", Action: "play", At: time.Now().Add(-time.Hour)}
	if err := st.AddSchedule(ctx, past); err != nil {
		t.Fatal(err)
	}

	srv := NewServer(&Config{SocketPath: filepath.Join(dir, "pp.sock")}, st, nil)
	srv.ctx, srv.cancel = context.WithCancel(ctx)
	defer srv.cancel()
	if err := srv.restoreSchedules(ctx); err != nil {
		t.Fatalf("restoreSchedules: %v", err)
	}
	all, err := st.Schedules(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if all[0].State != store.ScheduleStateMissed {
		t.Fatalf("state = %s, want missed", all[0].State)
	}
}

func TestWebSocketEndpoint(t *testing.T) {
	d := startDaemon(t)
	hs := httptest.NewServer(d.srv.handler())
	defer hs.Close()
	wsURL := "ws" + strings.TrimPrefix(hs.URL, "http") + WSPath

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, resp, err := cws.Dial(ctx, wsURL, nil)
	if err == nil {
		t.Fatal("expected unauthorized dial to fail")
	}
	if resp != nil && resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}

	conn, _, err := cws.Dial(ctx, wsURL, &cws.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + testSecret}},
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close(cws.StatusNormalClosure, "")

	req, _ := json.Marshal(map[string]any{"jsonrpc": "2.0", "method": common.MethodVersion, "id": 1})
	if err := conn.Write(ctx, cws.MessageText, req); err != nil {
		t.Fatalf("Write: %v", err)
	}
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	var out struct {
		Result common.VersionResult `json:"result"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if out.Result.Version != "1.2.3" {
		t.Fatalf("response = %s", data)
	}
}
