package stages

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"qbitmanage/internal/config"
	"qbitmanage/internal/pipeline"
	"qbitmanage/internal/qbittorrent"
	"qbitmanage/internal/qbittorrent/qbttest"
	logx "qbitmanage/pkg/logx"
)

func baseFile() *config.File {
	return &config.File{
		Settings: config.Settings{
			TrackerErrorTag: "issue",
			NoHardlinksTag:  "noHL",
			ShareLimitsTag:  config.DefaultShareLimitsTag,
		},
		Unregistered: config.UnregisteredConfig{Messages: config.DefaultUnregisteredMessages},
	}
}

func newSession(t *testing.T, f *config.File, cmds config.Commands) (*Session, *qbttest.Server) {
	t.Helper()
	srv := qbttest.NewServer()
	t.Cleanup(srv.Close)
	return NewSession("test.yml", f, cmds, srv.Client(), nil, logx.Nop()), srv
}

func run(t *testing.T, s *Session, kind pipeline.StageKind) pipeline.Result {
	t.Helper()
	res, err := s.Stage(kind).Run(context.Background())
	if err != nil {
		t.Fatalf("%s: %v", kind, err)
	}
	return res
}

func days(n int) *int { return &n }

func TestEnabled(t *testing.T) {
	t.Parallel()
	off := false
	tests := []struct {
		name string
		cmds config.Commands
		edit func(*config.File)
		kind pipeline.StageKind
		want bool
	}{
		{"cat", config.Commands{CatUpdate: true}, nil, pipeline.CategoryUpdate, true},
		{"cat off", config.Commands{TagUpdate: true}, nil, pipeline.CategoryUpdate, false},
		{"tracker error alone", config.Commands{TagTrackerError: true}, nil, pipeline.Unregistered, true},
		{"rem unregistered", config.Commands{RemUnregistered: true}, nil, pipeline.Unregistered, true},
		{"recheck", config.Commands{Recheck: true}, nil, pipeline.Recheck, true},
		{"nohardlinks", config.Commands{TagNoHardlinks: true}, nil, pipeline.NoHardlinks, true},
		{"share limits", config.Commands{ShareLimits: true}, nil, pipeline.ShareLimits, true},
		{"orphaned", config.Commands{RemOrphaned: true}, nil, pipeline.OrphanedFiles, true},
		{"recycle bin", config.Commands{}, func(f *config.File) { f.Directory.RecycleBin = "/r" }, pipeline.RecycleBin, true},
		{"recycle bin skip cleanup", config.Commands{SkipCleanup: true}, func(f *config.File) { f.Directory.RecycleBin = "/r" }, pipeline.RecycleBin, false},
		{"recycle bin disabled", config.Commands{}, func(f *config.File) {
			f.Directory.RecycleBin = "/r"
			f.RecycleBin.Enabled = &off
		}, pipeline.RecycleBin, false},
		{"orphaned dir", config.Commands{}, func(f *config.File) { f.Directory.OrphanedDir = "/o" }, pipeline.OrphanedDir, true},
		{"orphaned dir skip cleanup", config.Commands{SkipCleanup: true}, func(f *config.File) { f.Directory.OrphanedDir = "/o" }, pipeline.OrphanedDir, false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := baseFile()
			if tt.edit != nil {
				tt.edit(f)
			}
			s := NewSession("x.yml", f, tt.cmds, nil, nil, logx.Nop())
			if got := s.Enabled(tt.kind); got != tt.want {
				t.Fatalf("Enabled(%s) = %v, want %v", tt.kind, got, tt.want)
			}
			if s.Stage(tt.kind) == nil {
				t.Fatalf("Stage(%s) = nil", tt.kind)
			}
		})
	}
}

func TestUpdateCategories(t *testing.T) {
	t.Parallel()
	for _, dry := range []bool{false, true} {
		dry := dry
		t.Run(fmt.Sprintf("dry_run=%v", dry), func(t *testing.T) {
			t.Parallel()
			f := baseFile()
			f.Cat = map[string]string{"movies": "/data/movies", "movies-4k": "/data/movies/4k", "tv": "/data/tv"}
			s, srv := newSession(t, f, config.Commands{CatUpdate: true, DryRun: dry})
			srv.AddTorrent(qbittorrent.Torrent{Hash: "a", Name: "a", SavePath: "/data/movies/4k/"})
			srv.AddTorrent(qbittorrent.Torrent{Hash: "b", Name: "b", SavePath: "/data/tv", Category: "tv"})
			srv.AddTorrent(qbittorrent.Torrent{Hash: "c", Name: "c", SavePath: "/elsewhere"})
			srv.AddTorrent(qbittorrent.Torrent{Hash: "d", Name: "d", SavePath: "/data/moviesx"})

			res := run(t, s, pipeline.CategoryUpdate)
			if res.Count != 1 {
				t.Fatalf("Count = %d, want 1", res.Count)
			}
			got, _ := srv.Torrent("a")
			if dry {
				if got.Category != "" || len(srv.Calls("")) != 0 {
					t.Fatalf("dry run mutated: %+v calls=%v", got, srv.Calls(""))
				}
				return
			}
			if got.Category != "movies-4k" {
				t.Fatalf("category = %q", got.Category)
			}
			if len(srv.Calls("torrents/createCategory")) != 1 {
				t.Fatal("category not created")
			}
		})
	}
}

func TestUpdateTags(t *testing.T) {
	t.Parallel()
	f := baseFile()
	f.Tracker = map[string]config.TrackerRule{
		"example.org":         {Tag: config.StringList{"ex"}},
		"tracker.example.org": {Tag: config.StringList{"tex", "ex"}},
	}
	s, srv := newSession(t, f, config.Commands{TagUpdate: true})
	srv.AddTorrent(qbittorrent.Torrent{Hash: "a", Tracker: "https://TRACKER.example.org/announce"})
	srv.AddTorrent(qbittorrent.Torrent{Hash: "b"},
		qbittorrent.Tracker{URL: "** [DHT] **", Status: qbittorrent.TrackerWorking},
		qbittorrent.Tracker{URL: "https://foo.example.org/a", Status: qbittorrent.TrackerWorking},
	)
	srv.AddTorrent(qbittorrent.Torrent{Hash: "c", Tracker: "https://example.org/a", Tags: "ex"})
	srv.AddTorrent(qbittorrent.Torrent{Hash: "d", Tracker: "https://other.net/a"})

	if res := run(t, s, pipeline.TagUpdate); res.Count != 2 {
		t.Fatalf("Count = %d, want 2", res.Count)
	}
	if a, _ := srv.Torrent("a"); !a.HasTag("tex") || !a.HasTag("ex") {
		t.Fatalf("a tags = %q", a.Tags)
	}
	if b, _ := srv.Torrent("b"); !b.HasTag("ex") {
		t.Fatalf("b tags = %q", b.Tags)
	}
}

func TestCheckTrackers(t *testing.T) {
	t.Parallel()
	unreg := qbittorrent.Tracker{URL: "https://t.example/a", Status: qbittorrent.TrackerNotWorking, Msg: "Unregistered torrent"}
	down := qbittorrent.Tracker{URL: "https://t.example/a", Status: qbittorrent.TrackerNotWorking, Msg: "timed out"}
	up := qbittorrent.Tracker{URL: "https://t.example/a", Status: qbittorrent.TrackerWorking}

	s, srv := newSession(t, baseFile(), config.Commands{RemUnregistered: true, TagTrackerError: true})
	srv.AddTorrent(qbittorrent.Torrent{Hash: "u1", ContentPath: "/data/u1"}, unreg)
	srv.AddTorrent(qbittorrent.Torrent{Hash: "u2", ContentPath: "/data/shared"}, unreg)
	srv.AddTorrent(qbittorrent.Torrent{Hash: "x", ContentPath: "/data/shared"}, up)
	srv.AddTorrent(qbittorrent.Torrent{Hash: "broken"}, down)
	srv.AddTorrent(qbittorrent.Torrent{Hash: "healed", Tags: "issue"}, up)

	res := run(t, s, pipeline.Unregistered)
	want := pipeline.Result{Tagged: 1, Untagged: 1, Deleted: 1, DeletedContents: 1}
	if res != want {
		t.Fatalf("result = %+v, want %+v", res, want)
	}
	for _, h := range []string{"u1", "u2"} {
		if _, ok := srv.Torrent(h); ok {
			t.Fatalf("%s not deleted", h)
		}
	}
	deletes := map[string]string{}
	for _, c := range srv.Calls("torrents/delete") {
		deletes[c.Form["hashes"]] = c.Form["deleteFiles"]
	}
	if deletes["u1"] != "true" || deletes["u2"] != "false" {
		t.Fatalf("delete calls = %v", deletes)
	}
	if b, _ := srv.Torrent("broken"); !b.HasTag("issue") {
		t.Fatal("broken torrent not tagged")
	}
	if h, _ := srv.Torrent("healed"); h.HasTag("issue") {
		t.Fatal("healed torrent still tagged")
	}
}

func TestCheckTrackersTagOnly(t *testing.T) {
	t.Parallel()
	s, srv := newSession(t, baseFile(), config.Commands{TagTrackerError: true})
	srv.AddTorrent(qbittorrent.Torrent{Hash: "u"},
		qbittorrent.Tracker{URL: "https://t.example/a", Status: qbittorrent.TrackerNotWorking, Msg: "torrent not found"})

	if res := run(t, s, pipeline.Unregistered); res.Tagged != 1 || res.Deleted+res.DeletedContents != 0 {
		t.Fatalf("result = %+v", res)
	}
	if _, ok := srv.Torrent("u"); !ok {
		t.Fatal("torrent removed without rem_unregistered")
	}
}

func TestRecheck(t *testing.T) {
	t.Parallel()
	s, srv := newSession(t, baseFile(), config.Commands{Recheck: true})
	srv.AddTorrent(qbittorrent.Torrent{Hash: "paused", State: "pausedUP", Progress: 1})
	srv.AddTorrent(qbittorrent.Torrent{Hash: "limited", State: "stoppedUP", Progress: 1, Ratio: 3, RatioLimit: 2})
	srv.AddTorrent(qbittorrent.Torrent{Hash: "err", State: "missingFiles", Progress: 0.4, AmountLeft: 10})
	srv.AddTorrent(qbittorrent.Torrent{Hash: "dl", State: "downloading", Progress: 0.5, AmountLeft: 10})

	res := run(t, s, pipeline.Recheck)
	if res.Resumed != 1 || res.Rechecked != 1 {
		t.Fatalf("result = %+v", res)
	}
	if p, _ := srv.Torrent("paused"); p.Paused() {
		t.Fatal("paused torrent not resumed")
	}
	if l, _ := srv.Torrent("limited"); !l.Paused() {
		t.Fatal("torrent at its share limit was resumed")
	}
	if e, _ := srv.Torrent("err"); e.State != "checkingUP" {
		t.Fatalf("err state = %q", e.State)
	}
}

func TestApplyShareLimits(t *testing.T) {
	t.Parallel()
	f := baseFile()
	f.ShareLimits = &config.ShareLimitsConfig{
		MaxRatio:       2,
		MaxSeedingTime: "1h",
		Categories:     []string{"movies"},
		Cleanup:        true,
	}
	s, srv := newSession(t, f, config.Commands{ShareLimits: true})
	srv.AddTorrent(qbittorrent.Torrent{Hash: "a", Category: "movies", Progress: 1, Ratio: 0.5, RatioLimit: -2, SeedingTimeLimit: -2})
	srv.AddTorrent(qbittorrent.Torrent{Hash: "b", Category: "movies", Progress: 1, Ratio: 3, ContentPath: "/data/b"})
	srv.AddTorrent(qbittorrent.Torrent{Hash: "c", Category: "tv", Progress: 1})
	srv.AddTorrent(qbittorrent.Torrent{Hash: "d", Category: "movies", Progress: 1, RatioLimit: 2, SeedingTimeLimit: 60, Tags: "~share_limit"})
	srv.AddTorrent(qbittorrent.Torrent{Hash: "e", Category: "movies", Progress: 0.2})

	res := run(t, s, pipeline.ShareLimits)
	if want := (pipeline.Result{Tagged: 1, Deleted: 1}); res != want {
		t.Fatalf("result = %+v, want %+v", res, want)
	}
	a, _ := srv.Torrent("a")
	if a.RatioLimit != 2 || a.SeedingTimeLimit != 60 || !a.HasTag("~share_limit") {
		t.Fatalf("a = %+v", a)
	}
	if _, ok := srv.Torrent("b"); ok {
		t.Fatal("b not cleaned up")
	}
}

func TestTagNoHardlinks(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	for _, p := range []string{"single/a.mkv", "linked/b.mkv"} {
		writeFile(t, filepath.Join(root, p), time.Now())
	}
	if err := os.Link(filepath.Join(root, "linked/b.mkv"), filepath.Join(root, "b-link.mkv")); err != nil {
		t.Skipf("hard links unsupported: %v", err)
	}

	f := baseFile()
	f.NoHardlinks = []string{"movies"}
	s, srv := newSession(t, f, config.Commands{TagNoHardlinks: true})
	srv.AddTorrent(qbittorrent.Torrent{Hash: "a", Category: "movies", Progress: 1, SavePath: filepath.Join(root, "single")})
	srv.SetFiles("a", qbittorrent.File{Name: "a.mkv"})
	srv.AddTorrent(qbittorrent.Torrent{Hash: "b", Category: "movies", Progress: 1, SavePath: filepath.Join(root, "linked"), Tags: "noHL"})
	srv.SetFiles("b", qbittorrent.File{Name: "b.mkv"})
	srv.AddTorrent(qbittorrent.Torrent{Hash: "gone", Category: "movies", Progress: 1, SavePath: filepath.Join(root, "missing")})
	srv.SetFiles("gone", qbittorrent.File{Name: "x.mkv"})

	res := run(t, s, pipeline.NoHardlinks)
	if res.Tagged != 1 || res.Untagged != 1 {
		t.Fatalf("result = %+v", res)
	}
	if a, _ := srv.Torrent("a"); !a.HasTag("noHL") {
		t.Fatal("a not tagged")
	}
	if b, _ := srv.Torrent("b"); b.HasTag("noHL") {
		t.Fatal("b still tagged")
	}
}

func TestMoveOrphaned(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	now := time.Now()
	for _, p := range []string{"movies/a.mkv", "movies/extra/a.nfo", "dl.!qB", ".RecycleBin/old.mkv"} {
		writeFile(t, filepath.Join(root, p), now)
	}

	f := baseFile()
	f.Directory = config.DirectoryConfig{
		RootDir:     root,
		RemoteDir:   "/remote",
		RecycleBin:  filepath.Join(root, ".RecycleBin"),
		OrphanedDir: filepath.Join(root, "orphaned_data"),
	}
	f.Orphaned.ExcludePatterns = []string{"**/*.!qB"}
	s, srv := newSession(t, f, config.Commands{RemOrphaned: true})
	srv.AddTorrent(qbittorrent.Torrent{Hash: "a", SavePath: "/remote/movies"})
	srv.SetFiles("a", qbittorrent.File{Name: "a.mkv"})

	if res := run(t, s, pipeline.OrphanedFiles); res.Count != 1 {
		t.Fatalf("Count = %d, want 1", res.Count)
	}
	if _, err := os.Stat(filepath.Join(root, "orphaned_data", "movies", "extra", "a.nfo")); err != nil {
		t.Fatalf("orphan not moved: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "movies", "extra")); !os.IsNotExist(err) {
		t.Fatalf("emptied directory left behind: %v", err)
	}
	for _, p := range []string{"movies/a.mkv", "dl.!qB", ".RecycleBin/old.mkv"} {
		if _, err := os.Stat(filepath.Join(root, p)); err != nil {
			t.Fatalf("%s touched: %v", p, err)
		}
	}
}

func TestEmptyDir(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	writeFile(t, filepath.Join(dir, "old", "a.mkv"), now.AddDate(0, 0, -10))
	writeFile(t, filepath.Join(dir, "new.mkv"), now.AddDate(0, 0, -1))

	f := baseFile()
	f.Directory.RecycleBin = dir
	f.RecycleBin.EmptyAfterDays = days(7)
	s := NewSession("x.yml", f, config.Commands{}, nil, nil, logx.Nop())
	s.now = func() time.Time { return now }

	if res := run(t, s, pipeline.RecycleBin); res.Count != 1 {
		t.Fatalf("Count = %d, want 1", res.Count)
	}
	if _, err := os.Stat(filepath.Join(dir, "old")); !os.IsNotExist(err) {
		t.Fatalf("old dir not removed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "new.mkv")); err != nil {
		t.Fatalf("new file removed: %v", err)
	}

	// unset retention keeps everything
	f.RecycleBin.EmptyAfterDays = nil
	if res := run(t, s, pipeline.RecycleBin); res.Count != 0 {
		t.Fatalf("Count = %d with no retention", res.Count)
	}
	// missing directory is not an error
	f.Directory.OrphanedDir = filepath.Join(dir, "absent")
	f.Orphaned.EmptyAfterDays = days(0)
	if res := run(t, s, pipeline.OrphanedDir); res.Count != 0 {
		t.Fatalf("Count = %d for missing dir", res.Count)
	}
}

func TestRemoveTorrentRecycles(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "movies", "a", "a.mkv"), time.Now())

	f := baseFile()
	f.Directory = config.DirectoryConfig{RootDir: root, RemoteDir: root, RecycleBin: filepath.Join(root, ".RecycleBin")}
	s, srv := newSession(t, f, config.Commands{RemUnregistered: true})
	srv.AddTorrent(qbittorrent.Torrent{Hash: "a", ContentPath: filepath.Join(root, "movies", "a")},
		qbittorrent.Tracker{URL: "https://t.example/a", Status: qbittorrent.TrackerNotWorking, Msg: "unregistered"})

	if res := run(t, s, pipeline.Unregistered); res.DeletedContents != 1 {
		t.Fatalf("result = %+v", res)
	}
	if _, err := os.Stat(filepath.Join(root, ".RecycleBin", "movies", "a", "a.mkv")); err != nil {
		t.Fatalf("content not recycled: %v", err)
	}
	calls := srv.Calls("torrents/delete")
	if len(calls) != 1 || calls[0].Form["deleteFiles"] != "false" {
		t.Fatalf("delete calls = %+v", calls)
	}
}

func TestLoader(t *testing.T) {
	t.Parallel()
	srv := qbttest.NewServer()
	defer srv.Close()
	var hooks atomic.Int32
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hooks.Add(1)
	}))
	defer hook.Close()

	dir := t.TempDir()
	good := fmt.Sprintf("qbt: {host: %q, user: %q, pass: %q}\ncommands: {cat_update: true}\nnotifications: {webhooks: [%q]}\n",
		srv.URL, qbttest.User, qbttest.Pass, hook.URL)
	bad := fmt.Sprintf("qbt: {host: %q, user: %q, pass: wrong}\n", srv.URL, qbttest.User)
	if err := os.WriteFile(filepath.Join(dir, "good.yml"), []byte(good), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "bad.yml"), []byte(bad), 0o600); err != nil {
		t.Fatal(err)
	}

	l := NewLoader(config.NewLoader(dir, logx.Nop()), config.Commands{DryRun: true}, nil, logx.Nop())
	ctx := context.Background()

	s, err := l.Load(ctx, "good.yml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer s.Close()
	if c := s.Commands(); !c.CatUpdate || !c.DryRun {
		t.Fatalf("commands = %+v", c)
	}
	if s.Notifier() == nil {
		t.Fatal("webhook notifier not built")
	}
	if s.Labels().TrackerErrorTag != "issue" {
		t.Fatalf("labels = %+v", s.Labels())
	}

	if _, err := l.Load(ctx, "bad.yml"); err == nil {
		t.Fatal("bad credentials accepted")
	}
	if _, err := l.Load(ctx, "missing.yml"); err == nil {
		t.Fatal("missing file accepted")
	}
}

func writeFile(t *testing.T, path string, mod time.Time) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, mod, mod); err != nil {
		t.Fatal(err)
	}
}
