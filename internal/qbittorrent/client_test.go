package qbittorrent_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"qbitmanage/internal/qbittorrent"
	"qbitmanage/internal/qbittorrent/qbttest"
)

func TestLoginFailure(t *testing.T) {
	t.Parallel()
	srv := qbttest.NewServer()
	defer srv.Close()

	c := qbittorrent.NewClient(srv.URL, "admin", "wrong", 0)
	if _, err := c.Torrents(context.Background()); !errors.Is(err, qbittorrent.ErrLoginFailed) {
		t.Fatalf("err = %v, want ErrLoginFailed", err)
	}
}

func TestTorrentsAndMutations(t *testing.T) {
	t.Parallel()
	srv := qbttest.NewServer()
	defer srv.Close()
	srv.AddTorrent(qbittorrent.Torrent{Hash: "aaa", Name: "one", Tags: "x, y"})
	srv.AddTorrent(qbittorrent.Torrent{Hash: "bbb", Name: "two"})

	ctx := context.Background()
	c := srv.Client()

	ts, err := c.Torrents(ctx)
	if err != nil {
		t.Fatalf("Torrents: %v", err)
	}
	if len(ts) != 2 || ts[0].Hash != "aaa" {
		t.Fatalf("torrents = %+v", ts)
	}
	if got := ts[0].TagList(); len(got) != 2 || got[1] != "y" {
		t.Fatalf("TagList = %v", got)
	}

	if err := c.AddTags(ctx, []string{"bbb"}, []string{"z"}); err != nil {
		t.Fatal(err)
	}
	if tr, _ := srv.Torrent("bbb"); !tr.HasTag("z") {
		t.Fatalf("tag not added: %+v", tr)
	}
	if err := c.RemoveTags(ctx, []string{"aaa"}, []string{"x"}); err != nil {
		t.Fatal(err)
	}
	if tr, _ := srv.Torrent("aaa"); tr.Tags != "y" {
		t.Fatalf("tags = %q", tr.Tags)
	}

	if err := c.SetCategory(ctx, []string{"aaa"}, "movies"); err == nil {
		t.Fatal("unknown category should fail")
	} else {
		var se *qbittorrent.StatusError
		if !errors.As(err, &se) || se.Code != http.StatusConflict {
			t.Fatalf("err = %v", err)
		}
	}
	if err := c.CreateCategory(ctx, "movies", "/data/movies"); err != nil {
		t.Fatal(err)
	}
	if err := c.SetCategory(ctx, []string{"aaa"}, "movies"); err != nil {
		t.Fatal(err)
	}

	if err := c.Delete(ctx, []string{"bbb"}, true); err != nil {
		t.Fatal(err)
	}
	calls := srv.Calls("torrents/delete")
	if len(calls) != 1 || calls[0].Form["deleteFiles"] != "true" || calls[0].Form["hashes"] != "bbb" {
		t.Fatalf("delete calls = %+v", calls)
	}
	if _, ok := srv.Torrent("bbb"); ok {
		t.Fatal("torrent not deleted")
	}
}

func TestReloginOnForbidden(t *testing.T) {
	t.Parallel()
	srv := qbttest.NewServer()
	defer srv.Close()
	ctx := context.Background()
	c := srv.Client()

	if _, err := c.Torrents(ctx); err != nil {
		t.Fatal(err)
	}
	srv.ExpireSessions()
	if _, err := c.Torrents(ctx); err != nil {
		t.Fatalf("after expiry: %v", err)
	}
	if srv.Logins() != 2 {
		t.Fatalf("logins = %d, want 2", srv.Logins())
	}
}

func TestResumeFallsBackToStart(t *testing.T) {
	t.Parallel()
	srv := qbttest.NewServer()
	defer srv.Close()
	srv.DisableResume()
	srv.AddTorrent(qbittorrent.Torrent{Hash: "aaa", State: "stoppedUP"})

	if err := srv.Client().Resume(context.Background(), []string{"aaa"}); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if len(srv.Calls("torrents/start")) != 1 {
		t.Fatal("start endpoint not used")
	}
	if tr, _ := srv.Torrent("aaa"); tr.Paused() {
		t.Fatalf("still paused: %+v", tr)
	}
}

func TestTrackerHelpers(t *testing.T) {
	t.Parallel()
	if !(qbittorrent.Tracker{URL: "** [DHT] **"}).IsDHT() {
		t.Fatal("DHT not detected")
	}
	if (qbittorrent.Torrent{State: "pausedUP"}).Paused() != true {
		t.Fatal("pausedUP")
	}
}
