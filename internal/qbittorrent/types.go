package qbittorrent

import (
	"strings"
	"time"
)

// Torrent is one entry of torrents/info.
type Torrent struct {
	Hash             string  `json:"hash"`
	Name             string  `json:"name"`
	Size             int64   `json:"size"`
	Progress         float64 `json:"progress"`
	State            string  `json:"state"`
	Category         string  `json:"category"`
	Tags             string  `json:"tags"`
	SavePath         string  `json:"save_path"`
	ContentPath      string  `json:"content_path"`
	Tracker          string  `json:"tracker"`
	Ratio            float64 `json:"ratio"`
	RatioLimit       float64 `json:"ratio_limit"`
	SeedingTime      int64   `json:"seeding_time"`
	SeedingTimeLimit int64   `json:"seeding_time_limit"`
	AmountLeft       int64   `json:"amount_left"`
	AddedOn          int64   `json:"added_on"`
	CompletionOn     int64   `json:"completion_on"`
}

// TagList splits the comma separated tag string.
func (t Torrent) TagList() []string {
	if strings.TrimSpace(t.Tags) == "" {
		return nil
	}
	parts := strings.Split(t.Tags, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (t Torrent) HasTag(tag string) bool {
	for _, x := range t.TagList() {
		if x == tag {
			return true
		}
	}
	return false
}

func (t Torrent) Complete() bool { return t.Progress >= 1 }

// Paused reports whether the torrent is stopped (qBittorrent 4 "paused*",
// qBittorrent 5 "stopped*").
func (t Torrent) Paused() bool {
	return strings.HasPrefix(t.State, "paused") || strings.HasPrefix(t.State, "stopped")
}

func (t Torrent) Errored() bool { return t.State == "error" || t.State == "missingFiles" }

func (t Torrent) SeedingFor() time.Duration { return time.Duration(t.SeedingTime) * time.Second }

// Tracker status codes from torrents/trackers.
const (
	TrackerDisabled     = 0
	TrackerNotContacted = 1
	TrackerWorking      = 2
	TrackerUpdating     = 3
	TrackerNotWorking   = 4
)

type Tracker struct {
	URL    string `json:"url"`
	Status int    `json:"status"`
	Msg    string `json:"msg"`
}

// IsDHT reports the pseudo trackers (DHT, PeX, LSD) listed for every torrent.
func (t Tracker) IsDHT() bool { return strings.HasPrefix(t.URL, "** [") }

type File struct {
	Index    int     `json:"index"`
	Name     string  `json:"name"`
	Size     int64   `json:"size"`
	Progress float64 `json:"progress"`
	Priority int     `json:"priority"`
}

type Category struct {
	Name     string `json:"name"`
	SavePath string `json:"savePath"`
}
