// Package qbttest provides an in-memory qBittorrent Web API for tests.
package qbttest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"

	"qbitmanage/internal/qbittorrent"
)

const (
	User = "admin"
	Pass = "adminadmin"
)

// Call is one recorded mutating request.
type Call struct {
	Endpoint string
	Form     map[string]string
}

type Server struct {
	*httptest.Server

	mu         sync.Mutex
	torrents   map[string]*qbittorrent.Torrent
	trackers   map[string][]qbittorrent.Tracker
	files      map[string][]qbittorrent.File
	categories map[string]qbittorrent.Category
	calls      []Call
	sessions   map[string]bool
	logins     int
	nextSID    int
	noResume   bool
}

func NewServer() *Server {
	s := &Server{
		torrents:   map[string]*qbittorrent.Torrent{},
		trackers:   map[string][]qbittorrent.Tracker{},
		files:      map[string][]qbittorrent.File{},
		categories: map[string]qbittorrent.Category{},
		sessions:   map[string]bool{},
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

// Client returns a client using the fake credentials.
func (s *Server) Client() *qbittorrent.Client {
	return qbittorrent.NewClient(s.URL, User, Pass, 0)
}

func (s *Server) AddTorrent(t qbittorrent.Torrent, trackers ...qbittorrent.Tracker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tt := t
	s.torrents[t.Hash] = &tt
	s.trackers[t.Hash] = trackers
}

func (s *Server) SetFiles(hash string, files ...qbittorrent.File) {
	s.mu.Lock()
	s.files[hash] = files
	s.mu.Unlock()
}

// Torrent returns a copy of the stored torrent.
func (s *Server) Torrent(hash string) (qbittorrent.Torrent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.torrents[hash]
	if !ok {
		return qbittorrent.Torrent{}, false
	}
	return *t, true
}

// DisableResume answers 404 on torrents/resume like qBittorrent 5.
func (s *Server) DisableResume() {
	s.mu.Lock()
	s.noResume = true
	s.mu.Unlock()
}

func (s *Server) Calls(endpoint string) []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Call
	for _, c := range s.calls {
		if endpoint == "" || c.Endpoint == endpoint {
			out = append(out, c)
		}
	}
	return out
}

func (s *Server) Logins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logins
}

// ExpireSessions forgets every session cookie, so the next call gets 403.
func (s *Server) ExpireSessions() {
	s.mu.Lock()
	s.sessions = map[string]bool{}
	s.mu.Unlock()
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	endpoint := strings.TrimPrefix(r.URL.Path, "/api/v2/")
	_ = r.ParseForm()

	s.mu.Lock()
	defer s.mu.Unlock()

	if endpoint == "auth/login" {
		if r.Form.Get("username") != User || r.Form.Get("password") != Pass {
			_, _ = w.Write([]byte("Fails."))
			return
		}
		s.logins++
		s.nextSID++
		sid := strconv.Itoa(s.nextSID)
		s.sessions[sid] = true
		http.SetCookie(w, &http.Cookie{Name: "SID", Value: sid, Path: "/"})
		_, _ = w.Write([]byte("Ok."))
		return
	}
	if c, err := r.Cookie("SID"); err != nil || !s.sessions[c.Value] {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	if r.Method == http.MethodPost {
		form := map[string]string{}
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
		s.calls = append(s.calls, Call{Endpoint: endpoint, Form: form})
	}

	hashes := strings.Split(r.Form.Get("hashes"), "|")
	switch endpoint {
	case "app/version":
		_, _ = w.Write([]byte("v4.6.2"))
	case "torrents/info":
		out := make([]qbittorrent.Torrent, 0, len(s.torrents))
		for _, t := range s.torrents {
			out = append(out, *t)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Hash < out[j].Hash })
		writeJSON(w, out)
	case "torrents/trackers":
		writeJSON(w, nonNil(s.trackers[r.Form.Get("hash")]))
	case "torrents/files":
		writeJSON(w, nonNil(s.files[r.Form.Get("hash")]))
	case "torrents/categories":
		writeJSON(w, s.categories)
	case "torrents/createCategory":
		name := r.Form.Get("category")
		s.categories[name] = qbittorrent.Category{Name: name, SavePath: r.Form.Get("savePath")}
	case "torrents/setCategory":
		cat := r.Form.Get("category")
		if _, ok := s.categories[cat]; !ok && cat != "" {
			w.WriteHeader(http.StatusConflict)
			return
		}
		s.each(hashes, func(t *qbittorrent.Torrent) { t.Category = cat })
	case "torrents/addTags":
		tags := strings.Split(r.Form.Get("tags"), ",")
		s.each(hashes, func(t *qbittorrent.Torrent) {
			for _, tag := range tags {
				if !t.HasTag(tag) {
					t.Tags = strings.Join(append(t.TagList(), tag), ", ")
				}
			}
		})
	case "torrents/removeTags":
		drop := map[string]bool{}
		for _, tag := range strings.Split(r.Form.Get("tags"), ",") {
			drop[tag] = true
		}
		s.each(hashes, func(t *qbittorrent.Torrent) {
			var keep []string
			for _, tag := range t.TagList() {
				if !drop[tag] {
					keep = append(keep, tag)
				}
			}
			t.Tags = strings.Join(keep, ", ")
		})
	case "torrents/delete":
		for _, h := range hashes {
			delete(s.torrents, h)
		}
	case "torrents/recheck":
		s.each(hashes, func(t *qbittorrent.Torrent) { t.State = "checkingUP" })
	case "torrents/resume", "torrents/start":
		if endpoint == "torrents/resume" && s.noResume {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		s.each(hashes, func(t *qbittorrent.Torrent) { t.State = "stalledUP" })
	case "torrents/setShareLimits":
		ratio, _ := strconv.ParseFloat(r.Form.Get("ratioLimit"), 64)
		mins, _ := strconv.ParseInt(r.Form.Get("seedingTimeLimit"), 10, 64)
		s.each(hashes, func(t *qbittorrent.Torrent) {
			t.RatioLimit = ratio
			t.SeedingTimeLimit = mins
		})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (s *Server) each(hashes []string, fn func(*qbittorrent.Torrent)) {
	for _, h := range hashes {
		if t, ok := s.torrents[h]; ok {
			fn(t)
		}
	}
}

func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
