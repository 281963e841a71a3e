// Package stages binds a loaded configuration file to a qBittorrent client
// and implements the maintenance pipeline stages against it.
package stages

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"qbitmanage/internal/config"
	"qbitmanage/internal/notifier"
	"qbitmanage/internal/pipeline"
	"qbitmanage/internal/qbittorrent"
	"qbitmanage/internal/stats"
	logx "qbitmanage/pkg/logx"
)

// Session is one configuration ready to run: the decoded file, the effective
// commands and an authenticated client.
type Session struct {
	id       string
	file     *config.File
	cmds     config.Commands
	qbt      *qbittorrent.Client
	notifier notifier.Notifier
	log      logx.Logger
	now      func() time.Time
}

// NewSession builds a session without touching the network. cmds is the
// effective command set (file commands already merged with the CLI ones).
func NewSession(id string, f *config.File, cmds config.Commands, qbt *qbittorrent.Client, n notifier.Notifier, log logx.Logger) *Session {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Session{
		id:       id,
		file:     f,
		cmds:     cmds,
		qbt:      qbt,
		notifier: n,
		log:      log.With(logx.String("comp", "stages"), logx.String("config", id)),
		now:      time.Now,
	}
}

func (s *Session) ID() string                { return s.id }
func (s *Session) Commands() config.Commands { return s.cmds }

// Enabled reports whether a stage runs for this configuration.
func (s *Session) Enabled(kind pipeline.StageKind) bool {
	c := s.cmds
	switch kind {
	case pipeline.CategoryUpdate:
		return c.CatUpdate
	case pipeline.TagUpdate:
		return c.TagUpdate
	case pipeline.Unregistered:
		return c.RemUnregistered || c.TagTrackerError
	case pipeline.Recheck:
		return c.Recheck
	case pipeline.NoHardlinks:
		return c.TagNoHardlinks
	case pipeline.ShareLimits:
		return c.ShareLimits
	case pipeline.OrphanedFiles:
		return c.RemOrphaned
	case pipeline.RecycleBin:
		return !c.SkipCleanup && s.file.RecycleBin.IsEnabled() && s.file.Directory.RecycleBin != ""
	case pipeline.OrphanedDir:
		return !c.SkipCleanup && s.file.Directory.OrphanedDir != ""
	}
	return false
}

// Stage returns the implementation of kind. Unknown kinds yield nil.
func (s *Session) Stage(kind pipeline.StageKind) pipeline.Stage {
	switch kind {
	case pipeline.CategoryUpdate:
		return pipeline.StageFunc(s.updateCategories)
	case pipeline.TagUpdate:
		return pipeline.StageFunc(s.updateTags)
	case pipeline.Unregistered:
		return pipeline.StageFunc(s.checkTrackers)
	case pipeline.Recheck:
		return pipeline.StageFunc(s.recheck)
	case pipeline.NoHardlinks:
		return pipeline.StageFunc(s.tagNoHardlinks)
	case pipeline.ShareLimits:
		return pipeline.StageFunc(s.applyShareLimits)
	case pipeline.OrphanedFiles:
		return pipeline.StageFunc(s.moveOrphaned)
	case pipeline.RecycleBin:
		return pipeline.StageFunc(func(ctx context.Context) (pipeline.Result, error) {
			return s.emptyDir(ctx, s.file.Directory.RecycleBin, s.file.RecycleBin.EmptyAfterDays)
		})
	case pipeline.OrphanedDir:
		return pipeline.StageFunc(func(ctx context.Context) (pipeline.Result, error) {
			return s.emptyDir(ctx, s.file.Directory.OrphanedDir, s.file.Orphaned.EmptyAfterDays)
		})
	}
	return nil
}

func (s *Session) Labels() stats.Labels {
	return stats.Labels{
		TrackerErrorTag: s.file.Settings.TrackerErrorTag,
		NoHardlinksTag:  s.file.Settings.NoHardlinksTag,
	}
}

// Notifier returns the configuration's own notifier, or nil when the file
// declares none.
func (s *Session) Notifier() notifier.Notifier { return s.notifier }

func (s *Session) Close() error {
	if s.qbt != nil {
		s.qbt.Close()
	}
	return nil
}

func (s *Session) dryRun() bool { return s.cmds.DryRun }

// localPath maps a path reported by qBittorrent onto this host.
func (s *Session) localPath(remote string) string {
	d := s.file.Directory
	if d.RemoteDir == "" || d.RootDir == "" || d.RemoteDir == d.RootDir {
		return filepath.Clean(remote)
	}
	if rel, ok := cutPathPrefix(remote, d.RemoteDir); ok {
		return filepath.Join(d.RootDir, rel)
	}
	return filepath.Clean(remote)
}

// cutPathPrefix returns p relative to prefix when p is prefix or lies below it.
func cutPathPrefix(p, prefix string) (string, bool) {
	p = filepath.Clean(p)
	prefix = filepath.Clean(prefix)
	if p == prefix {
		return "", true
	}
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	if rest, ok := strings.CutPrefix(p, prefix); ok {
		return rest, true
	}
	return "", false
}

// removeTorrent deletes t from qBittorrent. With contents, data is moved
// into the recycle bin when one is enabled, otherwise qBittorrent deletes it.
// Contents shared with another torrent (cross-seeds) are always kept.
func (s *Session) removeTorrent(ctx context.Context, t qbittorrent.Torrent, withContents bool, all []qbittorrent.Torrent, res *pipeline.Result) error {
	if withContents && sharesContent(t, all) {
		withContents = false
	}
	s.log.Info("remove torrent",
		logx.String("name", t.Name),
		logx.String("hash", t.Hash),
		logx.Bool("contents", withContents),
		logx.Bool("dry_run", s.dryRun()),
	)
	if withContents {
		res.DeletedContents++
	} else {
		res.Deleted++
	}
	if s.dryRun() {
		return nil
	}

	deleteFiles := withContents
	if withContents && s.file.RecycleBin.IsEnabled() && s.file.Directory.RecycleBin != "" {
		if err := s.recycle(t); err != nil {
			s.log.Warn("recycle failed; deleting contents", logx.String("name", t.Name), logx.Err(err))
		} else {
			deleteFiles = false
		}
	}
	if err := s.qbt.Delete(ctx, []string{t.Hash}, deleteFiles); err != nil {
		return fmt.Errorf("delete %s: %w", t.Name, err)
	}
	return nil
}

// recycle moves the torrent's content into the recycle bin, keeping its
// path relative to the root directory.
func (s *Session) recycle(t qbittorrent.Torrent) error {
	src := s.localPath(t.ContentPath)
	if t.ContentPath == "" {
		return fmt.Errorf("no content path")
	}
	rel, ok := cutPathPrefix(src, s.file.Directory.RootDir)
	if !ok || rel == "" {
		rel = filepath.Base(src)
	}
	dst := filepath.Join(s.file.Directory.RecycleBin, rel)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return os.Rename(src, dst)
}

func sharesContent(t qbittorrent.Torrent, all []qbittorrent.Torrent) bool {
	if t.ContentPath == "" {
		return false
	}
	for _, o := range all {
		if o.Hash != t.Hash && filepath.Clean(o.ContentPath) == filepath.Clean(t.ContentPath) {
			return true
		}
	}
	return false
}
