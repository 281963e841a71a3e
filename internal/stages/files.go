package stages

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"qbitmanage/internal/pipeline"
	"qbitmanage/internal/qbittorrent"
	logx "qbitmanage/pkg/logx"
)

// tagNoHardlinks tags completed torrents of the configured categories whose
// files have no other hard link, and untags them once a link appears.
func (s *Session) tagNoHardlinks(ctx context.Context) (pipeline.Result, error) {
	var res pipeline.Result
	if len(s.file.NoHardlinks) == 0 {
		return res, nil
	}
	torrents, err := s.qbt.Torrents(ctx)
	if err != nil {
		return res, err
	}
	tag := s.file.Settings.NoHardlinksTag

	for _, t := range torrents {
		if !t.Complete() || t.Category == "" || !inCategories(s.file.NoHardlinks, t.Category) {
			continue
		}
		files, err := s.qbt.Files(ctx, t.Hash)
		if err != nil {
			return res, err
		}
		linked, err := hasHardlinks(s.localPath(t.SavePath), files)
		if err != nil {
			s.log.Debug("skip hardlink check", logx.String("name", t.Name), logx.Err(err))
			continue
		}

		switch {
		case !linked && !t.HasTag(tag):
			s.log.Info("tag no hardlinks", logx.String("name", t.Name), logx.Bool("dry_run", s.dryRun()))
			res.Tagged++
			if !s.dryRun() {
				if err := s.qbt.AddTags(ctx, []string{t.Hash}, []string{tag}); err != nil {
					return res, fmt.Errorf("tag %s: %w", t.Name, err)
				}
			}
		case linked && t.HasTag(tag):
			s.log.Info("untag no hardlinks", logx.String("name", t.Name), logx.Bool("dry_run", s.dryRun()))
			res.Untagged++
			if !s.dryRun() {
				if err := s.qbt.RemoveTags(ctx, []string{t.Hash}, []string{tag}); err != nil {
					return res, fmt.Errorf("untag %s: %w", t.Name, err)
				}
			}
		}
	}
	return res, nil
}

// hasHardlinks reports whether any file of the torrent has a link count
// above one.
func hasHardlinks(root string, files []qbittorrent.File) (bool, error) {
	if len(files) == 0 {
		return false, errors.New("torrent has no files")
	}
	for _, f := range files {
		n, err := linkCount(filepath.Join(root, filepath.FromSlash(f.Name)))
		if err != nil {
			return false, err
		}
		if n > 1 {
			return true, nil
		}
	}
	return false, nil
}

// moveOrphaned moves files under the root directory that no torrent
// references into the orphaned data directory.
func (s *Session) moveOrphaned(ctx context.Context) (pipeline.Result, error) {
	var res pipeline.Result
	d := s.file.Directory
	if d.RootDir == "" {
		return res, errors.New("directory.root_dir is required for orphaned file detection")
	}
	torrents, err := s.qbt.Torrents(ctx)
	if err != nil {
		return res, err
	}
	known := map[string]bool{}
	for _, t := range torrents {
		files, err := s.qbt.Files(ctx, t.Hash)
		if err != nil {
			return res, err
		}
		root := s.localPath(t.SavePath)
		for _, f := range files {
			known[filepath.Join(root, filepath.FromSlash(f.Name))] = true
		}
	}

	skipDirs := map[string]bool{}
	for _, p := range []string{d.RecycleBin, d.OrphanedDir} {
		if p != "" {
			skipDirs[filepath.Clean(p)] = true
		}
	}
	var orphans []string
	err = filepath.WalkDir(d.RootDir, func(path string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if e.IsDir() {
			if skipDirs[path] {
				return filepath.SkipDir
			}
			return nil
		}
		if known[path] {
			return nil
		}
		rel, _ := filepath.Rel(d.RootDir, path)
		if excluded(s.file.Orphaned.ExcludePatterns, rel) {
			return nil
		}
		orphans = append(orphans, rel)
		return nil
	})
	if err != nil {
		return res, err
	}

	for _, rel := range orphans {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		s.log.Info("orphaned file", logx.String("path", rel), logx.Bool("dry_run", s.dryRun()))
		res.Count++
		if s.dryRun() {
			continue
		}
		src := filepath.Join(d.RootDir, rel)
		dst := filepath.Join(d.OrphanedDir, rel)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return res, err
		}
		if err := os.Rename(src, dst); err != nil {
			return res, fmt.Errorf("move orphaned %s: %w", rel, err)
		}
		pruneEmptyParents(filepath.Dir(src), d.RootDir)
	}
	return res, nil
}

// excluded matches rel and its base name against the exclude patterns.
// A leading "**/" matches in any directory.
func excluded(patterns []string, rel string) bool {
	rel = filepath.ToSlash(rel)
	base := filepath.Base(rel)
	for _, p := range patterns {
		p = filepath.ToSlash(p)
		if rest, ok := strings.CutPrefix(p, "**/"); ok {
			if m, _ := filepath.Match(rest, base); m {
				return true
			}
			continue
		}
		if m, _ := filepath.Match(p, rel); m {
			return true
		}
		if m, _ := filepath.Match(p, base); m {
			return true
		}
	}
	return false
}

// emptyDir deletes files under dir older than days and then removes empty
// subdirectories. A nil days keeps everything.
func (s *Session) emptyDir(ctx context.Context, dir string, days *int) (pipeline.Result, error) {
	var res pipeline.Result
	if dir == "" || days == nil {
		return res, nil
	}
	cutoff := s.now().Add(-time.Duration(*days) * 24 * time.Hour)

	var (
		expired []string
		dirs    []string
	)
	err := filepath.WalkDir(dir, func(path string, e fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == dir {
				return filepath.SkipAll
			}
			return err
		}
		if e.IsDir() {
			if path != dir {
				dirs = append(dirs, path)
			}
			return nil
		}
		info, err := e.Info()
		if err != nil {
			return err
		}
		if !info.ModTime().After(cutoff) {
			expired = append(expired, path)
		}
		return nil
	})
	if err != nil {
		return res, err
	}

	for _, p := range expired {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		s.log.Info("delete expired file", logx.String("path", p), logx.Bool("dry_run", s.dryRun()))
		res.Count++
		if s.dryRun() {
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return res, err
		}
	}
	if !s.dryRun() {
		// deepest first so parents empty out
		sort.Slice(dirs, func(i, j int) bool { return len(dirs[i]) > len(dirs[j]) })
		for _, p := range dirs {
			_ = os.Remove(p)
		}
	}
	return res, nil
}

// pruneEmptyParents removes dir and its parents up to (not including) stop
// while they are empty.
func pruneEmptyParents(dir, stop string) {
	stop = filepath.Clean(stop)
	for dir = filepath.Clean(dir); dir != stop && strings.HasPrefix(dir, stop); dir = filepath.Dir(dir) {
		if err := os.Remove(dir); err != nil {
			return
		}
	}
}
