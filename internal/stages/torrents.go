package stages

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"qbitmanage/internal/config"
	"qbitmanage/internal/pipeline"
	"qbitmanage/internal/qbittorrent"
	logx "qbitmanage/pkg/logx"
)

// updateCategories assigns a category to uncategorized torrents whose save
// path lies under one of the configured category paths.
func (s *Session) updateCategories(ctx context.Context) (pipeline.Result, error) {
	var res pipeline.Result
	torrents, err := s.qbt.Torrents(ctx)
	if err != nil {
		return res, err
	}
	existing, err := s.qbt.Categories(ctx)
	if err != nil {
		return res, err
	}

	for _, t := range torrents {
		if t.Category != "" {
			continue
		}
		cat, ok := categoryFor(s.file.Cat, t.SavePath)
		if !ok {
			continue
		}
		s.log.Info("categorize",
			logx.String("name", t.Name),
			logx.String("category", cat),
			logx.Bool("dry_run", s.dryRun()),
		)
		res.Count++
		if s.dryRun() {
			continue
		}
		if _, ok := existing[cat]; !ok {
			if err := s.qbt.CreateCategory(ctx, cat, s.file.Cat[cat]); err != nil {
				return res, fmt.Errorf("create category %s: %w", cat, err)
			}
			existing[cat] = qbittorrent.Category{Name: cat, SavePath: s.file.Cat[cat]}
		}
		if err := s.qbt.SetCategory(ctx, []string{t.Hash}, cat); err != nil {
			return res, fmt.Errorf("categorize %s: %w", t.Name, err)
		}
	}
	return res, nil
}

// categoryFor picks the category with the longest path containing savePath.
func categoryFor(cats map[string]string, savePath string) (string, bool) {
	best, bestLen := "", -1
	for name, p := range cats {
		if _, ok := cutPathPrefix(savePath, p); !ok {
			continue
		}
		if l := len(p); l > bestLen || (l == bestLen && name < best) {
			best, bestLen = name, l
		}
	}
	return best, bestLen >= 0
}

// updateTags adds the tags of the first matching tracker rule.
func (s *Session) updateTags(ctx context.Context) (pipeline.Result, error) {
	var res pipeline.Result
	if len(s.file.Tracker) == 0 {
		return res, nil
	}
	torrents, err := s.qbt.Torrents(ctx)
	if err != nil {
		return res, err
	}
	keys := make([]string, 0, len(s.file.Tracker))
	for k := range s.file.Tracker {
		keys = append(keys, k)
	}
	// most specific key first
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})

	for _, t := range torrents {
		url := t.Tracker
		if url == "" {
			if url, err = s.firstTracker(ctx, t.Hash); err != nil {
				return res, err
			}
		}
		if url == "" {
			continue
		}
		rule, ok := matchTracker(keys, s.file.Tracker, url)
		if !ok {
			continue
		}
		var missing []string
		for _, tag := range rule.Tag {
			if tag != "" && !t.HasTag(tag) {
				missing = append(missing, tag)
			}
		}
		if len(missing) == 0 {
			continue
		}
		s.log.Info("tag",
			logx.String("name", t.Name),
			logx.Strings("tags", missing),
			logx.Bool("dry_run", s.dryRun()),
		)
		res.Count++
		if s.dryRun() {
			continue
		}
		if err := s.qbt.AddTags(ctx, []string{t.Hash}, missing); err != nil {
			return res, fmt.Errorf("tag %s: %w", t.Name, err)
		}
	}
	return res, nil
}

func matchTracker(keys []string, rules map[string]config.TrackerRule, url string) (config.TrackerRule, bool) {
	url = strings.ToLower(url)
	for _, k := range keys {
		if strings.Contains(url, strings.ToLower(k)) {
			return rules[k], true
		}
	}
	return config.TrackerRule{}, false
}

func (s *Session) firstTracker(ctx context.Context, hash string) (string, error) {
	trackers, err := s.qbt.Trackers(ctx, hash)
	if err != nil {
		return "", err
	}
	for _, tr := range trackers {
		if !tr.IsDHT() {
			return tr.URL, nil
		}
	}
	return "", nil
}

// checkTrackers removes unregistered torrents and maintains the tracker
// error tag, depending on which of the two commands is enabled.
func (s *Session) checkTrackers(ctx context.Context) (pipeline.Result, error) {
	var res pipeline.Result
	torrents, err := s.qbt.Torrents(ctx)
	if err != nil {
		return res, err
	}
	tag := s.file.Settings.TrackerErrorTag

	for _, t := range torrents {
		trackers, err := s.qbt.Trackers(ctx, t.Hash)
		if err != nil {
			return res, err
		}
		unregistered, broken := classifyTrackers(trackers, s.file.Unregistered.Messages)

		switch {
		case unregistered && s.cmds.RemUnregistered:
			if err := s.removeTorrent(ctx, t, true, torrents, &res); err != nil {
				return res, err
			}
		case (unregistered || broken) && s.cmds.TagTrackerError:
			if t.HasTag(tag) {
				continue
			}
			s.log.Info("tag tracker error", logx.String("name", t.Name), logx.Bool("dry_run", s.dryRun()))
			res.Tagged++
			if !s.dryRun() {
				if err := s.qbt.AddTags(ctx, []string{t.Hash}, []string{tag}); err != nil {
					return res, fmt.Errorf("tag %s: %w", t.Name, err)
				}
			}
		case !unregistered && !broken && s.cmds.TagTrackerError && t.HasTag(tag):
			s.log.Info("untag tracker error", logx.String("name", t.Name), logx.Bool("dry_run", s.dryRun()))
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

// classifyTrackers reports whether a tracker says the torrent is
// unregistered, and whether no tracker is working at all.
func classifyTrackers(trackers []qbittorrent.Tracker, messages []string) (unregistered, broken bool) {
	active, working := 0, 0
	for _, tr := range trackers {
		if tr.IsDHT() || tr.Status == qbittorrent.TrackerDisabled {
			continue
		}
		active++
		switch tr.Status {
		case qbittorrent.TrackerWorking, qbittorrent.TrackerUpdating, qbittorrent.TrackerNotContacted:
			working++
		case qbittorrent.TrackerNotWorking:
			msg := strings.ToLower(tr.Msg)
			for _, m := range messages {
				if m != "" && strings.Contains(msg, strings.ToLower(m)) {
					unregistered = true
				}
			}
		}
	}
	return unregistered, active > 0 && working == 0
}

// recheck resumes paused complete torrents and rechecks errored ones.
func (s *Session) recheck(ctx context.Context) (pipeline.Result, error) {
	var res pipeline.Result
	torrents, err := s.qbt.Torrents(ctx)
	if err != nil {
		return res, err
	}
	var resume, recheck []string
	for _, t := range torrents {
		switch {
		case t.Errored() || (t.Paused() && !t.Complete() && t.AmountLeft == 0):
			recheck = append(recheck, t.Hash)
			s.log.Info("recheck", logx.String("name", t.Name), logx.Bool("dry_run", s.dryRun()))
		case t.Paused() && t.Complete() && !limitReached(t):
			resume = append(resume, t.Hash)
			s.log.Info("resume", logx.String("name", t.Name), logx.Bool("dry_run", s.dryRun()))
		}
	}
	res.Resumed, res.Rechecked = len(resume), len(recheck)
	if s.dryRun() {
		return res, nil
	}
	if len(resume) > 0 {
		if err := s.qbt.Resume(ctx, resume); err != nil {
			return pipeline.Result{}, err
		}
	}
	if len(recheck) > 0 {
		if err := s.qbt.Recheck(ctx, recheck); err != nil {
			return pipeline.Result{}, err
		}
	}
	return res, nil
}

// limitReached reports torrents qBittorrent paused for meeting their own
// share limits; resuming those would undo the limit.
func limitReached(t qbittorrent.Torrent) bool {
	if t.RatioLimit > 0 && t.Ratio >= t.RatioLimit {
		return true
	}
	return t.SeedingTimeLimit > 0 && t.SeedingTime/60 >= t.SeedingTimeLimit
}

// limitGlobal tells qBittorrent to use its global share limit.
const limitGlobal = -2

// applyShareLimits sets ratio and seeding-time limits on completed torrents
// of the configured categories and, with cleanup on, removes torrents that
// met them.
func (s *Session) applyShareLimits(ctx context.Context) (pipeline.Result, error) {
	var res pipeline.Result
	cfg := s.file.ShareLimits
	if cfg == nil {
		return res, nil
	}
	maxSeed, err := config.ParseDurationField("share_limits.max_seeding_time", cfg.MaxSeedingTime)
	if err != nil {
		return res, err
	}
	ratio := float64(limitGlobal)
	if cfg.MaxRatio > 0 {
		ratio = cfg.MaxRatio
	}
	minutes := limitGlobal
	if maxSeed > 0 {
		minutes = int(maxSeed.Minutes())
	}

	torrents, err := s.qbt.Torrents(ctx)
	if err != nil {
		return res, err
	}
	tag := s.file.Settings.ShareLimitsTag
	for _, t := range torrents {
		if !t.Complete() || !inCategories(cfg.Categories, t.Category) {
			continue
		}
		met := (cfg.MaxRatio > 0 && t.Ratio >= cfg.MaxRatio) || (maxSeed > 0 && t.SeedingFor() >= maxSeed)
		if cfg.Cleanup && met {
			if err := s.removeTorrent(ctx, t, cfg.DeleteContents, torrents, &res); err != nil {
				return res, err
			}
			continue
		}
		if t.RatioLimit == ratio && t.SeedingTimeLimit == int64(minutes) && t.HasTag(tag) {
			continue
		}
		s.log.Info("share limits",
			logx.String("name", t.Name),
			logx.Any("ratio", ratio),
			logx.Int("seeding_minutes", minutes),
			logx.Bool("dry_run", s.dryRun()),
		)
		res.Tagged++
		if s.dryRun() {
			continue
		}
		if err := s.qbt.SetShareLimits(ctx, []string{t.Hash}, ratio, minutes); err != nil {
			return res, fmt.Errorf("share limits %s: %w", t.Name, err)
		}
		if !t.HasTag(tag) {
			if err := s.qbt.AddTags(ctx, []string{t.Hash}, []string{tag}); err != nil {
				return res, fmt.Errorf("tag %s: %w", t.Name, err)
			}
		}
	}
	return res, nil
}

func inCategories(cats []string, cat string) bool {
	if len(cats) == 0 {
		return true
	}
	for _, c := range cats {
		if c == cat {
			return true
		}
	}
	return false
}
