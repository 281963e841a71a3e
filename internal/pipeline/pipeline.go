// Package pipeline defines the fixed maintenance pipeline: the stage order,
// the shape of a stage result and how results are credited to run stats.
package pipeline

import (
	"context"
	"fmt"

	"qbitmanage/internal/stats"
)

// StageKind identifies a pipeline stage. The numeric order is the execution order.
type StageKind int

const (
	CategoryUpdate StageKind = iota
	TagUpdate
	Unregistered // unregistered removal and tracker-error tagging
	Recheck
	NoHardlinks
	ShareLimits
	OrphanedFiles
	RecycleBin
	OrphanedDir

	numStages
)

var stageNames = [numStages]string{
	CategoryUpdate: "cat_update",
	TagUpdate:      "tag_update",
	Unregistered:   "rem_unregistered",
	Recheck:        "recheck",
	NoHardlinks:    "tag_nohardlinks",
	ShareLimits:    "share_limits",
	OrphanedFiles:  "rem_orphaned",
	RecycleBin:     "recycle_bin",
	OrphanedDir:    "orphaned_dir",
}

func (k StageKind) String() string {
	if k < 0 || k >= numStages {
		return fmt.Sprintf("stage(%d)", int(k))
	}
	return stageNames[k]
}

// Order returns every stage in execution order.
func Order() []StageKind {
	out := make([]StageKind, numStages)
	for i := range out {
		out[i] = StageKind(i)
	}
	return out
}

// Result is what a stage reports back. Stages only fill the fields that
// apply to them.
type Result struct {
	Count           int // items affected (categorized, tagged, orphaned files, emptied files)
	Tagged          int
	Untagged        int
	Deleted         int
	DeletedContents int
	Resumed         int
	Rechecked       int
}

// Stage is one maintenance operation bound to a loaded configuration.
type Stage interface {
	Run(ctx context.Context) (Result, error)
}

// StageFunc adapts a function to Stage.
type StageFunc func(ctx context.Context) (Result, error)

func (f StageFunc) Run(ctx context.Context) (Result, error) { return f(ctx) }

// Credit maps a stage result onto run counters.
//
// Deletions made by share-limit enforcement are credited to the same
// deletion counters as unregistered removals.
func Credit(kind StageKind, r Result) stats.Delta {
	d := stats.Delta{}
	switch kind {
	case CategoryUpdate:
		d[stats.Categorized] = r.Count
	case TagUpdate:
		d[stats.Tagged] = r.Count
	case Unregistered:
		d[stats.UnregisteredRemoved] = r.Deleted + r.DeletedContents
		d[stats.Deleted] = r.Deleted
		d[stats.DeletedContents] = r.DeletedContents
		d[stats.TaggedTrackerError] = r.Tagged
		d[stats.UntaggedTrackerError] = r.Untagged
		d[stats.Tagged] = r.Tagged
	case Recheck:
		d[stats.Resumed] = r.Resumed
		d[stats.Rechecked] = r.Rechecked
	case NoHardlinks:
		d[stats.Tagged] = r.Tagged
		d[stats.TaggedNoHardlinks] = r.Tagged
		d[stats.UntaggedNoHardlinks] = r.Untagged
	case ShareLimits:
		d[stats.Tagged] = r.Tagged
		d[stats.ShareLimitsUpdated] = r.Tagged
		d[stats.Deleted] = r.Deleted
		d[stats.DeletedContents] = r.DeletedContents
		d[stats.ShareLimitsCleaned] = r.Deleted + r.DeletedContents
	case OrphanedFiles:
		d[stats.OrphanedFound] = r.Count
	case RecycleBin:
		d[stats.RecycleBinEmptied] = r.Count
	case OrphanedDir:
		d[stats.OrphanedDirEmptied] = r.Count
	}
	return d
}
