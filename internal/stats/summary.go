package stats

import "fmt"

const (
	DefaultTrackerErrorTag = "issue"
	DefaultNoHardlinksTag  = "noHL"
)

// Labels carries the configurable tag names that appear in summary lines.
type Labels struct {
	TrackerErrorTag string
	NoHardlinksTag  string
}

// DefaultLabels is used when no configuration could be loaded.
func DefaultLabels() Labels {
	return Labels{TrackerErrorTag: DefaultTrackerErrorTag, NoHardlinksTag: DefaultNoHardlinksTag}
}

func (l Labels) withDefaults() Labels {
	if l.TrackerErrorTag == "" {
		l.TrackerErrorTag = DefaultTrackerErrorTag
	}
	if l.NoHardlinksTag == "" {
		l.NoHardlinksTag = DefaultNoHardlinksTag
	}
	return l
}

func (l Labels) action(c Counter) string {
	switch c {
	case Categorized:
		return "Torrents Categorized"
	case Tagged:
		return "Torrents Tagged"
	case TaggedTrackerError:
		return l.TrackerErrorTag + " Torrents Tagged"
	case UntaggedTrackerError:
		return l.TrackerErrorTag + " Torrents untagged"
	case UnregisteredRemoved:
		return "Unregistered Torrents Removed"
	case Resumed:
		return "Torrents Resumed"
	case Rechecked:
		return "Torrents Rechecked"
	case Deleted:
		return "Torrents Deleted"
	case DeletedContents:
		return "Torrents + Contents Deleted"
	case OrphanedFound:
		return "Orphaned Files"
	case TaggedNoHardlinks:
		return l.NoHardlinksTag + " Torrents Tagged"
	case UntaggedNoHardlinks:
		return l.NoHardlinksTag + " Torrents untagged"
	case ShareLimitsUpdated:
		return "Share Limits Updated"
	case ShareLimitsCleaned:
		return "Torrents Removed from Meeting Share Limits"
	case RecycleBinEmptied:
		return "Files Deleted from Recycle Bin"
	case OrphanedDirEmptied:
		return "Files Deleted from Orphaned Data"
	case Added:
		return "Torrents Added"
	default:
		return c.String()
	}
}

// Summary renders one "Total <action>: <count>" line per non-zero counter,
// in counter order. Zero counters are omitted.
func (s *RunStats) Summary(labels Labels) []string {
	labels = labels.withDefaults()
	var lines []string
	for i, v := range s.values {
		if v == 0 {
			continue
		}
		lines = append(lines, fmt.Sprintf("Total %s: %d", labels.action(Counter(i)), v))
	}
	return lines
}
