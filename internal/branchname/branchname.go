// Package branchname provides pure functions for generating, parsing, and
// classifying version-control branch names.
package branchname

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrNoTimestamp is returned by ParseTimestamp when a branch name contains no
// recognizable timestamp.
var ErrNoTimestamp = errors.New("no timestamp found")

// BranchType classifies a branch name by its prefix.
type BranchType string

const (
	TypeAuto       BranchType = "auto"
	TypeCheckpoint BranchType = "checkpoint"
	TypeBackup     BranchType = "backup"
	TypeFeature    BranchType = "feature"
	TypeBugfix     BranchType = "bugfix"
	TypeMain       BranchType = "main"
	TypeOther      BranchType = "other"
)

// timestampPattern matches YYYY-MM-DD-HH-MM with an optional -SS suffix.
var timestampPattern = regexp.MustCompile(`(\d{4})-(\d{2})-(\d{2})-(\d{2})-(\d{2})(?:-(\d{2}))?`)

// GenerateOptions control branch name generation.
type GenerateOptions struct {
	Prefix         string // default "auto"
	Context        string // optional label inserted before the timestamp
	IncludeSeconds bool
	Separator      string // default "/"
}

// Generate builds a timestamped branch name of the form
// prefix/[context-]YYYY-MM-DD-HH-MM[-SS] using local wall-clock time.
func Generate(opts GenerateOptions, now time.Time) string {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "auto"
	}
	sep := opts.Separator
	if sep == "" {
		sep = "/"
	}

	layout := "2006-01-02-15-04"
	if opts.IncludeSeconds {
		layout += "-05"
	}
	stamp := now.Format(layout)

	if opts.Context != "" {
		return prefix + sep + Sanitize(opts.Context) + "-" + stamp
	}
	return prefix + sep + stamp
}

// ParseTimestamp extracts the first YYYY-MM-DD-HH-MM[-SS] substring from a
// branch name and reconstructs its timestamp in local time. It never panics;
// a name without a timestamp yields ErrNoTimestamp.
func ParseTimestamp(name string) (time.Time, error) {
	m := timestampPattern.FindStringSubmatch(name)
	if m == nil {
		return time.Time{}, ErrNoTimestamp
	}

	year, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	day, _ := strconv.Atoi(m[3])
	hour, _ := strconv.Atoi(m[4])
	minute, _ := strconv.Atoi(m[5])
	second := 0
	if m[6] != "" {
		second, _ = strconv.Atoi(m[6])
	}

	if month < 1 || month > 12 || day < 1 || day > 31 || hour > 23 || minute > 59 || second > 59 {
		return time.Time{}, ErrNoTimestamp
	}

	return time.Date(year, time.Month(month), day, hour, minute, second, 0, time.Local), nil
}

// Format renders a human-readable label for a branch name. Recognized shapes
// are "<type>/<timestamp>" (optionally with a context segment); anything else
// is returned unchanged.
func Format(name string) string {
	ts, err := ParseTimestamp(name)
	if err != nil {
		return name
	}

	typ, rest, ok := strings.Cut(name, "/")
	if !ok {
		return name
	}

	label := strings.ToUpper(typ[:1]) + typ[1:]

	// Context segment, if any, precedes the timestamp.
	if loc := timestampPattern.FindStringIndex(rest); loc != nil && loc[0] > 0 {
		context := strings.TrimSuffix(rest[:loc[0]], "-")
		if context != "" {
			label += " " + context
		}
	}

	stamp := ts.Format("2006/01/02 15:04")
	if strings.Count(timestampPattern.FindString(name), "-") == 5 {
		stamp = ts.Format("2006/01/02 15:04:05")
	}

	return fmt.Sprintf("%s %s", label, stamp)
}

// Type classifies a branch name against the fixed prefix vocabulary.
func Type(name string) BranchType {
	if name == "main" || name == "master" {
		return TypeMain
	}

	typ, _, ok := strings.Cut(name, "/")
	if !ok {
		return TypeOther
	}

	switch typ {
	case "auto":
		return TypeAuto
	case "checkpoint":
		return TypeCheckpoint
	case "backup":
		return TypeBackup
	case "feature":
		return TypeFeature
	case "bugfix":
		return TypeBugfix
	default:
		return TypeOther
	}
}

// IsAutoGenerated reports whether a branch name was produced by the
// auto-commit machinery. Consistent with Type: true iff Type(name) == TypeAuto.
func IsAutoGenerated(name string) bool {
	return Type(name) == TypeAuto
}

var (
	disallowedChars = regexp.MustCompile(`[^a-z0-9/_.-]+`)
	repeatedDashes  = regexp.MustCompile(`-{2,}`)
)

// Sanitize converts arbitrary user-supplied text into a form safe to embed in
// a branch name: lower-cased, disallowed characters replaced with "-",
// repeats collapsed, leading/trailing "-" trimmed.
func Sanitize(s string) string {
	s = strings.ToLower(s)
	s = disallowedChars.ReplaceAllString(s, "-")
	s = repeatedDashes.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}
