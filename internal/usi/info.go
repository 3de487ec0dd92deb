package usi

import (
	"regexp"
	"strconv"
	"strings"
)

// MateScoreCP is the centipawn value a mate reading is normalized to.
// The sign carries who is winning from the side to move.
const MateScoreCP = 100000

var (
	scoreRE    = regexp.MustCompile(`\bscore\s+(cp|mate)\s+(-?\d+)`)
	depthRE    = regexp.MustCompile(`\bdepth\s+(\d+)`)
	seldepthRE = regexp.MustCompile(`\bseldepth\s+(\d+)`)
	nodesRE    = regexp.MustCompile(`\bnodes\s+(\d+)`)
	npsRE      = regexp.MustCompile(`\bnps\s+(\d+)`)
	bestmoveRE = regexp.MustCompile(`\bbestmove\s+(\S+)`)
)

// Info is one parsed "info ... score ..." line.
type Info struct {
	Depth    int
	Seldepth int
	ScoreCP  int
	Mate     bool
	Nodes    int64
	NPS      int64
}

// ParseInfo extracts the evaluation fields from an info line. It reports
// false for lines that carry no score; depth-only progress lines are not
// evaluations.
func ParseInfo(line string) (Info, bool) {
	if !strings.Contains(line, "info") {
		return Info{}, false
	}
	m := scoreRE.FindStringSubmatch(line)
	if m == nil {
		return Info{}, false
	}
	val, err := strconv.Atoi(m[2])
	if err != nil {
		return Info{}, false
	}

	var inf Info
	if m[1] == "mate" {
		inf.Mate = true
		if val > 0 {
			inf.ScoreCP = MateScoreCP
		} else {
			inf.ScoreCP = -MateScoreCP
		}
	} else {
		inf.ScoreCP = val
	}

	if dm := depthRE.FindStringSubmatch(line); dm != nil {
		inf.Depth, _ = strconv.Atoi(dm[1])
	}
	if sm := seldepthRE.FindStringSubmatch(line); sm != nil {
		inf.Seldepth, _ = strconv.Atoi(sm[1])
	}
	if nm := nodesRE.FindStringSubmatch(line); nm != nil {
		inf.Nodes, _ = strconv.ParseInt(nm[1], 10, 64)
	}
	if pm := npsRE.FindStringSubmatch(line); pm != nil {
		inf.NPS, _ = strconv.ParseInt(pm[1], 10, 64)
	}
	return inf, true
}

// ParseBestmove extracts the chosen move token from a bestmove line.
func ParseBestmove(line string) (string, bool) {
	m := bestmoveRE.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}
	return m[1], true
}
