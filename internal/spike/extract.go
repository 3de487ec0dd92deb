// Package spike mines USI game transcripts for evaluation spikes: adjacent
// per-ply score swings large enough to mark a blunder candidate.
package spike

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

const mateScoreCP = 100000

var (
	infoScoreRE = regexp.MustCompile(`\binfo\b.*?score\s+(cp|mate)\s+(-?\d+)`)
	bestmoveRE  = regexp.MustCompile(`\bbestmove\s+(\S+)`)
	posLineRE   = regexp.MustCompile(`\bposition\s+(startpos|sfen)\b`)
)

// posLookahead is how many lines past a bestmove we scan for the GUI's next
// position line before falling back to synthesizing it.
const posLookahead = 80

// Record is one closed-out decision: the ply index (1-based), the chosen
// move, the evaluation in force when the decision was made, and the position
// body after the move was played.
type Record struct {
	Ply      int
	Move     string
	EvalCP   int
	PosAfter string
}

// Spike flags a ply whose evaluation delta against the previous ply met the
// threshold. Delta keeps its sign.
type Spike struct {
	Ply   int
	Delta int
}

// Filter restricts which transcript lines are considered.
type Filter struct {
	Include *regexp.Regexp // when set, only matching lines are processed
	Exclude *regexp.Regexp // when set, matching lines are skipped
}

func (f Filter) keep(line string) bool {
	if f.Include != nil && !f.Include.MatchString(line) {
		return false
	}
	if f.Exclude != nil && f.Exclude.MatchString(line) {
		return false
	}
	return true
}

// ParseTranscriptFile reads a transcript from disk. Unreadable files are the
// caller's problem; unparseable lines inside are not.
func ParseTranscriptFile(path string, filter Filter) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open transcript: %w", err)
	}
	defer f.Close()
	return ParseTranscript(f, filter)
}

// ParseTranscript scans a transcript for evaluation-info lines and decision
// lines. Each bestmove closes one Record using the most recently seen score;
// a decision with no score since the previous one carries the last
// evaluation forward (or 0 when none exists yet). That fill is policy, not
// an error: engines legitimately move instantly out of book.
func ParseTranscript(r io.Reader, filter Filter) ([]Record, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var lines []string
	for scanner.Scan() {
		if line := scanner.Text(); filter.keep(line) {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transcript: %w", err)
	}
	return parseLines(lines), nil
}

func parseLines(lines []string) []Record {
	var records []Record
	var lastEval int
	haveEval := false   // any record closed yet
	pending := false    // score seen since the last decision
	var pendingEval int

	for i, line := range lines {
		if m := infoScoreRE.FindStringSubmatch(line); m != nil {
			val, err := strconv.Atoi(m[2])
			if err != nil {
				continue
			}
			if m[1] == "mate" {
				if val > 0 {
					val = mateScoreCP
				} else {
					val = -mateScoreCP
				}
			}
			pendingEval = val
			pending = true
			continue
		}
		if m := bestmoveRE.FindStringSubmatch(line); m != nil {
			eval := 0
			switch {
			case pending:
				eval = pendingEval
			case haveEval:
				eval = lastEval
			}
			rec := Record{
				Ply:      len(records) + 1,
				Move:     m[1],
				EvalCP:   eval,
				PosAfter: findPosAfter(lines, i),
			}
			if rec.PosAfter == "" && len(records) > 0 {
				rec.PosAfter = appendMove(records[len(records)-1].PosAfter, rec.Move)
			}
			records = append(records, rec)
			lastEval = eval
			haveEval = true
			pending = false
		}
	}
	return records
}

// findPosAfter returns the body of the first position line within the
// lookahead window after a decision, which is how GUI transcripts record the
// board state that resulted from the move.
func findPosAfter(lines []string, from int) string {
	limit := from + 1 + posLookahead
	if limit > len(lines) {
		limit = len(lines)
	}
	for j := from + 1; j < limit; j++ {
		if posLineRE.MatchString(lines[j]) {
			if idx := strings.Index(lines[j], "position "); idx >= 0 {
				return strings.TrimSpace(lines[j][idx+len("position "):])
			}
		}
	}
	return ""
}

// appendMove extends a position body with one played move. Resignation
// sentinels do not change the board.
func appendMove(posBody, move string) string {
	mv := strings.TrimSpace(move)
	if posBody == "" || mv == "" || mv == "resign" || mv == "none" {
		return posBody
	}
	if strings.Contains(posBody, " moves ") {
		return posBody + " " + mv
	}
	return posBody + " moves " + mv
}

// Evals projects the carried-forward evaluation series out of the records.
func Evals(records []Record) []int {
	evals := make([]int, len(records))
	for i, r := range records {
		evals[i] = r.EvalCP
	}
	return evals
}

// DetectSpikes computes delta[i] = eval[i] - eval[i-1] for i >= 2 (1-based)
// and flags indices where |delta| >= threshold. The first sample has no
// predecessor and never spikes.
func DetectSpikes(evals []int, threshold int) []Spike {
	var spikes []Spike
	for i := 1; i < len(evals); i++ {
		delta := evals[i] - evals[i-1]
		if abs(delta) >= threshold {
			spikes = append(spikes, Spike{Ply: i + 1, Delta: delta})
		}
	}
	return spikes
}

// TopK keeps the k spikes with greatest |delta|. Stable: ties keep the
// earlier ply first. k <= 0 means no limit.
func TopK(spikes []Spike, k int) []Spike {
	if k <= 0 || len(spikes) <= k {
		return spikes
	}
	sorted := make([]Spike, len(spikes))
	copy(sorted, spikes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return abs(sorted[i].Delta) > abs(sorted[j].Delta)
	})
	return sorted[:k]
}

// ExpandWindows widens each spike index by a back/forward ply radius and
// returns the union as a sorted, deduplicated list clipped to [1, nmax].
func ExpandWindows(indices []int, back, forward, nmax int) []int {
	wanted := make(map[int]struct{})
	for _, idx := range indices {
		lo := idx - back
		if lo < 1 {
			lo = 1
		}
		hi := idx + forward
		if hi > nmax {
			hi = nmax
		}
		for k := lo; k <= hi; k++ {
			wanted[k] = struct{}{}
		}
	}
	out := make([]int, 0, len(wanted))
	for k := range wanted {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
