package transcript

import (
	"slices"
	"strings"
	"sync"
)

const DefaultWindow = 200

type Correction int

const (
	Append Correction = iota
	Replace
)

// Fragment is one partial result keyed by its sequence number. When Pgs is
// Replace, stored fragments with SN in [Range[0], Range[1]] are discarded
// before this one is stored.
type Fragment struct {
	SN    int
	Words []string
	Pgs   Correction
	Range [2]int
	Last  bool
}

func (f Fragment) Text() string {
	return strings.Join(f.Words, "")
}

// Assembler merges fragments into a single transcript. The result depends only
// on the set of fragments that survive insertion, not on arrival order.
type Assembler struct {
	mu     sync.Mutex
	window int
	frags  map[int]Fragment
	text   string
}

func NewAssembler(window int) *Assembler {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Assembler{
		window: window,
		frags:  make(map[int]Fragment),
	}
}

// Insert applies f and returns the merged text and whether f was accepted.
func (a *Assembler) Insert(f Fragment) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if prev, ok := a.frags[f.SN]; ok && f.Pgs != Replace && len(prev.Words) >= len(f.Words) {
		return a.text, false
	}

	if f.Pgs == Replace {
		lo, hi := f.Range[0], f.Range[1]
		for sn := range a.frags {
			if sn >= lo && sn <= hi && sn != f.SN {
				delete(a.frags, sn)
			}
		}
	}

	a.frags[f.SN] = f
	a.evict()
	a.text = a.rebuild()
	return a.text, true
}

func (a *Assembler) evict() {
	excess := len(a.frags) - a.window
	if excess <= 0 {
		return
	}
	keys := a.sortedKeys()
	for _, sn := range keys[:excess] {
		delete(a.frags, sn)
	}
}

func (a *Assembler) rebuild() string {
	var b strings.Builder
	for _, sn := range a.sortedKeys() {
		for _, w := range a.frags[sn].Words {
			b.WriteString(w)
		}
	}
	return b.String()
}

func (a *Assembler) sortedKeys() []int {
	keys := make([]int, 0, len(a.frags))
	for sn := range a.frags {
		keys = append(keys, sn)
	}
	slices.Sort(keys)
	return keys
}

func (a *Assembler) Text() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.text
}

// SequenceNumbers returns the stored sequence numbers in ascending order.
func (a *Assembler) SequenceNumbers() []int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sortedKeys()
}

func (a *Assembler) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.frags)
}

func (a *Assembler) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	clear(a.frags)
	a.text = ""
}
