package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// lookupFile is the on-disk shape of the versioned lookup-table document
// (SPEC_FULL.md §A: "configurable lookup tables with a versioned reload
// path", mounted at config.LookupTablePath).
type lookupFile struct {
	Version              int               `json:"version"`
	EmployerEquivalence  map[string]string `json:"employer_equivalence"`
	AUMBucketsUSD        []int64           `json:"aum_buckets_usd"`
	LocationMetro        map[string]string `json:"location_metro"`
	InternalPatterns     []string          `json:"internal_annotation_patterns"`
}

// Tables holds one immutable snapshot of the lookup data plus the compiled
// regexes derived from it. LookupSet swaps the snapshot atomically on every
// reload so concurrent Build calls never observe a half-updated table.
type Tables struct {
	Version             int
	EmployerEquivalence map[string]string
	AUMBucketsUSD       []int64
	LocationMetro       map[string]string
	internalPatterns    []*regexp.Regexp
}

// LookupSet watches a lookup-table file and exposes its latest parsed
// version, reloading on write without restarting the process (teacher's
// config layer has no file-watch precedent; this adapts fsnotify directly
// per SPEC_FULL.md §A's explicit reload requirement).
type LookupSet struct {
	path    string
	log     *zap.Logger
	current atomic.Pointer[Tables]
	watcher *fsnotify.Watcher
	mu      sync.Mutex
}

func NewLookupSet(path string, log *zap.Logger) (*LookupSet, error) {
	ls := &LookupSet{path: path, log: log}
	if err := ls.reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("artifact: create lookup watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("artifact: watch lookup table %q: %w", path, err)
	}
	ls.watcher = watcher
	go ls.watch()
	return ls, nil
}

func (ls *LookupSet) Current() *Tables {
	return ls.current.Load()
}

func (ls *LookupSet) Close() error {
	if ls.watcher == nil {
		return nil
	}
	return ls.watcher.Close()
}

func (ls *LookupSet) watch() {
	for {
		select {
		case event, ok := <-ls.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := ls.reload(); err != nil {
				ls.log.Error("lookup table reload failed, keeping previous snapshot", zap.Error(err))
			} else {
				ls.log.Info("lookup table reloaded", zap.Int("version", ls.current.Load().Version))
			}
		case err, ok := <-ls.watcher.Errors:
			if !ok {
				return
			}
			ls.log.Error("lookup table watcher error", zap.Error(err))
		}
	}
}

func (ls *LookupSet) reload() error {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	raw, err := os.ReadFile(ls.path)
	if err != nil {
		return fmt.Errorf("artifact: read lookup table: %w", err)
	}
	var lf lookupFile
	if err := json.Unmarshal(raw, &lf); err != nil {
		return fmt.Errorf("artifact: parse lookup table: %w", err)
	}

	patterns := make([]*regexp.Regexp, 0, len(lf.InternalPatterns))
	for _, p := range lf.InternalPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return fmt.Errorf("artifact: compile internal-annotation pattern %q: %w", p, err)
		}
		patterns = append(patterns, re)
	}

	ls.current.Store(&Tables{
		Version:             lf.Version,
		EmployerEquivalence: lf.EmployerEquivalence,
		AUMBucketsUSD:       lf.AUMBucketsUSD,
		LocationMetro:       lf.LocationMetro,
		internalPatterns:    patterns,
	})
	return nil
}

// IsInternalAnnotation reports whether text matches any configured
// internal-annotation pattern.
func (t *Tables) IsInternalAnnotation(text string) bool {
	for _, re := range t.internalPatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// BucketAUM rounds aum down into the largest configured bucket boundary not
// exceeding it, rendered as "<boundary>+" (e.g. "$10M+"), with amounts shown
// in $, k, M or B units. Buckets must be sorted ascending; an amount below the
// first boundary reads "< <first>" (e.g. "< $1M"), and with no buckets
// configured the amount itself is formatted.
func (t *Tables) BucketAUM(aum int64) string {
	if len(t.AUMBucketsUSD) == 0 {
		return formatUSD(aum)
	}
	if aum < t.AUMBucketsUSD[0] {
		return fmt.Sprintf("< %s", formatUSD(t.AUMBucketsUSD[0]))
	}
	bucket := t.AUMBucketsUSD[0]
	for _, b := range t.AUMBucketsUSD {
		if aum >= b {
			bucket = b
		}
	}
	return fmt.Sprintf("%s+", formatUSD(bucket))
}

func formatUSD(v int64) string {
	switch {
	case v >= 1_000_000_000:
		return fmt.Sprintf("$%dB", v/1_000_000_000)
	case v >= 1_000_000:
		return fmt.Sprintf("$%dM", v/1_000_000)
	case v >= 1_000:
		return fmt.Sprintf("$%dk", v/1_000)
	default:
		return fmt.Sprintf("$%d", v)
	}
}

// EquivalentEmployer maps a raw employer name through the curated table,
// falling back to the original name when no equivalence entry exists.
func (t *Tables) EquivalentEmployer(name string) string {
	if eq, ok := t.EmployerEquivalence[name]; ok {
		return eq
	}
	return name
}

// MetroClass maps a raw location string to its metro equivalence class,
// falling back to the original string when unmapped.
func (t *Tables) MetroClass(location string) string {
	if m, ok := t.LocationMetro[location]; ok {
		return m
	}
	return location
}
