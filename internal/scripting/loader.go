// Package scripting fetches a remote dialect-extraction script and evaluates
// short expressions against it inside an isolated Lua VM.
package scripting

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

var (
	ErrFetchFailed    = errors.New("scripting: primary and fallback fetch both failed")
	ErrCacheCorrupt   = errors.New("scripting: cache file corrupt")
	ErrIsolateCrashed = errors.New("scripting: isolate crashed")
)

const cacheTTL = 24 * time.Hour

// Loader fetches one remote source file, caches it, and evaluates short
// expressions against it in a sandboxed VM with no file, network, or
// environment access. One Loader corresponds to one dialect.
type Loader struct {
	primaryURL    string
	fallbackURL   string
	cachePath     string
	allowCache    bool
	allowInsecure bool

	log *zap.Logger

	mu     sync.RWMutex
	source string
	ready  chan struct{}
	once   sync.Once
	err    error

	client *http.Client
}

// NewLoader constructs a Loader for one dialect and kicks off loading in the
// background. Call Ready() to wait for completion.
func NewLoader(dialect, primaryURL, fallbackURL, cacheDir string, allowCache, allowInsecure bool, log *zap.Logger) *Loader {
	l := &Loader{
		primaryURL:    primaryURL,
		fallbackURL:   fallbackURL,
		cachePath:     filepath.Join(cacheDir, dialect+".cache"),
		allowCache:    allowCache,
		allowInsecure: allowInsecure,
		log:           log.With(zap.String("dialect", dialect)),
		ready:         make(chan struct{}),
		client:        &http.Client{Timeout: 10 * time.Second},
	}
	go l.load()
	return l
}

// Ready closes once the source has been loaded (from cache or fetch), or
// loading has permanently failed — check Err() after a Ready receive.
func (l *Loader) Ready() <-chan struct{} {
	return l.ready
}

// Err returns the terminal load error, if any. Only meaningful after Ready().
func (l *Loader) Err() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.err
}

func (l *Loader) finish(source string, err error) {
	l.once.Do(func() {
		l.mu.Lock()
		l.source = source
		l.err = err
		l.mu.Unlock()
		close(l.ready)
	})
}

func (l *Loader) load() {
	if l.allowCache {
		if src, ok := l.readCache(); ok {
			l.finish(src, nil)
			return
		}
	}
	src, err := l.fetchWithFallback()
	if err != nil {
		l.log.Warn("script fetch failed", zap.Error(err))
		l.finish("", ErrFetchFailed)
		return
	}
	if l.allowCache {
		l.writeCache(src)
	}
	l.finish(src, nil)
}

// readCache returns (source, true) if a fresh, well-formed cache file exists.
func (l *Loader) readCache() (string, bool) {
	data, err := os.ReadFile(l.cachePath)
	if err != nil {
		return "", false
	}
	lines := strings.SplitN(string(data), "\n", 2)
	if len(lines) != 2 {
		l.corruptCache()
		return "", false
	}
	ts, err := strconv.ParseInt(strings.TrimSpace(lines[0]), 10, 64)
	if err != nil {
		l.corruptCache()
		return "", false
	}
	age := time.Since(time.UnixMilli(ts))
	if age < 0 || age >= cacheTTL {
		return "", false
	}
	return lines[1], true
}

// corruptCache deletes an unparseable cache file so the next load re-fetches.
func (l *Loader) corruptCache() {
	l.log.Warn("cache corrupt, deleting", zap.Error(ErrCacheCorrupt))
	os.Remove(l.cachePath)
}

func (l *Loader) writeCache(source string) {
	os.MkdirAll(filepath.Dir(l.cachePath), 0o755)
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	content := ts + "\n" + minify(source)
	if err := os.WriteFile(l.cachePath, []byte(content), 0o644); err != nil {
		l.log.Warn("cache write failed", zap.Error(err))
	}
}

// minify collapses blank lines; the cache holds compact source, not pretty source.
func minify(source string) string {
	lines := strings.Split(source, "\n")
	out := make([]string, 0, len(lines))
	for _, ln := range lines {
		t := strings.TrimSpace(ln)
		if t != "" {
			out = append(out, t)
		}
	}
	return strings.Join(out, "\n")
}

func (l *Loader) fetchWithFallback() (string, error) {
	src, err := l.fetchOne(l.primaryURL)
	if err == nil {
		return src, nil
	}
	l.log.Warn("primary fetch failed", zap.String("url", l.primaryURL), zap.Error(err))
	if l.fallbackURL == "" {
		return "", err
	}
	src, err2 := l.fetchOne(l.fallbackURL)
	if err2 == nil {
		return src, nil
	}
	return "", fmt.Errorf("primary: %v, fallback: %w", err, err2)
}

func (l *Loader) fetchOne(rawURL string) (string, error) {
	if rawURL == "" {
		return "", errors.New("empty url")
	}
	src, err := l.httpGet(rawURL)
	if err == nil {
		return src, nil
	}
	if l.allowInsecure && strings.HasPrefix(rawURL, "https://") {
		downgraded := "http://" + strings.TrimPrefix(rawURL, "https://")
		return l.httpGet(downgraded)
	}
	return "", err
}

func (l *Loader) httpGet(url string) (string, error) {
	resp, err := l.client.Get(url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// Execute evaluates expression against the loaded source's globals inside a
// fresh, sandboxed Lua state (no io/os/net libraries open — only base, table,
// string and math). Per the isolation contract, a throw or runtime error in
// the loaded source or expression never surfaces as a Go error — it becomes
// the returned value, serialized as text. err is reserved for a genuine
// isolate crash (ErrIsolateCrashed).
func (l *Loader) Execute(expression string) (result string, err error) {
	v, err := l.eval(expression)
	if err != nil {
		return "", err
	}
	return lua.LVAsString(v), nil
}

// ExecuteMapping evaluates expression, expecting a Lua table of
// stringId -> numeric dialect ID, and returns it as a Go map. A thrown error
// still doesn't crash the isolate, but it also isn't a table, so it can't be
// returned as a mapping — that shape mismatch is reported as an error for
// the caller to treat as "this dialect's extraction produced nothing usable".
func (l *Loader) ExecuteMapping(expression string) (map[string]int, error) {
	v, err := l.eval(expression)
	if err != nil {
		return nil, err
	}
	tbl, ok := v.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("scripting: extractor expression did not return a table (got %q)", lua.LVAsString(v))
	}
	out := make(map[string]int)
	tbl.ForEach(func(k, val lua.LValue) {
		out[lua.LVAsString(k)] = int(lua.LVAsNumber(val))
	})
	return out, nil
}

// eval runs the loaded source in a fresh sandboxed VM and evaluates
// expression against its globals, returning the raw Lua value. A syntax or
// runtime error while loading the source or evaluating the expression is
// not returned as a Go error: per spec.md §4.1's isolation contract, "a
// throw becomes the returned value, serialized as text" — so it comes back
// as an LString of the error message instead. Only a true isolate failure (a
// Go-level panic escaping the Lua runtime) surfaces as ErrIsolateCrashed.
func (l *Loader) eval(expression string) (result lua.LValue, err error) {
	l.mu.RLock()
	source := l.source
	l.mu.RUnlock()

	vm := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer vm.Close()
	openSafeLibs(vm)

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %v", ErrIsolateCrashed, rec)
		}
	}()

	if loadErr := vm.DoString(source); loadErr != nil {
		return lua.LString(loadErr.Error()), nil
	}
	if evalErr := vm.DoString("__pixsim_result = (" + expression + ")"); evalErr != nil {
		return lua.LString(evalErr.Error()), nil
	}
	return vm.GetGlobal("__pixsim_result"), nil
}

// openSafeLibs opens only the base, table, string and math libraries —
// deliberately excluding io, os, and any networking package so the isolate
// cannot touch the host filesystem, environment, or network.
func openSafeLibs(vm *lua.LState) {
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		vm.Push(vm.NewFunction(lib.fn))
		vm.Push(lua.LString(lib.name))
		vm.Call(1, 0)
	}
	// The base library's dofile and loadfile read from disk.
	vm.SetGlobal("dofile", lua.LNil)
	vm.SetGlobal("loadfile", lua.LNil)
}

// Terminate releases the loader's resources. Safe to call even if loading
// never completed.
func (l *Loader) Terminate() {
	// The Lua VM is created fresh per Execute call and closed immediately
	// after, so there is nothing persistent to release here beyond letting
	// goroutines referencing l be garbage collected.
}
