// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package corpus implements disk-backed testcase stores.
//
// Every testcase is a file named by the sha1 of its content. The directory is
// the source of truth: a testcase becomes part of a store only after its file
// is durably written, and the in-memory cache only ever holds copies of what
// is on disk. Several processes may share one directory; all directory
// mutations are serialized with a lock file.
package corpus

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/tinyfuzz/tinyfuzz/pkg/hash"
	"github.com/tinyfuzz/tinyfuzz/pkg/osutil"
)

const (
	lockFile   = ".lock"
	metaSuffix = ".meta"

	// DefaultCacheSize is the number of testcases kept in memory by the main corpus.
	DefaultCacheSize = 64
)

type Options struct {
	// Name is used in errors and logs.
	Name string
	// CacheSize bounds the number of in-memory testcases.
	// 0 means that nothing is ever evicted.
	CacheSize int
	Logf      func(level int, msg string, args ...any)
}

// Corpus is a Store backed by a directory.
type Corpus struct {
	opts Options
	dir  string
	lock *flock.Flock

	mu    sync.Mutex
	sigs  []hash.Sig
	index map[hash.Sig]ID
	cache *lru.Cache[ID, *Testcase]
	all   map[ID]*Testcase

	evictions int
	reloads   int
	synced    int
}

type Stats struct {
	Count     int `json:"count"`
	Cached    int `json:"cached"`
	Evictions int `json:"evictions"`
	Reloads   int `json:"reloads"`
	Synced    int `json:"synced"`
}

// NewCached opens the main corpus with a bounded LRU cache.
func NewCached(dir string, cacheSize int, logf func(int, string, ...any)) (*Corpus, error) {
	if cacheSize <= 0 {
		return nil, fmt.Errorf("bad cache size %v", cacheSize)
	}
	return Open(dir, Options{Name: "corpus", CacheSize: cacheSize, Logf: logf})
}

// NewSolutions opens the solutions store. Solutions are never evicted from memory.
func NewSolutions(dir string, logf func(int, string, ...any)) (*Corpus, error) {
	return Open(dir, Options{Name: "solutions", Logf: logf})
}

// Open creates dir if necessary and loads all testcases already present in it.
func Open(dir string, opts Options) (*Corpus, error) {
	if opts.Name == "" {
		opts.Name = filepath.Base(dir)
	}
	if opts.Logf == nil {
		opts.Logf = func(int, string, ...any) {}
	}
	c := &Corpus{
		opts:  opts,
		dir:   dir,
		index: make(map[hash.Sig]ID),
	}
	if err := osutil.MkdirAll(dir); err != nil {
		return nil, c.storageErr("create", InvalidID, dir, err)
	}
	c.lock = flock.New(filepath.Join(dir, lockFile))
	if opts.CacheSize > 0 {
		cache, err := lru.NewWithEvict(opts.CacheSize, func(ID, *Testcase) {
			c.evictions++
		})
		if err != nil {
			return nil, err
		}
		c.cache = cache
	} else {
		c.all = make(map[ID]*Testcase)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.lock.Lock(); err != nil {
		c.lock.Close()
		return nil, c.storageErr("lock", InvalidID, c.lock.Path(), err)
	}
	defer c.lock.Unlock()
	if _, err := c.scan(true); err != nil {
		c.lock.Close()
		return nil, err
	}
	opts.Logf(0, "%v: loaded %v testcases from %v", opts.Name, len(c.sigs), dir)
	return c, nil
}

func (c *Corpus) Name() string {
	return c.opts.Name
}

func (c *Corpus) Dir() string {
	return c.dir
}

// Add durably persists tc and returns its id.
// Adding content that is already present returns the existing id.
func (c *Corpus) Add(tc *Testcase) (ID, error) {
	tc = tc.Clone()
	sig := tc.Sig()
	c.mu.Lock()
	defer c.mu.Unlock()
	if id, ok := c.index[sig]; ok {
		return id, nil
	}
	file := c.file(sig)
	if err := c.lock.Lock(); err != nil {
		return InvalidID, c.storageErr("lock", InvalidID, c.lock.Path(), err)
	}
	err := c.persist(file, tc)
	c.lock.Unlock()
	if err != nil {
		return InvalidID, c.storageErr("add", InvalidID, file, err)
	}
	id := c.insert(sig, tc)
	c.opts.Logf(2, "%v: added testcase %v as %v (%v bytes)", c.opts.Name, id, sig.Short(), len(tc.Data))
	return id, nil
}

func (c *Corpus) persist(file string, tc *Testcase) error {
	// Another process sharing the dir may have already stored the same content.
	if data, err := os.ReadFile(file); err != nil || !bytes.Equal(data, tc.Data) {
		if err := osutil.WriteFileDurable(file, tc.Data); err != nil {
			return err
		}
	}
	if tc.Meta == (Meta{}) {
		return nil
	}
	// Metadata is a cache, losing it does not lose the testcase.
	if data, err := json.Marshal(tc.Meta); err == nil {
		if err := osutil.WriteFile(file+metaSuffix, data); err != nil {
			c.opts.Logf(0, "%v: failed to write metadata: %v", c.opts.Name, err)
		}
	}
	return nil
}

// Get returns a copy of the testcase, reloading it from disk if it was evicted.
func (c *Corpus) Get(id ID) (*Testcase, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id < 0 || int(id) >= len(c.sigs) {
		return nil, c.storageErr("get", id, c.dir, ErrNoTestcase)
	}
	if tc := c.cached(id); tc != nil {
		return tc.Clone(), nil
	}
	sig := c.sigs[id]
	file := c.file(sig)
	if err := c.lock.RLock(); err != nil {
		return nil, c.storageErr("lock", id, c.lock.Path(), err)
	}
	tc, err := c.load(file, sig)
	c.lock.Unlock()
	if err != nil {
		return nil, c.storageErr("reload", id, file, err)
	}
	c.reloads++
	c.remember(id, tc)
	return tc.Clone(), nil
}

func (c *Corpus) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sigs)
}

func (c *Corpus) IDs() []ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]ID, len(c.sigs))
	for i := range ids {
		ids[i] = ID(i)
	}
	return ids
}

// Sig returns the content hash (and file name) of the testcase.
func (c *Corpus) Sig(id ID) (hash.Sig, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id < 0 || int(id) >= len(c.sigs) {
		return hash.Sig{}, false
	}
	return c.sigs[id], true
}

// Sigs returns content hashes of all testcases in id order.
func (c *Corpus) Sigs() []hash.Sig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]hash.Sig{}, c.sigs...)
}

// Sync picks up testcases written into the directory by other processes.
// It returns the number of new testcases.
func (c *Corpus) Sync() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.lock.Lock(); err != nil {
		return 0, c.storageErr("lock", InvalidID, c.lock.Path(), err)
	}
	defer c.lock.Unlock()
	n, err := c.scan(false)
	c.synced += n
	if n != 0 {
		c.opts.Logf(1, "%v: synced %v new testcases", c.opts.Name, n)
	}
	return n, err
}

func (c *Corpus) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	cached := len(c.all)
	if c.cache != nil {
		cached = c.cache.Len()
	}
	return Stats{
		Count:     len(c.sigs),
		Cached:    cached,
		Evictions: c.evictions,
		Reloads:   c.reloads,
		Synced:    c.synced,
	}
}

// Close releases the lock file descriptor. The store must not be used afterwards.
func (c *Corpus) Close() error {
	return c.lock.Close()
}

// scan loads files unknown to the store. Must be called with both locks held.
// On the initial scan it also repairs the directory: empty files and leftover
// temp files are removed, misnamed files are renamed to their content hash.
func (c *Corpus) scan(repair bool) (int, error) {
	names, err := osutil.ListDir(c.dir)
	if err != nil {
		return 0, c.storageErr("list", InvalidID, c.dir, err)
	}
	added := 0
	for _, name := range names {
		path := filepath.Join(c.dir, name)
		switch {
		case name == lockFile, strings.HasSuffix(name, metaSuffix):
			continue
		case osutil.IsTempFile(name):
			if repair {
				os.Remove(path)
			}
			continue
		}
		known := false
		if sig, err := hash.FromString(name); err == nil {
			_, known = c.index[sig]
		}
		if known {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			return added, c.storageErr("stat", InvalidID, path, err)
		}
		if info.IsDir() {
			continue
		}
		if !hash.IsSig(name) {
			c.opts.Logf(0, "%v: unknown file in %v: %v", c.opts.Name, c.dir, name)
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return added, c.storageErr("read", InvalidID, path, err)
		}
		if len(data) == 0 {
			if repair {
				// This can happen if the machine crashed midway.
				c.opts.Logf(0, "%v: removing empty file %v", c.opts.Name, name)
				os.Remove(path)
			}
			continue
		}
		tc := &Testcase{Data: data}
		sig := tc.Sig()
		if name != sig.String() {
			if !repair {
				continue
			}
			c.opts.Logf(0, "%v: bad hash for file %v, expect %v", c.opts.Name, name, sig)
			if err := osutil.WriteFileDurable(c.file(sig), data); err != nil {
				return added, c.storageErr("rename", InvalidID, path, err)
			}
			os.Remove(path)
			os.Rename(path+metaSuffix, c.file(sig)+metaSuffix)
		}
		if _, ok := c.index[sig]; ok {
			continue
		}
		tc.Meta = c.loadMeta(c.file(sig))
		c.insert(sig, tc)
		added++
	}
	return added, nil
}

func (c *Corpus) load(file string, sig hash.Sig) (*Testcase, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	tc := &Testcase{Data: data}
	if got := tc.Sig(); got != sig {
		return nil, fmt.Errorf("content hash mismatch: got %v", got)
	}
	tc.Meta = c.loadMeta(file)
	return tc, nil
}

func (c *Corpus) loadMeta(file string) Meta {
	var meta Meta
	data, err := os.ReadFile(file + metaSuffix)
	if err != nil {
		return meta
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		c.opts.Logf(1, "%v: ignoring broken metadata %v: %v", c.opts.Name, file, err)
		return Meta{}
	}
	return meta
}

func (c *Corpus) insert(sig hash.Sig, tc *Testcase) ID {
	id := ID(len(c.sigs))
	c.sigs = append(c.sigs, sig)
	c.index[sig] = id
	c.remember(id, tc)
	return id
}

func (c *Corpus) remember(id ID, tc *Testcase) {
	if c.cache != nil {
		c.cache.Add(id, tc)
	} else {
		c.all[id] = tc
	}
}

func (c *Corpus) cached(id ID) *Testcase {
	if c.cache != nil {
		tc, _ := c.cache.Get(id)
		return tc
	}
	return c.all[id]
}

func (c *Corpus) file(sig hash.Sig) string {
	return filepath.Join(c.dir, sig.String())
}

func (c *Corpus) storageErr(op string, id ID, path string, err error) error {
	return &StorageError{
		Store: c.opts.Name,
		Op:    op,
		ID:    id,
		Path:  path,
		Err:   err,
	}
}
