package remote

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/backuper-dev/orchestrator/internal/logging"
	"github.com/backuper-dev/orchestrator/internal/rclone"
	"github.com/backuper-dev/orchestrator/internal/types"
)

func newTestLogger() *logging.Logger {
	logger := logging.New(types.LogLevelNone, false)
	logger.SetOutput(io.Discard)
	return logger
}

// fakeTool simula il registry rclone in memoria. I fallimenti vengono
// iniettati per chiave "op arg".
type fakeTool struct {
	mu      sync.Mutex
	entries map[string]map[string]string
	calls   []string

	failures   map[string]error
	lsfResults map[string][]string
	lsjson     map[string][]rclone.DirEntry
	linkURL    string
}

func newFakeTool() *fakeTool {
	return &fakeTool{
		entries:    make(map[string]map[string]string),
		failures:   make(map[string]error),
		lsfResults: make(map[string][]string),
		lsjson:     make(map[string][]rclone.DirEntry),
		linkURL:    "https://drive.example/share/xyz",
	}
}

func (f *fakeTool) failOn(key string, err error) {
	f.failures[key] = err
}

func (f *fakeTool) record(op string, args ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := op
	for _, a := range args {
		key += " " + a
	}
	f.calls = append(f.calls, key)
	if err, ok := f.failures[key]; ok {
		return err
	}
	if err, ok := f.failures[op]; ok {
		return err
	}
	return nil
}

func (f *fakeTool) called(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == key {
			return true
		}
	}
	return false
}

func (f *fakeTool) ListRemotes(ctx context.Context) ([]string, error) {
	if err := f.record("listremotes"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for name := range f.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (f *fakeTool) HasRemote(ctx context.Context, name string) (bool, error) {
	names, err := f.ListRemotes(ctx)
	if err != nil {
		return false, err
	}
	for _, n := range names {
		if n == name {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeTool) DumpRemote(ctx context.Context, name string) (map[string]string, bool, error) {
	if err := f.record("dump", name); err != nil {
		return nil, false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.entries[name]
	if !ok {
		return nil, false, nil
	}
	copied := make(map[string]string, len(entry))
	for k, v := range entry {
		copied[k] = v
	}
	return copied, true, nil
}

func (f *fakeTool) CreateRemote(ctx context.Context, name, remoteType string, params map[string]string, noAutoAuth bool) error {
	if err := f.record("create", name, remoteType); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	entry := map[string]string{"type": remoteType}
	for k, v := range params {
		entry[k] = v
	}
	f.entries[name] = entry
	return nil
}

func (f *fakeTool) DeleteRemote(ctx context.Context, name string) error {
	if err := f.record("delete-remote", name); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, name)
	return nil
}

func (f *fakeTool) Mkdir(ctx context.Context, path string) error {
	return f.record("mkdir", path)
}

func (f *fakeTool) Lsd(ctx context.Context, remote string) error {
	return f.record("lsd", remote)
}

func (f *fakeTool) Lsf(ctx context.Context, path string, dirsOnly bool) ([]string, error) {
	if err := f.record("lsf", path); err != nil {
		return nil, err
	}
	return f.lsfResults[path], nil
}

func (f *fakeTool) LsJSON(ctx context.Context, path string) ([]rclone.DirEntry, error) {
	if err := f.record("lsjson", path); err != nil {
		return nil, err
	}
	if res, ok := f.lsjson[path]; ok {
		return res, nil
	}
	// Probe entry names contain a uuid, so tests key the default on "*"
	return f.lsjson["*"], nil
}

func (f *fakeTool) Obscure(ctx context.Context, secret string) (string, error) {
	if err := f.record("obscure"); err != nil {
		return "", err
	}
	return "obscured:" + secret, nil
}

func (f *fakeTool) Link(ctx context.Context, path string) (string, error) {
	if err := f.record("link", path); err != nil {
		return "", err
	}
	return f.linkURL, nil
}

func (f *fakeTool) MoveTo(ctx context.Context, src, dst string) error {
	return f.record("moveto", src, dst)
}

func (f *fakeTool) Purge(ctx context.Context, path string) error {
	return f.record("purge", path)
}

// fakeStore tiene i descrittori e le righe app in memoria e replica la
// cascata dello store reale
type fakeStore struct {
	mu      sync.Mutex
	remotes map[string]*types.RemoteDescriptor
	apps    []*types.AppLink
	nextID  int64

	failCreate error
	failUpdate error
	failDelete error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		remotes: make(map[string]*types.RemoteDescriptor),
		nextID:  1,
	}
}

func (s *fakeStore) GetRemote(ctx context.Context, name string) (*types.RemoteDescriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if desc, ok := s.remotes[name]; ok {
		copied := *desc
		return &copied, nil
	}
	return nil, nil
}

func (s *fakeStore) ListRemotes(ctx context.Context) ([]*types.RemoteDescriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.RemoteDescriptor
	for _, desc := range s.remotes {
		copied := *desc
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *fakeStore) CreateRemote(ctx context.Context, desc *types.RemoteDescriptor) (int64, error) {
	if s.failCreate != nil {
		return 0, s.failCreate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	copied := *desc
	copied.ID = id
	s.remotes[desc.Name] = &copied
	return id, nil
}

func (s *fakeStore) UpdateRemote(ctx context.Context, oldName string, desc *types.RemoteDescriptor) error {
	if s.failUpdate != nil {
		return s.failUpdate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.remotes[oldName]; !ok {
		return fmt.Errorf("remote %s not found", oldName)
	}
	delete(s.remotes, oldName)
	copied := *desc
	s.remotes[desc.Name] = &copied

	oldRef := oldName + ":"
	newRef := desc.Name + ":"
	for _, app := range s.apps {
		if app.RcloneRemote == oldRef {
			app.RcloneRemote = newRef
		}
	}
	return nil
}

func (s *fakeStore) DeleteRemote(ctx context.Context, name string) error {
	if s.failDelete != nil {
		return s.failDelete
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.remotes, name)
	ref := name + ":"
	for _, app := range s.apps {
		if app.RcloneRemote == ref {
			app.RcloneRemote = ""
		}
	}
	return nil
}
