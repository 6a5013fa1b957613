package remote

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/backuper-dev/orchestrator/internal/config"
	"github.com/backuper-dev/orchestrator/internal/pathguard"
	"github.com/backuper-dev/orchestrator/internal/rclone"
	"github.com/backuper-dev/orchestrator/internal/types"
)

func newOrchestratorForTest(tool Tool, store Store, allowedBase string) *Orchestrator {
	guard := pathguard.New([]string{"Data|" + allowedBase}, "")
	cfg := &config.Config{
		DriveRemote: "gdrive",
		DriveToken:  `{"access_token":"base"}`,
	}
	logger := newTestLogger()
	return NewOrchestrator(
		NewBuilder(tool, guard, cfg, logger),
		NewExecutor(tool, logger),
		NewMover(tool, logger),
		NewSnapshotManager(tool, logger),
		tool, store, logger,
	)
}

func (f *fakeTool) calledWithPrefix(prefix string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

func exitErr(output string) error {
	return &rclone.CommandError{Command: "x", Output: output, Err: errors.New("exit status 1")}
}

func TestCreateLocalRemote(t *testing.T) {
	base := t.TempDir()
	tool := newFakeTool()
	store := newFakeStore()
	o := newOrchestratorForTest(tool, store, base)

	desc, err := o.Create(context.Background(), Request{
		Name: "backupA", Type: types.RemoteLocal,
		Settings: map[string]string{"path": base},
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	target := filepath.Join(base, "backupA")
	if desc.Route != target || desc.ShareURL != target {
		t.Errorf("route = %q share = %q; want %q for both", desc.Route, desc.ShareURL, target)
	}
	if desc.ID == 0 {
		t.Error("descriptor has no id after persistence")
	}
	if _, err := os.Stat(target); err != nil {
		t.Errorf("target directory was not created: %v", err)
	}

	entry := tool.entries["backupA"]
	if entry == nil || entry["type"] != "alias" || entry["remote"] != target {
		t.Errorf("live entry = %v; want alias -> %s", entry, target)
	}
	if desc.Config["type"] != "alias" {
		t.Errorf("persisted snapshot = %v; want echoed alias entry", desc.Config)
	}

	if row, _ := store.GetRemote(context.Background(), "backupA"); row == nil {
		t.Error("descriptor row was not persisted")
	}
}

func TestCreateRejectsDuplicates(t *testing.T) {
	base := t.TempDir()
	tool := newFakeTool()
	store := newFakeStore()
	o := newOrchestratorForTest(tool, store, base)

	store.remotes["backupA"] = &types.RemoteDescriptor{Name: "backupA", Type: types.RemoteLocal}
	_, err := o.Create(context.Background(), Request{Name: "backupA", Type: types.RemoteLocal,
		Settings: map[string]string{"path": base}})
	if kindOf(t, err) != KindConflict {
		t.Errorf("persisted duplicate: kind = %v; want KindConflict", kindOf(t, err))
	}

	delete(store.remotes, "backupA")
	tool.entries["backupA"] = map[string]string{"type": "alias"}
	_, err = o.Create(context.Background(), Request{Name: "backupA", Type: types.RemoteLocal,
		Settings: map[string]string{"path": base}})
	if kindOf(t, err) != KindConflict {
		t.Errorf("live duplicate: kind = %v; want KindConflict", kindOf(t, err))
	}
}

func TestCreateSftpPermissionDeniedCleansUpEntry(t *testing.T) {
	tool := newFakeTool()
	store := newFakeStore()
	o := newOrchestratorForTest(tool, store, t.TempDir())

	tool.failOn("mkdir nas:", exitErr("sftp: permission denied"))

	_, err := o.Create(context.Background(), Request{
		Name: "nas", Type: types.RemoteSftp,
		Settings: map[string]string{
			"host": "10.0.0.5", "username": "backup", "password": "pw", "path": "/backups",
		},
	})
	if err == nil {
		t.Fatal("Create() error = nil; want translated sftp failure")
	}

	var domainErr *Error
	if !errors.As(err, &domainErr) {
		t.Fatalf("error %v is not a *remote.Error", err)
	}
	if domainErr.Message != "permission denied on the SFTP server" {
		t.Errorf("message = %q; want translated permission message", domainErr.Message)
	}

	if _, ok := tool.entries["nas"]; ok {
		t.Error("partially created entry still present after failure")
	}
	if row, _ := store.GetRemote(context.Background(), "nas"); row != nil {
		t.Error("descriptor was persisted despite the failure")
	}
}

func TestCreateReportsMissingBinaryAsFatal(t *testing.T) {
	tool := newFakeTool()
	o := newOrchestratorForTest(tool, newFakeStore(), t.TempDir())

	tool.failOn("listremotes", rclone.ErrNotInstalled)

	_, err := o.Create(context.Background(), Request{Name: "x", Type: types.RemoteSftp,
		Settings: map[string]string{"host": "h", "username": "u", "password": "p"}})
	if kindOf(t, err) != KindToolMissing {
		t.Errorf("kind = %v; want KindToolMissing", kindOf(t, err))
	}
}

func seedLocalRemote(t *testing.T, tool *fakeTool, store *fakeStore, base, name string) string {
	t.Helper()
	route := filepath.Join(base, name)
	if err := os.MkdirAll(route, 0755); err != nil {
		t.Fatal(err)
	}
	entry := map[string]string{"type": "alias", "remote": route}
	tool.entries[name] = entry
	store.remotes[name] = &types.RemoteDescriptor{
		ID: 1, Name: name, Type: types.RemoteLocal,
		Route: route, ShareURL: route,
		Config: map[string]string{"type": "alias", "remote": route},
	}
	return route
}

func TestUpdateLocalRenameCascadesAppReferences(t *testing.T) {
	base := t.TempDir()
	tool := newFakeTool()
	store := newFakeStore()
	o := newOrchestratorForTest(tool, store, base)

	oldRoute := seedLocalRemote(t, tool, store, base, "backupA")
	writeFile(t, filepath.Join(oldRoute, "x.bak"), "x")
	store.apps = []*types.AppLink{
		{ID: 1, Name: "app1", RcloneRemote: "backupA:"},
		{ID: 2, Name: "app2", RcloneRemote: "other:"},
	}

	desc, err := o.Update(context.Background(), "backupA", Request{
		Name: "backupB", Type: types.RemoteLocal,
		Settings: map[string]string{"path": base},
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	newRoute := filepath.Join(base, "backupB")
	if desc.Route != newRoute {
		t.Errorf("route = %q; want %q", desc.Route, newRoute)
	}
	if _, err := os.Stat(filepath.Join(newRoute, "x.bak")); err != nil {
		t.Errorf("content not moved with the rename: %v", err)
	}
	if _, ok := tool.entries["backupA"]; ok {
		t.Error("old entry still present")
	}
	if entry := tool.entries["backupB"]; entry == nil || entry["remote"] != newRoute {
		t.Errorf("new entry = %v; want alias -> %s", entry, newRoute)
	}

	if store.apps[0].RcloneRemote != "backupB:" {
		t.Errorf("app1 reference = %q; want backupB:", store.apps[0].RcloneRemote)
	}
	if store.apps[1].RcloneRemote != "other:" {
		t.Errorf("app2 reference = %q; must be untouched", store.apps[1].RcloneRemote)
	}
}

func TestUpdateMergesBaseContentsIntoNamedSubfolder(t *testing.T) {
	base := t.TempDir()
	tool := newFakeTool()
	store := newFakeStore()
	o := newOrchestratorForTest(tool, store, base)

	// Current route is the base directory itself
	tool.entries["backupA"] = map[string]string{"type": "alias", "remote": base}
	store.remotes["backupA"] = &types.RemoteDescriptor{
		ID: 1, Name: "backupA", Type: types.RemoteLocal, Route: base,
		Config: map[string]string{"type": "alias", "remote": base},
	}
	writeFile(t, filepath.Join(base, "a.bak"), "a")
	writeFile(t, filepath.Join(base, "b.bak"), "b")

	desc, err := o.Update(context.Background(), "backupA", Request{
		Name: "backupB", Type: types.RemoteLocal,
		Settings: map[string]string{"path": base},
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	newRoute := filepath.Join(base, "backupB")
	if desc.Route != newRoute {
		t.Errorf("route = %q; want %q", desc.Route, newRoute)
	}
	for _, name := range []string{"a.bak", "b.bak"} {
		if _, err := os.Stat(filepath.Join(newRoute, name)); err != nil {
			t.Errorf("child %s not merged into %s: %v", name, newRoute, err)
		}
	}
}

func TestUpdateFailureUnwindsMoveAndRestoresEntry(t *testing.T) {
	base := t.TempDir()
	tool := newFakeTool()
	store := newFakeStore()
	o := newOrchestratorForTest(tool, store, base)

	oldRoute := seedLocalRemote(t, tool, store, base, "backupA")
	writeFile(t, filepath.Join(oldRoute, "x.bak"), "x")

	tool.failOn("create backupB alias", exitErr("config write failed"))

	_, err := o.Update(context.Background(), "backupA", Request{
		Name: "backupB", Type: types.RemoteLocal,
		Settings: map[string]string{"path": base},
	})
	if err == nil {
		t.Fatal("Update() error = nil; want failure")
	}

	var domainErr *Error
	if !errors.As(err, &domainErr) {
		t.Fatalf("error %v is not a *remote.Error", err)
	}
	if domainErr.Restore != RestoreSucceeded {
		t.Errorf("Restore outcome = %v; want RestoreSucceeded", domainErr.Restore)
	}
	if !strings.Contains(domainErr.Error(), "previous configuration restored") {
		t.Errorf("Error() = %q; must state the restore outcome", domainErr.Error())
	}

	// Directory moved back and old entry recreated from the snapshot
	if _, err := os.Stat(filepath.Join(oldRoute, "x.bak")); err != nil {
		t.Errorf("directory not moved back: %v", err)
	}
	entry := tool.entries["backupA"]
	if entry == nil || entry["remote"] != oldRoute {
		t.Errorf("old entry after restore = %v; want alias -> %s", entry, oldRoute)
	}
	if row, _ := store.GetRemote(context.Background(), "backupA"); row == nil {
		t.Error("old descriptor row must survive a failed update")
	}
}

func TestUpdateUnknownRemote(t *testing.T) {
	o := newOrchestratorForTest(newFakeTool(), newFakeStore(), t.TempDir())

	_, err := o.Update(context.Background(), "ghost", Request{Name: "ghost", Type: types.RemoteLocal,
		Settings: map[string]string{"path": "/data"}})
	if kindOf(t, err) != KindNotFound {
		t.Errorf("kind = %v; want KindNotFound", kindOf(t, err))
	}
}

func TestDeleteLocalRemovesEverything(t *testing.T) {
	base := t.TempDir()
	tool := newFakeTool()
	store := newFakeStore()
	o := newOrchestratorForTest(tool, store, base)

	route := seedLocalRemote(t, tool, store, base, "backupA")
	store.apps = []*types.AppLink{{ID: 1, Name: "app1", RcloneRemote: "backupA:"}}

	removedPath, err := o.Delete(context.Background(), "backupA")
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if removedPath != route {
		t.Errorf("removedPath = %q; want %q", removedPath, route)
	}
	if _, err := os.Stat(route); !os.IsNotExist(err) {
		t.Error("directory still exists after delete")
	}
	if _, ok := tool.entries["backupA"]; ok {
		t.Error("entry still exists after delete")
	}
	if row, _ := store.GetRemote(context.Background(), "backupA"); row != nil {
		t.Error("row still exists after delete")
	}
	if store.apps[0].RcloneRemote != "" {
		t.Errorf("app reference = %q; want nulled", store.apps[0].RcloneRemote)
	}
}

func TestDeleteCloudPurgeFailureMovesBackAndRestores(t *testing.T) {
	tool := newFakeTool()
	store := newFakeStore()
	o := newOrchestratorForTest(tool, store, t.TempDir())

	tool.entries["Foo"] = map[string]string{"type": "alias", "remote": "gdrive:Foo"}
	store.remotes["Foo"] = &types.RemoteDescriptor{
		ID: 1, Name: "Foo", Type: types.RemoteDrive, Route: "gdrive:Foo",
		Config: map[string]string{"type": "alias", "remote": "gdrive:Foo"},
	}

	tool.failOn("purge", exitErr("rate limited"))

	_, err := o.Delete(context.Background(), "Foo")
	if err == nil {
		t.Fatal("Delete() error = nil; want purge failure")
	}

	var domainErr *Error
	if !errors.As(err, &domainErr) {
		t.Fatalf("error %v is not a *remote.Error", err)
	}
	if domainErr.Restore != RestoreSucceeded {
		t.Errorf("Restore outcome = %v; want RestoreSucceeded", domainErr.Restore)
	}

	// Folder staged to quarantine, then moved back
	if !tool.calledWithPrefix("moveto gdrive:Foo gdrive:Foo.__delete__-") {
		t.Error("folder was not staged to a quarantine path")
	}
	if !tool.calledWithPrefix("moveto gdrive:Foo.__delete__-") {
		t.Error("quarantined folder was not moved back")
	}

	if _, ok := tool.entries["Foo"]; !ok {
		t.Error("entry not restored after failed purge")
	}
	if row, _ := store.GetRemote(context.Background(), "Foo"); row == nil {
		t.Error("row must survive a failed delete")
	}
}

func TestDeleteUnknownRemote(t *testing.T) {
	o := newOrchestratorForTest(newFakeTool(), newFakeStore(), t.TempDir())

	_, err := o.Delete(context.Background(), "ghost")
	if kindOf(t, err) != KindNotFound {
		t.Errorf("kind = %v; want KindNotFound", kindOf(t, err))
	}
}

func TestListFiltersRowsMissingFromLiveRegistry(t *testing.T) {
	tool := newFakeTool()
	store := newFakeStore()
	o := newOrchestratorForTest(tool, store, t.TempDir())

	store.remotes["alive"] = &types.RemoteDescriptor{ID: 1, Name: "alive", Type: types.RemoteLocal}
	store.remotes["stale"] = &types.RemoteDescriptor{ID: 2, Name: "stale", Type: types.RemoteLocal}
	tool.entries["alive"] = map[string]string{"type": "alias"}

	rows, err := o.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(rows) != 1 || rows[0].Name != "alive" {
		t.Fatalf("List() = %v; want only the live row", rows)
	}
}

func TestReconcileRecreatesMissingEntries(t *testing.T) {
	tool := newFakeTool()
	store := newFakeStore()
	o := newOrchestratorForTest(tool, store, t.TempDir())

	store.remotes["nas"] = &types.RemoteDescriptor{
		ID: 1, Name: "nas", Type: types.RemoteSftp,
		Config: map[string]string{"type": "sftp", "host": "10.0.0.5"},
	}
	store.remotes["empty"] = &types.RemoteDescriptor{ID: 2, Name: "empty", Type: types.RemoteLocal}

	if err := o.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	if entry := tool.entries["nas"]; entry == nil || entry["host"] != "10.0.0.5" {
		t.Errorf("nas entry = %v; want recreated from snapshot", entry)
	}
	if _, ok := tool.entries["empty"]; ok {
		t.Error("row without snapshot must not be recreated")
	}
}

func TestBrowseSftpUsesThrowawayProbe(t *testing.T) {
	tool := newFakeTool()
	o := newOrchestratorForTest(tool, newFakeStore(), t.TempDir())

	tool.lsjson["*"] = []rclone.DirEntry{
		{Name: "docs", Path: "docs", IsDir: true},
		{Name: "file.txt", Path: "file.txt", IsDir: false},
	}

	result, err := o.BrowseSftp(context.Background(), SftpBrowseRequest{
		Host: "10.0.0.5", Username: "backup", Password: "pw", Path: "/srv/data",
	})
	if err != nil {
		t.Fatalf("BrowseSftp() error = %v", err)
	}

	if result.CurrentPath != "/srv/data" || result.ParentPath != "/srv" {
		t.Errorf("paths = %q/%q; want /srv/data and /srv", result.CurrentPath, result.ParentPath)
	}
	if len(result.Directories) != 1 || result.Directories[0].Path != "/srv/data/docs" {
		t.Errorf("directories = %v; want only docs with joined path", result.Directories)
	}

	for name := range tool.entries {
		if strings.HasPrefix(name, "__probe__") {
			t.Errorf("probe entry %s was not cleaned up", name)
		}
	}
}

func TestValidateDriveTokenCleansUpProbe(t *testing.T) {
	tool := newFakeTool()
	o := newOrchestratorForTest(tool, newFakeStore(), t.TempDir())

	if err := o.ValidateDriveToken(context.Background(), `{"access_token":"x"}`, "", ""); err != nil {
		t.Fatalf("ValidateDriveToken() error = %v", err)
	}

	tool.failOn("lsd", exitErr("invalid_grant"))
	err := o.ValidateDriveToken(context.Background(), `{"access_token":"bad"}`, "", "")
	if err == nil {
		t.Fatal("ValidateDriveToken() error = nil; want failure")
	}
	if kindOf(t, err) != KindToolFailure {
		t.Errorf("kind = %v; want KindToolFailure", kindOf(t, err))
	}

	for name := range tool.entries {
		if strings.HasPrefix(name, "__probe__") {
			t.Errorf("probe entry %s was not cleaned up", name)
		}
	}
}
