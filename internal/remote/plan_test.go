package remote

import (
	"context"
	"errors"
	"testing"

	"github.com/backuper-dev/orchestrator/internal/config"
	"github.com/backuper-dev/orchestrator/internal/pathguard"
	"github.com/backuper-dev/orchestrator/internal/types"
)

func newBuilderForTest(tool Tool) *Builder {
	guard := pathguard.New([]string{"Data|/data"}, "")
	cfg := &config.Config{
		DriveRemote: "gdrive",
		DriveToken:  `{"access_token":"base"}`,
	}
	return NewBuilder(tool, guard, cfg, newTestLogger())
}

func kindOf(t *testing.T, err error) Kind {
	t.Helper()
	var domainErr *Error
	if !errors.As(err, &domainErr) {
		t.Fatalf("error %v is not a *remote.Error", err)
	}
	return domainErr.Kind
}

func TestBuildRejectsUnsupportedTypes(t *testing.T) {
	b := newBuilderForTest(newFakeTool())

	_, err := b.Build(context.Background(), Request{Name: "x", Type: types.RemoteOnedrive}, nil)
	if kindOf(t, err) != KindUnsupportedType {
		t.Errorf("onedrive: kind = %v; want KindUnsupportedType", kindOf(t, err))
	}

	_, err = b.Build(context.Background(), Request{Name: "x", Type: types.RemoteType("ftp")}, nil)
	if kindOf(t, err) != KindUnsupportedType {
		t.Errorf("ftp: kind = %v; want KindUnsupportedType", kindOf(t, err))
	}
}

func TestBuildRejectsUnsafeNames(t *testing.T) {
	b := newBuilderForTest(newFakeTool())

	for _, name := range []string{"", "..", "a/b", `a\b`} {
		_, err := b.Build(context.Background(), Request{Name: name, Type: types.RemoteLocal,
			Settings: map[string]string{"path": "/data"}}, nil)
		if err == nil {
			t.Errorf("Build(%q) error = nil; want validation error", name)
			continue
		}
		if kindOf(t, err) != KindValidation {
			t.Errorf("Build(%q) kind = %v; want KindValidation", name, kindOf(t, err))
		}
	}
}

func TestBuildDriveInvalidMode(t *testing.T) {
	b := newBuilderForTest(newFakeTool())

	_, err := b.Build(context.Background(), Request{Name: "x", Type: types.RemoteDrive,
		Settings: map[string]string{"mode": "weird"}}, nil)
	if kindOf(t, err) != KindValidation {
		t.Errorf("kind = %v; want KindValidation", kindOf(t, err))
	}
}

func TestBuildDriveCustomRequiresToken(t *testing.T) {
	b := newBuilderForTest(newFakeTool())

	_, err := b.Build(context.Background(), Request{Name: "x", Type: types.RemoteDrive,
		Settings: map[string]string{"mode": "custom"}}, nil)
	if kindOf(t, err) != KindValidation {
		t.Errorf("kind = %v; want KindValidation", kindOf(t, err))
	}

	plan, err := b.Build(context.Background(), Request{Name: "x", Type: types.RemoteDrive,
		Settings: map[string]string{"mode": "custom", "token": `{"access_token":"t"}`}}, nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if plan.Route != "" || plan.ResolveShareURL {
		t.Error("custom drive plan must have no route and no share link resolution")
	}
}

func TestBuildDriveSharedConflictIsCaseInsensitive(t *testing.T) {
	tool := newFakeTool()
	tool.entries["gdrive"] = map[string]string{"type": "drive"}
	tool.lsfResults["gdrive:"] = []string{"Existing", "Other"}
	b := newBuilderForTest(tool)

	_, err := b.Build(context.Background(), Request{Name: "existing", Type: types.RemoteDrive,
		Settings: map[string]string{"mode": "shared"}}, nil)
	if kindOf(t, err) != KindConflict {
		t.Errorf("kind = %v; want KindConflict", kindOf(t, err))
	}
}

func TestBuildDriveSharedBootstrapsBaseAccount(t *testing.T) {
	tool := newFakeTool()
	b := newBuilderForTest(tool)

	plan, err := b.Build(context.Background(), Request{Name: "Backups", Type: types.RemoteDrive,
		Settings: map[string]string{"mode": "shared"}}, nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if _, ok := tool.entries["gdrive"]; !ok {
		t.Error("base drive account was not bootstrapped")
	}
	if plan.Route != "gdrive:Backups" {
		t.Errorf("plan.Route = %q; want gdrive:Backups", plan.Route)
	}
	if !plan.ResolveShareURL {
		t.Error("shared drive plan must resolve the share link")
	}
	if len(plan.SetupSteps) != 1 {
		t.Errorf("setup steps = %d; want 1 (folder creation)", len(plan.SetupSteps))
	}
}

func TestBuildDriveSharedMissingCredentials(t *testing.T) {
	tool := newFakeTool()
	guard := pathguard.New(nil, "/backupsLocales")
	cfg := &config.Config{DriveRemote: "gdrive"}
	b := NewBuilder(tool, guard, cfg, newTestLogger())

	_, err := b.Build(context.Background(), Request{Name: "x", Type: types.RemoteDrive,
		Settings: map[string]string{"mode": "shared"}}, nil)
	if kindOf(t, err) != KindInternal {
		t.Errorf("kind = %v; want KindInternal", kindOf(t, err))
	}
}

func TestBuildLocalPathMustBeAllowed(t *testing.T) {
	b := newBuilderForTest(newFakeTool())

	_, err := b.Build(context.Background(), Request{Name: "x", Type: types.RemoteLocal,
		Settings: map[string]string{"path": "/etc"}}, nil)
	if kindOf(t, err) != KindPathNotAllowed {
		t.Errorf("kind = %v; want KindPathNotAllowed", kindOf(t, err))
	}

	_, err = b.Build(context.Background(), Request{Name: "x", Type: types.RemoteLocal,
		Settings: map[string]string{"path": "/data/../etc"}}, nil)
	if kindOf(t, err) != KindPathNotAllowed {
		t.Errorf("traversal: kind = %v; want KindPathNotAllowed", kindOf(t, err))
	}
}

func TestBuildLocalMoveModeSelection(t *testing.T) {
	b := newBuilderForTest(newFakeTool())
	req := Request{Name: "backupB", Type: types.RemoteLocal,
		Settings: map[string]string{"path": "/data"}}

	// Fresh creation
	plan, err := b.Build(context.Background(), req, nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if plan.Local.MoveMode != types.MoveNone {
		t.Errorf("fresh: MoveMode = %v; want MoveNone", plan.Local.MoveMode)
	}
	if plan.Local.TargetPath != "/data/backupB" {
		t.Errorf("TargetPath = %q; want /data/backupB", plan.Local.TargetPath)
	}

	// Current route is the base itself: merge children
	plan, err = b.Build(context.Background(), req, &UpdateContext{
		CurrentType: types.RemoteLocal, CurrentRoute: "/data"})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if plan.Local.MoveMode != types.MoveContents {
		t.Errorf("base route: MoveMode = %v; want MoveContents", plan.Local.MoveMode)
	}

	// Same parent, different leaf: rename
	plan, err = b.Build(context.Background(), req, &UpdateContext{
		CurrentType: types.RemoteLocal, CurrentRoute: "/data/backupA"})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if plan.Local.MoveMode != types.MoveRename {
		t.Errorf("rename: MoveMode = %v; want MoveRename", plan.Local.MoveMode)
	}
	if plan.Local.SourcePath != "/data/backupA" {
		t.Errorf("SourcePath = %q; want /data/backupA", plan.Local.SourcePath)
	}

	// Same route: nothing to move
	plan, err = b.Build(context.Background(), req, &UpdateContext{
		CurrentType: types.RemoteLocal, CurrentRoute: "/data/backupB"})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if plan.Local.MoveMode != types.MoveNone {
		t.Errorf("same route: MoveMode = %v; want MoveNone", plan.Local.MoveMode)
	}
}

func TestBuildSftpObscuresPasswordAndPlansValidation(t *testing.T) {
	tool := newFakeTool()
	b := newBuilderForTest(tool)

	plan, err := b.Build(context.Background(), Request{Name: "nas", Type: types.RemoteSftp,
		Settings: map[string]string{
			"host":     "10.0.0.5",
			"username": "backup",
			"password": "hunter2",
			"port":     "2222",
			"path":     "backups/offsite",
		}}, nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if plan.Route != "/backups/offsite" || plan.ShareURL != "/backups/offsite" {
		t.Errorf("route = %q share = %q; want base path for both", plan.Route, plan.ShareURL)
	}
	if len(plan.ValidationSteps) != 2 {
		t.Fatalf("validation steps = %d; want 2", len(plan.ValidationSteps))
	}
	if !plan.CleanupOnError || plan.Translate == nil {
		t.Error("sftp plan must clean up on error and carry a translator")
	}

	// Main step registers the entry with the obscured password
	if err := plan.Main.Run(context.Background()); err != nil {
		t.Fatalf("Main.Run() error = %v", err)
	}
	entry := tool.entries["nas"]
	if entry["pass"] != "obscured:hunter2" {
		t.Errorf("pass = %q; want obscured:hunter2", entry["pass"])
	}
	if entry["path"] != "/backups/offsite/nas" {
		t.Errorf("path = %q; want /backups/offsite/nas", entry["path"])
	}
	if entry["port"] != "2222" {
		t.Errorf("port = %q; want 2222", entry["port"])
	}
}

func TestBuildSftpValidatesInput(t *testing.T) {
	b := newBuilderForTest(newFakeTool())

	_, err := b.Build(context.Background(), Request{Name: "nas", Type: types.RemoteSftp,
		Settings: map[string]string{"host": "h", "username": "u"}}, nil)
	if kindOf(t, err) != KindValidation {
		t.Errorf("missing password: kind = %v; want KindValidation", kindOf(t, err))
	}

	_, err = b.Build(context.Background(), Request{Name: "nas", Type: types.RemoteSftp,
		Settings: map[string]string{"host": "h", "username": "u", "password": "p", "port": "abc"}}, nil)
	if kindOf(t, err) != KindValidation {
		t.Errorf("bad port: kind = %v; want KindValidation", kindOf(t, err))
	}
}

func TestTranslateSftpFailureCategories(t *testing.T) {
	cases := []struct {
		output string
		want   string
	}{
		{"sftp: permission denied", "permission denied on the SFTP server"},
		{"ssh: unable to authenticate, attempted methods [none password]", "SFTP authentication failed: check username and password"},
		{"dial tcp: lookup nas.local: no such host", "cannot resolve the SFTP host"},
		{"dial tcp 10.0.0.5:22: connect: connection refused", "cannot connect to the SFTP server"},
	}

	for _, tc := range cases {
		err := errors.New(tc.output)
		if got := translateSftpFailure(err); got != tc.want {
			t.Errorf("translateSftpFailure(%q) = %q; want %q", tc.output, got, tc.want)
		}
	}
}
