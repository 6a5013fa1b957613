package remote

import (
	"context"

	"github.com/backuper-dev/orchestrator/internal/rclone"
)

// Tool è il contratto verso il tool di configurazione esterno (rclone).
// *rclone.Tool lo implementa; i test usano un fake.
type Tool interface {
	ListRemotes(ctx context.Context) ([]string, error)
	HasRemote(ctx context.Context, name string) (bool, error)
	DumpRemote(ctx context.Context, name string) (map[string]string, bool, error)
	CreateRemote(ctx context.Context, name, remoteType string, params map[string]string, noAutoAuth bool) error
	DeleteRemote(ctx context.Context, name string) error
	Mkdir(ctx context.Context, path string) error
	Lsd(ctx context.Context, remote string) error
	Lsf(ctx context.Context, path string, dirsOnly bool) ([]string, error)
	LsJSON(ctx context.Context, path string) ([]rclone.DirEntry, error)
	Obscure(ctx context.Context, secret string) (string, error)
	Link(ctx context.Context, path string) (string, error)
	MoveTo(ctx context.Context, src, dst string) error
	Purge(ctx context.Context, path string) error
}

var _ Tool = (*rclone.Tool)(nil)
