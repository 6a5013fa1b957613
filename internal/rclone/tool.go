// Package rclone wraps the rclone binary. Every remote entry this service
// manages lives in the rclone config file, and all physical cloud/SFTP
// operations go through rclone subcommands.
package rclone

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"strconv"
	"strings"

	"github.com/backuper-dev/orchestrator/internal/logging"
)

// ErrNotInstalled indicates the rclone binary is missing from PATH.
// Callers map it to a 500 instead of a translated command failure.
var ErrNotInstalled = errors.New("rclone is not installed")

// CommandError wraps a non-zero rclone exit with its trimmed output
type CommandError struct {
	Command string
	Output  string
	Err     error
}

func (e *CommandError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("rclone %s failed: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("rclone %s failed: %v: %s", e.Command, e.Err, e.Output)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// OutputOf restituisce l'output del comando fallito, se disponibile
func OutputOf(err error) string {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Output
	}
	return ""
}

// DirEntry è una voce restituita da lsjson
type DirEntry struct {
	Name  string `json:"Name"`
	Path  string `json:"Path"`
	IsDir bool   `json:"IsDir"`
}

// FileInfo è una riga di output di lsl
type FileInfo struct {
	Size int64
	Date string
	Time string
	Name string
}

// Tool drives the rclone binary against a single config file
type Tool struct {
	configPath string
	logger     *logging.Logger

	execCommand func(ctx context.Context, name string, args ...string) ([]byte, error)
	execInput   func(ctx context.Context, stdin io.Reader, name string, args ...string) ([]byte, error)
}

// NewTool crea un wrapper rclone sul config file indicato.
// configPath vuoto usa il config di default di rclone.
func NewTool(configPath string, logger *logging.Logger) *Tool {
	return &Tool{
		configPath: configPath,
		logger:     logger,
		execCommand: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).CombinedOutput()
		},
		execInput: func(ctx context.Context, stdin io.Reader, name string, args ...string) ([]byte, error) {
			cmd := exec.CommandContext(ctx, name, args...)
			cmd.Stdin = stdin
			return cmd.CombinedOutput()
		},
	}
}

// ConfigPath restituisce il path del config file rclone in uso
func (t *Tool) ConfigPath() string {
	return t.configPath
}

func (t *Tool) baseArgs(args ...string) []string {
	full := make([]string, 0, len(args)+2)
	if t.configPath != "" {
		full = append(full, "--config", t.configPath)
	}
	return append(full, args...)
}

// run executes an rclone subcommand and classifies failures
func (t *Tool) run(ctx context.Context, args ...string) ([]byte, error) {
	full := t.baseArgs(args...)
	t.logger.Debug("Running: rclone %s", strings.Join(full, " "))

	output, err := t.execCommand(ctx, "rclone", full...)
	if err != nil {
		return output, t.wrapError(args[0], output, err)
	}
	return output, nil
}

func (t *Tool) wrapError(command string, output []byte, err error) error {
	if errors.Is(err, exec.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotInstalled, err)
	}
	return &CommandError{
		Command: command,
		Output:  strings.TrimSpace(string(output)),
		Err:     err,
	}
}

// ListRemotes restituisce i nomi delle entry configurate (senza ':')
func (t *Tool) ListRemotes(ctx context.Context) ([]string, error) {
	output, err := t.run(ctx, "listremotes")
	if err != nil {
		return nil, err
	}

	var names []string
	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		names = append(names, strings.TrimSuffix(line, ":"))
	}
	return names, nil
}

// HasRemote verifica se una entry esiste nel registry rclone
func (t *Tool) HasRemote(ctx context.Context, name string) (bool, error) {
	names, err := t.ListRemotes(ctx)
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

// Dump restituisce l'intero registry come mappa nome -> campi
func (t *Tool) Dump(ctx context.Context) (map[string]map[string]string, error) {
	output, err := t.run(ctx, "config", "dump")
	if err != nil {
		return nil, err
	}

	var raw map[string]map[string]interface{}
	if err := json.Unmarshal(output, &raw); err != nil {
		return nil, fmt.Errorf("cannot parse config dump: %w", err)
	}

	dump := make(map[string]map[string]string, len(raw))
	for name, fields := range raw {
		entry := make(map[string]string, len(fields))
		for key, value := range fields {
			switch v := value.(type) {
			case string:
				entry[key] = v
			case bool:
				entry[key] = strconv.FormatBool(v)
			default:
				entry[key] = fmt.Sprintf("%v", v)
			}
		}
		dump[name] = entry
	}
	return dump, nil
}

// DumpRemote restituisce i campi di una singola entry
func (t *Tool) DumpRemote(ctx context.Context, name string) (map[string]string, bool, error) {
	dump, err := t.Dump(ctx)
	if err != nil {
		return nil, false, err
	}
	entry, ok := dump[name]
	return entry, ok, nil
}

// CreateRemote crea una entry con `config create --non-interactive`.
// I parametri vengono passati in ordine alfabetico per avere argv stabili.
// noAutoAuth aggiunge --no-auto-auth dopo il tipo; le versioni di rclone
// che non conoscono il flag fanno ritentare la creazione senza.
func (t *Tool) CreateRemote(ctx context.Context, name, remoteType string, params map[string]string, noAutoAuth bool) error {
	args := []string{"config", "create", "--non-interactive", name, remoteType}
	if noAutoAuth {
		args = append(args, "--no-auto-auth")
	}

	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		args = append(args, key, params[key])
	}

	_, err := t.run(ctx, args...)
	if err != nil && noAutoAuth && strings.Contains(OutputOf(err), "unknown flag") {
		t.logger.Debug("rclone does not support --no-auto-auth, retrying without it")
		return t.CreateRemote(ctx, name, remoteType, params, false)
	}
	return err
}

// DeleteRemote rimuove una entry dal registry
func (t *Tool) DeleteRemote(ctx context.Context, name string) error {
	_, err := t.run(ctx, "config", "delete", name)
	return err
}

// Mkdir crea una directory (locale o remota)
func (t *Tool) Mkdir(ctx context.Context, path string) error {
	_, err := t.run(ctx, "mkdir", path)
	return err
}

// Lsd elenca le directory di primo livello; usato come probe di validazione
func (t *Tool) Lsd(ctx context.Context, remote string) error {
	_, err := t.run(ctx, "lsd", remote)
	return err
}

// Lsf elenca i figli di un path, solo directory o solo file
func (t *Tool) Lsf(ctx context.Context, path string, dirsOnly bool) ([]string, error) {
	filter := "--files-only"
	if dirsOnly {
		filter = "--dirs-only"
	}
	output, err := t.run(ctx, "lsf", path, filter)
	if err != nil {
		return nil, err
	}

	var entries []string
	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		entries = append(entries, strings.TrimSuffix(line, "/"))
	}
	return entries, nil
}

// LsJSON elenca le sottodirectory di un path in formato strutturato
func (t *Tool) LsJSON(ctx context.Context, path string) ([]DirEntry, error) {
	output, err := t.run(ctx, "lsjson", path, "--dirs-only")
	if err != nil {
		return nil, err
	}

	var entries []DirEntry
	if err := json.Unmarshal(output, &entries); err != nil {
		return nil, fmt.Errorf("cannot parse lsjson output: %w", err)
	}
	return entries, nil
}

// Obscure offusca un segreto nel formato atteso dal config rclone
func (t *Tool) Obscure(ctx context.Context, secret string) (string, error) {
	output, err := t.run(ctx, "obscure", secret)
	if err != nil {
		return "", err
	}
	obscured := strings.TrimSpace(string(output))
	if obscured == "" {
		return "", fmt.Errorf("rclone obscure returned empty output")
	}
	return obscured, nil
}

// Link restituisce il link di condivisione di un path: prima prova a
// leggere un link esistente, poi ne forza la creazione. Entrambi vuoti
// è un errore.
func (t *Tool) Link(ctx context.Context, path string) (string, error) {
	output, err := t.run(ctx, "link", path)
	if err == nil {
		if link := strings.TrimSpace(string(output)); link != "" {
			return link, nil
		}
	}

	output, err = t.run(ctx, "link", "--create-link", path)
	if err != nil {
		return "", err
	}
	if link := strings.TrimSpace(string(output)); link != "" {
		return link, nil
	}
	return "", fmt.Errorf("rclone link returned no share URL for %s", path)
}

// MoveTo sposta src in dst (server-side quando possibile)
func (t *Tool) MoveTo(ctx context.Context, src, dst string) error {
	_, err := t.run(ctx, "moveto", src, dst)
	return err
}

// Purge elimina ricorsivamente un path e il suo contenuto
func (t *Tool) Purge(ctx context.Context, path string) error {
	_, err := t.run(ctx, "purge", path)
	return err
}

// Rcat scrive il contenuto di r nel file remoto dst
func (t *Tool) Rcat(ctx context.Context, dst string, r io.Reader) error {
	full := t.baseArgs("rcat", dst)
	t.logger.Debug("Running: rclone %s", strings.Join(full, " "))

	output, err := t.execInput(ctx, r, "rclone", full...)
	if err != nil {
		return t.wrapError("rcat", output, err)
	}
	return nil
}

// Lsl elenca i file di un remote con dimensione e timestamp
func (t *Tool) Lsl(ctx context.Context, remote string) ([]FileInfo, error) {
	output, err := t.run(ctx, "lsl", remote)
	if err != nil {
		return nil, err
	}

	var files []FileInfo
	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		// lsl format: "SIZE DATE TIME FILENAME"
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}

		size, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			continue
		}

		files = append(files, FileInfo{
			Size: size,
			Date: fields[1],
			Time: fields[2],
			Name: strings.Join(fields[3:], " "),
		})
	}
	return files, nil
}

// Delete rimuove un singolo file remoto
func (t *Tool) Delete(ctx context.Context, path string) error {
	_, err := t.run(ctx, "delete", path)
	return err
}
