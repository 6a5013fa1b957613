// Package cli definisce i comandi del binario backuper.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/backuper-dev/orchestrator/internal/types"
)

var rootCmd = &cobra.Command{
	Use:           "backuper",
	Short:         "Backup remote lifecycle orchestrator",
	Long:          "backuper orchestra il ciclo di vita dei remote di backup (Drive, directory locali, SFTP) e i backup schedulati delle app collegate.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// exitError associa un exit code a un errore di comando
type exitError struct {
	code types.ExitCode
	err  error
}

func (e *exitError) Error() string {
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

// ExitCode restituisce il codice di uscita da usare per il processo
func (e *exitError) ExitCode() int {
	return e.code.Int()
}

// SetVersion imposta la versione mostrata da `backuper version`
func SetVersion(v string) {
	if v != "" {
		rootCmd.Version = v
		rootCmd.SetVersionTemplate("{{.Version}}\n")
	}
}

func init() {
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Stampa la versione di backuper",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), rootCmd.Version)
		},
	}
	rootCmd.AddCommand(versionCmd)
}

// Execute esegue il comando richiesto
func Execute() error {
	return rootCmd.Execute()
}
