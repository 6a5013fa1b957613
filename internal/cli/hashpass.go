package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"

	"github.com/backuper-dev/orchestrator/internal/types"
)

func init() {
	rootCmd.AddCommand(hashpassCmd)
}

var hashpassCmd = &cobra.Command{
	Use:   "hashpass",
	Short: "Genera l'hash bcrypt per APP_ADMIN_PASS_HASH",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHashpass()
	},
}

func runHashpass() error {
	password, err := promptPassword("Password: ")
	if err != nil {
		return &exitError{code: types.ExitConfigError, err: err}
	}
	if len(password) == 0 {
		return &exitError{code: types.ExitConfigError, err: fmt.Errorf("password cannot be empty")}
	}

	confirm, err := promptPassword("Confirm password: ")
	if err != nil {
		return &exitError{code: types.ExitConfigError, err: err}
	}
	if string(password) != string(confirm) {
		return &exitError{code: types.ExitConfigError, err: fmt.Errorf("passwords do not match")}
	}

	hash, err := bcrypt.GenerateFromPassword(password, bcrypt.DefaultCost)
	if err != nil {
		return &exitError{code: types.ExitConfigError, err: fmt.Errorf("cannot hash password: %w", err)}
	}

	fmt.Printf("APP_ADMIN_PASS_HASH=%s\n", hash)
	return nil
}

// promptPassword legge la password senza eco quando stdin è un terminale
func promptPassword(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		password, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		return password, err
	}

	// Input da pipe: leggi una riga
	var password string
	if _, err := fmt.Fscanln(os.Stdin, &password); err != nil {
		return nil, err
	}
	return []byte(password), nil
}
