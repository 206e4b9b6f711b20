package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"shortlist/pkg/config"
)

// envPassword lets the secrets file open without a prompt.
const envPassword = "SHORTLIST_PASSWORD"

// loadSecrets decrypts <dir>/.shortlist/secrets.json.enc into memory when it exists.
func loadSecrets(dir string) error {
	if !config.SecretsFileExists(dir) {
		return nil
	}
	password, err := secretsPassword(false)
	if err != nil {
		return err
	}
	secrets, err := config.DecryptSecretsFile(dir, password)
	if err != nil {
		return fmt.Errorf("failed to decrypt secrets: %w", err)
	}
	config.SetDecryptedSecrets(secrets)
	return nil
}

// secretsPassword reads the password from the environment or the terminal. confirm asks
// twice, for creating a new secrets file.
func secretsPassword(confirm bool) (string, error) {
	if p := os.Getenv(envPassword); p != "" {
		return p, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("secrets file is encrypted: set %s or run in a terminal", envPassword)
	}

	const maxAttempts = 3
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		fmt.Print("🔐 Secrets password: ")
		first, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		if !confirm {
			return string(first), nil
		}

		fmt.Print("Confirm password: ")
		second, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		if bytes.Equal(first, second) && len(first) > 0 {
			password := string(first)
			clear(first)
			clear(second)
			return password, nil
		}
		if attempt < maxAttempts {
			fmt.Println("❌ Passwords do not match. Please try again.")
		}
	}
	return "", fmt.Errorf("passwords do not match after %d attempts", maxAttempts)
}

func newSecretsCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage encrypted API keys",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set <NAME>",
		Short: "Store a secret such as ANTHROPIC_API_KEY or GOOGLE_SEARCH_API_KEY",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.ToUpper(strings.TrimSpace(args[0]))
			secrets := map[string]string{}
			password := ""
			if config.SecretsFileExists(flags.dir) {
				p, err := secretsPassword(false)
				if err != nil {
					return err
				}
				existing, err := config.DecryptSecretsFile(flags.dir, p)
				if err != nil {
					return fmt.Errorf("failed to decrypt secrets: %w", err)
				}
				secrets, password = existing, p
			} else {
				p, err := secretsPassword(true)
				if err != nil {
					return err
				}
				password = p
			}

			value, err := readSecretValue(name)
			if err != nil {
				return err
			}
			secrets[name] = value

			if err := os.MkdirAll(flags.stateDir(), 0o700); err != nil {
				return fmt.Errorf("failed to create state directory: %w", err)
			}
			if err := config.EncryptSecretsFile(flags.dir, password, secrets); err != nil {
				return fmt.Errorf("failed to encrypt secrets: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ Saved %s to %s\n", name, config.SecretsPath(flags.dir))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored secret names",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !config.SecretsFileExists(flags.dir) {
				fmt.Fprintln(cmd.OutOrStdout(), "No secrets file.")
				return nil
			}
			if err := loadSecrets(flags.dir); err != nil {
				return err
			}
			for _, name := range config.SecretNames() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	})
	return cmd
}

func readSecretValue(name string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("secret values are read from a terminal")
	}
	fmt.Printf("Value for %s: ", name)
	raw, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read value: %w", err)
	}
	value := strings.TrimSpace(string(raw))
	clear(raw)
	if value == "" {
		return "", errors.New("empty value")
	}
	return value, nil
}

func newConfigCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the configuration file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := flags.resolvedConfigPath()
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			cfg := config.Default()
			if err := config.SaveConfig(&cfg, path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "📝 Wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.setup()
			if err != nil {
				return err
			}
			status := config.DetectSearchAPIs(cfg.Search)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "model:     %s (%s)\n", cfg.LLM.Model, cfg.LLM.Provider)
			fmt.Fprintf(out, "search:    %s (region %s)\n", status.Provider, cfg.Search.Region)
			fmt.Fprintf(out, "store:     %s\n", cfg.Session.Store)
			if cfg.Session.Store == config.StoreSQLite {
				fmt.Fprintf(out, "database:  %s\n", cfg.Session.SQLitePath)
			}
			if cfg.Metrics.Enabled {
				fmt.Fprintf(out, "metrics:   %s\n", cfg.Metrics.ListenAddr)
			}
			return nil
		},
	}

	cmd.AddCommand(initCmd, showCmd)
	return cmd
}
