package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"srcsnap/internal/app"
	"srcsnap/internal/config"
	"srcsnap/internal/encryption"
	"srcsnap/internal/snap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// readPassphrase takes the passphrase from SRCSNAP_PASSPHRASE, or prompts on
// the terminal.
func readPassphrase(prompt string) (string, error) {
	if p := os.Getenv("SRCSNAP_PASSPHRASE"); p != "" {
		return p, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("no terminal to prompt for a passphrase: set SRCSNAP_PASSPHRASE")
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}

func loadConfig() (*config.Config, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}
	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

// newApp reads the config and creates a SnapApp. The caller must defer
// app.Close(). readsContent asks for the passphrase up front when blobs are
// encrypted.
func newApp(cmd *cobra.Command, operation string, readsContent bool) (*app.SnapApp, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	var opts app.Options
	if readsContent {
		opts.Passphrase = func() (string, error) { return readPassphrase("Passphrase: ") }
	}
	a, err := app.NewSnapApp(cmd.Context(), cfg, operation, opts)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

func short(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

var rootCmd = &cobra.Command{
	Use:          "srcsnap",
	Short:        "Content-addressed repository snapshots",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}
		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:  %s\n", cfg.LogDir)
		fmt.Printf("Store:    %s (%s)\n", cfg.Store.Name, cfg.Store.Type)
		fmt.Printf("Catalog:  %s\n", cfg.Catalog.Type)
		fmt.Printf("Notify:   %s\n", cfg.Notify.Type)
		fmt.Printf("Encrypt:  %v\n", cfg.Store.Encrypt)
		return nil
	},
}

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Generate the encryption key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
		if err != nil {
			return err
		}
		if enc.IsConfigured() {
			return fmt.Errorf("keys already exist at %s", cfg.Encryption.PublicKeyPath)
		}

		pass, err := readPassphrase("New passphrase: ")
		if err != nil {
			return err
		}
		if os.Getenv("SRCSNAP_PASSPHRASE") == "" {
			again, err := readPassphrase("Repeat passphrase: ")
			if err != nil {
				return err
			}
			if again != pass {
				return errors.New("passphrases do not match")
			}
		}
		if err := enc.Setup(pass); err != nil {
			return fmt.Errorf("generating keys: %w", err)
		}
		fmt.Printf("Keys written to %s\n", cfg.Encryption.PublicKeyPath)
		return nil
	},
}

// snapshot command
var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Manage snapshots",
}

var snapshotCreateCmd = &cobra.Command{
	Use:   "create [REPO]",
	Short: "Snapshot a repository (default: current directory)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ref, _ := cmd.Flags().GetString("ref")

		a, err := newApp(cmd, "CreateSnapshot", false)
		if err != nil {
			return err
		}
		defer a.Close()

		repo := "."
		if len(args) > 0 {
			repo = args[0]
		}
		s, err := a.CreateSnapshot(cmd.Context(), repo, ref)
		if err != nil {
			return fmt.Errorf("snapshot failed: %w", err)
		}

		fmt.Printf("Snapshot %s\n", s.ID)
		fmt.Printf("Commit:  %s (%s)\n", s.CommitSHA, s.Branch)
		fmt.Printf("Files:   %d\n", s.FileCount())
		if s.ParentSnapshotID != "" {
			fmt.Printf("Parent:  %s\n", s.ParentSnapshotID)
		}
		return nil
	},
}

// log command
var logCmd = &cobra.Command{
	Use:   "log [REPO]",
	Short: "List snapshots of a repository, newest first",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "ListSnapshots", false)
		if err != nil {
			return err
		}
		defer a.Close()

		repo := "."
		if len(args) > 0 {
			repo = args[0]
		}
		list, err := a.ListSnapshots(cmd.Context(), repo)
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Println("No snapshots.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		for _, s := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d files\n",
				s.ID,
				s.CreatedAt.Local().Format("2006-01-02 15:04:05"),
				short(s.CommitSHA),
				s.Branch,
				s.FileCount(),
			)
		}
		return w.Flush()
	},
}

// ls command
var lsCmd = &cobra.Command{
	Use:   "ls SNAPSHOT",
	Short: "List files in a snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		long, _ := cmd.Flags().GetBool("long")

		a, err := newApp(cmd, "ListFiles", false)
		if err != nil {
			return err
		}
		defer a.Close()

		if !long {
			paths, err := a.ListFiles(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, p := range paths {
				fmt.Println(p)
			}
			return nil
		}

		s, err := a.GetSnapshot(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		for _, r := range s.Files.Records() {
			where := "stored"
			if r.Mode == snap.ModeReferenced {
				where = "-> " + r.RefSnapshotID
			}
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n", short(r.ContentHash), r.Size, r.Language, where, r.Path)
		}
		return w.Flush()
	},
}

// cat command
var catCmd = &cobra.Command{
	Use:   "cat SNAPSHOT PATH",
	Short: "Print a file from a snapshot",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "GetFile", true)
		if err != nil {
			return err
		}
		defer a.Close()

		data, err := a.GetFile(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	},
}

// compare command
var compareCmd = &cobra.Command{
	Use:   "compare SNAPSHOT_A SNAPSHOT_B",
	Short: "Summarise changes between two snapshots",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "CompareSnapshots", false)
		if err != nil {
			return err
		}
		defer a.Close()

		sum, err := a.CompareSnapshots(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		for _, p := range sum.Added {
			fmt.Printf("A  %s\n", p)
		}
		for _, p := range sum.Modified {
			fmt.Printf("M  %s\n", p)
		}
		for _, p := range sum.Removed {
			fmt.Printf("D  %s\n", p)
		}
		fmt.Printf("%d added, %d modified, %d removed, %d unchanged\n",
			len(sum.Added), len(sum.Modified), len(sum.Removed), sum.UnchangedCount)
		return nil
	},
}

// diff command
var diffCmd = &cobra.Command{
	Use:   "diff SNAPSHOT_A SNAPSHOT_B PATH",
	Short: "Show a line diff of one file between two snapshots",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "DiffFile", true)
		if err != nil {
			return err
		}
		defer a.Close()

		diff, err := a.DiffFile(cmd.Context(), args[0], args[1], args[2])
		if err != nil {
			return err
		}
		fmt.Print(diff)
		return nil
	},
}

// rm command
var rmCmd = &cobra.Command{
	Use:   "rm SNAPSHOT",
	Short: "Delete a snapshot and collect unused content",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cascade, _ := cmd.Flags().GetBool("cascade")

		a, err := newApp(cmd, "DeleteSnapshot", false)
		if err != nil {
			return err
		}
		defer a.Close()

		removed, err := a.DeleteSnapshot(cmd.Context(), args[0], cascade)
		if err != nil {
			if errors.Is(err, snap.ErrConflict) {
				return fmt.Errorf("%w (use --cascade to delete dependants too)", err)
			}
			return err
		}
		for _, s := range removed {
			fmt.Printf("Deleted %s\n", s.ID)
		}
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configKeysCmd)

	// snapshot subcommands
	snapshotCmd.AddCommand(snapshotCreateCmd)
	snapshotCreateCmd.Flags().StringP("ref", "r", "", "Commit SHA or branch to snapshot (default: HEAD)")

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(lsCmd)
	lsCmd.Flags().BoolP("long", "l", false, "Show hash, size, language and storage of each file")
	rootCmd.AddCommand(catCmd)
	rootCmd.AddCommand(compareCmd)
	rootCmd.AddCommand(diffCmd)
	rootCmd.AddCommand(rmCmd)
	rmCmd.Flags().Bool("cascade", false, "Also delete snapshots that depend on this one")
}
