package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"scoresync/internal/app"
	"scoresync/internal/auth"
	"scoresync/internal/cloud"
	"scoresync/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates a CloudApp. The caller must defer a.Close().
func newApp() (*app.CloudApp, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	notifier := &app.WriterNotifier{Out: os.Stdout, Err: os.Stderr}
	a, err := app.NewCloudAppFromConfig(cfg, notifier, openURL)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// openURL asks the user to visit the consent page.
func openURL(url string) error {
	fmt.Fprintf(os.Stderr, "Open this URL in your browser to continue:\n\n  %s\n\n", url)
	return nil
}

// withApp runs fn against a freshly created app and closes it afterwards.
// The action has already reported its outcome, so errors are not printed again.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.CloudApp) error) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	cmd.SilenceErrors = true
	return fn(cmd.Context(), a)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func kindArg(s string) (cloud.ResourceKind, error) {
	kind, err := cloud.ParseResourceKind(s)
	if err != nil {
		return "", fmt.Errorf("%w (want template, session or history)", err)
	}
	return kind, nil
}

var rootCmd = &cobra.Command{
	Use:          "scoresync",
	Short:        "Cloud backup and sync for board game score pads",
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
		if clientID, _ := cmd.Flags().GetString("client-id"); clientID != "" {
			cfg.Auth.ClientID = clientID
		}
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		if cfg.Auth.Type == "oauth" && cfg.Auth.ClientID == "" {
			fmt.Println("Set auth.client_id before running connect.")
		}
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
		fmt.Printf("Base Dir:    %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:     %s\n", cfg.LogDir)
		fmt.Printf("Remote:      %s (root folder %q, trash keeps %d)\n", cfg.Remote.Type, cfg.Remote.RootFolder, cfg.Remote.TrashRetention)
		fmt.Printf("Auth:        %s (token %s)\n", cfg.Auth.Type, cfg.Auth.TokenPath)
		fmt.Printf("Database:    %s %s\n", cfg.Database.Type, cfg.Database.DataDir)
		return nil
	},
}

// connection commands
var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Sign in to cloud storage",
	RunE: func(cmd *cobra.Command, args []string) error {
		flag, _ := cmd.Flags().GetString("prompt")
		prompt, err := auth.ParsePromptMode(flag)
		if err != nil {
			return err
		}
		if prompt != auth.PromptNone && !term.IsTerminal(int(os.Stdin.Fd())) {
			return errors.New("connect needs an interactive terminal; use --prompt none to reuse an existing grant")
		}
		return withApp(cmd, func(ctx context.Context, a *app.CloudApp) error {
			return a.Connect(ctx, prompt)
		})
	},
}

var disconnectCmd = &cobra.Command{
	Use:   "disconnect",
	Short: "Sign out and revoke the stored credential",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.CloudApp) error {
			return a.Disconnect(ctx)
		})
	},
}

// template command
var templateCmd = &cobra.Command{
	Use:   "template",
	Short: "Back up and restore game templates",
}

var templateBackupCmd = &cobra.Command{
	Use:   "backup FILE",
	Short: "Back up a template from a JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var t cloud.Template
		if err := readJSON(args[0], &t); err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app.CloudApp) error {
			_, err := a.BackupTemplate(ctx, t)
			return err
		})
	},
}

var templateRestoreCmd = &cobra.Command{
	Use:   "restore FILE_ID",
	Short: "Restore a template backup",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.CloudApp) error {
			t, err := a.RestoreTemplate(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(t)
		})
	},
}

// session command
var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Back up and finalize in-progress games",
}

var sessionSaveCmd = &cobra.Command{
	Use:   "save FILE",
	Short: "Back up an in-progress session from a JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var s cloud.Session
		if err := readJSON(args[0], &s); err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app.CloudApp) error {
			_, err := a.SaveSession(ctx, s)
			return err
		})
	},
}

var sessionFinalizeCmd = &cobra.Command{
	Use:   "finalize FILE",
	Short: "Move a finished game to history from a JSON record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var r cloud.HistoryRecord
		if err := readJSON(args[0], &r); err != nil {
			return err
		}
		if r.EndTime == 0 {
			r.EndTime = time.Now().UnixMilli()
		}
		return withApp(cmd, func(ctx context.Context, a *app.CloudApp) error {
			_, err := a.FinalizeSession(ctx, r)
			return err
		})
	},
}

var sessionPhotoCmd = &cobra.Command{
	Use:   "photo SESSION_FILE IMAGE_FILE",
	Short: "Upload a photo into a session's folder",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var s cloud.Session
		if err := readJSON(args[0], &s); err != nil {
			return err
		}
		data, err := os.ReadFile(args[1])
		if err != nil {
			return fmt.Errorf("reading %s: %w", args[1], err)
		}
		mimeType := http.DetectContentType(data)
		return withApp(cmd, func(ctx context.Context, a *app.CloudApp) error {
			res, err := a.UploadSessionPhoto(ctx, s, filepath.Base(args[1]), mimeType, data)
			if err != nil {
				return err
			}
			fmt.Println(res.ID)
			return nil
		})
	},
}

var sessionRestoreCmd = &cobra.Command{
	Use:   "restore FOLDER_ID",
	Short: "Restore an in-progress session backup",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.CloudApp) error {
			s, err := a.RestoreSession(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(s)
		})
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Restore finished games",
}

var historyRestoreCmd = &cobra.Command{
	Use:   "restore FOLDER_ID",
	Short: "Restore a history record backup",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.CloudApp) error {
			r, err := a.RestoreHistory(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(r)
		})
	},
}

// list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List backups of one kind, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		modeFlag, _ := cmd.Flags().GetString("mode")
		kindFlag, _ := cmd.Flags().GetString("kind")

		mode, err := cloud.ParseListMode(modeFlag)
		if err != nil {
			return err
		}
		kind, err := kindArg(kindFlag)
		if err != nil {
			return err
		}

		return withApp(cmd, func(ctx context.Context, a *app.CloudApp) error {
			files, err := a.FetchFileList(ctx, mode, kind)
			if err != nil {
				return err
			}
			if len(files) == 0 {
				fmt.Println("No backups found.")
				return nil
			}
			for _, f := range files {
				fmt.Printf("%s  %s  %s\n", f.ID, f.CreatedTime.Local().Format("2006-01-02 15:04:05"), f.Name)
			}
			if mode == cloud.ModeTrash {
				fmt.Printf("%d of %d kept in trash; older items are removed.\n", len(files), a.TrashRetention())
			}
			return nil
		})
	},
}

// trash commands
var trashCmd = &cobra.Command{
	Use:   "trash KIND ID",
	Short: "Move a backup to its trash folder",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := kindArg(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app.CloudApp) error {
			return a.TrashFile(ctx, args[1], kind)
		})
	},
}

var untrashCmd = &cobra.Command{
	Use:   "untrash KIND ID",
	Short: "Move a backup out of its trash folder",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := kindArg(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app.CloudApp) error {
			return a.RestoreFromTrash(ctx, args[1], kind)
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Permanently delete a backup",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.CloudApp) error {
			return a.DeleteFile(ctx, args[0])
		})
	},
}

var emptyTrashCmd = &cobra.Command{
	Use:   "empty-trash",
	Short: "Permanently delete everything in the trash folders",
	RunE: func(cmd *cobra.Command, args []string) error {
		kindFlag, _ := cmd.Flags().GetString("kind")
		provider, _ := cmd.Flags().GetBool("provider")

		var kind cloud.ResourceKind
		if kindFlag != "" {
			k, err := kindArg(kindFlag)
			if err != nil {
				return err
			}
			kind = k
		}
		return withApp(cmd, func(ctx context.Context, a *app.CloudApp) error {
			return a.EmptyTrash(ctx, kind, provider)
		})
	},
}

// settings command
var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Sync preferences and saved players and locations",
}

var settingsBackupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Merge local settings with the cloud copy and upload the result",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.CloudApp) error {
			_, err := a.BackupSettings(ctx)
			return err
		})
	},
}

var settingsRestoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Merge the cloud settings into the local database",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.CloudApp) error {
			_, err := a.RestoreSettings(ctx)
			return err
		})
	},
}

var settingsImportCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Merge an exported settings file into the local database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading %s: %w", args[0], err)
		}
		return withApp(cmd, func(ctx context.Context, a *app.CloudApp) error {
			_, err := a.ImportSettings(data)
			return err
		})
	},
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the local settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.CloudApp) error {
			s, err := a.LocalSettings()
			if err != nil {
				return err
			}
			return printJSON(s)
		})
	},
}

// image command
var imageCmd = &cobra.Command{
	Use:   "image ID",
	Short: "Download a template or session image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("output")
		return withApp(cmd, func(ctx context.Context, a *app.CloudApp) error {
			data, err := a.DownloadImage(ctx, args[0])
			if err != nil {
				return err
			}
			if out == "" || out == "-" {
				_, err = os.Stdout.Write(data)
				return err
			}
			return os.WriteFile(out, data, 0o644)
		})
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configInitCmd.Flags().String("client-id", "", "OAuth client id to store in the new config")

	templateCmd.AddCommand(templateBackupCmd)
	templateCmd.AddCommand(templateRestoreCmd)

	sessionCmd.AddCommand(sessionSaveCmd)
	sessionCmd.AddCommand(sessionFinalizeCmd)
	sessionCmd.AddCommand(sessionRestoreCmd)
	sessionCmd.AddCommand(sessionPhotoCmd)

	historyCmd.AddCommand(historyRestoreCmd)

	settingsCmd.AddCommand(settingsBackupCmd)
	settingsCmd.AddCommand(settingsRestoreCmd)
	settingsCmd.AddCommand(settingsImportCmd)
	settingsCmd.AddCommand(settingsShowCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(connectCmd)
	connectCmd.Flags().String("prompt", "auto", "Consent prompt: auto, consent, select_account or none")
	rootCmd.AddCommand(disconnectCmd)
	rootCmd.AddCommand(templateCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().StringP("mode", "m", "active", "Folder to list: active or trash")
	listCmd.Flags().StringP("kind", "k", "template", "Backup kind: template, session or history")
	rootCmd.AddCommand(trashCmd)
	rootCmd.AddCommand(untrashCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(emptyTrashCmd)
	emptyTrashCmd.Flags().StringP("kind", "k", "", "Only empty this kind's trash")
	emptyTrashCmd.Flags().Bool("provider", false, "Also purge the storage provider's own trash")
	rootCmd.AddCommand(settingsCmd)
	rootCmd.AddCommand(imageCmd)
	imageCmd.Flags().StringP("output", "o", "", "Write the image to this file instead of stdout")
}
