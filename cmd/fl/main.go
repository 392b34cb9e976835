package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"faceline/internal/capture"
	"faceline/internal/config"
	"faceline/internal/db"
	"faceline/internal/engine"
	"faceline/internal/kiosk"
	"faceline/internal/logging"
	"faceline/internal/migrate"
	"faceline/internal/server"
	facelinesdk "faceline/sdk/go"
)

var rootCmd = &cobra.Command{
	Use:   "fl",
	Short: "Faceline CLI",
	Long: `Faceline is a face-recognition attendance system.
- serve runs the attendance API (registration, authentication, history, roster).
- kiosk runs an interactive capture terminal against a frame spool directory.
- user/history inspect the roster and punch log through the API.
- key manages kiosk device API keys directly on the workspace database.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("FACELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("server", "http://127.0.0.1:8080", "API server base URL")
	rootCmd.PersistentFlags().String("api-key", "", "device API key")
	rootCmd.PersistentFlags().String("token", "", "bearer token")
	rootCmd.PersistentFlags().String("log-level", "info", "log level")
	rootCmd.PersistentFlags().String("log-format", "console", "log format (console or json)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("api-key", rootCmd.PersistentFlags().Lookup("api-key"))
	_ = viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log-format", rootCmd.PersistentFlags().Lookup("log-format"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(kioskCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(keyCmd())
	rootCmd.AddCommand(configCmd())
}

func newClient() *facelinesdk.Client {
	c := facelinesdk.New(viper.GetString("server"))
	c.APIKey = viper.GetString("api-key")
	c.BearerToken = viper.GetString("token")
	return c
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	facesDir, err := db.FacesDir(workspace)
	if err != nil {
		return err
	}
	return fn(ctx, engine.New(conn, cfg, facesDir))
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the attendance API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New(logging.Options{
				Level:     viper.GetString("log-level"),
				Format:    viper.GetString("log-format"),
				Component: "server",
			})
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if addr == "" {
					addr = e.Config.Server.Addr
				}
				if basePath == "" {
					basePath = e.Config.Server.BasePath
				}
				jwtSecret := os.Getenv("FACELINE_JWT_SECRET")
				if jwtSecret == "" {
					return fmt.Errorf("FACELINE_JWT_SECRET is required for bearer auth")
				}
				handler, err := server.New(server.Config{
					Engine:   e,
					BasePath: basePath,
					Auth:     server.AuthConfig{JWTSecret: jwtSecret, Log: log},
					Log:      log,
				})
				if err != nil {
					return err
				}
				server.StartWebhookDispatcher(ctx, e, log)
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				log.Info().Str("addr", addr).Str("base_path", basePath).Msg("serving attendance API")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to config)")
	return cmd
}

func kioskCmd() *cobra.Command {
	var spool string
	cmd := &cobra.Command{
		Use:   "kiosk",
		Short: "Run an interactive capture kiosk",
		Long: `Reads commands from stdin:
  start            acquire the camera (frame spool)
  stop             release the camera
  auth             capture and authenticate
  register <name>  capture and register <name>
  refresh          redraw dashboard and history
  quit             exit`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New(logging.Options{
				Level:     viper.GetString("log-level"),
				Format:    viper.GetString("log-format"),
				Component: "kiosk",
			})
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			client := newClient()
			session := kiosk.NewDeviceSession(
				capture.DirProvider{Dir: spool},
				capture.Constraints{
					Width:  cfg.Camera.Width,
					Height: cfg.Camera.Height,
					Facing: cfg.Camera.Facing,
				},
				nil,
				log,
			)
			presenter := &kiosk.TerminalPresenter{Out: os.Stdout}
			views := kiosk.NewTerminalViews(os.Stdout, client, cfg.Kiosk.HistoryDays)
			coord := kiosk.NewCoordinator(session, client, presenter, views, log)
			defer coord.StopSession()

			// Fixed-interval background refresh, independent of the gate and
			// the device session.
			refreshEvery := time.Duration(cfg.Kiosk.RefreshSeconds) * time.Second
			if refreshEvery <= 0 {
				refreshEvery = 30 * time.Second
			}
			ticker := time.NewTicker(refreshEvery)
			defer ticker.Stop()
			go func() {
				for {
					select {
					case <-cmd.Context().Done():
						return
					case <-ticker.C:
						views.RefreshDashboard()
						views.RefreshHistory()
					}
				}
			}()

			views.RefreshDashboard()
			views.RefreshHistory()
			scanner := bufio.NewScanner(os.Stdin)
			fmt.Print("> ")
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				fields := strings.Fields(line)
				if len(fields) == 0 {
					fmt.Print("> ")
					continue
				}
				switch fields[0] {
				case "start":
					if err := coord.StartSession(cmd.Context()); err != nil {
						fmt.Println("error:", err)
					}
				case "stop":
					coord.StopSession()
				case "auth":
					if err := coord.Authenticate(cmd.Context()); err != nil {
						fmt.Println("error:", err)
					}
				case "register":
					name := strings.TrimSpace(strings.TrimPrefix(line, "register"))
					if err := coord.Register(cmd.Context(), name); err != nil {
						fmt.Println("error:", err)
					}
				case "refresh":
					views.RefreshDashboard()
					views.RefreshHistory()
				case "quit", "exit":
					return nil
				default:
					fmt.Println("unknown command:", fields[0])
				}
				fmt.Print("> ")
			}
			return scanner.Err()
		},
	}
	cmd.Flags().StringVar(&spool, "spool", "frames", "frame spool directory")
	return cmd
}

func userCmd() *cobra.Command {
	usr := &cobra.Command{Use: "user", Short: "Inspect the roster"}
	usr.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered users",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := newClient().Users(cmd.Context())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(resp)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"ID", "Name"})
			for _, u := range resp.Users {
				tw.AppendRow(table.Row{u.ID, u.Name})
			}
			tw.Render()
			return nil
		},
	})
	return usr
}

func historyCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show attendance history",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := newClient().History(cmd.Context(), days)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(resp)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Name", "Punch", "Time", "Confidence"})
			for _, h := range resp.History {
				tw.AppendRow(table.Row{h.Name, h.PunchType, h.Timestamp, fmt.Sprintf("%.1f%%", h.Confidence*100)})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "trailing day window")
	return cmd
}

func keyCmd() *cobra.Command {
	key := &cobra.Command{Use: "key", Short: "Manage kiosk device API keys"}

	var deviceID, name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a device key (plaintext printed once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if deviceID == "" {
				return fmt.Errorf("--device required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				k, plaintext, err := e.CreateDeviceKey(ctx, deviceID, name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"id": k.ID, "device_id": k.DeviceID, "key": plaintext})
				}
				fmt.Printf("key id: %s\ndevice: %s\napi key: %s\n", k.ID, k.DeviceID, plaintext)
				return nil
			})
		},
	}
	create.Flags().StringVar(&deviceID, "device", "", "device identifier")
	create.Flags().StringVar(&name, "name", "", "key label")
	key.AddCommand(create)

	key.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List device keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				keys, err := e.Repo.ListAPIKeys(ctx, "")
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Device", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.DeviceID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	})

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a device key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	key.AddCommand(del)
	return key
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage faceline.yml"}
	cfg.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the default config",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			return os.WriteFile(path, []byte(config.GenerateDefault()), 0o644)
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(c)
		},
	})
	return cfg
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}
