package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gosuda/portal-clipboard/clipboard/agent"
	"github.com/gosuda/portal-clipboard/clipboard/clip"
)

var (
	flagPort       int
	flagUploadDir  string
	flagMaxUpload  int64
	flagMaxFrame   int64
	flagMaxHistory int
	flagSendBuffer int
	flagLogLevel   string
	flagHTTPS      bool
	flagTLSCert    string
	flagTLSKey     string
	flagRelays     []string
	flagName       string
	flagCredKey    string
	flagServerURL  string
)

var rootCmd = &cobra.Command{
	Use:   "clipboard",
	Short: "Real-time shared clipboard",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := zerolog.ParseLevel(flagLogLevel)
		if err != nil {
			return fmt.Errorf("parse log level: %w", err)
		}
		zerolog.SetGlobalLevel(level)
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runServer(ctx)
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the clipboard from the terminal",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		out := cmd.OutOrStdout()
		client, err := agent.NewClient(flagServerURL,
			agent.OnStateChange(func(s agent.ConnectionState) {
				fmt.Fprintf(cmd.ErrOrStderr(), "-- %s\n", s)
			}),
			agent.OnSnapshot(func(history []clip.Message) {
				fmt.Fprintf(out, "-- %d messages in history\n", len(history))
				for _, m := range history {
					printMessage(out, m)
				}
			}),
			agent.OnMessage(func(m clip.Message) { printMessage(out, m) }),
		)
		if err != nil {
			return err
		}
		return client.Run(ctx)
	},
}

var sendCmd = &cobra.Command{
	Use:   "send [text]",
	Short: "Post text (or a file with --file) to the clipboard",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		if file == "" && len(args) == 0 {
			return errors.New("nothing to send: pass text or --file")
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()

		client, err := agent.NewClient(flagServerURL)
		if err != nil {
			return err
		}
		runCtx, stopRun := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() { done <- client.Run(runCtx) }()
		defer func() {
			stopRun()
			<-done
		}()
		if err := client.WaitSynced(ctx); err != nil {
			return fmt.Errorf("connect to %s: %w", flagServerURL, err)
		}

		if file != "" {
			fd, err := client.SendFile(ctx, file, func(sent, total int64) {
				if total > 0 {
					fmt.Fprintf(cmd.ErrOrStderr(), "\ruploading %3d%%", sent*100/total)
				}
			})
			fmt.Fprintln(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %s (%d bytes)\n", fd.OriginalName, fd.Size)
			return nil
		}
		if err := client.SendText(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "sent")
		return nil
	},
}

func init() {
	cfg, err := loadConfig()
	if err != nil {
		log.Warn().Err(err).Msg("[clipboard] invalid environment, using defaults")
	}

	pflags := rootCmd.PersistentFlags()
	pflags.StringVar(&flagLogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	pflags.StringVar(&flagServerURL, "url", cfg.ServerURL, "hub base URL used by watch and send")

	flags := rootCmd.Flags()
	flags.IntVar(&flagPort, "port", cfg.Port, "HTTP port")
	flags.StringVar(&flagUploadDir, "upload-dir", cfg.UploadDir, "directory for uploaded files")
	flags.Int64Var(&flagMaxUpload, "max-upload", cfg.MaxUpload, "maximum upload size in bytes")
	flags.Int64Var(&flagMaxFrame, "max-frame", cfg.MaxFrame, "maximum websocket frame size in bytes")
	flags.IntVar(&flagMaxHistory, "max-history", cfg.MaxHistory, "keep at most this many messages (0 = unlimited)")
	flags.IntVar(&flagSendBuffer, "send-buffer", cfg.SendBuffer, "outbound frames queued per client before it is dropped")
	flags.BoolVar(&flagHTTPS, "https", cfg.HTTPS, "serve HTTPS using --tls-cert and --tls-key")
	flags.StringVar(&flagTLSCert, "tls-cert", cfg.TLSCert, "TLS certificate file")
	flags.StringVar(&flagTLSKey, "tls-key", cfg.TLSKey, "TLS key file")
	flags.StringSliceVar(&flagRelays, "relay", cfg.Relays, "Portal relay URL(s); repeat or comma-separated")
	flags.StringVar(&flagName, "name", cfg.Name, "display name (UI title and Portal lease)")
	flags.StringVar(&flagCredKey, "cred-key", cfg.CredKey, "optional credential key for the Portal listener (base64 private key)")

	sendCmd.Flags().String("file", "", "upload this file instead of sending text")

	rootCmd.AddCommand(watchCmd, sendCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("execute clipboard")
	}
}

func runServer(ctx context.Context) error {
	m := newMetrics(prometheus.NewRegistry())
	uploads, err := newUploadStore(flagUploadDir, flagMaxUpload, m)
	if err != nil {
		return fmt.Errorf("open upload store: %w", err)
	}
	defer func() {
		if err := uploads.Close(); err != nil {
			log.Warn().Err(err).Msg("[clipboard] close upload index")
		}
	}()
	if n, err := uploads.index.Count(); err == nil {
		log.Info().Int("files", n).Str("dir", flagUploadDir).Msg("[clipboard] upload index ready")
	}

	hub := NewHub(newMemoryLog(flagMaxHistory), m)
	a := newApp(flagName, hub, uploads, m, flagSendBuffer, flagMaxFrame)
	handler := a.NewHandler()

	addr := net.JoinHostPort("", strconv.Itoa(flagPort))
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 2)
	relayClose, err := startRelay(handler, flagRelays, flagName, flagCredKey, errCh)
	if err != nil {
		hub.Close()
		return err
	}

	go func() {
		var err error
		if useTLS() {
			log.Info().Msgf("[clipboard] serving at https://localhost:%d", flagPort)
			err = httpSrv.ListenAndServeTLS(flagTLSCert, flagTLSKey)
		} else {
			log.Info().Msgf("[clipboard] serving at http://localhost:%d", flagPort)
			err = httpSrv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		log.Error().Err(runErr).Msg("[clipboard] server error")
	}

	if relayClose != nil {
		relayClose()
	}
	// Hub first so open sockets get a going-away close frame.
	hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		log.Warn().Err(err).Msg("[clipboard] http shutdown")
	}
	a.wait()
	return runErr
}

// useTLS reports whether HTTPS was requested and the key pair exists. A
// missing pair falls back to plain HTTP.
func useTLS() bool {
	if !flagHTTPS {
		return false
	}
	for _, f := range []string{flagTLSCert, flagTLSKey} {
		if _, err := os.Stat(f); err != nil {
			log.Warn().Err(err).Msg("[clipboard] HTTPS requested but certificate files are missing, falling back to HTTP")
			return false
		}
	}
	return true
}
