package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/parlancelabs/parlance-sdk-go/pkg/parlance"
)

var (
	verbose    bool
	apiKey     string
	endpoint   string
	configFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "parlance",
		Short: "Parlance realtime speech CLI",
		Long:  "Stream microphone audio to a realtime speech API and print what comes back",
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "API key for authentication")
	rootCmd.PersistentFlags().StringVar(&endpoint, "endpoint", "", "WebSocket endpoint URL")
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "YAML config file")

	rootCmd.AddCommand(streamCmd())
	rootCmd.AddCommand(sayCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(devicesCmd())

	if err := rootCmd.Execute(); err != nil {
		parlance.GetGlobalLogger().WithError(err).Fatal("CLI execution failed")
	}
}

func loadConfig() (*parlance.Config, error) {
	var cfg *parlance.Config
	var err error
	if configFile != "" {
		cfg, err = parlance.LoadConfigFile(configFile)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = parlance.NewConfig()
	}
	if apiKey != "" {
		cfg.APIKey = apiKey
	}
	if endpoint != "" {
		cfg.Endpoint = endpoint
	}
	return cfg, nil
}

func streamCmd() *cobra.Command {
	var duration time.Duration

	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Stream microphone audio to the API",
		Long:  "Open a realtime session, stream microphone audio and print transcripts until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			logCfg := parlance.DefaultLogConfig()
			if verbose {
				logCfg.Level = parlance.DebugLevel
			}
			logCfg.Pretty = true
			parlance.SetGlobalLogger(parlance.NewLogger(logCfg))

			mic, err := parlance.NewMicrophoneSource(cfg.SampleRate, 0)
			if err != nil {
				return err
			}
			defer mic.Close()

			callbacks := parlance.Callbacks{
				OnReady: func() { fmt.Println("Session ready, start talking (Ctrl-C to quit)") },
				OnUserTranscript: func(text string) {
					fmt.Printf("you:       %s\n", text)
				},
				OnTextDone: func(text string) {
					fmt.Printf("assistant: %s\n", text)
				},
				OnAudioTranscriptDone: func(text string) {
					fmt.Printf("assistant: %s\n", text)
				},
				OnFunctionCall: func(call parlance.FunctionCallResult) {
					fmt.Printf("function:  %s(%s)\n", call.Name, call.RawArguments)
				},
				OnError: func(err *parlance.SessionError) {
					fmt.Fprintf(os.Stderr, "error: %v\n", err)
				},
			}
			if verbose {
				callbacks = parlance.MergeCallbacks(parlance.LoggingCallbacks(parlance.GetGlobalLogger()), callbacks)
			}

			opts := []parlance.SessionOption{parlance.WithAudioSource(mic)}
			if cfg.SnapshotDir != "" {
				sink, err := parlance.NewFileSnapshotSink(cfg.SnapshotDir)
				if err != nil {
					return err
				}
				opts = append(opts, parlance.WithSnapshotSink(sink))
			}
			if cfg.AuditDir != "" {
				audit, err := parlance.NewFunctionCallAudit(cfg.AuditDir)
				if err != nil {
					return err
				}
				opts = append(opts, parlance.WithFunctionCallAudit(audit.Record))
			}

			sess := parlance.NewSession(cfg, callbacks, opts...)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			if err := sess.Start(ctx); err != nil {
				return err
			}
			defer sess.Stop()

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

			if duration > 0 {
				select {
				case <-sig:
				case <-time.After(duration):
				}
			} else {
				<-sig
			}
			fmt.Println("\nShutting down...")
			return nil
		},
	}

	cmd.Flags().DurationVarP(&duration, "duration", "d", 0, "Stop after this long (0 = until interrupted)")
	return cmd
}

func sayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "say [text]",
		Short: "Send a typed message and print the response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			done := make(chan struct{})
			callbacks := parlance.Callbacks{
				OnTextDone: func(text string) {
					fmt.Println(text)
					close(done)
				},
				OnError: func(err *parlance.SessionError) {
					fmt.Fprintf(os.Stderr, "error: %v\n", err)
				},
			}

			sess := parlance.NewSession(cfg, callbacks)
			if err := sess.Start(cmd.Context()); err != nil {
				return err
			}
			defer sess.Stop()

			if err := sess.SendText(args[0]); err != nil {
				return err
			}

			select {
			case <-done:
			case <-time.After(30 * time.Second):
				fmt.Fprintln(os.Stderr, "timed out waiting for response")
			}
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			fmt.Println("Current Configuration:")
			fmt.Printf("  Endpoint: %s\n", cfg.Endpoint)
			fmt.Printf("  API Key: %s\n", maskString(cfg.APIKey))
			fmt.Printf("  Model: %s\n", cfg.Model)
			fmt.Printf("  Voice: %s\n", cfg.Voice)
			fmt.Printf("  Sample Rate: %d Hz\n", cfg.SampleRate)
			fmt.Printf("  Min Commit: %d bytes\n", cfg.MinCommitBytes)
			fmt.Printf("  Audio Buffer: %d chunks (warn at %d)\n", cfg.AudioChannelCapacity, cfg.BackpressureThreshold)
			fmt.Printf("  Reconnection: %v (max %d attempts, %s base delay)\n",
				cfg.EnableReconnection, cfg.MaxReconnectAttempts, cfg.ReconnectBaseDelay)
			fmt.Printf("  Breaker: %s recovery, %s ceiling\n", cfg.BreakerRecoveryDelay, cfg.BreakerMaxDelay)

			if issues := cfg.Validate(); len(issues) > 0 {
				fmt.Println("\nIssues:")
				for _, issue := range issues {
					fmt.Printf("  ✗ %s\n", issue)
				}
				return fmt.Errorf("configuration invalid")
			}
			fmt.Println("\n✓ Configuration valid")
			return nil
		},
	}
}

func devicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List audio capture devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			devices, err := parlance.ListInputDevices()
			if err != nil {
				return err
			}

			fmt.Println("Input Devices:")
			for _, d := range devices {
				marker := ""
				if d.Default {
					marker = " (Default)"
				}
				fmt.Printf("  %d: %s%s - %d channels (%.0f Hz)\n",
					d.Index, d.Name, marker, d.Channels, d.SampleRate)
			}
			return nil
		},
	}
}

func maskString(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}
