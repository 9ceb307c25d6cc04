package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/lexcodex/researchbot/experts"
	"github.com/lexcodex/researchbot/framework"
	"github.com/lexcodex/researchbot/internal/tui"
	"github.com/lexcodex/researchbot/research"
	"github.com/lexcodex/researchbot/server"
)

func newServeCmd(opts *globalOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(opts, os.LookupEnv)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := buildRuntime(ctx, cfg, traceWriter(opts, cmd))
			if err != nil {
				return err
			}
			defer rt.Close()

			api := &server.APIServer{
				Chat:           rt.engine,
				Documents:      rt.documents,
				Logger:         rt.logger.Named("api"),
				RequestTimeout: cfg.Server.RequestTimeout,
			}
			cmd.Printf("Starting API server on %s (expert %s, model %s)\n", cfg.Server.Addr, cfg.Expert, cfg.LLM.Model)
			if err := api.ServeContext(ctx, cfg.Server.Addr); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Address for the HTTP API server (overrides config)")
	return cmd
}

func newAskCmd(opts *globalOptions) *cobra.Command {
	var conversationID string
	var stream bool
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a single question and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(opts, os.LookupEnv)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			rt, err := buildRuntime(ctx, cfg, traceWriter(opts, cmd))
			if err != nil {
				return err
			}
			defer rt.Close()

			req := experts.Request{Query: strings.Join(args, " "), ConversationID: conversationID}
			out := cmd.OutOrStdout()
			var resp *experts.Response
			if stream {
				resp, err = rt.engine.Stream(ctx, req, func(chunk string) {
					fmt.Fprint(out, chunk)
				})
				fmt.Fprintln(out)
			} else {
				resp, err = rt.engine.Process(ctx, req)
			}
			if err != nil {
				rt.logger.Error("ask failed", zap.Error(err))
				return errors.New(research.UserMessage(err))
			}
			if stream {
				// The streamed text still carries [n] markers; list what they resolve to.
				renderSources(out, resp)
			} else {
				renderResponse(out, resp)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&conversationID, "conversation", "", "Conversation id to continue (new one when empty)")
	cmd.Flags().BoolVar(&stream, "stream", false, "Print the answer as it is generated")
	return cmd
}

func newChatCmd(opts *globalOptions) *cobra.Command {
	var conversationID string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Open the interactive terminal chat",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(opts, os.LookupEnv)
			if err != nil {
				return err
			}
			// Logging to the terminal would corrupt the full-screen view.
			cfg.Logging.Level = "error"
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			rt, err := buildRuntime(ctx, cfg, nil)
			if err != nil {
				return err
			}
			defer rt.Close()
			return tui.Run(ctx, rt.engine, tui.Options{
				ConversationID: conversationID,
				RequestTimeout: cfg.Server.RequestTimeout,
			})
		},
	}
	cmd.Flags().StringVar(&conversationID, "conversation", "", "Conversation id to continue")
	return cmd
}

func newHistoryCmd(opts *globalOptions) *cobra.Command {
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect stored conversations",
	}

	withRuntime := func(cmd *cobra.Command, fn func(context.Context, *runtime) error) error {
		cfg, err := resolveConfig(opts, os.LookupEnv)
		if err != nil {
			return err
		}
		rt, err := buildRuntime(cmd.Context(), cfg, nil)
		if err != nil {
			return err
		}
		defer rt.Close()
		return fn(cmd.Context(), rt)
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List conversation ids",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				ids, err := rt.engine.Conversations(ctx)
				if err != nil {
					return err
				}
				if len(ids) == 0 {
					cmd.Println(dimStyle.Render("no conversations"))
					return nil
				}
				for _, id := range ids {
					cmd.Println(id)
				}
				return nil
			})
		},
	}

	showCmd := &cobra.Command{
		Use:   "show <conversation-id>",
		Short: "Print a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				messages, err := rt.engine.History(ctx, args[0])
				if err != nil {
					return err
				}
				renderHistory(cmd.OutOrStdout(), args[0], messages)
				return nil
			})
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear <conversation-id>",
		Short: "Delete a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				if err := rt.engine.ClearHistory(ctx, args[0]); err != nil {
					return err
				}
				cmd.Printf("cleared %s\n", args[0])
				return nil
			})
		},
	}

	historyCmd.AddCommand(listCmd, showCmd, clearCmd)
	return historyCmd
}

func newExpertsCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "experts",
		Short: "List the available experts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(opts, os.LookupEnv)
			if err != nil {
				return err
			}
			rt, err := buildRuntime(cmd.Context(), cfg, nil)
			if err != nil {
				return err
			}
			defer rt.Close()
			renderExperts(cmd.OutOrStdout(), rt.engine.Current().Type, rt.engine.Available())
			return nil
		},
	}
}

func newConfigCmd(opts *globalOptions) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Show or initialise the configuration",
	}
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(opts, os.LookupEnv)
			if err != nil {
				return err
			}
			masked := maskSecrets(cfg)
			data, err := yaml.Marshal(masked)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration to --config",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(opts.configPath); err == nil {
				return fmt.Errorf("%s already exists", opts.configPath)
			}
			if err := framework.SaveConfig(opts.configPath, framework.DefaultConfig()); err != nil {
				return err
			}
			cmd.Printf("wrote %s\n", opts.configPath)
			return nil
		},
	}
	configCmd.AddCommand(showCmd, initCmd)
	return configCmd
}

func maskSecrets(cfg framework.Config) framework.Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "****"
	}
	cfg.LLM.APIKey = mask(cfg.LLM.APIKey)
	cfg.Search.APIKey = mask(cfg.Search.APIKey)
	cfg.Memory.MongoURI = mask(cfg.Memory.MongoURI)
	return cfg
}
