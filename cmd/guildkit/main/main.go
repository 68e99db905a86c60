package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/disgoorg/snowflake/v2"
	"github.com/fuad-daoud/guildkit/client"
	"github.com/fuad-daoud/guildkit/config"
	"github.com/fuad-daoud/guildkit/gateway"
	"github.com/fuad-daoud/guildkit/http"
	"github.com/fuad-daoud/guildkit/logger/dlog"
	"github.com/fuad-daoud/guildkit/metrics"
	"github.com/fuad-daoud/guildkit/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/net/context"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "guildkit",
	Short:         "Inspect and follow a chat account from the command line",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var guildsCmd = &cobra.Command{
	Use:   "guilds",
	Short: "List the guilds of the account with their channels",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup()
		if err != nil {
			return err
		}
		c, err := client.New(cfg, client.WithoutGateway())
		if err != nil {
			return err
		}
		defer c.Close()

		ctx := cmd.Context()
		self, err := c.Login(ctx, cfg.Token)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s\n", self.Tag())

		guilds, err := c.GetCurrentUserGuilds(ctx)
		if err != nil {
			return err
		}
		for _, listed := range guilds {
			guild, err := c.GetGuild(ctx, listed.ID, client.Refresh())
			if err != nil {
				dlog.Warn("Could not fetch guild", "guild", listed.ID, "err", err)
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", guild.ID, guild.Name)
			for _, channel := range c.GuildChannels(guild.ID) {
				fmt.Fprintf(cmd.OutOrStdout(), "  #%s %s (%s)\n", channel.ID, channel.Name, channel.Type)
			}
		}
		return nil
	},
}

var messagesLimit int

var messagesCmd = &cobra.Command{
	Use:   "messages <channel-id>",
	Short: "Print the latest messages of a channel",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		channelID, err := snowflake.Parse(args[0])
		if err != nil {
			return fmt.Errorf("channel id %q: %w", args[0], err)
		}
		cfg, err := setup()
		if err != nil {
			return err
		}
		c, err := client.New(cfg, client.WithoutGateway())
		if err != nil {
			return err
		}
		defer c.Close()

		ctx := cmd.Context()
		if _, err := c.Login(ctx, cfg.Token); err != nil {
			return err
		}
		messages, err := c.FetchChannelMessages(ctx, channelID, messagesLimit)
		if err != nil {
			return err
		}
		for _, m := range messages {
			fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s: %s\n", m.CreatedAt.Format("2006-01-02 15:04"), m.Author.Tag(), m.Content)
		}
		return nil
	},
}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Follow the event stream and serve status and metrics until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup()
		if err != nil {
			return err
		}
		reg := prometheus.NewRegistry()
		c, err := client.New(cfg,
			client.WithMetrics(metrics.New(reg)),
			client.WithErrorObserver(func(err error) {
				dlog.Error("Event stream error", "err", err)
			}),
		)
		if err != nil {
			return err
		}
		defer c.Close()

		c.OnReady(func(ready gateway.ReadyData) {
			dlog.Info("Ready", "user", ready.User.Tag(), "guilds", len(ready.Guilds))
		})
		c.OnMessageCreated(func(m models.Message) {
			dlog.Info("Message", "channel", m.ChannelID, "author", m.Author.Tag(), "content", m.Content)
		})
		c.OnMessageDeleted(func(md gateway.MessageDelete) {
			dlog.Info("Message deleted", "channel", md.ChannelID, "message", md.ID, "cached", md.Message != nil)
		})
		c.OnGuildDeleted(func(gd gateway.GuildDelete) {
			dlog.Info("Guild gone", "guild", gd.ID)
		})

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if _, err := c.Login(ctx, cfg.Token); err != nil {
			return err
		}
		if cfg.StatusAddr != "" {
			server := http.NewServer(cfg.StatusAddr, c.Status, reg)
			go func() {
				if err := server.ListenAndServe(ctx); err != nil {
					dlog.Error("Status server stopped", "err", err)
				}
			}()
		}

		<-ctx.Done()
		dlog.Info("Graceful shutdown")
		return nil
	},
}

func setup() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	level, _ := dlog.ParseLevel(cfg.LogLevel)
	if _, err := dlog.Setup(dlog.Options{Level: level, Dir: cfg.LogDir, ArchiveCron: cfg.ArchiveCron, AddSource: true}); err != nil {
		return config.Config{}, err
	}
	dlog.Info("Loaded config", "config", cfg)
	return cfg, nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	messagesCmd.Flags().IntVarP(&messagesLimit, "limit", "n", 20, "Number of messages, at most 100")
	rootCmd.AddCommand(guildsCmd, messagesCmd, listenCmd)
}

func main() {
	err := rootCmd.ExecuteContext(context.Background())
	if err != nil {
		dlog.Error("Command failed", "err", err)
	}
	dlog.Close()
	if err != nil {
		os.Exit(1)
	}
}
