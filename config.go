package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	bind           string
	dayDuration    time.Duration
	defaultName    string
	mafiaRatio     float64
	newRoomTimeout time.Duration
	nightDuration  time.Duration
	port           int
	prefix         string
	profile        bool
	roomTimeout    time.Duration
	tlsCert        string
	tlsKey         string
	verbose        bool
	version        bool
	voteDuration   time.Duration
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.mafiaRatio <= 0 || c.mafiaRatio >= 1 {
		return fmt.Errorf("invalid mafia ratio (must be between 0 and 1 exclusive): %v", c.mafiaRatio)
	}
	for _, d := range []time.Duration{c.dayDuration, c.nightDuration, c.voteDuration, c.newRoomTimeout, c.roomTimeout} {
		if d <= 0 {
			return errors.New("durations and timeouts must be positive")
		}
	}

	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}

	return "http"
}

// gameOptions are the default rule options every new room is created with.
func (c *Config) gameOptions() RoomOptions {
	return RoomOptions{
		MafiaRatio:    c.mafiaRatio,
		DefaultName:   c.defaultName,
		DayDuration:   c.dayDuration,
		NightDuration: c.nightDuration,
		VoteDuration:  c.voteDuration,
	}
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("MAFIA")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "mafia",
		Short:         "A realtime browser-based mafia party game server.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}

			if cfg.verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			} else {
				zerolog.SetGlobalLevel(zerolog.InfoLevel)
			}

			return ServePage(cmd.Context(), cfg)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: MAFIA_BIND)")
	fs.DurationVar(&cfg.dayDuration, "day-duration", 40*time.Second, "length of the day discussion phase (env: MAFIA_DAY_DURATION)")
	fs.StringVar(&cfg.defaultName, "default-name", "Anonymous", "display name for players who provide none (env: MAFIA_DEFAULT_NAME)")
	fs.Float64Var(&cfg.mafiaRatio, "mafia-ratio", 0.25, "fraction of players assigned the mafia role (env: MAFIA_MAFIA_RATIO)")
	fs.DurationVar(&cfg.newRoomTimeout, "new-room-timeout", 5*time.Minute, "time before an unconfirmed or idle lobby expires (env: MAFIA_NEW_ROOM_TIMEOUT)")
	fs.DurationVar(&cfg.nightDuration, "night-duration", 25*time.Second, "length of the night discussion phase (env: MAFIA_NIGHT_DURATION)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: MAFIA_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: MAFIA_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: MAFIA_PROFILE)")
	fs.DurationVar(&cfg.roomTimeout, "room-timeout", 30*time.Minute, "time before an inactive in-game room expires (env: MAFIA_ROOM_TIMEOUT)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: MAFIA_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: MAFIA_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: MAFIA_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: MAFIA_VERSION)")
	fs.DurationVar(&cfg.voteDuration, "vote-duration", 15*time.Second, "length of each voting window (env: MAFIA_VOTE_DURATION)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("mafia v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
