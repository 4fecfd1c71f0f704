package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/moutai-scheduler/internal/config"
	"github.com/example/moutai-scheduler/internal/db"
	"github.com/example/moutai-scheduler/internal/domain/reservation"
	"github.com/example/moutai-scheduler/internal/migrate"
	"github.com/example/moutai-scheduler/internal/moutai"
	"github.com/example/moutai-scheduler/internal/store"
)

// Remote session tokens observed to live about a month.
const tokenTTL = 30 * 24 * time.Hour

func newAccountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage remote accounts",
	}
	cmd.AddCommand(newAccountSendCodeCmd())
	cmd.AddCommand(newAccountLoginCmd())
	cmd.AddCommand(newAccountListCmd())
	cmd.AddCommand(newAccountLocationCmd())
	cmd.AddCommand(newAccountConfigCmd())
	return cmd
}

func openStore(ctx context.Context) (config.Config, *db.DB, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return config.Config{}, nil, err
	}
	d, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return config.Config{}, nil, err
	}
	if err := migrate.Up(ctx, d); err != nil {
		d.Close()
		return config.Config{}, nil, err
	}
	return cfg, d, nil
}

func newClient(cfg config.Config) *moutai.Client {
	return moutai.New(moutai.Config{
		BaseURL:     cfg.APIBaseURL,
		StaticURL:   cfg.StaticBaseURL,
		H5URL:       cfg.H5BaseURL,
		AppStoreURL: cfg.AppStoreURL,
		Timeout:     cfg.HTTPTimeout,
		RatePerSec:  cfg.RatePerSec,
	}, newLogger(cfg.LogLevel))
}

// deviceIDFor reuses the stored device id for a known (user, mobile) pair
// and mints one otherwise. The remote ties sessions to the device id, so
// it must stay stable across logins.
func deviceIDFor(ctx context.Context, accounts *store.AccountRepo, userID int64, mobile, override string) (string, error) {
	if override != "" {
		return override, nil
	}
	id, err := accounts.DeviceID(ctx, userID, mobile)
	if err == nil {
		return id, nil
	}
	if db.IsNotFound(err) {
		return moutai.NewDeviceID(), nil
	}
	return "", err
}

func newAccountSendCodeCmd() *cobra.Command {
	var userID int64
	var mobile, deviceID string

	c := &cobra.Command{
		Use:   "send-code",
		Short: "Request an SMS verification code",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, d, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer d.Close()

			accounts := store.NewAccountRepo(d)
			dev, err := deviceIDFor(ctx, accounts, userID, mobile, deviceID)
			if err != nil {
				return err
			}

			if err := newClient(cfg).RequestVerificationCode(ctx, mobile, dev); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "code sent to %s (device %s)\n", mobile, dev)
			fmt.Fprintf(os.Stdout, "pass --device-id %s to the login command\n", dev)
			return nil
		},
	}

	c.Flags().Int64Var(&userID, "user", 0, "owning user id")
	c.Flags().StringVar(&mobile, "mobile", "", "account mobile number")
	c.Flags().StringVar(&deviceID, "device-id", "", "device id (defaults to the stored or a fresh one)")
	_ = c.MarkFlagRequired("user")
	_ = c.MarkFlagRequired("mobile")
	return c
}

func newAccountLoginCmd() *cobra.Command {
	var userID int64
	var mobile, code, deviceID string

	c := &cobra.Command{
		Use:   "login",
		Short: "Exchange an SMS code for a session and store it",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, d, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer d.Close()

			accounts := store.NewAccountRepo(d)
			dev, err := deviceIDFor(ctx, accounts, userID, mobile, deviceID)
			if err != nil {
				return err
			}

			res, err := newClient(cfg).Authenticate(ctx, mobile, code, dev)
			if err != nil {
				return err
			}

			a, err := accounts.UpsertLogin(ctx, userID, mobile, store.LoginUpdate{
				RemoteUserID:   res.UserID,
				Token:          res.Token,
				Cookie:         res.Cookie,
				DeviceID:       dev,
				TokenExpiresAt: time.Now().Add(tokenTTL),
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "account %d logged in, token valid until %s\n",
				a.ID, a.TokenExpiresAt.Format("2006-01-02"))
			return nil
		},
	}

	c.Flags().Int64Var(&userID, "user", 0, "owning user id")
	c.Flags().StringVar(&mobile, "mobile", "", "account mobile number")
	c.Flags().StringVar(&code, "code", "", "SMS verification code")
	c.Flags().StringVar(&deviceID, "device-id", "", "device id printed by send-code")
	_ = c.MarkFlagRequired("user")
	_ = c.MarkFlagRequired("mobile")
	_ = c.MarkFlagRequired("code")
	return c
}

func newAccountListCmd() *cobra.Command {
	var userID int64

	c := &cobra.Command{
		Use:   "list",
		Short: "List a user's accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, d, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer d.Close()

			accounts, err := store.NewAccountRepo(d).ListByUser(ctx, userID)
			if err != nil {
				return err
			}
			for _, a := range accounts {
				expiry := "never"
				if a.TokenExpiresAt != nil {
					expiry = a.TokenExpiresAt.Format("2006-01-02")
				}
				fmt.Fprintf(os.Stdout, "%d\t%s\t%s\t%s\texpires %s\n",
					a.ID, a.Mobile, a.Status, a.Province, expiry)
			}
			return nil
		},
	}

	c.Flags().Int64Var(&userID, "user", 0, "owning user id")
	_ = c.MarkFlagRequired("user")
	return c
}

func newAccountLocationCmd() *cobra.Command {
	var accountID int64
	var province, city, lat, lng, address string

	c := &cobra.Command{
		Use:   "set-location",
		Short: "Set the account's reservation location",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, d, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer d.Close()

			err = store.NewAccountRepo(d).UpdateLocation(ctx, accountID, province, city, lat, lng, address)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "account %d location set to %s %s\n", accountID, province, city)
			return nil
		},
	}

	c.Flags().Int64Var(&accountID, "account", 0, "account id")
	c.Flags().StringVar(&province, "province", "", "province name, bare or suffixed")
	c.Flags().StringVar(&city, "city", "", "city name")
	c.Flags().StringVar(&lat, "lat", "", "latitude")
	c.Flags().StringVar(&lng, "lng", "", "longitude")
	c.Flags().StringVar(&address, "address", "", "street address")
	_ = c.MarkFlagRequired("account")
	_ = c.MarkFlagRequired("province")
	_ = c.MarkFlagRequired("lat")
	_ = c.MarkFlagRequired("lng")
	return c
}

func newAccountConfigCmd() *cobra.Command {
	var accountID int64
	var items, strategy string
	var minute int
	var randomize, sideQuest, enabled bool

	c := &cobra.Command{
		Use:   "config",
		Short: "Adjust the account's reservation settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, d, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer d.Close()

			repo := store.NewAccountRepo(d)
			cfg, err := repo.GetConfig(ctx, accountID)
			if err != nil {
				if !db.IsNotFound(err) {
					return err
				}
				cfg = store.DefaultConfig(accountID)
			}

			if cmd.Flags().Changed("items") {
				cfg.ItemCodes = strings.Split(items, ",")
			}
			if cmd.Flags().Changed("strategy") {
				cfg.Strategy = reservation.Strategy(strategy)
			}
			if cmd.Flags().Changed("minute") {
				cfg.TargetMinute = minute
			}
			if cmd.Flags().Changed("randomize") {
				cfg.RandomizeMinute = randomize
			}
			if cmd.Flags().Changed("side-quest") {
				cfg.SideQuestEnabled = sideQuest
			}
			if cmd.Flags().Changed("enabled") {
				cfg.Enabled = enabled
			}

			if err := repo.UpdateConfig(ctx, cfg); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "account %d: items=%s strategy=%s minute=%d enabled=%v\n",
				accountID, strings.Join(cfg.ItemCodes, ","), cfg.Strategy, cfg.TargetMinute, cfg.Enabled)
			return nil
		},
	}

	c.Flags().Int64Var(&accountID, "account", 0, "account id")
	c.Flags().StringVar(&items, "items", "", "comma-separated item codes, at most 3")
	c.Flags().StringVar(&strategy, "strategy", "", "shop selection strategy (max-inventory or nearest)")
	c.Flags().IntVar(&minute, "minute", 0, "target minute within the window (0-59)")
	c.Flags().BoolVar(&randomize, "randomize", false, "randomize the dispatch minute")
	c.Flags().BoolVar(&sideQuest, "side-quest", true, "run the daily bonus activity")
	c.Flags().BoolVar(&enabled, "enabled", true, "include the account in scheduling")
	_ = c.MarkFlagRequired("account")
	return c
}
