package main

import (
	"fmt"

	trust "github.com/goliatone/go-trust"
	"github.com/goliatone/go-trust/mail"
	"github.com/goliatone/go-trust/repository"
	"github.com/urfave/cli/v2"
)

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "apply pending database migrations",
		Action: func(c *cli.Context) error {
			cfg := configFrom(c)
			logger := cfg.Log.NewLogger("trustd")

			db, err := openDB(cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			group, err := repository.Migrate(c.Context, db)
			if err != nil {
				return err
			}

			if group.IsZero() {
				logger.Info("no new migrations")
				return nil
			}
			logger.Info("migrations applied", "group", group.String())
			return nil
		},
	}
}

func userCommand() *cli.Command {
	return &cli.Command{
		Name:  "user",
		Usage: "manage accounts",
		Subcommands: []*cli.Command{
			{
				Name:  "create",
				Usage: "create an account directly, bypassing invitations",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "email", Required: true},
					&cli.StringFlag{Name: "password", Required: true, EnvVars: []string{"TRUSTD_USER_PASSWORD"}},
					&cli.StringFlag{Name: "role", Value: string(trust.RoleAdmin)},
					&cli.BoolFlag{Name: "two-factor", Usage: "require a mailed code at sign in"},
				},
				Action: createUser,
			},
			{
				Name:      "role",
				Usage:     "change the role of an account",
				ArgsUsage: "<user-id> <role>",
				Action:    setRole,
			},
		},
	}
}

func createUser(c *cli.Context) error {
	cfg := configFrom(c)

	role, ok := trust.ParseRole(c.String("role"))
	if !ok {
		return fmt.Errorf("unknown role %q", c.String("role"))
	}

	if len(c.String("password")) < trust.MinPasswordLength {
		return fmt.Errorf("password must be at least %d characters", trust.MinPasswordLength)
	}

	db, err := openDB(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	hash, err := trust.NewHasher(cfg.Auth.HashWorkers).Hash(c.Context, c.String("password"))
	if err != nil {
		return err
	}

	user, err := repository.NewUserRepository(db).CreateUser(c.Context, &trust.UserRecord{
		Email:            c.String("email"),
		PasswordHash:     hash,
		Role:             role,
		TwoFactorEnabled: c.Bool("two-factor"),
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(c.App.Writer, "%s\t%s\t%s\n", user.ID, user.Email, user.Role)
	return nil
}

func setRole(c *cli.Context) error {
	if c.NArg() != 2 {
		return cli.ShowSubcommandHelp(c)
	}

	role, ok := trust.ParseRole(c.Args().Get(1))
	if !ok {
		return fmt.Errorf("unknown role %q", c.Args().Get(1))
	}

	db, err := openDB(configFrom(c).Database)
	if err != nil {
		return err
	}
	defer db.Close()

	return repository.NewUserRepository(db).SetRole(c.Context, c.Args().Get(0), role)
}

func inviteCommand() *cli.Command {
	return &cli.Command{
		Name:      "invite",
		Usage:     "issue an invitation and print its registration link",
		ArgsUsage: "<email>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "expire-days", Usage: "days until the invitation expires"},
			&cli.StringFlag{Name: "creator", Usage: "id recorded as the invitation creator"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.ShowSubcommandHelp(c)
			}

			cfg := configFrom(c)
			logger := cfg.Log.NewLogger("trustd")

			db, err := openDB(cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			signer, err := trust.NewTokenSigner([]byte(cfg.SigningSecret))
			if err != nil {
				return err
			}

			mailer, err := mail.NewTemplateMailer(mail.NewLogTransport(logger.Named("mail")))
			if err != nil {
				return err
			}

			days := c.Int("expire-days")
			if days <= 0 {
				days = cfg.Invitation.ExpireDays
			}

			issuer := trust.NewInvitationIssuer(repository.NewInvitationRepository(db), signer, mailer, cfg.Invitation.BaseURL).
				WithLogger(logger.Named("invitations"))

			inv, err := issuer.CreateInvitation(c.Context, c.Args().First(), days, c.String("creator"))
			if inv == nil {
				return err
			}
			if err != nil {
				logger.Warn("invitation stored but not delivered", "error", err)
			}

			fmt.Fprintln(c.App.Writer, issuer.RegistrationLink(inv.ID))
			return nil
		},
	}
}
