package cmd

import (
	"errors"

	"papervault/config/database"
	noderepo "papervault/internal/node/repository"
	"papervault/internal/user/model"
	userrepo "papervault/internal/user/repository"
	usersvc "papervault/internal/user/service"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var newUser struct {
	username  string
	email     string
	password  string
	superuser bool
}

var createUserCmd = &cobra.Command{
	Use:   "createuser",
	Short: "Create a user with its home and inbox folders",
	RunE: func(cmd *cobra.Command, args []string) error {
		if newUser.username == "" || newUser.password == "" {
			return errors.New("--username and --password are required")
		}
		db, err := database.Connect(cfg.DatabaseDSN(), cfg.Database.Retries)
		if err != nil {
			return err
		}
		defer db.Close()

		svc := usersvc.NewUserService(userrepo.NewUserRepository(db), noderepo.NewNodeRepository(db), nil, nil,
			cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
		u, err := svc.Register(cmd.Context(), model.RegisterRequest{
			Username: newUser.username,
			Email:    newUser.email,
			Password: newUser.password,
		}, newUser.superuser)
		if err != nil {
			return err
		}

		kind := "user"
		if u.IsSuperuser {
			kind = "superuser"
		}
		color.Green("Created %s %s (%s)", kind, u.Username, u.ID)
		return nil
	},
}

func init() {
	f := createUserCmd.Flags()
	f.StringVar(&newUser.username, "username", "", "login name")
	f.StringVar(&newUser.email, "email", "", "email address")
	f.StringVar(&newUser.password, "password", "", "password, at least 8 characters")
	f.BoolVar(&newUser.superuser, "superuser", false, "grant superuser rights")
}
