package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alecgard/huddle/internal/auth"
	"github.com/alecgard/huddle/internal/team"
	"github.com/alecgard/huddle/internal/user"
	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed demo users and teams",
	RunE:  runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

// demoPassword is shared by every seeded account.
const demoPassword = "huddle-demo"

type demoUser struct {
	account string
	tags    []string
}

var demoUsers = []demoUser{
	{"ada_l", []string{"go", "postgres", "hiking", "male"}},
	{"grace_h", []string{"go", "kubernetes", "climbing", "female"}},
	{"linus_t", []string{"c", "linux", "hiking", "male"}},
	{"barbara_l", []string{"java", "postgres", "chess", "female"}},
	{"ken_t", []string{"c", "go", "chess", "male"}},
	{"radia_p", []string{"networking", "kubernetes", "climbing", "female"}},
}

var demoTeams = []struct {
	owner int
	input team.CreateTeamInput
}{
	{0, team.CreateTeamInput{
		Name:        "Weekend Hikers",
		Description: "Gophers who hike. Saturday mornings.",
		MaxNum:      6,
		Status:      team.StatusPublic,
	}},
	{1, team.CreateTeamInput{
		Name:        "Cluster Climbers",
		Description: "Bouldering after the on-call handover.",
		MaxNum:      4,
		Status:      team.StatusSecret,
		Password:    "belay",
	}},
}

func runSeed(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	// Check if seed has already run.
	if _, err := a.users.GetByAccount(ctx, demoUsers[0].account); err == nil {
		slog.Info("demo data already exists, skipping seed")
		return nil
	}

	callers := make([]*auth.User, 0, len(demoUsers))
	for _, d := range demoUsers {
		u, err := a.accounts.Register(ctx, user.RegisterInput{
			Account:       d.account,
			Password:      demoPassword,
			CheckPassword: demoPassword,
		})
		if err != nil {
			return fmt.Errorf("registering %q: %w", d.account, err)
		}

		caller := &auth.User{ID: u.ID, Account: u.Account, Username: u.Username, Role: u.Role}
		if _, err := a.accounts.UpdateTags(ctx, caller, u.ID, d.tags); err != nil {
			return fmt.Errorf("tagging %q: %w", d.account, err)
		}
		slog.Info("created user", "account", u.Account, "id", u.ID)
		callers = append(callers, caller)
	}

	// Registration never grants the admin role, so the operator account goes
	// straight to the store.
	admin, err := a.users.Create(ctx, user.CreateUserInput{
		Account:  "huddle_admin",
		Password: demoPassword,
		Username: "admin",
		Role:     user.RoleAdmin,
	})
	if err != nil {
		return fmt.Errorf("creating admin: %w", err)
	}
	slog.Info("created admin", "account", admin.Account, "id", admin.ID)

	teams := make([]*team.Team, 0, len(demoTeams))
	for _, dt := range demoTeams {
		t, err := a.admission.Create(ctx, callers[dt.owner], dt.input)
		if err != nil {
			return fmt.Errorf("creating team %q: %w", dt.input.Name, err)
		}
		slog.Info("created team", "name", t.Name, "id", t.ID)
		teams = append(teams, t)
	}

	// One extra member so listings show more than the owner.
	if err := a.admission.Join(ctx, callers[2], teams[0].ID, ""); err != nil {
		return fmt.Errorf("joining demo team: %w", err)
	}

	fmt.Printf("\n=== Demo Data Seeded ===\n")
	fmt.Printf("Users:     %d (password %q)\n", len(demoUsers), demoPassword)
	fmt.Printf("Admin:     %s\n", admin.Account)
	fmt.Printf("Teams:     %d\n", len(demoTeams))
	fmt.Printf("\nTry it:\n")
	fmt.Printf("  curl -X POST -d '{\"account\":\"%s\",\"password\":\"%s\"}' http://localhost:%d/api/v1/auth/login\n",
		demoUsers[0].account, demoPassword, cfg.Server.Port)
	fmt.Printf("  curl -H 'Authorization: Bearer <token>' http://localhost:%d/api/v1/users/match?num=3\n", cfg.Server.Port)

	return nil
}
