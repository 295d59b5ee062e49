package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"mrv/auth"
	"mrv/config"
	"mrv/database"
	"mrv/lifecycle"
	"mrv/models"
	"mrv/registry"

	"github.com/spf13/cobra"
)

// stores is what the read-only commands need from a backend.
type stores struct {
	projects lifecycle.ProjectLister
	records  registry.Reader
	close    func()
}

type opener func(ctx context.Context, cfg config.Server) (*stores, error)

func openPostgres(ctx context.Context, cfg config.Server) (*stores, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL not set")
	}
	db, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	return &stores{projects: db.Projects(), records: db.Registry(), close: db.Close}, nil
}

func newRootCmd(out io.Writer, open opener) *cobra.Command {
	root := &cobra.Command{
		Use:   "mrvctl",
		Short: "Operator tool for the MRV verification service",
		Long: `Operator tool for the MRV verification service.
Reads the same environment as the server (DATABASE_URL, JWT_SIGNING_KEY, JWT_ISSUER).`,
		SilenceUsage: true,
	}
	root.SetOut(out)
	root.PersistentFlags().Duration("timeout", 30*time.Second, "timeout for database calls")

	root.AddCommand(tokenCmd(), registryCmd(open), auditCmd(open))
	return root
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an access token for an actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			user, _ := cmd.Flags().GetString("user")
			role, _ := cmd.Flags().GetString("role")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			if ttl <= 0 {
				ttl = cfg.TokenTTL
			}

			token, err := auth.NewJWTService(cfg.JWTSigningKey, cfg.JWTIssuer).
				GenerateAccessToken(models.Actor{ID: user, Role: models.Role(role)}, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringP("user", "u", "", "actor id (required)")
	cmd.Flags().StringP("role", "r", string(models.RoleNGO), "actor role: NGO | Community | Panchayat | admin")
	cmd.Flags().Duration("ttl", 0, "token lifetime (defaults to TOKEN_TTL)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func registryCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Print registry records as JSON, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			var params models.RegistryQueryParams
			params.ProjectID, _ = cmd.Flags().GetString("project-id")
			params.OwnerID, _ = cmd.Flags().GetString("owner-id")
			params.StartTime, _ = cmd.Flags().GetString("since")
			params.Limit, _ = cmd.Flags().GetInt("limit")

			return withStores(cmd, open, func(ctx context.Context, s *stores) error {
				records, total, err := s.records.Query(ctx, params)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), models.RegistryResponse{
					Registry: records,
					Total:    total,
					Limit:    registry.ClampLimit(params.Limit),
					HasMore:  int64(len(records)) < total,
				})
			})
		},
	}
	cmd.Flags().String("project-id", "", "only records for this project")
	cmd.Flags().String("owner-id", "", "only records for this owner")
	cmd.Flags().String("since", "", "only records at or after this RFC3339 time")
	cmd.Flags().Int("limit", registry.MaxLimit, "maximum records to print")
	return cmd
}

func auditCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Cross-check project statuses against the registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			strict, _ := cmd.Flags().GetBool("strict")
			return withStores(cmd, open, func(ctx context.Context, s *stores) error {
				report, err := lifecycle.NewAuditor(s.projects, s.records).Run(ctx)
				if err != nil {
					return err
				}
				if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
				if strict && !report.Consistent {
					return fmt.Errorf("registry audit: %d missing, %d orphaned",
						len(report.MissingRecords), len(report.OrphanedRecords))
				}
				return nil
			})
		},
	}
	cmd.Flags().Bool("strict", false, "exit non-zero when the audit finds mismatches")
	return cmd
}

func withStores(cmd *cobra.Command, open opener, fn func(ctx context.Context, s *stores) error) error {
	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	s, err := open(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.close()
	return fn(ctx, s)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
