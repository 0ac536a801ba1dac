package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"casevault/internal/custody"
)

func newMigrateCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply ledger schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := openLedger(cmd.Context(), v)
			if err != nil {
				return err
			}
			defer l.Close()
			if err := l.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s ledger schema is up to date\n", l.Driver)
			return nil
		},
	}
}

func newChainCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "chain [case-id] [file-hash]",
		Short: "Print a file's chain, or every event of a case when no file hash is given",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), v, func(svc *custody.Service) error {
				var (
					events []custody.Event
					err    error
				)
				if len(args) == 2 {
					events, err = svc.FileChain(cmd.Context(), args[0], args[1])
				} else {
					events, err = svc.CaseChain(cmd.Context(), args[0])
				}
				if err != nil {
					return err
				}
				if v.GetString("format") == "json" {
					out, err := custody.ExportChainJSON(events)
					if err != nil {
						return err
					}
					_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
					return err
				}
				return render(cmd.OutOrStdout(), v.GetString("format"), events)
			})
		},
	}
}

func newVerifyCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "verify [case-id] [file-hash]",
		Short: "Verify one file's chain; exits 2 on violations",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), v, func(svc *custody.Service) error {
				res, err := svc.Verify(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				if err := render(cmd.OutOrStdout(), v.GetString("format"), res); err != nil {
					return err
				}
				if !res.IsValid {
					return fmt.Errorf("%w: %d in %s/%s", errIntegrityViolations, len(res.Errors), args[0], args[1])
				}
				return nil
			})
		},
	}
}

func newVerifyCaseCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "verify-case [case-id]",
		Short: "Verify every chain of a case; exits 2 on violations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), v, func(svc *custody.Service) error {
				res, err := svc.VerifyCase(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if err := render(cmd.OutOrStdout(), v.GetString("format"), res); err != nil {
					return err
				}
				if !res.IsValid {
					bad := 0
					for _, f := range res.Files {
						if !f.IsValid {
							bad++
						}
					}
					return fmt.Errorf("%w: %d of %d files in case %s", errIntegrityViolations, bad, len(res.Files), args[0])
				}
				return nil
			})
		},
	}
}

func newCertificateCmd(v *viper.Viper) *cobra.Command {
	var caseNumber, fileName, generatedBy string

	cmd := &cobra.Command{
		Use:   "certificate [case-id] [file-hash]",
		Short: "Generate a chain-of-custody certificate",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if generatedBy == "" {
				generatedBy = os.Getenv("USER")
			}
			return withService(cmd.Context(), v, func(svc *custody.Service) error {
				cert, err := svc.GenerateCertificate(cmd.Context(), custody.CertificateRequest{
					CaseID:      args[0],
					FileHash:    args[1],
					CaseNumber:  caseNumber,
					FileName:    fileName,
					GeneratedBy: generatedBy,
				})
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), v.GetString("format"), cert)
			})
		},
	}
	cmd.Flags().StringVar(&caseNumber, "case-number", "", "human-facing case number")
	cmd.Flags().StringVar(&fileName, "file-name", "", "file name; defaults to the name on the latest event")
	cmd.Flags().StringVar(&generatedBy, "generated-by", "", "who requested the certificate (default $USER)")
	return cmd
}

func newStatsCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "stats [case-id]",
		Short: "Summarise a case's ledger activity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), v, func(svc *custody.Service) error {
				st, err := svc.CaseActivityStats(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), v.GetString("format"), st)
			})
		},
	}
}
