package main

import (
	"github.com/spf13/cobra"

	"github.com/xela07ax/spaceai-control-plane/internal/infra"
	"github.com/xela07ax/spaceai-control-plane/internal/token"
)

func newVerifyTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify-token <token>",
		Short: "Verify a local execution token or decode a KMS envelope",
		Long: `Local (HS256) tokens are verified with signer.local_secret. Envelope tokens are
decoded and printed with verified=false: their signature is checked by the KMS key holder.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := infra.LoadConfig()
			if err != nil {
				return err
			}
			logger, err := cliLogger(cmd)
			if err != nil {
				return err
			}
			opts := token.Options{Issuer: cfg.Signer.Issuer}
			if cfg.Signer.LocalSecret != "" {
				opts.Local = token.NewLocalSigner([]byte(cfg.Signer.LocalSecret))
			}
			v, err := token.NewIssuer(opts, logger).Verify(args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), v)
		},
	}
}
