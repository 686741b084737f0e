package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/austindbirch/harbor_fanout/internal/auth"
)

var (
	tokenKeyFile  string
	tokenSubject  string
	tokenScope    string
	tokenIssuer   string
	tokenAudience string
	tokenTTL      time.Duration

	keygenBits   int
	keygenOutDir string
)

// tokenCmd signs an admin token for the flush route.
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Sign an admin token for the flush route",
	Long: `Sign an RS256 token with a private key. The server verifies it with the
matching public key set in FLUSH_JWT_PUBLIC_KEY.

Examples:
  fanoutctl token keygen --out-dir ./keys
  fanoutctl token --key ./keys/flush.key --subject ops
  FANOUT_TOKEN=$(fanoutctl token --key ./keys/flush.key) fanoutctl flush`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if tokenKeyFile == "" {
			return fmt.Errorf("--key is required")
		}
		pemBytes, err := os.ReadFile(tokenKeyFile)
		if err != nil {
			return fmt.Errorf("failed to read key: %w", err)
		}
		key, err := auth.ParsePrivateKey(string(pemBytes))
		if err != nil {
			return err
		}
		tok, err := auth.SignToken(key, auth.TokenRequest{
			Issuer:   tokenIssuer,
			Audience: tokenAudience,
			Subject:  tokenSubject,
			Scope:    tokenScope,
			TTL:      tokenTTL,
		})
		if err != nil {
			return err
		}
		if outputJSON {
			printOutput(map[string]any{
				"token":      tok,
				"expires_in": int(tokenTTL.Seconds()),
			})
			return nil
		}
		fmt.Fprintln(out, tok)
		return nil
	},
}

// tokenKeygenCmd writes a new signing key pair.
var tokenKeygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate an RSA key pair for signing tokens",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		priv, pub, err := auth.GenerateKeyPair(keygenBits)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(keygenOutDir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", keygenOutDir, err)
		}
		privPath := filepath.Join(keygenOutDir, "flush.key")
		pubPath := filepath.Join(keygenOutDir, "flush.pub")
		if err := os.WriteFile(privPath, []byte(priv), 0o600); err != nil {
			return fmt.Errorf("failed to write private key: %w", err)
		}
		if err := os.WriteFile(pubPath, []byte(pub), 0o644); err != nil {
			return fmt.Errorf("failed to write public key: %w", err)
		}
		fmt.Fprintf(out, "Private key: %s\n", privPath)
		fmt.Fprintf(out, "Public key:  %s (set FLUSH_JWT_PUBLIC_KEY to its contents)\n", pubPath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.AddCommand(tokenKeygenCmd)

	tokenCmd.Flags().StringVar(&tokenKeyFile, "key", "", "PEM private key file")
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "fanoutctl", "token subject")
	tokenCmd.Flags().StringVar(&tokenScope, "scope", auth.ScopeFlush, "space separated scopes")
	tokenCmd.Flags().StringVar(&tokenIssuer, "issuer", "harborfanout", "token issuer")
	tokenCmd.Flags().StringVar(&tokenAudience, "audience", "harborfanout-admin", "token audience")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "token lifetime")

	tokenKeygenCmd.Flags().IntVar(&keygenBits, "bits", 2048, "RSA key size")
	tokenKeygenCmd.Flags().StringVar(&keygenOutDir, "out-dir", ".", "directory for flush.key and flush.pub")
}
