package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/seclens/seclens/internal/domain/auth"
)

var hashArgon2id bool

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key [secret]",
	Short: "Generate a credential secret hash for the seed file",
	Long: `Generate a hash of a credential secret for use in the seed file's
secret_hash field.

By default the output is "sha256:<hex>", which the server resolves with a
fast direct lookup. With --argon2id the output is an argon2id encoded
string; resolution then iterates credentials, so prefer it for small
deployments where hardened at-rest hashes matter more than lookup cost.

Example:
  seclens hash-key "my-secret-token"
  seclens hash-key --argon2id "my-secret-token"

Security note: the secret will appear in shell history. Consider using an
environment variable:
  seclens hash-key "$MY_TOKEN"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if hashArgon2id {
			hash, err := auth.HashSecretArgon2id(args[0])
			if err != nil {
				return fmt.Errorf("hash secret: %w", err)
			}
			fmt.Println(hash)
			return nil
		}
		fmt.Printf("sha256:%s\n", auth.HashSecret(args[0]))
		return nil
	},
}

func init() {
	hashKeyCmd.Flags().BoolVar(&hashArgon2id, "argon2id", false, "produce an argon2id hash instead of SHA-256")
	rootCmd.AddCommand(hashKeyCmd)
}
