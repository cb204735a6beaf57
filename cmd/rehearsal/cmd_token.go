package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"rehearsal/internal/fixtures"
)

var (
	tokenUser     int
	tokenTTL      time.Duration
	tokenExpired  bool
	tokenTampered bool
)

// tokenCmd mints bearer tokens from the credential fixtures, signed
// with the shared static key the mock server verifies against.
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a fixture bearer token",
	Long: `Mint a JWT for one of the synthetic users, signed with the static
fixture key. --expired and --tampered produce deliberately bad tokens
for exercising a target's rejection paths.`,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().IntVar(&tokenUser, "user", 1, "synthetic user number")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime (default: the fixture's)")
	tokenCmd.Flags().BoolVar(&tokenExpired, "expired", false, "mint an already-expired token")
	tokenCmd.Flags().BoolVar(&tokenTampered, "tampered", false, "corrupt the signature after minting")
}

func runToken(cmd *cobra.Command, args []string) error {
	if tokenExpired && tokenTampered {
		return errors.New("pick one of --expired or --tampered")
	}

	key := fixtures.StaticSigningKey()
	user := fixtures.UserN(tokenUser)

	var token string
	var err error
	switch {
	case tokenExpired:
		token, err = fixtures.MintExpired(key, user)
	case tokenTTL > 0:
		token, err = fixtures.Mint(key, fixtures.NewClaims(user, tokenTTL))
	default:
		token, err = fixtures.MintFor(key, user)
	}
	if err != nil {
		return fmt.Errorf("failed to mint token: %w", err)
	}
	if tokenTampered {
		token = fixtures.Tampered(token)
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "user: %s (%s, %s)\n", user.ID, user.Email, user.Role)
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
