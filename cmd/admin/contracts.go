package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"railwars.gg/internal/nft"
)

var contractsCmd = &cobra.Command{
	Use:   "contracts",
	Short: "Manage the NFT contract tracked for each game.",
	Long: "Running servers pick up changes on their next watcher reload " +
		"(watch_reload).",
}

var contractsAddCmd = &cobra.Command{
	Use:   "add GAME CHAIN_ID ADDRESS",
	Short: "Track ADDRESS on CHAIN_ID for GAME, replacing its previous contract.",
	Args:  cobra.ExactArgs(3),
	RunE: withEnv(func(cmd *cobra.Command, e *env, args []string) error {
		chainID, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("chain id: %w", err)
		}
		prev, replaced, err := e.store.PutTrackedContract(cmd.Context(), nft.TrackedContract{
			GameID:          args[0],
			ChainID:         chainID,
			ContractAddress: args[2],
		})
		if err != nil {
			return err
		}
		if replaced {
			fmt.Fprintf(cmd.OutOrStdout(), "replaced %d:%s\n", prev.ChainID, prev.ContractAddress)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "tracking %d:%s for %s\n", chainID, nft.NormalizeAddress(args[2]), args[0])
		return nil
	}),
}

var contractsRemoveCmd = &cobra.Command{
	Use:   "remove GAME",
	Short: "Stop tracking the contract of GAME.",
	Args:  cobra.ExactArgs(1),
	RunE: withEnv(func(cmd *cobra.Command, e *env, args []string) error {
		tc, ok, err := e.store.RemoveTrackedContract(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("game %s has no tracked contract", args[0])
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d:%s\n", tc.ChainID, tc.ContractAddress)
		return nil
	}),
}

var contractsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked contracts.",
	Args:  cobra.NoArgs,
	RunE: withEnv(func(cmd *cobra.Command, e *env, _ []string) error {
		tcs, err := e.store.TrackedContracts(cmd.Context())
		if err != nil {
			return err
		}
		for _, tc := range tcs {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\t%s\n", tc.GameID, tc.ChainID, tc.ContractAddress)
		}
		return nil
	}),
}

var nftsCmd = &cobra.Command{
	Use:   "nfts",
	Short: "Inspect and seed NFT records.",
}

var nftsListCmd = &cobra.Command{
	Use:   "list GAME",
	Short: "Print the NFT records of GAME.",
	Args:  cobra.ExactArgs(1),
	RunE: withEnv(func(cmd *cobra.Command, e *env, args []string) error {
		recs, err := e.store.NFTRecords(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if recs == nil {
			recs = []nft.Record{}
		}
		return printJSON(cmd.OutOrStdout(), recs)
	}),
}

var nftsPutCmd = &cobra.Command{
	Use:   "put GAME TOKEN_ID [KEY=VALUE...]",
	Short: "Create an NFT record or replace its attributes. An existing owner is kept.",
	Args:  cobra.MinimumNArgs(2),
	RunE: withEnv(func(cmd *cobra.Command, e *env, args []string) error {
		attrs, err := parseAttributes(args[2:])
		if err != nil {
			return err
		}
		owner, _ := cmd.Flags().GetString("owner")
		return e.store.PutNFTRecord(cmd.Context(), nft.Record{
			GameID:     args[0],
			TokenID:    args[1],
			Owner:      nft.NormalizeAddress(owner),
			Attributes: attrs,
			UpdatedAt:  time.Now().UTC(),
		})
	}),
}

func parseAttributes(kvs []string) (map[string]string, error) {
	out := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("attribute %q: want KEY=VALUE", kv)
		}
		out[strings.TrimSpace(k)] = v
	}
	return out, nil
}

func init() {
	nftsPutCmd.Flags().String("owner", "", "owner address")

	contractsCmd.AddCommand(contractsAddCmd, contractsRemoveCmd, contractsListCmd)
	nftsCmd.AddCommand(nftsListCmd, nftsPutCmd)
	rootCmd.AddCommand(contractsCmd, nftsCmd)
}
