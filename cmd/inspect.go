package cmd

import (
	"encoding/hex"
	"fmt"
	"path/filepath"

	"github.com/consensys/zkmpt/witness"
	"github.com/spf13/cobra"
)

// inspectCmd represents the inspect command
var inspectCmd = &cobra.Command{
	Use:     "inspect [trace.cbor]",
	Short:   "prints the proofs a serialized witness trace is made of",
	Args:    cobra.ExactArgs(1),
	RunE:    cmdInspect,
	Version: Version,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}

func cmdInspect(cmd *cobra.Command, args []string) error {
	tr, err := readTrace(filepath.Clean(args[0]))
	if err != nil {
		return err
	}
	main := tr.Main()
	fmt.Printf("%d rows, %d hash blobs\n", len(main), len(tr.HashOnly()))
	if len(main) == 0 {
		return nil
	}

	bounds := witness.Boundaries(main)
	for i, r := range main {
		if !bounds[i] {
			continue
		}
		fmt.Printf("proof %d at row %d: %s\n", r.Counter(), i, modName(&r))
		fmt.Printf("  address %s\n", hex.EncodeToString(r.Address()))
		fmt.Printf("  root %s -> %s\n",
			hex.EncodeToString(r.SRoot()), hex.EncodeToString(r.CRoot()))
	}
	return nil
}

func modName(r *witness.Row) string {
	switch {
	case r.Mod(witness.ModStorage):
		return "storage modification"
	case r.Mod(witness.ModNonce):
		return "nonce modification"
	case r.Mod(witness.ModBalance):
		return "balance modification"
	case r.Mod(witness.ModCodeHash):
		return "code hash modification"
	case r.Mod(witness.ModAccountDelete):
		return "account deletion"
	case r.Mod(witness.ModNonExisting):
		return "non-existence"
	}
	return "unknown modification"
}
