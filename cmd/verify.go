package cmd

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/zkmpt/circuit"
	"github.com/consensys/zkmpt/witness"
	"github.com/spf13/cobra"
)

// verifyCmd represents the verify command
var verifyCmd = &cobra.Command{
	Use:     "verify [trace.cbor]",
	Short:   "evaluates every trace assertion and checks the public roots",
	Args:    cobra.ExactArgs(1),
	RunE:    cmdVerify,
	Version: Version,
}

var (
	fStartRoot, fEndRoot string
)

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.PersistentFlags().StringVar(&fStartRoot, "start", "", "hex root the first proof starts from -- default is the trace's own before root")
	verifyCmd.PersistentFlags().StringVar(&fEndRoot, "end", "", "hex root the last proof ends at -- default is the trace's own after root")
}

func cmdVerify(cmd *cobra.Command, args []string) error {
	tr, err := readTrace(filepath.Clean(args[0]))
	if err != nil {
		return err
	}
	if tr.Len() == 0 {
		return fmt.Errorf("trace holds no rows")
	}

	e := circuit.New()
	start, err := rootFold(e, fStartRoot, tr.Row(0).SRoot())
	if err != nil {
		return fmt.Errorf("start root: %w", err)
	}
	end, err := rootFold(e, fEndRoot, tr.Row(tr.Len()-1).CRoot())
	if err != nil {
		return fmt.Errorf("end root: %w", err)
	}

	t0 := time.Now()
	a, err := e.Assign(tr)
	if err != nil {
		return fmt.Errorf("assign: %w", err)
	}
	if err := e.Verify(a, start, end); err != nil {
		return err
	}
	fmt.Printf("trace ok: %d rows verified in %v\n", tr.Len(), time.Since(t0))
	return nil
}

func readTrace(path string) (*witness.Trace, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tr := &witness.Trace{}
	if _, err := tr.ReadFrom(f); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return tr, nil
}

// rootFold folds a 32-byte root into the field, taking the bytes from the
// hex flag when given and from the trace metadata otherwise.
func rootFold(e *circuit.Engine, flag string, meta []byte) (fr.Element, error) {
	b := meta
	if flag != "" {
		var err error
		b, err = hex.DecodeString(strings.TrimPrefix(flag, "0x"))
		if err != nil {
			return fr.Element{}, err
		}
		if len(b) != witness.HashWidth {
			return fr.Element{}, fmt.Errorf("want %d bytes, got %d", witness.HashWidth, len(b))
		}
	}
	return e.Folder().Of(b), nil
}
