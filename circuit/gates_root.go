package circuit

import (
	"fmt"

	"github.com/consensys/zkmpt/witness"
)

// Root continuity gates: the public before/after commitments, their
// constancy inside a proof, and the chaining of consecutive proofs in one
// trace.

func (e *Engine) registerRootGates() {
	always := func(v *View) bool { return true }

	e.register("root/constant-in-proof", always, func(v *View) error {
		if v.Boundary(0) || !v.InBounds(-1) {
			return nil
		}
		c, p := v.Cells(0), v.Cells(-1)
		if err := expectEq("before-root constant", c.RootS, p.RootS); err != nil {
			return err
		}
		if err := expectEq("after-root constant", c.RootC, p.RootC); err != nil {
			return err
		}
		if err := expectEq("address constant", c.AddressRLC, p.AddressRLC); err != nil {
			return err
		}
		if v.Row(0).Counter() != v.Row(-1).Counter() {
			return fmt.Errorf("proof counter changes inside a proof")
		}
		return nil
	})

	e.register("root/chain", always, func(v *View) error {
		if !v.Boundary(0) || !v.InBounds(-1) {
			return nil
		}
		// consecutive proofs describe consecutive states
		if err := expectEq("chained root", v.Cells(0).RootS, v.Cells(-1).RootC); err != nil {
			return err
		}
		if v.Row(0).Counter() != v.Row(-1).Counter()+1 {
			return fmt.Errorf("proof counter does not advance across the chain")
		}
		return nil
	})

	e.register("root/proof-start", always, func(v *View) error {
		if !v.Boundary(0) {
			return nil
		}
		switch v.Row(0).Kind() {
		case witness.KindInitBranch, witness.KindAccountLeafKeyS:
			return nil
		}
		return fmt.Errorf("proof starts with %s", v.Row(0).Kind())
	})

	e.register("root/public", always, func(v *View) error {
		if v.Index() == 0 {
			if err := expectEq("public before-root", v.Cells(0).RootS, v.startRoot); err != nil {
				return err
			}
		}
		if v.Index() == v.a.Len()-1 {
			if err := expectEq("public after-root", v.Cells(0).RootC, v.endRoot); err != nil {
				return err
			}
		}
		return nil
	})
}
