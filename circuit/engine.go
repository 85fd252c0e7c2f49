package circuit

import (
	"fmt"
	"runtime"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/zkmpt/debug"
	"github.com/consensys/zkmpt/logger"
	"github.com/consensys/zkmpt/rlc"
	"github.com/consensys/zkmpt/table"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// gate is one registered assertion: a structural selector deciding whether
// it applies to a row, and a check evaluated over the row's window. A check
// returning a non-nil error is an assertion violation and invalidates the
// whole trace.
type gate struct {
	name  string
	when  func(v *View) bool
	check func(v *View) error
}

// Violation reports a failed assertion. It is the single error category of
// trace verification: there is no partial recovery.
type Violation struct {
	Gate string
	Row  int
	Err  error
}

func (e *Violation) Error() string {
	return fmt.Sprintf("circuit: row %d: gate %q: %v", e.Row, e.Gate, e.Err)
}

func (e *Violation) Unwrap() error { return e.Err }

// Engine holds the registered gates and the tables they consume. Build it
// once with New and reuse it across traces.
type Engine struct {
	params Params
	folder *rlc.Folder
	fixed  *table.Fixed
	gates  []gate
	log    zerolog.Logger
}

// New builds an engine and registers every gate. Registration is static:
// it depends only on the row-kind layout, never on witness content.
func New(opts ...Option) *Engine {
	p := DefaultParams()
	for _, opt := range opts {
		opt(&p)
	}

	e := &Engine{
		params: p,
		folder: rlc.NewFolder(p.Randomness, table.RMultLen),
		log:    logger.For("circuit"),
	}
	e.fixed = table.NewFixed(e.folder)

	e.registerBranchGates()
	e.registerKeyGates()
	e.registerExtensionGates()
	e.registerStorageLeafGates()
	e.registerAccountLeafGates()
	e.registerNonExistingGates()
	e.registerRootGates()

	e.log.Debug().Int("gates", len(e.gates)).Msg("gates registered")
	return e
}

// Folder exposes the engine's RLC folder (shared randomness).
func (e *Engine) Folder() *rlc.Folder { return e.folder }

func (e *Engine) register(name string, when func(v *View) bool, check func(v *View) error) {
	e.gates = append(e.gates, gate{name: name, when: when, check: check})
}

// Verify evaluates every registered gate over every row of the assignment.
// startRoot and endRoot are the public commitments the first proof's before
// root and the last proof's after root must match. The first violation
// found is returned; a nil result means the trace satisfies the encoding.
func (e *Engine) Verify(a *Assignment, startRoot, endRoot fr.Element) error {
	if a == nil || len(a.rows) == 0 {
		return fmt.Errorf("circuit: empty assignment")
	}

	n := len(a.rows)
	parallelism := e.params.Parallelism
	if parallelism <= 0 {
		parallelism = runtime.NumCPU()
	}
	if parallelism > n {
		parallelism = n
	}

	var g errgroup.Group
	chunk := (n + parallelism - 1) / parallelism
	for start := 0; start < n; start += chunk {
		start := start
		end := start + chunk
		if end > n {
			end = n
		}
		g.Go(func() error {
			for i := start; i < end; i++ {
				v := &View{a: a, i: i, startRoot: startRoot, endRoot: endRoot}
				for gi := range e.gates {
					gt := &e.gates[gi]
					if !gt.when(v) {
						continue
					}
					if err := gt.check(v); err != nil {
						if debug.Debug {
							err = fmt.Errorf("%w\n%s", err, debug.Stack())
						}
						return &Violation{Gate: gt.name, Row: i, Err: err}
					}
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	e.log.Debug().Int("rows", n).Msg("trace verified")
	return nil
}

// helpers shared by gate checks

func elem(v uint64) fr.Element {
	var e fr.Element
	e.SetUint64(v)
	return e
}

func byteElem(b byte) fr.Element { return elem(uint64(b)) }

// expectEq returns a violation error when got != want.
func expectEq(what string, got, want fr.Element) error {
	if !got.Equal(&want) {
		return fmt.Errorf("%s: got %s, want %s", what, got.String(), want.String())
	}
	return nil
}

// expectBool returns a violation error unless x is 0 or 1.
func expectBool(what string, x fr.Element) error {
	if !x.IsZero() {
		var one fr.Element
		one.SetOne()
		if !x.Equal(&one) {
			return fmt.Errorf("%s: %s is not boolean", what, x.String())
		}
	}
	return nil
}

// expectZero returns a violation error when x != 0.
func expectZero(what string, x fr.Element) error {
	if !x.IsZero() {
		return fmt.Errorf("%s: got %s, want 0", what, x.String())
	}
	return nil
}
