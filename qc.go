/*
Copyright © 2021 the windprof authors.
This file is part of windprof.

windprof is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

windprof is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with windprof.  If not, see <http://www.gnu.org/licenses/>.
*/

package windprof

import (
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/Knetic/govaluate"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
)

// QCConfig holds the tunable bounds of the quality checks. All bounds
// only ever tighten flags (good to suspect, or any to missing), so the
// checks commute: reordering them changes which check gets credited
// with a flag, never the flag itself.
type QCConfig struct {
	// SNRThreshold marks samples whose beam-minimum signal-to-noise
	// ratio falls below it as suspect. dB.
	SNRThreshold float64
	// MaxHorizontalSpeed and MaxVerticalSpeed mark samples whose
	// derived horizontal speed or vertical component magnitude exceed
	// them as suspect. m/s.
	MaxHorizontalSpeed float64
	MaxVerticalSpeed   float64
	// Check lists additional site-specific checks as boolean
	// expressions over the per-sample variables height, u, v, w,
	// speed, direction, snr_min and width_min, with the functions
	// abs, min and max available. A sample for which an expression
	// is true is marked suspect.
	Check []ExprCheck
}

// ExprCheck is one configured expression check.
type ExprCheck struct {
	Name string
	Expr string
}

// DefaultQCConfig returns the quality-control bounds used when no
// configuration file is given.
func DefaultQCConfig() QCConfig {
	return QCConfig{
		SNRThreshold:       -20,
		MaxHorizontalSpeed: 75,
		MaxVerticalSpeed:   10,
	}
}

// LoadQCConfig reads a TOML quality-control configuration from r.
// Fields not present keep their default values.
func LoadQCConfig(r io.Reader) (QCConfig, error) {
	cfg := DefaultQCConfig()
	if _, err := toml.DecodeReader(r, &cfg); err != nil {
		return QCConfig{}, fmt.Errorf("windprof: decoding quality-control configuration: %v", err)
	}
	return cfg, nil
}

// ReadQCConfig reads a TOML quality-control configuration from the
// named file.
func ReadQCConfig(path string) (QCConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return QCConfig{}, fmt.Errorf("windprof: opening quality-control configuration: %v", err)
	}
	defer f.Close()
	return LoadQCConfig(f)
}

// exprFunctions are the functions available to configured expression
// checks.
var exprFunctions = map[string]govaluate.ExpressionFunction{
	"abs": func(args ...interface{}) (interface{}, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("abs: want 1 argument, got %d", len(args))
		}
		v, ok := args[0].(float64)
		if !ok {
			return nil, fmt.Errorf("abs: want a number, got %v", args[0])
		}
		return math.Abs(v), nil
	},
	"min": func(args ...interface{}) (interface{}, error) {
		return foldFloats("min", math.Min, args)
	},
	"max": func(args ...interface{}) (interface{}, error) {
		return foldFloats("max", math.Max, args)
	},
}

func foldFloats(name string, f func(a, b float64) float64, args []interface{}) (interface{}, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%s: want at least 1 argument", name)
	}
	out, ok := args[0].(float64)
	if !ok {
		return nil, fmt.Errorf("%s: want numbers, got %v", name, args[0])
	}
	for _, a := range args[1:] {
		v, ok := a.(float64)
		if !ok {
			return nil, fmt.Errorf("%s: want numbers, got %v", name, a)
		}
		out = f(out, v)
	}
	return out, nil
}

type compiledCheck struct {
	name string
	expr *govaluate.EvaluableExpression
}

// QCCounts report what a QC run did, per concern.
type QCCounts struct {
	Records     int // records examined
	BadGeometry int // records flagged missing: declared gate layout differed from the reference
	OutOfOrder  int // records rejected: timestamp did not advance within the file
	LowSNR      int // samples marked suspect by the SNR threshold
	Implausible int // samples marked suspect by the velocity bounds
	Expression  int // samples marked suspect by configured expression checks
	ExprErrors  int // expression evaluations that failed
}

// A QC applies the quality checks to decoded records in a fixed order:
// gate-layout consistency against the reference geometry (whole record
// missing), temporal monotonicity within each file (whole record
// rejected), the SNR threshold, the velocity bounds, and the configured
// expression checks (each sample-level and tightening to suspect).
// Applying a QC to the same records twice leaves the flags unchanged.
type QC struct {
	Config    QCConfig
	Reference Geometry
	Log       logrus.FieldLogger

	Counts QCCounts

	checks []compiledCheck
}

// NewQC compiles cfg's expression checks and returns a QC that judges
// records against the reference gate geometry ref. Expressions with
// unknown variables, non-boolean results, or syntax errors are caught
// here, not during the run.
func NewQC(cfg QCConfig, ref Geometry) (*QC, error) {
	q := &QC{Config: cfg, Reference: ref, Log: logrus.StandardLogger()}
	probe := sampleParams(&GateSample{})
	for _, c := range cfg.Check {
		expr, err := govaluate.NewEvaluableExpressionWithFunctions(c.Expr, exprFunctions)
		if err != nil {
			return nil, fmt.Errorf("windprof: compiling quality check %q: %v", c.Name, err)
		}
		for _, v := range expr.Vars() {
			if _, ok := probe[v]; !ok {
				return nil, fmt.Errorf("windprof: quality check %q uses unknown variable %q", c.Name, v)
			}
		}
		result, err := expr.Evaluate(probe)
		if err != nil {
			return nil, fmt.Errorf("windprof: evaluating quality check %q: %v", c.Name, err)
		}
		if _, ok := result.(bool); !ok {
			return nil, fmt.Errorf("windprof: quality check %q is not a boolean expression (result %v)", c.Name, result)
		}
		q.checks = append(q.checks, compiledCheck{name: c.Name, expr: expr})
	}
	return q, nil
}

// File applies the checks to every record of rf, tightening sample
// flags in place. No record is ever removed.
func (q *QC) File(rf *RawFile) {
	var prev time.Time
	for _, rec := range rf.Records {
		q.Counts.Records++
		if !rec.Geometry().Equal(q.Reference) {
			markRecord(rec, FlagMissing)
			q.Counts.BadGeometry++
		}
		if !prev.IsZero() && !rec.Time.After(prev) {
			// The reference time only advances past records that kept
			// order, so one record with a broken clock does not reject
			// its successors.
			markRecord(rec, FlagMissing)
			q.Counts.OutOfOrder++
		} else {
			prev = rec.Time
		}
		for i := range rec.Gates {
			q.sample(&rec.Gates[i])
		}
	}
}

func (q *QC) sample(s *GateSample) {
	if s.SNRMin < q.Config.SNRThreshold {
		if s.WindFlag == FlagGood {
			q.Counts.LowSNR++
		}
		s.WindFlag = s.WindFlag.tighten(FlagSuspect)
	}
	if s.Speed > q.Config.MaxHorizontalSpeed || math.Abs(s.W) > q.Config.MaxVerticalSpeed {
		if s.WindFlag == FlagGood {
			q.Counts.Implausible++
		}
		s.WindFlag = s.WindFlag.tighten(FlagSuspect)
	}
	if len(q.checks) == 0 {
		return
	}
	params := sampleParams(s)
	for _, c := range q.checks {
		result, err := c.expr.Evaluate(params)
		if err != nil {
			q.Counts.ExprErrors++
			q.Log.WithFields(logrus.Fields{"check": c.name, "error": err}).
				Debug("quality check evaluation failed")
			continue
		}
		if hit, ok := result.(bool); ok && hit {
			if s.WindFlag == FlagGood {
				q.Counts.Expression++
			}
			s.WindFlag = s.WindFlag.tighten(FlagSuspect)
		}
	}
}

// sampleParams is the expression-check variable vocabulary.
func sampleParams(s *GateSample) map[string]interface{} {
	return map[string]interface{}{
		"height":    s.Height,
		"u":         s.U,
		"v":         s.V,
		"w":         s.W,
		"speed":     s.Speed,
		"direction": s.Direction,
		"snr_min":   s.SNRMin,
		"width_min": widthMin(s),
	}
}

func widthMin(s *GateSample) float64 {
	if math.IsNaN(s.Width[0]) || math.IsNaN(s.Width[1]) || math.IsNaN(s.Width[2]) {
		return math.NaN()
	}
	return floats.Min(s.Width[:])
}

// markRecord tightens every flag of every sample in rec to f.
func markRecord(rec *Record, f Flag) {
	for i := range rec.Gates {
		s := &rec.Gates[i]
		s.WindFlag = s.WindFlag.tighten(f)
		for b := range s.BeamFlag {
			s.BeamFlag[b] = s.BeamFlag[b].tighten(f)
		}
	}
}
