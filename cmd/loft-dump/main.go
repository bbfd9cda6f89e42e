package main

import (
	"fmt"
	"os"

	"github.com/loftlang/loft"
	"github.com/loftlang/loft/schedule"
	"github.com/mattn/go-isatty"
	"github.com/mattn/go-runewidth"
)

var useColor = isatty.IsTerminal(os.Stdout.Fd())

func main() {
	unit := schedule.NewUnit(schedule.Options{LogLevel: "info"})

	// A tiled pointwise stage.
	grad, err := unit.Define("grad", []string{"x", "y"}, loft.Add(loft.V("x"), loft.V("y")))
	check(err)
	check(grad.Stage().Tile(
		schedule.V("x"), schedule.V("y"),
		schedule.V("xo"), schedule.V("yo"),
		schedule.V("xi"), schedule.V("yi"),
		loft.I(8), loft.I(8)))
	check(grad.Stage().Parallel(schedule.V("yo")))
	check(grad.Stage().Vectorize(schedule.V("xi")))

	// A histogram-style reduction, factored into parallel partials.
	hist, err := unit.Define("hist", []string{"x"}, loft.I(0))
	check(err)
	stage, err := hist.AddUpdate(
		schedule.NewRDom(schedule.RVarRange("r", 0, 256)),
		[]loft.Expr{loft.V("x")},
		loft.Add(loft.StageCall("hist", loft.V("x")), loft.ExternCall("weight", loft.V("r"))))
	check(err)
	check(stage.Split(schedule.R("r"), schedule.R("ro"), schedule.R("ri"), loft.I(16)))
	intm, err := stage.RFactor(schedule.RFactorPair{RVar: "ro", Var: "u"})
	check(err)
	check(intm.UpdateStage(0).Parallel(schedule.V("u")))

	for _, f := range []*schedule.Func{grad, hist, intm} {
		printFunc(unit, f)
	}
}

func printFunc(unit *schedule.Unit, f *schedule.Func) {
	fmt.Printf("\n=== %s ===\n", colorize(f.Name(), "1;36"))
	fmt.Printf("fingerprint: %s\n", unit.Fingerprint(f)[:16])

	stages := []*schedule.Stage{f.Stage()}
	for i := 0; i < f.NumUpdates(); i++ {
		stages = append(stages, f.UpdateStage(i))
	}
	for _, s := range stages {
		fmt.Printf("\n%s\n", colorize(s.Name(), "1"))
		printDims(s.Dims())
		for _, sp := range s.Splits() {
			fmt.Printf("  %s\n", sp)
		}
	}

	doc, err := unit.DumpSchedule(f)
	check(err)
	fmt.Println(colorize("--- schedule ---", "2"))
	fmt.Print(doc)
}

func printDims(dims []schedule.Dim) {
	rows := [][3]string{{"var", "kind", "for"}}
	for _, d := range dims {
		rows = append(rows, [3]string{d.Var, d.Kind.String(), d.ForType.String()})
	}
	var widths [3]int
	for _, r := range rows {
		for c, cell := range r {
			if w := runewidth.StringWidth(cell); w > widths[c] {
				widths[c] = w
			}
		}
	}
	for i, r := range rows {
		line := "  "
		for c, cell := range r {
			line += runewidth.FillRight(cell, widths[c]+2)
		}
		if i == 0 {
			line = colorize(line, "4")
		}
		fmt.Println(line)
	}
}

func colorize(s, code string) string {
	if !useColor {
		return s
	}
	return "\x1b[" + code + "m" + s + "\x1b[0m"
}

func check(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "loft-dump: %v\n", err)
		os.Exit(1)
	}
}
