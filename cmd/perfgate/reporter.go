package main

import (
	"fmt"
	"io"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/toolify/perfgate/internal/config"
	"github.com/toolify/perfgate/internal/gate"
	"github.com/toolify/perfgate/internal/orchestration"
)

// consolePrinter groups digits in large numbers for readability.
var consolePrinter = message.NewPrinter(language.English)

// printOutcome writes the end-of-invocation console summary. The durable
// detail lives in the report files; this is the at-a-glance version.
func printOutcome(w io.Writer, env *config.Env, outcome *orchestration.Outcome) {
	fmt.Fprintf(w, "\n=== perfgate summary (invocation %s) ===\n", outcome.InvocationID)

	printGate(w, orchestration.LabelPinned, outcome.Pinned, outcome.PinnedReport, true)
	printGate(w, orchestration.LabelUnpinned, outcome.Unpinned, outcome.UnpinnedReport, false)

	fmt.Fprintf(w, "\nreports: %s\n", env.OutputDir)
	if outcome.Pass {
		fmt.Fprintln(w, "VERDICT: PASS")
	} else {
		fmt.Fprintln(w, "VERDICT: FAIL")
	}
}

func printGate(w io.Writer, label string, verdict *gate.Verdict, reportPath string, authoritative bool) {
	if verdict == nil {
		fmt.Fprintf(w, "\n%s gate: skipped\n", label)
		return
	}

	marker := ""
	if authoritative {
		marker = " (authoritative)"
	}
	status := "FAIL"
	if verdict.Pass {
		status = "PASS"
	}
	fmt.Fprintf(w, "\n%s gate%s: %s\n", label, marker, status)

	for _, sv := range verdict.Scenarios {
		icon := "ok"
		if !sv.Pass {
			icon = "FAIL"
		}
		consolePrinter.Fprintf(w, "  %-22s %s  rps %.0f (base %.0f)  p99 %.0fus (base %.0fus)  rounds %d/%d\n",
			sv.Scenario, icon, sv.MedianRPS, sv.Baseline.RPS,
			sv.MedianP99Micros, sv.Baseline.P99Micros,
			sv.PassRounds, sv.RoundsExecuted)
	}
	fmt.Fprintf(w, "  report: %s\n", reportPath)
}
