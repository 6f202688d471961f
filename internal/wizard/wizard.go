// Package wizard collects project settings interactively for `perfgate init`.
package wizard

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"

	"github.com/toolify/perfgate/internal/config"
)

// RunProjectWizard runs an interactive huh form and returns the collected
// project configuration, starting from defaults.
func RunProjectWizard(in io.Reader, out io.Writer) (*config.Project, error) {
	project := config.New()

	var (
		subjectBin   = project.Paths.SubjectBin
		upstreamBin  = project.Paths.UpstreamBin
		wrkBin       = project.Paths.WrkBin
		subjectPort  = strconv.Itoa(project.Ports.Subject)
		upstreamPort = strconv.Itoa(project.Ports.Upstream)
		threads      = strconv.Itoa(project.Load.Threads)
		connections  = strconv.Itoa(project.Load.Connections)
	)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Subject binary").
				Description("The proxy binary the gate measures").
				Value(&subjectBin).
				Validate(required("subject binary")),
			huh.NewInput().
				Title("Upstream simulator binary").
				Value(&upstreamBin).
				Validate(required("upstream binary")),
			huh.NewInput().
				Title("wrk binary").
				Description("Path or name of the wrk load generator").
				Value(&wrkBin).
				Validate(required("wrk binary")),
			huh.NewInput().
				Title("Subject port").
				Value(&subjectPort).
				Validate(validPort),
			huh.NewInput().
				Title("Upstream port").
				Value(&upstreamPort).
				Validate(validPort),
			huh.NewInput().
				Title("wrk threads").
				Value(&threads).
				Validate(positiveInt("threads")),
			huh.NewInput().
				Title("wrk connections").
				Value(&connections).
				Validate(positiveInt("connections")),
		),
	).
		WithInput(in).
		WithOutput(out)

	// Use accessible mode for non-TTY input (e.g., tests, piped input).
	if f, ok := in.(*os.File); !ok || !term.IsTerminal(int(f.Fd())) {
		form = form.WithAccessible(true)
	}

	if err := form.Run(); err != nil {
		return nil, fmt.Errorf("wizard failed: %w", err)
	}

	project.Paths.SubjectBin = strings.TrimSpace(subjectBin)
	project.Paths.UpstreamBin = strings.TrimSpace(upstreamBin)
	project.Paths.WrkBin = strings.TrimSpace(wrkBin)
	project.Ports.Subject, _ = strconv.Atoi(strings.TrimSpace(subjectPort))
	project.Ports.Upstream, _ = strconv.Atoi(strings.TrimSpace(upstreamPort))
	project.Load.Threads, _ = strconv.Atoi(strings.TrimSpace(threads))
	project.Load.Connections, _ = strconv.Atoi(strings.TrimSpace(connections))

	return project, nil
}

func required(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", field)
		}
		return nil
	}
}

func validPort(s string) error {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 || n > 65535 {
		return fmt.Errorf("port must be a number between 1 and 65535")
	}
	return nil
}

func positiveInt(field string) func(string) error {
	return func(s string) error {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil || n < 1 {
			return fmt.Errorf("%s must be a positive number", field)
		}
		return nil
	}
}
