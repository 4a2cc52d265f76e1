package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-isatty"

	"medscribe/internal/api"
	"medscribe/internal/jobs"
	"medscribe/internal/progress"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const labelWidth = 14

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func statusColor(status string) string {
	switch jobs.Status(status) {
	case jobs.StatusSucceeded:
		return ansiGreen
	case jobs.StatusFailed:
		return ansiRed
	case jobs.StatusCancelled:
		return ansiYellow
	default:
		return ansiBlue
	}
}

func paint(value, color string, colorize bool) string {
	if !colorize || color == "" {
		return value
	}
	return color + value + ansiReset
}

func field(b *strings.Builder, label, value string) {
	fmt.Fprintf(b, "  %-*s %s\n", labelWidth, label+":", value)
}

func renderJob(job api.Job, colorize bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Job %s\n", job.ID)
	field(&b, "Status", paint(job.Status, statusColor(job.Status), colorize))
	field(&b, "Progress", strconv.Itoa(job.ProgressPercent)+"%")
	input := job.Input.Kind
	if job.Input.Filename != "" {
		input += " (" + job.Input.Filename + ")"
	}
	field(&b, "Input", input)
	field(&b, "Model", job.Options.Model)
	field(&b, "Template", job.Options.Template)
	field(&b, "Diarization", yesNo(job.Options.Diarization))
	if job.Options.Language != "" {
		field(&b, "Language", job.Options.Language)
	}
	field(&b, "Submitter", job.Submitter)
	field(&b, "Created", formatWhen(job.CreatedAt))
	field(&b, "Updated", formatWhen(job.UpdatedAt))
	if job.Failure != nil {
		field(&b, "Failure", paint(fmt.Sprintf("%s in %s", job.Failure.Reason, job.Failure.Stage), ansiRed, colorize))
		if job.Failure.Message != "" {
			field(&b, "Message", job.Failure.Message)
		}
	}
	if len(job.History) > 0 {
		b.WriteString("  History:\n")
		for _, tr := range job.History {
			at := tr.At
			if t, ok := api.ParseTime(tr.At); ok {
				at = t.Local().Format(time.TimeOnly)
			}
			fmt.Fprintf(&b, "    %s  %-13s %3d%%\n", at, tr.Status, tr.ProgressPercent)
		}
	}
	return b.String()
}

func renderJobTable(list []api.Job) string {
	rows := make([][]string, 0, len(list))
	for _, job := range list {
		input := job.Input.Kind
		if job.Input.Filename != "" {
			input = job.Input.Filename
		}
		rows = append(rows, []string{
			job.ID,
			job.Status,
			strconv.Itoa(job.ProgressPercent) + "%",
			input,
			job.Submitter,
			formatWhen(job.UpdatedAt),
		})
	}
	return renderTable(
		[]string{"ID", "Status", "Progress", "Input", "Submitter", "Updated"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft, alignLeft},
	)
}

func renderEvent(ev progress.Event, colorize bool) string {
	line := fmt.Sprintf("%s  %-13s %3d%%",
		ev.Timestamp.Local().Format(time.TimeOnly),
		paint(string(ev.Status), statusColor(string(ev.Status)), colorize),
		ev.ProgressPercent,
	)
	if ev.Failure != nil {
		line += fmt.Sprintf("  %s: %s", ev.Failure.Reason, ev.Failure.Message)
	}
	return line
}

func renderHealth(health api.Health, colorize bool) string {
	var b strings.Builder
	status := health.Status
	color := ansiGreen
	if status != api.HealthOK {
		color = ansiRed
	}
	fmt.Fprintf(&b, "Daemon %s\n", paint(status, color, colorize))
	check := func(name string, ready bool, detail string) {
		label := "OK"
		c := ansiGreen
		if !ready {
			label, c = "FAIL", ansiRed
		}
		value := paint("["+label+"]", c, colorize)
		if detail != "" {
			value += " " + detail
		}
		field(&b, name, value)
	}
	check("Job store", health.Store.Ready, health.Store.Detail)
	check("Artifacts", health.Artifacts.Ready, health.Artifacts.Detail)
	for _, st := range health.Stages {
		check(st.Name, st.Ready || !st.Required, st.Detail)
	}
	for _, res := range health.Checks {
		check(res.Name, res.Passed || res.Optional, res.Detail)
	}
	for _, dep := range health.Dependencies {
		check(dep.Name, dep.Available || dep.Optional, dep.Detail)
	}
	fmt.Fprintf(&b, "  %-*s depth %d, in flight %d, subscribers %d\n", labelWidth, "Queue:",
		health.Queue.Depth, health.Queue.InFlight, health.Queue.Subscribers)
	if health.LastError != "" {
		field(&b, "Last error", health.LastError)
	}
	return b.String()
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
