package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"medscribe/internal/api"
	"medscribe/internal/apiclient"
	"medscribe/internal/progress"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var (
		textFile      string
		model         string
		template      string
		language      string
		noDiarization bool
		watch         bool
	)

	cmd := &cobra.Command{
		Use:   "submit [audio-file]",
		Short: "Submit a recording, or a transcript with --text",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (len(args) == 1) == (textFile != "") {
				return errors.New("provide exactly one of an audio file or --text")
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			opts := api.SubmitOptions{Model: model, Template: template, Language: language}
			if noDiarization {
				off := false
				opts.Diarization = &off
			}

			var job api.Job
			if textFile != "" {
				text, readErr := readText(cmd.InOrStdin(), textFile)
				if readErr != nil {
					return readErr
				}
				job, err = client.SubmitText(cmd.Context(), text, opts)
			} else {
				job, err = client.SubmitAudio(cmd.Context(), args[0], opts)
			}
			if err != nil {
				var apiErr *apiclient.Error
				if errors.As(err, &apiErr) && apiErr.JobID() != "" {
					return fmt.Errorf("job %s was created but could not be queued: %w", apiErr.JobID(), err)
				}
				return wrapDialError(err)
			}

			if ctx.jsonOutput() && !watch {
				return writeJSON(cmd, job)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Submitted job %s (%s)\n", job.ID, job.Status)
			if !watch {
				return nil
			}
			return watchJob(cmd, client, job.ID, ctx.jsonOutput())
		},
	}

	cmd.Flags().StringVar(&textFile, "text", "", "Transcript file to submit instead of audio (- for stdin)")
	cmd.Flags().StringVar(&model, "model", "", "Transcription model tier")
	cmd.Flags().StringVar(&template, "template", "", "Note template")
	cmd.Flags().StringVar(&language, "language", "", "Note language (BCP-47)")
	cmd.Flags().BoolVar(&noDiarization, "no-diarization", false, "Skip speaker diarization")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Stream progress until the job finishes")
	return cmd
}

func readText(stdin io.Reader, path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read transcript: %w", err)
	}
	return string(data), nil
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show a job's status and history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			job, err := client.Get(cmd.Context(), args[0])
			if err != nil {
				return wrapDialError(err)
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, job)
			}
			fmt.Fprint(cmd.OutOrStdout(), renderJob(job, shouldColorize(cmd.OutOrStdout())))
			return nil
		},
	}
}

func newListCommand(ctx *commandContext) *cobra.Command {
	var (
		statuses []string
		mine     bool
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			opts := apiclient.ListOptions{Statuses: statuses, Limit: limit}
			if mine {
				opts.Submitter = submitterName(ctx)
			}
			list, err := client.List(cmd.Context(), opts)
			if err != nil {
				return wrapDialError(err)
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, api.JobList{Jobs: list})
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No jobs")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderJobTable(list))
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Filter by status (repeatable)")
	cmd.Flags().BoolVar(&mine, "mine", false, "Only jobs submitted by --as / $USER")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum jobs to show")
	return cmd
}

func submitterName(ctx *commandContext) string {
	if name := strings.TrimSpace(ctx.flags.submitter); name != "" {
		return name
	}
	return os.Getenv("USER")
}

func newWatchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <job-id>",
		Short: "Stream a job's progress until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			return watchJob(cmd, client, args[0], ctx.jsonOutput())
		},
	}
}

func watchJob(cmd *cobra.Command, client *apiclient.Client, id string, asJSON bool) error {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)
	last, err := client.Watch(cmd.Context(), id, func(ev progress.Event) {
		if asJSON {
			_ = writeJSON(cmd, ev)
			return
		}
		fmt.Fprintln(out, renderEvent(ev, colorize))
	})
	if err != nil {
		return wrapDialError(err)
	}
	if last.Failure != nil {
		return fmt.Errorf("job %s failed in %s: %s", id, last.Failure.Stage, last.Failure.Reason)
	}
	return nil
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a job that has not finished",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			job, err := client.Cancel(cmd.Context(), args[0])
			if err != nil {
				return wrapDialError(err)
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, job)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job %s cancelled\n", job.ID)
			return nil
		},
	}
}

func newResultCommand(ctx *commandContext) *cobra.Command {
	var transcript bool

	cmd := &cobra.Command{
		Use:   "result <job-id>",
		Short: "Print the note of a succeeded job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			result, err := client.Result(cmd.Context(), args[0])
			if err != nil {
				return wrapDialError(err)
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, result)
			}
			out := cmd.OutOrStdout()
			if transcript {
				body := result.SpeakerTranscript
				if body == "" {
					body = result.Transcript
				}
				fmt.Fprintln(out, strings.TrimRight(body, "\n"))
				return nil
			}
			fmt.Fprintln(out, strings.TrimRight(result.Note, "\n"))
			return nil
		},
	}
	cmd.Flags().BoolVar(&transcript, "transcript", false, "Print the transcript instead of the note")
	return cmd
}

func newHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show daemon readiness",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			health, err := client.Health(cmd.Context())
			if err != nil {
				return wrapDialError(err)
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, health)
			}
			fmt.Fprint(cmd.OutOrStdout(), renderHealth(health, shouldColorize(cmd.OutOrStdout())))
			if health.Status != api.HealthOK {
				return fmt.Errorf("daemon is %s", health.Status)
			}
			return nil
		},
	}
}

func formatWhen(raw string) string {
	t, ok := api.ParseTime(raw)
	if !ok {
		return "-"
	}
	return humanize.Time(t)
}
