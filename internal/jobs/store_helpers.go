package jobs

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const jobColumns = "id, status, input_json, options_json, stage_outputs_json, failure_json, submitter, progress_percent, version, history_json, created_at, updated_at"

// timeLayout is fixed width so lexical ordering matches chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	if t, err := time.Parse(timeLayout, raw); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC()
	}
	return time.Time{}
}

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id         string
		statusStr  string
		inputRaw   string
		optionsRaw string
		outputsRaw sql.NullString
		failureRaw sql.NullString
		submitter  sql.NullString
		progress   sql.NullInt64
		version    int64
		historyRaw sql.NullString
		createdRaw string
		updatedRaw string
	)
	if err := scanner.Scan(
		&id,
		&statusStr,
		&inputRaw,
		&optionsRaw,
		&outputsRaw,
		&failureRaw,
		&submitter,
		&progress,
		&version,
		&historyRaw,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:              id,
		Status:          Status(statusStr),
		Submitter:       submitter.String,
		ProgressPercent: int(progress.Int64),
		Version:         version,
		CreatedAt:       parseTime(createdRaw),
		UpdatedAt:       parseTime(updatedRaw),
		StageOutputs:    map[string]string{},
	}
	if err := json.Unmarshal([]byte(inputRaw), &job.Input); err != nil {
		return nil, fmt.Errorf("decode input for job %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(optionsRaw), &job.Options); err != nil {
		return nil, fmt.Errorf("decode options for job %s: %w", id, err)
	}
	if outputsRaw.Valid && outputsRaw.String != "" {
		if err := json.Unmarshal([]byte(outputsRaw.String), &job.StageOutputs); err != nil {
			return nil, fmt.Errorf("decode stage outputs for job %s: %w", id, err)
		}
	}
	if failureRaw.Valid && failureRaw.String != "" {
		var failure Failure
		if err := json.Unmarshal([]byte(failureRaw.String), &failure); err != nil {
			return nil, fmt.Errorf("decode failure for job %s: %w", id, err)
		}
		job.Failure = &failure
	}
	if historyRaw.Valid && historyRaw.String != "" {
		if err := json.Unmarshal([]byte(historyRaw.String), &job.History); err != nil {
			return nil, fmt.Errorf("decode history for job %s: %w", id, err)
		}
	}
	return job, nil
}

// encodedJob holds the serialized column values for a job row.
type encodedJob struct {
	input   string
	options string
	outputs string
	failure sql.NullString
	history string
}

func encodeJob(job *Job) (encodedJob, error) {
	var enc encodedJob
	input, err := json.Marshal(job.Input)
	if err != nil {
		return enc, fmt.Errorf("encode input: %w", err)
	}
	options, err := json.Marshal(job.Options)
	if err != nil {
		return enc, fmt.Errorf("encode options: %w", err)
	}
	outputs := job.StageOutputs
	if outputs == nil {
		outputs = map[string]string{}
	}
	outputsRaw, err := json.Marshal(outputs)
	if err != nil {
		return enc, fmt.Errorf("encode stage outputs: %w", err)
	}
	history := job.History
	if history == nil {
		history = []Transition{}
	}
	historyRaw, err := json.Marshal(history)
	if err != nil {
		return enc, fmt.Errorf("encode history: %w", err)
	}
	enc = encodedJob{
		input:   string(input),
		options: string(options),
		outputs: string(outputsRaw),
		history: string(historyRaw),
	}
	if job.Failure != nil {
		failure, err := json.Marshal(job.Failure)
		if err != nil {
			return enc, fmt.Errorf("encode failure: %w", err)
		}
		enc.failure = sql.NullString{String: string(failure), Valid: true}
	}
	return enc, nil
}

func makePlaceholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func terminalStatusArgs() []any {
	return []any{string(StatusSucceeded), string(StatusFailed), string(StatusCancelled)}
}
