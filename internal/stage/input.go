package stage

import (
	"fmt"

	"medscribe/internal/jobs"
)

// BuildInput reconstructs the executor input for stage name from a job
// record. Synthesis reads the speaker-labeled transcript when diarization ran
// and the plain transcript otherwise.
func BuildInput(job *jobs.Job, name Name) (Input, error) {
	in := Input{JobID: job.ID, Input: job.Input, Options: job.Options}
	switch name {
	case Transcription:
		return in, nil
	case Diarization:
		prior, ok := job.Output(string(Transcription))
		if !ok {
			return in, fmt.Errorf("job %s: diarization requires a transcript", job.ID)
		}
		in.Prior = prior
		return in, nil
	case Synthesis:
		if prior, ok := job.Output(string(Diarization)); ok {
			in.Prior = prior
			return in, nil
		}
		prior, ok := job.Output(string(Transcription))
		if !ok {
			return in, fmt.Errorf("job %s: synthesis requires a transcript", job.ID)
		}
		in.Prior = prior
		return in, nil
	default:
		return in, fmt.Errorf("unknown stage %q", name)
	}
}
