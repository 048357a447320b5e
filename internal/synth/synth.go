// Package synth turns a sweep subject into a launch command by prompting
// the completion service, feeding failure evidence back on retries.
package synth

import (
	"context"
	"fmt"
	"strings"
)

// systemPrompt fixes the completion service's role. The contract is one
// executable command and nothing else; a response that breaks it is used
// verbatim and fails classification downstream rather than being repaired
// here.
const systemPrompt = `You are an expert in deploying LLM models using Docker on GPU servers.
Generate a docker command to serve the given model. The command should:
- Use an appropriate container image for the model type
- Configure proper GPU settings
- Expose the serving port
- Set up model serving correctly

Return ONLY the docker command, no explanations.`

// Completer is the slice of the completion client the synthesizer needs.
type Completer interface {
	CompleteWithRetry(ctx context.Context, system, user string) (string, error)
}

// Synthesizer produces launch commands for sweep subjects.
type Synthesizer struct {
	completer Completer
}

// New creates a Synthesizer backed by the given completion client. The
// client is constructed once at run start and injected here; the package
// holds no service state of its own.
func New(c Completer) *Synthesizer {
	return &Synthesizer{completer: c}
}

// Generate requests a launch command for subjectID. attempt is zero-based;
// on attempt > 0 the prior failure's log excerpt is embedded so the service
// can produce a corrected command. The response is used verbatim after a
// whitespace trim.
func (s *Synthesizer) Generate(ctx context.Context, subjectID string, attempt int, feedback string) (string, error) {
	user := buildUserPrompt(subjectID, attempt, feedback)

	out, err := s.completer.CompleteWithRetry(ctx, systemPrompt, user)
	if err != nil {
		return "", fmt.Errorf("synthesizing command for %s: %w", subjectID, err)
	}

	cmd := strings.TrimSpace(out)
	if cmd == "" {
		return "", fmt.Errorf("synthesizing command for %s: empty completion", subjectID)
	}
	return cmd, nil
}

// buildUserPrompt assembles the per-attempt request text.
func buildUserPrompt(subjectID string, attempt int, feedback string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Model: %s\n", subjectID)

	if attempt > 0 {
		fmt.Fprintf(&b, "\nPREVIOUS ATTEMPT FAILED. This is retry #%d.\n", attempt)
		if feedback != "" {
			fmt.Fprintf(&b, "\nPrevious attempt's log:\n%s\n", feedback)
		}
		b.WriteString("\nGenerate a DIFFERENT command that addresses the issues above.\n")
	}

	b.WriteString("\nGenerate the docker serving command:")
	return b.String()
}
