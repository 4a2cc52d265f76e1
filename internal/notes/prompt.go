package notes

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// Template variants.
const (
	TemplateSOAP    = "soap"
	TemplateSOAPCoT = "soap_cot"
)

// Templates lists the supported template variants.
func Templates() []string {
	return []string{TemplateSOAP, TemplateSOAPCoT}
}

const systemPrompt = `You are an experienced medical scribe. You write accurate, professional SOAP notes from recorded clinical encounters.

Rules:
- Never invent information that is not in the transcript.
- Respect speaker labels. What the patient reports belongs in SUBJECTIVE; what the clinician observes or measures belongs in OBJECTIVE.
- Vital signs and lab values belong in OBJECTIVE only.
- If a section has no supporting information, write "Not documented in this encounter".
- Include diagnosis codes only when you are certain of them.`

const soapPrompt = `Write a SOAP note for the following consultation transcript.

Transcript:
%s

Use exactly these section headings: SUBJECTIVE, OBJECTIVE, ASSESSMENT, PLAN.`

const soapCoTPrompt = `Write a SOAP note for the following consultation transcript.

Transcript:
%s

Work through these steps before writing:
1. Identify the chief complaint and list every clinical fact, noting who stated it.
2. Assign each fact to SUBJECTIVE, OBJECTIVE, ASSESSMENT or PLAN.
3. Check that measurements sit in OBJECTIVE and that the assessment is supported by the findings.

Then output only the final note using exactly these section headings: SUBJECTIVE, OBJECTIVE, ASSESSMENT, PLAN.`

// BuildPrompts returns the system and user prompts for a transcript.
func BuildPrompts(template, lang, transcript string) (string, string, error) {
	var body string
	switch strings.TrimSpace(template) {
	case TemplateSOAP, "":
		body = fmt.Sprintf(soapPrompt, strings.TrimSpace(transcript))
	case TemplateSOAPCoT:
		body = fmt.Sprintf(soapCoTPrompt, strings.TrimSpace(transcript))
	default:
		return "", "", fmt.Errorf("unknown note template %q", template)
	}
	if name := LanguageName(lang); name != "" {
		body += fmt.Sprintf("\n\nWrite the entire note in %s.", name)
	}
	return systemPrompt, body, nil
}

// LanguageName returns the English display name for a BCP-47 tag, or "" when
// lang is empty or unparseable.
func LanguageName(lang string) string {
	lang = strings.TrimSpace(lang)
	if lang == "" {
		return ""
	}
	tag, err := language.Parse(lang)
	if err != nil {
		return ""
	}
	return display.English.Tags().Name(tag)
}
