// Package notes implements the note synthesis stage executor.
//
// The executor turns the transcript produced by the earlier stages into a
// structured SOAP note by prompting an OpenAI-compatible chat model. Two
// template variants exist: "soap" asks for the note directly and "soap_cot"
// asks the model to reason through fact extraction and section placement
// before writing it. An optional BCP-47 language selects the note language.
package notes
