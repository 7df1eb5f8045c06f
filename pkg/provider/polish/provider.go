// Package polish defines the Provider interface for transcript polishing
// backends.
//
// A polishing provider turns raw speech-to-text output into a formatted
// markdown note in the requested output language, optionally following
// user-supplied instructions. Providers wrap a chat-completion capable LLM
// API; [BuildPrompt] produces the instruction text so that every backend asks
// for the same thing.
//
// Implementations must be safe for concurrent use and must report failures as
// [types.ServiceError] values. Given the same inputs a provider is not
// required to return the same output.
package polish

import (
	"context"
	"fmt"
)

// Request carries everything a polishing provider needs.
type Request struct {
	// RawTranscription is the text produced by the transcription stage.
	// Callers must guarantee it is non-empty and not a failure placeholder.
	RawTranscription string

	// TargetLanguage is the BCP-47 code of the desired output language.
	TargetLanguage string

	// CustomPrompt, when non-empty, replaces the default polishing
	// instructions for this request.
	CustomPrompt string
}

// Provider produces a polished markdown note from a raw transcription.
type Provider interface {
	// Polish runs the request and returns the polished note as markdown.
	// An empty string with a nil error is a valid result and means the
	// model produced nothing; the caller decides how to treat that.
	//
	// Errors are reported as [types.ServiceError]. Implementations must not
	// retry internally — retry policy belongs to the caller.
	Polish(ctx context.Context, req Request) (string, error)
}

// languageNames maps the BCP-47 codes offered by the editor to display names
// used inside the prompt. Unknown codes fall back to the code itself, which
// models handle fine.
var languageNames = map[string]string{
	"en":    "English",
	"es":    "Spanish (Español)",
	"fr":    "French (Français)",
	"de":    "German (Deutsch)",
	"it":    "Italian (Italiano)",
	"pt":    "Portuguese (Português)",
	"fa":    "Persian (فارسی)",
	"zh-CN": "Chinese (Simplified / 简体中文)",
	"ja":    "Japanese (日本語)",
	"ko":    "Korean (한국어)",
	"ru":    "Russian (Русский)",
	"ar":    "Arabic (العربية)",
	"hi":    "Hindi (हिन्दी)",
}

// LanguageName returns the display name for a BCP-47 code, falling back to
// the code itself when unknown.
func LanguageName(code string) string {
	if name, ok := languageNames[code]; ok {
		return name
	}
	return code
}

// BuildPrompt renders the polishing instruction text for req. The output
// contract is strict: the model must answer with nothing but the polished
// markdown note in the target language.
func BuildPrompt(req Request) string {
	lang := req.TargetLanguage
	if lang == "" {
		lang = "en"
	}
	name := LanguageName(lang)

	if req.CustomPrompt != "" {
		return fmt.Sprintf(`You are an expert note-taking assistant.
First, mentally translate the following raw audio transcription into %[1]s (%[2]s).
Then, take the %[1]s translation and apply the user-provided instructions below.
Your final output MUST ONLY be the polished note in %[1]s, formatted in markdown.
Do NOT include any introductory phrases, explanations, or any text other than the requested note itself.

User Instructions:
%[3]s

Raw transcription:
%[4]s`, name, lang, req.CustomPrompt, req.RawTranscription)
	}

	return fmt.Sprintf(`You are an expert note-taking assistant.
First, mentally translate the following raw audio transcription into %[1]s (%[2]s).
Then, take the %[1]s translation and perform the following:
- Create a polished, well-formatted note.
- Remove filler words (e.g., um, uh, like), unnecessary repetitions, and false starts.
- Correct grammar and improve sentence structure.
- Format the content logically using markdown (e.g., headings for topics, bullet/numbered lists for items).
- Ensure all original meaning and key information from the transcription are preserved.
Your final output MUST ONLY be the polished note in %[1]s, formatted in markdown.
Do NOT include any introductory phrases, explanations, or any text other than the requested note itself.

Raw transcription:
%[3]s`, name, lang, req.RawTranscription)
}
