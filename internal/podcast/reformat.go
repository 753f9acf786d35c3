// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package podcast

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/ManuGH/papercast/internal/llm"
	"github.com/ManuGH/papercast/internal/log"
)

const (
	reformatMinChars   = 500
	reformatChunkLimit = 15000
	reformatTemp       = 0.3
)

// Reformatter rewrites raw transcripts into readable prose via the text
// model. It degrades to identity: a model problem returns the input
// unchanged, because losing a transcript to a down LLM is never acceptable.
type Reformatter struct {
	client *llm.Client
	model  string
	logger zerolog.Logger
}

func NewReformatter(client *llm.Client, model string) *Reformatter {
	return &Reformatter{
		client: client,
		model:  model,
		logger: log.WithComponent("podcast"),
	}
}

// Reformat cleans transcript text chunk by chunk. hints are proper nouns
// (podcast, episode, sponsor brands) the model should spell exactly. Very
// short transcripts pass through untouched.
func (r *Reformatter) Reformat(ctx context.Context, text string, hints []string) string {
	if len(text) < reformatMinChars {
		return text
	}
	// No text model configured: identity, same as a per-chunk failure.
	if r.client == nil {
		return text
	}
	chunks := splitChunks(text, reformatChunkLimit)
	out := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		cleaned, err := r.client.Chat(ctx, r.model, []llm.Message{
			{Role: "user", Content: reformatPrompt(chunk, hints)},
		}, &llm.Options{Temperature: reformatTemp})
		if err != nil || strings.TrimSpace(cleaned) == "" {
			r.logger.Warn().Err(err).Int("chunk", i).Msg("reformat chunk failed, keeping raw text")
			out = append(out, chunk)
			continue
		}
		out = append(out, strings.TrimSpace(cleaned))
	}
	return strings.Join(out, "\n\n")
}

func reformatPrompt(chunk string, hints []string) string {
	var b strings.Builder
	b.WriteString("Rewrite this podcast transcript excerpt into flowing paragraphs of 4-6 sentences. ")
	b.WriteString("Remove filler words (um, uh, you know) but keep every statement, including sponsor reads. ")
	b.WriteString("Do not summarize, do not add commentary, output only the rewritten text.")
	if len(hints) > 0 {
		b.WriteString(" Spell these names exactly as given: ")
		b.WriteString(strings.Join(hints, ", "))
		b.WriteString(".")
	}
	b.WriteString("\n\n")
	b.WriteString(chunk)
	return b.String()
}

// splitChunks cuts text into pieces the model context can hold, preferring
// paragraph boundaries and falling back to sentence boundaries.
func splitChunks(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}
	var chunks []string
	var current strings.Builder
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			chunks = append(chunks, s)
		}
		current.Reset()
	}
	for _, para := range strings.Split(text, "\n\n") {
		if len(para) > limit {
			for _, sentence := range splitSentences(para) {
				for len(sentence) > limit {
					flush()
					cut := runeSafeCut(sentence, limit)
					chunks = append(chunks, sentence[:cut])
					sentence = sentence[cut:]
				}
				if current.Len()+len(sentence)+1 > limit {
					flush()
				}
				if current.Len() > 0 {
					current.WriteByte(' ')
				}
				current.WriteString(sentence)
			}
			continue
		}
		if current.Len()+len(para)+2 > limit {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()
	return chunks
}

// splitSentences splits on sentence-ending punctuation followed by a space.
func splitSentences(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text); i++ {
		c := text[i]
		if (c == '.' || c == '!' || c == '?') && i+1 < len(text) && text[i+1] == ' ' {
			out = append(out, strings.TrimSpace(text[start:i+1]))
			start = i + 2
			i++
		}
	}
	if start < len(text) {
		if s := strings.TrimSpace(text[start:]); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func runeSafeCut(s string, limit int) int {
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	if cut == 0 {
		return limit
	}
	return cut
}
