// Package honeypot implements the Honeypot Classifier (C3): a pure decision
// function from a probe result to a verdict. It holds no state and performs
// no I/O.
package honeypot

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/Strob0t/CodeForge/internal/domain/verification"
)

var (
	wordLikePattern = regexp.MustCompile(`[A-Za-z]{2,}`)
	stopWords       = map[string]bool{
		"the": true, "a": true, "and": true, "is": true, "to": true,
		"in": true, "it": true, "you": true, "that": true, "of": true,
	}
	deepseekR1Pattern = regexp.MustCompile(`(?i)deepseek|r1`)
)

const (
	minEnglishRatio       = 0.5
	stopWordMinLen        = 20
	deepseekSignatureRatio = 0.8
	implausibleTPS         = 1000.0
	sizeUniformityMinCount = 3
	systemPromptMaxWords   = 25
)

// Classify applies the five ordered heuristic rules of §4.3 to a probe
// result and returns a verdict. Any panic inside rules 2–5 is recovered and
// treated as "no evidence" — it never promotes to Honeypot on its own.
func Classify(result verification.ProbeResult) verification.Classification {
	if c, fired := checkPlausibility(result); fired {
		return c
	}

	if c, fired := safeRule(checkModelSetSignature, result); fired {
		return c
	}
	if c, fired := safeRule(checkTimingPlausibility, result); fired {
		return c
	}
	if c, fired := safeRule(checkSizeUniformity, result); fired {
		return c
	}
	if c, fired := safeRule(checkSystemPromptAdherence, result); fired {
		return c
	}

	return verification.Classification{Verdict: verification.VerdictValid}
}

// safeRule runs a classifier rule, recovering any panic and logging it as
// unevaluated evidence rather than letting it promote to Honeypot.
func safeRule(
	rule func(verification.ProbeResult) (verification.Classification, bool),
	result verification.ProbeResult,
) (c verification.Classification, fired bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("honeypot rule panicked, treating as no evidence", "recovered", r)
			c, fired = verification.Classification{}, false
		}
	}()
	return rule(result)
}

// checkPlausibility is rule 1. It is not wrapped in safeRule: its failure
// mode is the baseline Invalid verdict, not a Honeypot promotion, so a
// panic here should surface rather than be silently treated as "passed".
func checkPlausibility(result verification.ProbeResult) (verification.Classification, bool) {
	text := result.GenerateBody
	tokens := strings.Fields(text)

	if len(tokens) == 0 {
		return verification.Classification{Verdict: verification.VerdictInvalid, Reason: "Nonsensical: empty response"}, true
	}

	wordLike := 0
	for _, tok := range tokens {
		if wordLikePattern.MatchString(tok) {
			wordLike++
		}
	}
	ratio := float64(wordLike) / float64(len(tokens))
	if ratio < minEnglishRatio {
		return verification.Classification{Verdict: verification.VerdictInvalid, Reason: "Nonsensical: low English-token ratio"}, true
	}

	if len(text) > stopWordMinLen {
		hasStopWord := false
		for _, tok := range tokens {
			if stopWords[strings.ToLower(tok)] {
				hasStopWord = true
				break
			}
		}
		if !hasStopWord {
			return verification.Classification{Verdict: verification.VerdictInvalid, Reason: "Nonsensical: no recognizable stop-words"}, true
		}
	}

	return verification.Classification{}, false
}

func checkModelSetSignature(result verification.ProbeResult) (verification.Classification, bool) {
	if len(result.Tags) == 0 {
		return verification.Classification{}, false
	}
	matches := 0
	for _, t := range result.Tags {
		if deepseekR1Pattern.MatchString(t.Name) {
			matches++
		}
	}
	if float64(matches)/float64(len(result.Tags)) >= deepseekSignatureRatio {
		return verification.Classification{
			Verdict: verification.VerdictHoneypot,
			Reason:  "fake-ollama signature: DeepSeek/R1 model-set saturation",
		}, true
	}
	return verification.Classification{}, false
}

func checkTimingPlausibility(result verification.ProbeResult) (verification.Classification, bool) {
	m := result.Metrics
	if m.EvalDurationNanos <= 0 || m.EvalCount <= 0 {
		return verification.Classification{}, false
	}
	tps := float64(m.EvalCount) / (float64(m.EvalDurationNanos) / 1e9)
	if tps > implausibleTPS {
		return verification.Classification{
			Verdict: verification.VerdictHoneypot,
			Reason:  "implausible token rate",
		}, true
	}
	return verification.Classification{}, false
}

func checkSizeUniformity(result verification.ProbeResult) (verification.Classification, bool) {
	if len(result.Tags) <= sizeUniformityMinCount {
		return verification.Classification{}, false
	}
	first := result.Tags[0].Size
	if !result.Tags[0].HasSize {
		return verification.Classification{}, false
	}
	for _, t := range result.Tags[1:] {
		if !t.HasSize || t.Size != first {
			return verification.Classification{}, false
		}
	}
	return verification.Classification{
		Verdict: verification.VerdictHoneypot,
		Reason:  "size-uniformity signature",
	}, true
}

func checkSystemPromptAdherence(result verification.ProbeResult) (verification.Classification, bool) {
	if result.SystemGenerateBody == "" {
		return verification.Classification{}, false
	}
	if result.SystemGenerateWords > systemPromptMaxWords {
		return verification.Classification{
			Verdict: verification.VerdictHoneypot,
			Reason:  "ignores system prompt",
		}, true
	}
	return verification.Classification{}, false
}
