package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"grimoire/deduction"
)

const storytellerSystemPrompt = `You are the storyteller of a Blood on the Clocktower game, whispering to the players what the grimoire suggests. You are given per-player probabilities of being evil and of being the demon, computed from every world consistent with the public claims. Retell them as 3-4 sentences of atmospheric prose. Name the most suspicious players, never invent facts, and say plainly when nothing is known.`

// Storyteller narrates an analysis.
// onChunk is called with each text chunk as it streams in.
type Storyteller interface {
	Tell(ctx context.Context, facts []string, onChunk func(string)) (string, error)
}

// globalStoryteller is nil when no provider is configured (feature disabled).
var globalStoryteller Storyteller

const narrationFlush = 300 * time.Millisecond

type llmStoryteller struct {
	llm          llms.Model
	systemPrompt string
	callOpts     []llms.CallOption
}

func (s *llmStoryteller) Tell(ctx context.Context, facts []string, onChunk func(string)) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, s.systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman,
			"What the grimoire shows:\n"+strings.Join(facts, "\n")+
				"\n\nTell the table what this means."),
	}

	var fullText strings.Builder
	opts := append(s.callOpts, llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
		text := string(chunk)
		fullText.WriteString(text)
		if onChunk != nil {
			onChunk(text)
		}
		return nil
	}))

	_, err := s.llm.GenerateContent(ctx, messages, opts...)
	return strings.TrimSpace(fullText.String()), err
}

// buildCallOpts builds LLM call options from the config.
func buildCallOpts(cfg AppConfig) []llms.CallOption {
	var opts []llms.CallOption

	if cfg.StorytellerTemperature != "" {
		if f, err := strconv.ParseFloat(cfg.StorytellerTemperature, 64); err == nil {
			opts = append(opts, llms.WithTemperature(f))
			log.Printf("Storyteller: temperature=%.2f", f)
		} else {
			log.Printf("Storyteller: invalid temperature %q: %v", cfg.StorytellerTemperature, err)
		}
	}

	if cfg.StorytellerThinking != "" {
		mode := llms.ThinkingMode(cfg.StorytellerThinking)
		switch mode {
		case llms.ThinkingModeNone, llms.ThinkingModeLow, llms.ThinkingModeMedium, llms.ThinkingModeHigh, llms.ThinkingModeAuto:
			opts = append(opts, llms.WithThinkingMode(mode))
			log.Printf("Storyteller: thinking=%s", mode)
		default:
			log.Printf("Storyteller: invalid thinking %q (valid: none, low, medium, high, auto)", cfg.StorytellerThinking)
		}
	}

	return opts
}

// errNoProvider means narration is switched off.
var errNoProvider = errors.New("no storyteller provider configured")

const groqBaseURL = "https://api.groq.com/openai/v1"

// newModel opens the configured provider. The returned label names it in
// logs.
func newModel(cfg AppConfig) (llms.Model, string, error) {
	model := cfg.StorytellerModel
	switch cfg.StorytellerProvider {
	case "ollama":
		llm, err := ollama.New(ollama.WithModel(model), ollama.WithServerURL(cfg.StorytellerOllamaURL))
		return llm, fmt.Sprintf("Ollama model=%s url=%s", model, cfg.StorytellerOllamaURL), err
	case "openai":
		llm, err := openai.New(openai.WithModel(model))
		return llm, "OpenAI model=" + model, err
	case "claude":
		llm, err := anthropic.New(anthropic.WithModel(model))
		return llm, "Claude model=" + model, err
	case "gemini":
		llm, err := googleai.New(context.Background(), googleai.WithDefaultModel(model))
		return llm, "Gemini model=" + model, err
	case "groq":
		llm, err := openai.New(openai.WithModel(model), openai.WithBaseURL(groqBaseURL), openai.WithToken(cfg.GroqAPIKey))
		return llm, "Groq model=" + model, err
	case "openai-compatible":
		label := fmt.Sprintf("openai-compatible model=%s url=%s", model, cfg.StorytellerURL)
		if cfg.StorytellerURL == "" {
			return nil, label, errors.New("storyteller_url is required")
		}
		opts := []openai.Option{openai.WithModel(model), openai.WithBaseURL(cfg.StorytellerURL)}
		if cfg.StorytellerAPIKey != "" {
			opts = append(opts, openai.WithToken(cfg.StorytellerAPIKey))
		}
		llm, err := openai.New(opts...)
		return llm, label, err
	case "":
		return nil, "", errNoProvider
	default:
		return nil, cfg.StorytellerProvider, fmt.Errorf("unknown provider %q", cfg.StorytellerProvider)
	}
}

// initStoryteller sets up the global storyteller from config. Failures
// leave narration disabled; the rest of the server does not need it.
func initStoryteller(cfg AppConfig) {
	llm, label, err := newModel(cfg)
	switch {
	case errors.Is(err, errNoProvider):
		log.Printf("Storyteller: disabled (set storyteller_provider to enable)")
		return
	case err != nil:
		log.Printf("Storyteller: failed to init %s: %v", label, err)
		return
	}
	globalStoryteller = &llmStoryteller{llm: llm, systemPrompt: storytellerSystemPrompt, callOpts: buildCallOpts(cfg)}
	log.Printf("Storyteller: %s", label)
}

// describeAnalysis turns a result into plain lines for the storyteller,
// most suspicious players first.
func describeAnalysis(res *deduction.Result) []string {
	players := make([]string, 0, len(res.Evil))
	for p := range res.Evil {
		players = append(players, p)
	}
	slices.SortFunc(players, func(a, b string) int {
		if c := cmp.Compare(res.Evil[b], res.Evil[a]); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})

	var facts []string
	switch res.Status {
	case deduction.StatusNoWorlds:
		return []string{"No arrangement of roles fits the claims: someone is lying in a way the rules cannot explain."}
	case deduction.StatusInconclusive:
		return []string{"Too many arrangements of roles fit the claims to say anything yet."}
	}
	facts = append(facts, fmt.Sprintf("%d distinct worlds fit the claims.", res.Worlds))
	for _, p := range players {
		facts = append(facts, fmt.Sprintf("%s: %.0f%% evil, %.0f%% demon", p, res.Evil[p], res.Demon[p]))
	}
	for _, m := range res.Malformed {
		facts = append(facts, fmt.Sprintf("The claim of %s was ignored: %s", m.Player, m.Reason))
	}
	return facts
}

// narrationBuffer collects streamed chunks for one run and publishes
// the text whenever it changed since the last flush.
type narrationBuffer struct {
	analysisID string
	hub        *Hub

	mu        sync.Mutex
	text      strings.Builder
	published string
}

func (nb *narrationBuffer) add(chunk string) {
	nb.mu.Lock()
	nb.text.WriteString(chunk)
	nb.mu.Unlock()
}

func (nb *narrationBuffer) current() string {
	nb.mu.Lock()
	defer nb.mu.Unlock()
	return strings.TrimSpace(nb.text.String())
}

func (nb *narrationBuffer) flush(done bool) {
	text := nb.current()
	if !done && (text == "" || text == nb.published) {
		return
	}
	nb.published = text
	if err := setNarration(nb.analysisID, text); err != nil {
		logError("narrateAnalysis: setNarration", err)
	}
	nb.hub.broadcastJSON(Narration{Type: "narration", AnalysisID: nb.analysisID, Text: text, Done: done})
}

// narrateAnalysis asynchronously streams a narration of a stored run.
// Partial text is saved and broadcast every narrationFlush.
func narrateAnalysis(a *Analysis) {
	if globalStoryteller == nil {
		return
	}
	res, err := a.decodeResult()
	if err != nil {
		logError("narrateAnalysis: decodeResult", err)
		return
	}
	facts := describeAnalysis(res)
	storyteller := globalStoryteller
	nb := &narrationBuffer{analysisID: a.ID, hub: hub}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), analysisTimeout)
		defer cancel()

		told := make(chan error, 1)
		go func() {
			_, err := storyteller.Tell(ctx, facts, nb.add)
			told <- err
		}()

		ticker := time.NewTicker(narrationFlush)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				nb.flush(false)
			case err := <-told:
				if err != nil {
					log.Printf("narrateAnalysis: storyteller error: %v", err)
				}
				nb.flush(true)
				log.Printf("Storyteller: narrated analysis %s (%d chars)", a.ID, len(nb.published))
				return
			}
		}
	}()
}
