// Package bot implements the conversational voice bot. It listens for new
// calls on the voice platform, greets the caller, records one utterance,
// classifies it and answers with a spoken response. The bot combines the
// voice API client with a speech service and an intent classifier; all three
// enter through small interfaces so tests can swap them out.
package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/telvox/voiceapi"
)

// VoiceClient is the slice of the voice API client the bot uses.
type VoiceClient interface {
	Subscribe(handler func(voiceapi.Event)) *voiceapi.Subscription
	Playback(ctx context.Context, channel voiceapi.ResourceReference, audio []byte) error
	Snoop(ctx context.Context, channel voiceapi.ResourceReference) (<-chan []byte, error)
}

// Synthesizer turns a sentence into playable WAV audio.
type Synthesizer interface {
	Say(ctx context.Context, sentence string) ([]byte, error)
}

// Transcriber turns a stream of raw audio frames into the text of a single
// utterance.
type Transcriber interface {
	TranscribeUtterance(ctx context.Context, frames <-chan []byte) (string, error)
}

// IntentClassifier resolves an utterance to an intent name.
type IntentClassifier interface {
	DetermineIntent(ctx context.Context, utterance string) (string, error)
}

// Bot drives the conversation on every incoming call.
type Bot struct {
	voice      VoiceClient
	speech     Synthesizer
	transcribe Transcriber
	intents    IntentClassifier
	logger     *voiceapi.Logger
	now        func() time.Time
	location   *time.Location
}

// Option configures a Bot.
type Option func(*Bot)

// WithLogger sets the structured logger the bot reports through.
func WithLogger(l *voiceapi.Logger) Option {
	return func(b *Bot) {
		b.logger = l
	}
}

// WithClock overrides the clock used to pick the greeting. Tests use this to
// pin the time of day.
func WithClock(now func() time.Time) Option {
	return func(b *Bot) {
		b.now = now
	}
}

// New creates a Bot from its collaborators.
func New(voice VoiceClient, speech Synthesizer, transcribe Transcriber, intents IntentClassifier, opts ...Option) (*Bot, error) {
	if voice == nil || speech == nil || transcribe == nil || intents == nil {
		return nil, fmt.Errorf("bot: all collaborators are required")
	}

	loc, err := time.LoadLocation("Europe/Amsterdam")
	if err != nil {
		return nil, fmt.Errorf("bot: failed to load timezone: %w", err)
	}

	b := &Bot{
		voice:      voice,
		speech:     speech,
		transcribe: transcribe,
		intents:    intents,
		logger:     voiceapi.NewLoggerFromEnv(),
		now:        time.Now,
		location:   loc,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Run subscribes to voice events and handles calls until the context is
// cancelled. Each call is served on its own goroutine so a slow caller never
// blocks the next one.
func (b *Bot) Run(ctx context.Context) error {
	sub := b.voice.Subscribe(func(event voiceapi.Event) {
		channel, ok := event.(voiceapi.ChannelEvent)
		if !ok {
			return
		}
		if channel.Type != "created" {
			return
		}
		b.logger.Info("call_started", map[string]any{
			"channel": channel.ResourceRef.ID,
		})
		go b.handleCall(ctx, channel.ResourceRef)
	})
	defer sub.Close()

	<-ctx.Done()
	return ctx.Err()
}

// handleCall runs the conversation for one call: greeting, question, one
// utterance, intent, spoken answer.
func (b *Bot) handleCall(ctx context.Context, channel voiceapi.ResourceReference) {
	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := b.say(callCtx, channel, b.greeting()+", ik ben Sia. De digitale assistente van Telvox."); err != nil {
		b.logError(channel, "greeting playback failed", err)
		return
	}
	if err := b.say(callCtx, channel, "Waar kan ik je mee helpen?"); err != nil {
		b.logError(channel, "question playback failed", err)
		return
	}

	frames, err := b.voice.Snoop(callCtx, channel)
	if err != nil {
		b.logError(channel, "snoop failed", err)
		return
	}

	utteranceText, err := b.transcribe.TranscribeUtterance(callCtx, frames)
	if err != nil {
		b.logError(channel, "transcription failed", err)
		return
	}
	b.logger.Debug("utterance_received", map[string]any{
		"channel":   channel.ID,
		"utterance": utteranceText,
	})

	intent, err := b.intents.DetermineIntent(callCtx, utteranceText)
	if err != nil {
		b.logError(channel, "intent classification failed", err)
		return
	}
	b.logger.Debug("intent_resolved", map[string]any{
		"channel": channel.ID,
		"intent":  intent,
	})

	if err := b.say(callCtx, channel, response(intent)); err != nil {
		b.logError(channel, "response playback failed", err)
		return
	}
	b.logger.Info("call_handled", map[string]any{
		"channel": channel.ID,
		"intent":  intent,
	})
}

// say synthesizes a sentence and plays it, waiting until the playback has
// completed on the channel.
func (b *Bot) say(ctx context.Context, channel voiceapi.ResourceReference, sentence string) error {
	audio, err := b.speech.Say(ctx, sentence)
	if err != nil {
		return fmt.Errorf("synthesize %q: %w", sentence, err)
	}
	return b.voice.Playback(ctx, channel, audio)
}

// greeting picks the Dutch salutation for the current time of day in the
// Netherlands.
func (b *Bot) greeting() string {
	hour := b.now().In(b.location).Hour()
	switch {
	case hour < 12:
		return "Goedemorgen"
	case hour < 18:
		return "Goedemiddag"
	default:
		return "Goedenavond"
	}
}

// response maps an intent to the sentence the bot answers with. Unknown
// intents get the fallback handover message.
func response(intent string) string {
	switch intent {
	case "inquire_outage":
		return "Er zijn op dit moment geen actieve storingen bij ons bekend. Ik verbind je door met een collega om je verder te helpen. Een moment geduld alsjeblieft."
	case "inquire_invoice":
		return "Ik verbind je door met een collega van finance die je verder kan helpen met vragen over de factuur. Een moment geduld alsjeblieft."
	case "human_handover":
		return "Ik verbind je door met een collega die je verder kan helpen."
	default:
		return "Ik heb je niet helemaal begrepen, ik verbind je door met een collega die je verder kan helpen. Een moment geduld alsjeblieft."
	}
}

func (b *Bot) logError(channel voiceapi.ResourceReference, msg string, err error) {
	b.logger.Error("call_failed", map[string]any{
		"channel": channel.ID,
		"reason":  msg,
		"error":   err.Error(),
	})
}
