// Voicebot answers incoming calls on the voice platform with a short
// speech-driven dialog: greet the caller, ask what they need, classify the
// answer and respond. Configuration comes from the environment, with an
// optional .env file for local development.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/telvox/voiceapi"
	"github.com/telvox/voiceapi/bot"
	"github.com/telvox/voiceapi/nlu"
	"github.com/telvox/voiceapi/speech"
)

func main() {
	_ = godotenv.Load()

	logger := voiceapi.NewLoggerFromEnv()

	cfg := voiceapi.Config{
		APIEndpoint:       must("VOICEAPI_API_ENDPOINT"),
		EventEndpoint:     must("VOICEAPI_EVENT_ENDPOINT"),
		TokenEndpoint:     must("VOICEAPI_TOKEN_ENDPOINT"),
		CallbackEndpoint:  must("VOICEAPI_CALLBACK_ENDPOINT"),
		ApplicationID:     must("VOICEAPI_APPLICATION_ID"),
		ApplicationSecret: must("VOICEAPI_APPLICATION_SECRET"),
		StructuredLogger:  logger,
		OnConnectionStateChange: func(s voiceapi.ConnectionState) {
			logger.Info("connection_state", map[string]any{"state": s.String()})
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := voiceapi.Dial(ctx, cfg)
	if err != nil {
		log.Fatalf("voice api dial: %v", err)
	}
	defer client.Close()

	speechClient, err := speech.New()
	if err != nil {
		log.Fatalf("speech client: %v", err)
	}

	nluClient, err := nlu.New(must("NLU_ENDPOINT"))
	if err != nil {
		log.Fatalf("nlu client: %v", err)
	}

	voiceBot, err := bot.New(client, speechClient, speechClient, nluClient, bot.WithLogger(logger))
	if err != nil {
		log.Fatalf("bot: %v", err)
	}

	// The client serves the audio intake endpoint; the voice platform pushes
	// snooped call audio here. The health route verifies both the event
	// channel and the token endpoint, so load balancers pull the instance
	// when either fails.
	mux := http.NewServeMux()
	mux.Handle("/stream/", client)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if client.State() != voiceapi.StateOpen {
			http.Error(w, "event channel "+client.State().String(), http.StatusServiceUnavailable)
			return
		}
		if _, err := client.TokenSource().Acquire(r.Context()); err != nil {
			http.Error(w, "token acquisition failed", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:    env("VOICEBOT_LISTEN_ADDR", ":8080"),
		Handler: mux,
	}
	go func() {
		logger.Info("intake_listening", map[string]any{"addr": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("intake server: %v", err)
		}
	}()

	err = voiceBot.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("bot_stopped", map[string]any{"error": err.Error()})
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func must(k string) string {
	v := os.Getenv(k)
	if v == "" {
		log.Fatalf("missing env %s", k)
	}
	return v
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
