// Package voiceapi provides a Go client for a programmable voice
// call-control API.
//
// The client maintains a persistent event websocket to the voice platform,
// answers authentication challenges on it, and fans every parsed event out
// to an arbitrary number of subscribers. On top of that event channel it
// offers imperative commands for the channel, playback and audio-stream
// resources, and it accepts the inbound audio that the platform pushes back
// over HTTP, republishing each chunk on a process-lifetime fragment bus.
//
// Key features:
//   - Persistent event websocket with automatic reconnection (configurable
//     backoff, attempt budget and a terminal failed state)
//   - OAuth2 client-credentials token acquisition for every authorized call
//   - Multicast event and audio-fragment buses with independent
//     subscriber lifetimes
//   - Composed operations: play audio and wait for completion, snoop a
//     channel's inbound audio until cancelled
//
// Basic usage:
//
//	cfg := voiceapi.Config{
//		APIEndpoint:       "https://voice.example.com/api",
//		EventEndpoint:     "wss://voice.example.com/events",
//		TokenEndpoint:     "https://auth.example.com/oauth2/token",
//		CallbackEndpoint:  "https://bot.example.com",
//		ApplicationID:     "app-id",
//		ApplicationSecret: "app-secret",
//	}
//	client, err := voiceapi.Dial(ctx, cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	sub := client.Subscribe(func(ev voiceapi.Event) {
//		if ce, ok := ev.(voiceapi.ChannelEvent); ok && ce.Type == "created" {
//			go client.Playback(ctx, ce.ResourceRef, audio)
//		}
//	})
//	defer sub.Close()
//
// The client itself is an http.Handler for the audio callback route
// (PUT /stream/{id}); mount it on the externally reachable address named by
// CallbackEndpoint so the platform can deliver snooped audio.
//
// Playbacks must be 16-bit linear PCM at 16 kHz, mono, in a WAV container.
// WAVFromPCM16Mono converts raw samples into that shape.
package voiceapi
