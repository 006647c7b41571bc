// Command genchat is a thin driver over the client library: one-shot
// generation, streaming output, token counting, model listing, and an
// interactive chat loop on stdin.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	geminiclient "geminiclient-go"
	"geminiclient-go/genai"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to YAML configuration file")
		envFile     = flag.String("env", "", "Dotenv file loaded before the environment is read")
		model       = flag.String("model", "", "Model name (empty uses the configured default)")
		authName    = flag.String("auth", "", "Auth strategy: gemini or vertex (empty uses the default)")
		fallback    = flag.String("fallback-auth", "", "Strategy to reroute to on rate-limit and quota errors")
		system      = flag.String("system", "", "System instruction")
		temperature = flag.Float64("temperature", -1, "Sampling temperature (negative leaves the model default)")
		maxTokens   = flag.Int("max-tokens", 0, "Max output tokens (0 leaves the model default)")
		timeout     = flag.Duration("timeout", 0, "Per-call deadline (0 uses the configured default)")
		streaming   = flag.Bool("stream", false, "Stream the response chunk by chunk")
		chatMode    = flag.Bool("chat", false, "Interactive chat on stdin")
		countMode   = flag.Bool("count", false, "Count prompt tokens instead of generating")
		modelsMode  = flag.Bool("models", false, "List available models and exit")
		showEvents  = flag.Bool("events", false, "Log lifecycle events as they fire")
		debug       = flag.Bool("debug", false, "Enable debug logging")
	)
	flag.Parse()

	opts := []geminiclient.Option{geminiclient.WithLogging()}
	if *configPath != "" {
		opts = append(opts, geminiclient.WithConfigFile(*configPath))
	}
	if *envFile != "" {
		opts = append(opts, geminiclient.WithEnvFile(*envFile))
	}
	if *model != "" {
		opts = append(opts, geminiclient.WithModel(*model))
	}
	if *fallback != "" {
		opts = append(opts, geminiclient.WithFallbackAuth(genai.Strategy(*fallback)))
	}

	client, err := geminiclient.New(opts...)
	if err != nil {
		log.WithError(err).Fatal("Failed to build client")
	}
	defer client.Close()
	if *debug {
		log.SetLevel(log.DebugLevel)
	}
	if *showEvents {
		watchEvents(client)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"model": client.DefaultModel(),
		"auth":  client.DefaultAuth(),
	}).Debug("Client ready")

	switch {
	case *modelsMode:
		err = listModels(ctx, client, genai.Strategy(*authName))
	case *chatMode:
		err = runChat(ctx, client, chatOptions(*authName, *system, *temperature, *maxTokens))
	case *countMode:
		err = countTokens(ctx, client, prompt(), requestOptions(*authName, *system, *temperature, *maxTokens, *timeout))
	case *streaming:
		err = streamGenerate(ctx, client, prompt(), requestOptions(*authName, *system, *temperature, *maxTokens, *timeout))
	default:
		err = generate(ctx, client, prompt(), requestOptions(*authName, *system, *temperature, *maxTokens, *timeout))
	}
	if err != nil {
		log.WithError(err).Fatal("Command failed")
	}
}

// prompt returns the remaining arguments joined, falling back to stdin
// so the command composes with pipes.
func prompt() string {
	if flag.NArg() > 0 {
		return strings.Join(flag.Args(), " ")
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		log.WithError(err).Fatal("Failed to read prompt from stdin")
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		log.Fatal("No prompt: pass it as arguments or on stdin")
	}
	return text
}

func generationConfig(temperature float64, maxTokens int) *genai.GenerationConfig {
	gen := &genai.GenerationConfig{}
	set := false
	if temperature >= 0 {
		gen.Temperature = &temperature
		set = true
	}
	if maxTokens > 0 {
		gen.MaxOutputTokens = &maxTokens
		set = true
	}
	if !set {
		return nil
	}
	return gen
}

func requestOptions(authName, system string, temperature float64, maxTokens int, timeout time.Duration) *geminiclient.RequestOptions {
	return &geminiclient.RequestOptions{
		Auth:              genai.Strategy(authName),
		SystemInstruction: system,
		Generation:        generationConfig(temperature, maxTokens),
		Timeout:           timeout,
	}
}

func chatOptions(authName, system string, temperature float64, maxTokens int) *geminiclient.ChatOptions {
	return &geminiclient.ChatOptions{
		Auth:              genai.Strategy(authName),
		SystemInstruction: system,
		Generation:        generationConfig(temperature, maxTokens),
	}
}

func watchEvents(client *geminiclient.Client) {
	topics := []string{
		geminiclient.TopicAuthRefreshed,
		geminiclient.TopicRequestStart,
		geminiclient.TopicRequestStop,
		geminiclient.TopicRequestError,
		geminiclient.TopicRequestRetry,
		geminiclient.TopicStreamStart,
		geminiclient.TopicStreamCompleted,
		geminiclient.TopicStreamErrored,
		geminiclient.TopicStreamStopped,
	}
	for _, topic := range topics {
		client.OnEvent(topic, func(ev geminiclient.Event) {
			log.WithFields(log.Fields{
				"topic":    ev.Topic,
				"metadata": ev.Metadata,
			}).Info("Event")
		})
	}
}

func generate(ctx context.Context, client *geminiclient.Client, text string, opts *geminiclient.RequestOptions) error {
	resp, err := client.Generate(ctx, text, opts)
	if err != nil {
		return err
	}
	fmt.Println(resp.Text())
	if resp.UsageMetadata != nil {
		log.WithFields(log.Fields{
			"prompt_tokens": resp.UsageMetadata.PromptTokenCount,
			"total_tokens":  resp.UsageMetadata.TotalTokenCount,
		}).Debug("Usage")
	}
	return nil
}

func streamGenerate(ctx context.Context, client *geminiclient.Client, text string, opts *geminiclient.RequestOptions) error {
	stream, err := client.StreamGenerate(ctx, text, opts)
	if err != nil {
		return err
	}
	defer stream.Close()

	for ev := range stream.Events {
		switch ev.Type {
		case genai.EventData:
			fmt.Print(ev.Text())
		case genai.EventWarning:
			log.WithError(ev.Err).Warn("Stream payload problem")
		case genai.EventOverflow:
			log.Warn("Reader fell behind, some chunks were dropped")
		case genai.EventErrored:
			fmt.Println()
			return ev.Err
		}
	}
	fmt.Println()
	return ctx.Err()
}

func countTokens(ctx context.Context, client *geminiclient.Client, text string, opts *geminiclient.RequestOptions) error {
	total, err := client.CountTokens(ctx, text, opts)
	if err != nil {
		return err
	}
	fmt.Println(total)
	return nil
}

func listModels(ctx context.Context, client *geminiclient.Client, strategy genai.Strategy) error {
	models, err := client.AllModels(ctx, &geminiclient.ListOptions{Auth: strategy})
	if err != nil {
		return err
	}
	for _, m := range models {
		fmt.Printf("%-48s in=%-8d out=%-8d %s\n",
			m.Name, m.InputTokenLimit, m.OutputTokenLimit,
			strings.Join(m.SupportedGenerationMethods, ","))
	}
	return nil
}

func runChat(ctx context.Context, client *geminiclient.Client, opts *geminiclient.ChatOptions) error {
	chat := client.NewChat(opts)
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	fmt.Println("Chat started. Empty line or Ctrl-D exits.")
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			break
		}
		resp, err := chat.Send(ctx, line)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.WithError(err).Error("Generation failed")
			continue
		}
		fmt.Println(resp.Text())
	}
	log.WithField("turns", chat.Len()).Debug("Chat ended")
	return scanner.Err()
}
