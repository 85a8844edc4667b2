package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	contractx "github.com/chatcart-ai/chatcart/agent/contract"
	coordinatorx "github.com/chatcart-ai/chatcart/agent/coordinator"
	discoveryx "github.com/chatcart-ai/chatcart/agent/discovery"
	flowx "github.com/chatcart-ai/chatcart/agent/flow"
	llmx "github.com/chatcart-ai/chatcart/agent/llm"
	promptx "github.com/chatcart-ai/chatcart/agent/prompt"
	reasonx "github.com/chatcart-ai/chatcart/agent/reason"
	routerx "github.com/chatcart-ai/chatcart/agent/router"
	statex "github.com/chatcart-ai/chatcart/agent/state"
	toolx "github.com/chatcart-ai/chatcart/agent/tool"
	configx "github.com/chatcart-ai/chatcart/pkg/config"
	embeddingx "github.com/chatcart-ai/chatcart/pkg/embedding"
	_ "github.com/chatcart-ai/chatcart/pkg/logger/autoload"
	occx "github.com/chatcart-ai/chatcart/pkg/occ"
	vecstorex "github.com/chatcart-ai/chatcart/pkg/vecstore"
)

type AppConfig struct {
	// SessionStore selects where sessions persist: "memory" or "upstash".
	SessionStore string `envconfig:"SESSION_STORE" split_words:"true" default:"memory"`
}

const greeting = "Hello! I am your shopping assistant. How can I help you today?"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appCfg := configx.MustNew[AppConfig]("")

	occClient, err := occx.New(*configx.MustNew[occx.Config]("OCC"))
	if err != nil {
		log.Fatal().Err(err).Msg("create commerce client")
	}

	index, err := vecstorex.New(*configx.MustNew[vecstorex.Config]("VECTOR"))
	if err != nil {
		log.Fatal().Err(err).Msg("open vector index")
	}
	defer index.Close()

	embedder, err := embeddingx.NewOpenAIEmbedder(*configx.MustNew[embeddingx.Config]("EMBEDDING"))
	if err != nil {
		log.Fatal().Err(err).Msg("create embedder")
	}

	resolver, err := discoveryx.NewResolver(
		*configx.MustNew[discoveryx.Config]("DISCOVERY"),
		embedder, index, occClient,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("create discovery resolver")
	}

	registry := toolx.NewRegistry()
	if err := toolx.RegisterCatalog(registry, occClient, resolver); err != nil {
		log.Fatal().Err(err).Msg("register tool catalog")
	}

	invoker, err := toolx.NewInvoker(registry)
	if err != nil {
		log.Fatal().Err(err).Msg("create tool invoker")
	}

	prompts := promptx.LoadPromptSet()
	engine, err := reasonx.NewEngine(ctx, *configx.MustNew[llmx.Config]("OPENROUTER"), prompts.Router, []reasonx.FlowModel{
		{Flow: contractx.FlowDiscovery, SystemPrompt: prompts.Discovery, Tools: registry.Infos(toolx.DiscoveryToolNames()...)},
		{Flow: contractx.FlowCart, SystemPrompt: prompts.Cart, Tools: registry.Infos(toolx.CartToolNames()...)},
		{Flow: contractx.FlowCheckout, SystemPrompt: prompts.Checkout, Tools: registry.Infos(toolx.CheckoutToolNames()...)},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("create reasoning engine")
	}

	turnRouter, err := routerx.New(*configx.MustNew[routerx.Config]("ROUTER"), engine)
	if err != nil {
		log.Fatal().Err(err).Msg("create router")
	}

	flowEngine, err := flowx.New(*configx.MustNew[flowx.Config]("FLOW"), engine, invoker)
	if err != nil {
		log.Fatal().Err(err).Msg("create flow engine")
	}

	sessions, err := statex.NewManager(newSessionStore(appCfg.SessionStore))
	if err != nil {
		log.Fatal().Err(err).Msg("create session manager")
	}

	coordinator, err := coordinatorx.New(sessions, turnRouter, flowEngine, *configx.MustNew[coordinatorx.Config]("TURN"))
	if err != nil {
		log.Fatal().Err(err).Msg("create coordinator")
	}

	runChatLoop(ctx, coordinator)
}

func newSessionStore(kind string) statex.Store {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "memory":
		return statex.NewMemoryStore()
	case "upstash":
		store, err := statex.NewUpstashRedisStore(*configx.MustNew[statex.UpstashRedisConfig]("UPSTASH_REDIS"))
		if err != nil {
			log.Fatal().Err(err).Msg("create upstash session store")
		}
		return store
	default:
		log.Fatal().Str("session_store", kind).Msg("unknown session store")
		return nil
	}
}

func runChatLoop(ctx context.Context, coordinator *coordinatorx.Coordinator) {
	sessionID := uuid.NewString()
	log.Info().Str("session_id", sessionID).Msg("chat session started")

	fmt.Println(greeting)
	fmt.Println(`Type "exit" to quit.`)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		if ctx.Err() != nil {
			break
		}

		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if text == "exit" || text == "quit" {
			break
		}

		reply, err := coordinator.HandleTurn(ctx, sessionID, text)
		if err != nil {
			log.Error().Err(err).Msg("turn failed")
		}
		fmt.Println(reply)
	}

	if err := scanner.Err(); err != nil {
		log.Error().Err(err).Msg("read input")
	}
	log.Info().Str("session_id", sessionID).Msg("chat session ended")
}
