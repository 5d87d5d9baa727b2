package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// App owns every shared component: the resilient client, the breaker
// registry, the cache, the rate limiter, and the session store. It is
// constructed once at startup and passed around explicitly - there are no
// ambient singletons.
type App struct {
	cfg      *Config
	client   *Client
	breakers *BreakerRegistry
	cache    *TieredCache
	limiter  *RateLimiter
	store    *SessionStore
	council  *CouncilService
}

// NewApp wires all components together from configuration.
func NewApp(cfg *Config) *App {
	breakers := NewBreakerRegistry(cfg.BreakerFailMax, cfg.BreakerCooldown)
	client := NewClient(cfg, breakers)

	return &App{
		cfg:      cfg,
		client:   client,
		breakers: breakers,
		cache:    NewTieredCache(cfg.RedisURL),
		limiter:  NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow),
		store:    NewSessionStore(cfg.DataDir),
		council:  NewCouncilService(client, cfg),
	}
}

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	app := NewApp(cfg)
	defer app.cache.Close()

	router := app.setupRouter()

	log.Printf("Starting LLM Council backend on port %s...", cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// setupRouter builds the gin router with middleware and routes.
func (a *App) setupRouter() *gin.Engine {
	router := gin.Default()

	// Request size limit middleware
	router.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, a.cfg.MaxRequestBodySize)
		c.Next()
	})

	// CORS middleware with dynamic origin validation
	router.Use(cors.New(cors.Config{
		AllowOriginFunc: func(origin string) bool {
			// In production, use environment-configured origins
			if len(a.cfg.CORSAllowedOrigins) > 0 && a.cfg.CORSAllowedOrigins[0] != "" {
				for _, allowedOrigin := range a.cfg.CORSAllowedOrigins {
					if origin == allowedOrigin {
						return true
					}
				}
				return false
			}
			// In development, allow any localhost/127.0.0.1 origin
			return len(origin) > 0 && (len(origin) >= 16 && origin[:16] == "http://localhost" ||
				len(origin) >= 14 && origin[:14] == "http://127.0.0")
		},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "X-API-Key"},
		AllowCredentials: true,
	}))

	router.GET("/", a.healthCheck)

	api := router.Group("/api", APIKeyMiddleware(a.cfg.APIKey), RateLimitMiddleware(a.limiter))
	api.GET("/sessions", a.listSessionsHandler)
	api.POST("/sessions", a.createSessionHandler)
	api.GET("/sessions/:id", a.getSessionHandler)
	api.POST("/sessions/:id/message", a.sendMessageHandler)
	api.POST("/sessions/:id/message/stream", a.sendMessageStreamHandler)
	api.GET("/models", a.listModelsHandler)
	api.POST("/fetch-url", a.fetchURLHandler)

	return router
}

// APIKeyMiddleware enforces the optional X-API-Key header. When no key is
// configured all requests pass through.
func APIKeyMiddleware(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey == "" {
			c.Next()
			return
		}
		provided := c.GetHeader("X-API-Key")
		if provided == "" {
			provided = c.Query("api_key")
		}
		if provided != apiKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid or missing API key",
			})
			return
		}
		c.Next()
	}
}

// healthCheck returns service status plus breaker and cache snapshots.
// GET / - Used by deployment probes and the dashboard.
func (a *App) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":           "ok",
		"service":          "LLM Council API",
		"circuit_breakers": a.breakers.Statuses(),
		"cache":            a.cache.Status(),
	})
}

// listSessionsHandler lists all sessions with metadata only.
// GET /api/sessions - Returns array of session metadata sorted by date.
func (a *App) listSessionsHandler(c *gin.Context) {
	sessions, err := a.store.ListSessions()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Failed to list sessions: %v", err),
		})
		return
	}
	c.JSON(http.StatusOK, sessions)
}

// createSessionHandler creates a new session.
// POST /api/sessions - Generates a new UUID and creates an empty session.
func (a *App) createSessionHandler(c *gin.Context) {
	sessionID := uuid.New().String()

	session, err := a.store.CreateSession(sessionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Failed to create session: %v", err),
		})
		return
	}
	c.JSON(http.StatusOK, session)
}

// getSessionHandler gets a specific session by ID.
// GET /api/sessions/:id - Returns the full session including all rounds.
func (a *App) getSessionHandler(c *gin.Context) {
	session, err := a.store.GetSession(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Failed to get session: %v", err),
		})
		return
	}
	if session == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}
	c.JSON(http.StatusOK, session)
}

// sendMessageHandler runs a full council round for a session question.
// POST /api/sessions/:id/message - Returns the round and its
// disagreement analysis once synthesis completes. Use the stream variant
// for per-stage progress.
func (a *App) sendMessageHandler(c *gin.Context) {
	sessionID := c.Param("id")

	var request SendMessageRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("Invalid request: %v", err),
		})
		return
	}

	session, err := a.store.GetSession(sessionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Failed to get session: %v", err),
		})
		return
	}
	if session == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}

	// Generate title in the background on the first question
	if len(session.Rounds) == 0 {
		go a.generateTitle(sessionID, request.Content)
	}

	round, err := a.council.RunCouncilRound(c.Request.Context(), request.Content, session.Rounds)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Council round failed: %v", err),
		})
		return
	}

	if err := a.store.AppendRound(sessionID, round); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Failed to save round: %v", err),
		})
		return
	}

	c.JSON(http.StatusOK, SendMessageResponse{
		Round:        round,
		Disagreement: AnalyzeDisagreement(round.Responses, round.PeerReviews),
	})
}

// sendMessageStreamHandler runs a council round, streaming stage progress
// via SSE. POST /api/sessions/:id/message/stream - Events:
// responses_start, responses_complete, reviews_start, reviews_complete,
// synthesis_start, synthesis_complete, title_complete, complete.
func (a *App) sendMessageStreamHandler(c *gin.Context) {
	sessionID := c.Param("id")

	var request SendMessageRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("Invalid request: %v", err),
		})
		return
	}

	session, err := a.store.GetSession(sessionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Failed to get session: %v", err),
		})
		return
	}
	if session == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}

	// Set SSE headers
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	ctx := c.Request.Context()

	var titleChan chan string
	if len(session.Rounds) == 0 {
		titleChan = make(chan string, 1)
		go func() {
			titleChan <- a.generateTitle(sessionID, request.Content)
			close(titleChan)
		}()
	}

	round := ConversationRound{
		Question:  request.Content,
		Status:    RoundPending,
		CreatedAt: time.Now().UTC(),
	}

	sendSSEEvent(c, gin.H{"type": "responses_start"})
	round.Responses = a.council.GetCouncilResponses(ctx, round, session.Rounds)
	round.Status = RoundResponded
	if len(validResponses(round.Responses)) == 0 {
		sendSSEError(c, "All council models failed to respond")
		return
	}
	sendSSEEvent(c, gin.H{"type": "responses_complete", "data": round.Responses})

	sendSSEEvent(c, gin.H{"type": "reviews_start"})
	round.PeerReviews = a.council.GetPeerReviews(ctx, round, session.Rounds)
	round.Status = RoundReviewed
	disagreement := AnalyzeDisagreement(round.Responses, round.PeerReviews)
	sendSSEEvent(c, gin.H{
		"type": "reviews_complete",
		"data": round.PeerReviews,
		"metadata": gin.H{
			"disagreement": disagreement,
		},
	})

	sendSSEEvent(c, gin.H{"type": "synthesis_start"})
	synthesis, err := a.council.SynthesizeResponse(ctx, round, session.Rounds)
	if err != nil {
		sendSSEError(c, fmt.Sprintf("Synthesis failed: %v", err))
		return
	}
	round.Synthesis = synthesis
	round.Status = RoundSynthesized
	sendSSEEvent(c, gin.H{"type": "synthesis_complete", "data": synthesis})

	if titleChan != nil {
		if title := <-titleChan; title != "" {
			sendSSEEvent(c, gin.H{"type": "title_complete", "data": gin.H{"title": title}})
		}
	}

	if err := a.store.AppendRound(sessionID, round); err != nil {
		sendSSEError(c, fmt.Sprintf("Failed to save round: %v", err))
		return
	}

	sendSSEEvent(c, gin.H{"type": "complete"})
}

// generateTitle generates and stores a session title, falling back to a
// default on failure. Returns the title used.
func (a *App) generateTitle(sessionID, question string) string {
	title, err := a.council.GenerateSessionTitle(context.Background(), question)
	if err != nil {
		log.Printf("Failed to generate title: %v", err)
		a.store.UpdateSessionTitle(sessionID, "New Session")
		return ""
	}
	a.store.UpdateSessionTitle(sessionID, title)
	return title
}

// listModelsHandler returns the upstream model catalog, cached.
// GET /api/models - Query params: ?refresh=true (force cache refresh)
func (a *App) listModelsHandler(c *gin.Context) {
	const cacheKey = "models:list"
	ctx := c.Request.Context()

	if c.Query("refresh") != "true" {
		if cached, ok := a.cache.Get(ctx, cacheKey); ok {
			var models []AvailableModel
			if err := json.Unmarshal([]byte(cached), &models); err == nil {
				c.JSON(http.StatusOK, gin.H{"data": models})
				return
			}
		}
	}

	models, err := a.client.ListAvailableModels(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Failed to fetch models: %v", err),
		})
		return
	}

	if serialized, err := json.Marshal(models); err == nil {
		a.cache.Set(ctx, cacheKey, string(serialized), a.cfg.ModelsListTTL)
	}

	c.JSON(http.StatusOK, gin.H{"data": models})
}

// fetchURLHandler extracts readable text from a URL for question context.
// POST /api/fetch-url - Body: {"url": "https://..."}
func (a *App) fetchURLHandler(c *gin.Context) {
	var request FetchURLRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("Invalid request: %v", err),
		})
		return
	}

	ctx := c.Request.Context()
	cacheKey := "url:" + request.URL

	if cached, ok := a.cache.Get(ctx, cacheKey); ok {
		c.JSON(http.StatusOK, gin.H{"content": cached, "cached": true})
		return
	}

	content, err := FetchURLContent(ctx, request.URL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Failed to fetch URL content: %v", err),
		})
		return
	}

	a.cache.Set(ctx, cacheKey, content, a.cfg.FetchedURLTTL)
	c.JSON(http.StatusOK, gin.H{"content": content})
}

// sendSSEEvent sends a Server-Sent Event.
// Marshals data to JSON and writes as SSE format with "data: " prefix.
func sendSSEEvent(c *gin.Context, data interface{}) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("Failed to marshal SSE event: %v", err)
		return
	}
	c.Writer.WriteString(fmt.Sprintf("data: %s\n\n", string(jsonData)))
	c.Writer.Flush()
}

// sendSSEError sends an error event via SSE.
func sendSSEError(c *gin.Context, message string) {
	sendSSEEvent(c, gin.H{"type": "error", "message": message})
}
