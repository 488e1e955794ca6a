// Package api provides the retisgo HTTP API server.
// Uses Fiber v2 (zero-alloc, fasthttp-based) for max throughput.
package api

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/kubearch/retisgo/internal/cache"
	"github.com/kubearch/retisgo/internal/constants"
	"github.com/kubearch/retisgo/internal/event"
	"github.com/kubearch/retisgo/internal/storage"
)

// Server is the HTTP API server. It reads the archival ClickHouse sink for
// historical queries and the live EventBus for the /events/tail websocket;
// a node running without a ClickHouse/Redis pipeline can still pass nil for
// ch/redis and serve /events/tail and /healthz alone.
type Server struct {
	app    *fiber.App
	ch     *storage.ClickHouse
	redis  *cache.Redis
	bus    *event.Bus
	logger *zap.Logger
	addr   string
}

// NewServer creates a Fiber API server with all routes.
func NewServer(addr string, ch *storage.ClickHouse, redis *cache.Redis, bus *event.Bus, logger *zap.Logger) *Server {
	app := fiber.New(fiber.Config{
		Prefork:       false,
		StrictRouting: false,
		ReadTimeout:   constants.HTTPReadTimeout,
		WriteTimeout:  constants.HTTPWriteTimeout,
		IdleTimeout:   constants.HTTPIdleTimeout,
	})

	s := &Server{
		app:    app,
		ch:     ch,
		redis:  redis,
		bus:    bus,
		logger: logger,
		addr:   addr,
	}

	// Middleware
	app.Use(recover.New())
	app.Use(fiberlogger.New(fiberlogger.Config{Format: "${time} ${status} ${method} ${path} ${latency}\n"}))
	app.Use(cors.New(cors.Config{AllowOrigins: "*"}))
	app.Use(compress.New())
	app.Use(limiter.New(limiter.Config{
		Max:        constants.APIRateLimit,
		Expiration: time.Second,
	}))

	// Routes over the archival sink. Only registered when this Server has
	// a ClickHouse handle; an agent-embedded server passes ch=nil and
	// skips them rather than panic on a nil s.ch.Query call.
	if ch != nil {
		v1 := app.Group("/api/v1")
		v1.Get("/events", s.handleEvents)
		v1.Get("/sections", s.handleSectionCounts)
		v1.Get("/metrics/overview", s.handleOverview)
		v1.Get("/metrics/:section", s.handleMetricsBySection)
		v1.Get("/topology", s.handleTopology)
	}

	// Live event tail, backed by the EventBus rather than the archival sink:
	// one subscriber per connection, rendered through event.Event.ToText the
	// same way the CLI would print it. Additive view alongside whatever else
	// drains the bus (exporters, internal/filesource) — it never consumes
	// events those other subscribers need. Only registered when this Server
	// runs co-located with the agent that owns the bus; a remote
	// query-only deployment (cmd/api) passes a nil bus and serves the
	// ClickHouse-backed routes alone.
	if bus != nil {
		app.Use("/events/tail", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})
		app.Get("/events/tail", websocket.New(s.handleTail))
	}

	// Health
	app.Get("/healthz", func(c *fiber.Ctx) error { return c.SendString("ok") })

	return s
}

// Start begins listening. Blocks until shutdown.
func (s *Server) Start() error {
	s.logger.Info("API server listening", zap.String("addr", s.addr))
	return s.app.Listen(s.addr)
}

// Stop gracefully shuts down.
func (s *Server) Stop() error {
	return s.app.Shutdown()
}

// ─── Handlers ────────────────────────────────────────────────────

// handleEvents returns paginated events from ClickHouse.
func (s *Server) handleEvents(c *fiber.Ctx) error {
	limit := min(c.QueryInt("limit", constants.APIDefaultPageSize), constants.APIMaxPageSize)
	offset := c.QueryInt("offset", 0)
	section := c.Query("section")
	namespace := c.Query("namespace")
	since := c.Query("since") // ISO8601

	query := "SELECT timestamp, node, namespace, pod, tracking_id, sections, payload FROM retisgo.events WHERE 1=1"
	args := make([]any, 0)

	if section != "" {
		query += " AND has(sections, ?)"
		args = append(args, section)
	}
	if namespace != "" {
		query += " AND namespace = ?"
		args = append(args, namespace)
	}
	if since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err == nil {
			query += " AND timestamp >= ?"
			args = append(args, t)
		}
	}

	query += " ORDER BY timestamp DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.ch.Query(c.Context(), query, args...)
	if err != nil {
		s.logger.Error("Query failed", zap.Error(err))
		return c.Status(500).JSON(fiber.Map{"error": "query failed"})
	}
	defer rows.Close()

	var events []fiber.Map
	for rows.Next() {
		var (
			ts         time.Time
			node       string
			namespace  string
			pod        string
			trackingId uint64
			sections   []string
			payload    string
		)
		if err := rows.Scan(&ts, &node, &namespace, &pod, &trackingId, &sections, &payload); err != nil {
			continue
		}
		events = append(events, fiber.Map{
			"timestamp":   ts,
			"node":        node,
			"namespace":   namespace,
			"pod":         pod,
			"tracking_id": trackingId,
			"sections":    sections,
			"payload":     json.RawMessage(payload),
		})
	}

	return c.JSON(fiber.Map{
		"events": events,
		"limit":  limit,
		"offset": offset,
	})
}

// handleSectionCounts returns how many archived events carry each section.
func (s *Server) handleSectionCounts(c *fiber.Ctx) error {
	cacheKey := "section_counts"
	if cached, err := s.redis.Get(c.Context(), cacheKey); err == nil {
		c.Set("X-Cache", "HIT")
		return c.SendString(cached)
	}

	rows, err := s.ch.Query(c.Context(),
		"SELECT arrayJoin(sections) AS section, count() AS cnt FROM retisgo.events GROUP BY section ORDER BY cnt DESC")
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "query failed"})
	}
	defer rows.Close()

	var sections []fiber.Map
	for rows.Next() {
		var sec string
		var cnt uint64
		if err := rows.Scan(&sec, &cnt); err != nil {
			continue
		}
		sections = append(sections, fiber.Map{"section": sec, "count": cnt})
	}

	result, _ := json.Marshal(fiber.Map{"sections": sections})
	s.redis.Set(c.Context(), cacheKey, string(result), constants.RedisCacheTTL)
	c.Set("X-Cache", "MISS")
	return c.Send(result)
}

// handleOverview returns dashboard summary metrics.
func (s *Server) handleOverview(c *fiber.Ctx) error {
	cacheKey := "overview"
	if cached, err := s.redis.Get(c.Context(), cacheKey); err == nil {
		c.Set("X-Cache", "HIT")
		return c.SendString(cached)
	}

	row := s.ch.QueryRow(c.Context(), `
		SELECT
			count() AS total_events,
			countIf(has(sections, 'ct')) AS ct_events,
			countIf(has(sections, 'ovs')) AS ovs_events,
			countIf(has(sections, 'skb_drop')) AS drop_events,
			countIf(has(sections, 'kernel')) AS kernel_events
		FROM retisgo.events
		WHERE timestamp >= now() - INTERVAL 1 HOUR
	`)

	var total, ctN, ovsN, dropN, kernelN uint64
	if err := row.Scan(&total, &ctN, &ovsN, &dropN, &kernelN); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "query failed"})
	}

	result := fiber.Map{
		"total_events":  total,
		"ct_events":     ctN,
		"ovs_events":    ovsN,
		"drop_events":   dropN,
		"kernel_events": kernelN,
		"window":        "1h",
	}

	data, _ := json.Marshal(result)
	s.redis.Set(c.Context(), cacheKey, string(data), constants.RedisCacheTTL)
	c.Set("X-Cache", "MISS")
	return c.JSON(result)
}

// handleMetricsBySection returns time-series counts for a specific section.
func (s *Server) handleMetricsBySection(c *fiber.Ctx) error {
	section := c.Params("section")
	window := c.Query("window", "1h")

	cacheKey := "metrics:" + section + ":" + window
	if cached, err := s.redis.Get(c.Context(), cacheKey); err == nil {
		c.Set("X-Cache", "HIT")
		return c.SendString(cached)
	}

	query := `
		SELECT
			toStartOfMinute(timestamp) AS minute,
			count() AS cnt
		FROM retisgo.events
		WHERE has(sections, ?) AND timestamp >= now() - INTERVAL ` + sanitizeInterval(window) + `
		GROUP BY minute
		ORDER BY minute
	`

	rows, err := s.ch.Query(c.Context(), query, section)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "query failed"})
	}
	defer rows.Close()

	var series []fiber.Map
	for rows.Next() {
		var minute time.Time
		var cnt uint64
		if err := rows.Scan(&minute, &cnt); err != nil {
			continue
		}
		series = append(series, fiber.Map{"time": minute, "count": cnt})
	}

	result, _ := json.Marshal(fiber.Map{"section": section, "series": series})
	s.redis.Set(c.Context(), cacheKey, string(result), constants.RedisCacheTTL)
	c.Set("X-Cache", "MISS")
	return c.Send(result)
}

// handleTopology returns namespace→pod topology.
func (s *Server) handleTopology(c *fiber.Ctx) error {
	cacheKey := "topology"
	if cached, err := s.redis.Get(c.Context(), cacheKey); err == nil {
		c.Set("X-Cache", "HIT")
		return c.SendString(cached)
	}

	rows, err := s.ch.Query(c.Context(), `
		SELECT namespace, pod, node, count() AS cnt
		FROM retisgo.events
		WHERE timestamp >= now() - INTERVAL 1 HOUR AND namespace != ''
		GROUP BY namespace, pod, node
		ORDER BY cnt DESC
		LIMIT 500
	`)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "query failed"})
	}
	defer rows.Close()

	var items []fiber.Map
	for rows.Next() {
		var ns, pod, node string
		var cnt uint64
		if err := rows.Scan(&ns, &pod, &node, &cnt); err != nil {
			continue
		}
		items = append(items, fiber.Map{
			"namespace": ns, "pod": pod, "node": node, "count": cnt,
		})
	}

	result, _ := json.Marshal(fiber.Map{"topology": items})
	s.redis.Set(c.Context(), cacheKey, string(result), constants.RedisCacheTTL)
	c.Set("X-Cache", "MISS")
	return c.Send(result)
}

// handleTail streams live events off the EventBus as ToText lines, one
// per websocket frame, until the client disconnects.
func (s *Server) handleTail(c *websocket.Conn) {
	name := fmt.Sprintf("api-tail-%p", c)
	sub := s.bus.Subscribe(name)
	display := event.DisplayFormat{Time: event.TimeUtc}

	for e := range sub {
		if err := c.WriteMessage(websocket.TextMessage, []byte(e.ToText(display))); err != nil {
			return
		}
	}
}

// sanitizeInterval prevents injection in interval strings.
func sanitizeInterval(s string) string {
	// Allow only digits + h/m/d
	for _, c := range s {
		if c >= '0' && c <= '9' {
			continue
		}
		if c == 'h' || c == 'm' || c == 'd' {
			continue
		}
		return "1 HOUR"
	}
	// Convert shorthand: "1h" → "1 HOUR"
	if len(s) >= 2 {
		num := s[:len(s)-1]
		if _, err := strconv.Atoi(num); err == nil {
			switch s[len(s)-1] {
			case 'h':
				return num + " HOUR"
			case 'm':
				return num + " MINUTE"
			case 'd':
				return fmt.Sprintf("%d HOUR", mustAtoi(num)*24)
			}
		}
	}
	return "1 HOUR"
}

func mustAtoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
