package app

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/ent0n29/concierge/internal/automation"
	"github.com/ent0n29/concierge/internal/booking"
	"github.com/ent0n29/concierge/internal/chat"
	"github.com/ent0n29/concierge/internal/config"
	"github.com/ent0n29/concierge/internal/extract"
	"github.com/ent0n29/concierge/internal/httpapi"
	"github.com/ent0n29/concierge/internal/observability"
	"github.com/ent0n29/concierge/internal/portal"
	"github.com/ent0n29/concierge/internal/session"
)

type AutomationInfo struct {
	Mode   string
	Detail string
}

type BuildResult struct {
	Config      config.Config
	API         *httpapi.Server
	Sessions    *session.Manager
	Coordinator *chat.Coordinator
	Metrics     *observability.Metrics
	Automation  AutomationInfo

	// Cleanup should be called on shutdown to release open portal sessions.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	extractor, err := extract.NewExtractor(extract.Config{
		Mode:    cfg.ExtractorMode,
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.OpenAIModel,
		Timeout: cfg.ExtractTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("extractor init failed: %w", err)
	}

	factory, autoInfo := resolveAutomation(cfg)

	portalMgr := portal.NewManager(portal.Config{
		BaseURL:   cfg.PortalBaseURL,
		OpTimeout: cfg.PortalOpTimeout,
	}, factory, metrics)

	coordinator := chat.NewCoordinator(chat.Config{
		Extractor: extractor,
		Portal:    portalMgr,
		Metrics:   metrics,
		OrchOptions: []booking.Option{
			booking.WithFreshness(cfg.ResultFreshness),
			booking.WithRetryBackoff(cfg.DriverRetryBackoff),
		},
	})

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	sessions.SetExpireHook(func(s *session.Session) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
		coordinator.End(context.Background(), s.ID)
	})

	api := httpapi.New(cfg, sessions, coordinator, metrics)

	cleanup := func() error {
		shutCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		coordinator.EndAll(shutCtx)
		return nil
	}

	return &BuildResult{
		Config:      cfg,
		API:         api,
		Sessions:    sessions,
		Coordinator: coordinator,
		Metrics:     metrics,
		Automation:  autoInfo,
		Cleanup:     cleanup,
	}, nil
}

// resolveAutomation picks the page driver. "cdp" and "script" are explicit;
// "auto" uses the DevTools endpoint when one is listening and falls back to
// the scripted driver so the service stays usable without a browser.
func resolveAutomation(cfg config.Config) (portal.AutomatorFactory, AutomationInfo) {
	addr := net.JoinHostPort(cfg.ChromeHost, strconv.Itoa(cfg.ChromePort))

	cdpFactory := func(ctx context.Context) (automation.Automator, error) {
		return automation.NewCDPClient(ctx, automation.CDPConfig{
			Host: cfg.ChromeHost,
			Port: cfg.ChromePort,
		})
	}
	scriptFactory := func(ctx context.Context) (automation.Automator, error) {
		return automation.NewScript(), nil
	}

	switch cfg.AutomationMode {
	case "cdp":
		return cdpFactory, AutomationInfo{Mode: "cdp", Detail: "devtools " + addr}
	case "script":
		return scriptFactory, AutomationInfo{Mode: "script", Detail: "scripted pages, no browser"}
	default:
		if isTCPListening(addr, 250*time.Millisecond) {
			return cdpFactory, AutomationInfo{Mode: "cdp", Detail: "devtools " + addr + " (auto)"}
		}
		return scriptFactory, AutomationInfo{Mode: "script", Detail: "no devtools endpoint at " + addr}
	}
}

func isTCPListening(addr string, timeout time.Duration) bool {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
