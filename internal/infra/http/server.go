package http

import (
	"context"
	"crypto/rand"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"attestd/internal/config"
	"attestd/internal/domain"
	"attestd/internal/infra/attest"
	"attestd/internal/infra/db"
	"attestd/internal/infra/hashchain"
	"attestd/internal/infra/policyopa"
	"attestd/internal/infra/ratelimit"
	"attestd/internal/usecase"

	"github.com/gin-gonic/gin"
)

type Server struct {
	cfg   config.Config
	store *db.Store
	r     *gin.Engine

	registerUC  *usecase.RegisterDevice
	processUC   *usecase.ProcessCapture
	challengeUC *usecase.IssueChallenge
	audit       *usecase.AuditEmitter

	devices  DeviceStore
	captures CaptureStore
	events   AuditStore

	initErr error

	rateLimiter         domain.RateLimiter
	rateLimitRequests   int
	rateLimitWindow     time.Duration
	rateLimitFailClosed bool
}

func NewServer(cfg config.Config, store *db.Store) *Server {
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{cfg: cfg, store: store, r: r}
	s.initDeps()
	s.routes()
	return s
}

type ServerDeps struct {
	Register    *usecase.RegisterDevice
	Process     *usecase.ProcessCapture
	Challenge   *usecase.IssueChallenge
	Audit       *usecase.AuditEmitter
	Devices     DeviceStore
	Captures    CaptureStore
	AuditEvents AuditStore
	RateLimiter domain.RateLimiter
}

func NewServerWithDeps(cfg config.Config, deps ServerDeps) *Server {
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{
		cfg:         cfg,
		r:           r,
		registerUC:  deps.Register,
		processUC:   deps.Process,
		challengeUC: deps.Challenge,
		audit:       deps.Audit,
		devices:     deps.Devices,
		captures:    deps.Captures,
		events:      deps.AuditEvents,
	}
	if s.devices == nil && s.registerUC != nil {
		if devices, ok := s.registerUC.Devices.(DeviceStore); ok {
			s.devices = devices
		}
	}
	s.initRateLimit(deps.RateLimiter)
	s.routes()
	return s
}

func (s *Server) initDeps() {
	bundles, err := buildAttestService(s.cfg)
	if err != nil {
		s.initErr = err
		return
	}

	var (
		deviceRepo    *db.DeviceRepository
		captureRepo   *db.CaptureRepository
		challengeRepo *db.ChallengeRepository
		auditRepo     *db.AuditEventRepository
	)
	if s.store != nil {
		deviceRepo = s.store.Devices
		captureRepo = s.store.Captures
		challengeRepo = s.store.Challenges
		auditRepo = s.store.AuditEvents
	}

	if auditRepo != nil {
		s.audit = usecase.NewAuditEmitter(auditRepo, nil)
		s.events = auditRepo
	}

	var review usecase.ReviewEngine
	if s.cfg.ReviewBundlePath != "" {
		engine, err := policyopa.NewEngineFromBundlePath(context.Background(), s.cfg.ReviewBundlePath, s.cfg.ReviewBundleID)
		if err != nil {
			s.initErr = fmt.Errorf("load review bundle: %w", err)
			return
		}
		review = engine
	}

	if deviceRepo != nil {
		s.registerUC = &usecase.RegisterDevice{
			Devices:    deviceRepo,
			Challenges: challengeRepo,
			Bundles:    bundles,
			Audit:      s.audit,
		}
		s.processUC = &usecase.ProcessCapture{
			Devices:           deviceRepo,
			Captures:          captureRepo,
			Assertions:        bundles,
			Chains:            hashchain.Verifier{},
			Review:            review,
			Audit:             s.audit,
			MaxTimestampDelta: s.cfg.TimestampMaxDelta(),
		}
		s.devices = deviceRepo
		s.captures = captureRepo
	}
	if challengeRepo != nil {
		s.challengeUC = &usecase.IssueChallenge{
			Challenges: challengeRepo,
			TTL:        s.cfg.ChallengeTTL(),
			NewID:      db.NewUUID,
			NewNonce:   newChallengeNonce,
		}
		if err := s.challengeUC.Validate(); err != nil {
			s.initErr = err
			return
		}
	}

	s.initRateLimit(nil)
}

// buildAttestService wires the platform attestation formats from the
// configured trust roots. A missing root file is a hard startup error;
// a format with no configured roots is simply not offered.
func buildAttestService(cfg config.Config) (*attest.Service, error) {
	var formats []attest.Format
	if cfg.SecureEnclaveRootsPEMPath != "" {
		roots, err := loadCertPool(cfg.SecureEnclaveRootsPEMPath)
		if err != nil {
			return nil, fmt.Errorf("secure enclave roots: %w", err)
		}
		formats = append(formats, &attest.SecureEnclaveFormat{Roots: roots, AppID: cfg.AppID})
	}
	if cfg.KeyAttestationRootsPEMPath != "" {
		roots, err := loadCertPool(cfg.KeyAttestationRootsPEMPath)
		if err != nil {
			return nil, fmt.Errorf("key attestation roots: %w", err)
		}
		formats = append(formats, &attest.KeyAttestationFormat{Roots: roots})
	}
	return attest.NewService(formats...), nil
}

func loadCertPool(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("no certificates in PEM file")
	}
	return pool, nil
}

func newChallengeNonce() ([]byte, error) {
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return nonce, nil
}

func (s *Server) initRateLimit(override domain.RateLimiter) {
	if override != nil {
		s.rateLimiter = override
	}
	if s.rateLimiter == nil && s.cfg.RateLimitRequests > 0 {
		if s.cfg.RedisAddr != "" {
			if limiter, err := ratelimit.NewRedisLimiter(s.cfg.RedisAddr, s.cfg.RedisPassword, s.cfg.RedisDB, nil); err == nil {
				s.rateLimiter = limiter
			}
		}
		if s.rateLimiter == nil {
			s.rateLimiter = ratelimit.NewMemoryLimiter(ratelimit.MemoryLimiterConfig{
				MaxKeys: s.cfg.RateLimitMaxKeys,
			})
		}
	}
	s.rateLimitRequests = s.cfg.RateLimitRequests
	s.rateLimitWindow = s.cfg.RateLimitWindow()
	s.rateLimitFailClosed = s.cfg.RateLimitFailClosed
}

func (s *Server) routes() {
	s.r.GET("/healthz", func(c *gin.Context) {
		dbMode := "no-db"
		if s.store != nil && s.store.DB != nil {
			dbMode = "db"
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "mode": dbMode})
	})

	v1 := s.r.Group("/v1")
	{
		v1.POST("/attestation/challenge", s.handleIssueChallenge)

		// devices:register and captures:process arrive as one path
		// segment; gin cannot route the colon verb directly.
		v1.POST("/:resource_action", s.handleResourceAction)

		v1.GET("/devices/:device_id", s.handleGetDevice)
		v1.GET("/devices/:device_id/captures", s.handleListCaptures)
		v1.GET("/devices/:device_id/audit", s.handleListAuditEvents)
		v1.GET("/captures/:capture_id", s.handleGetCapture)
	}

	s.r.NoRoute(s.handleNoRoute)
}

func (s *Server) Run() error {
	if s.initErr != nil {
		return s.initErr
	}
	return s.r.Run(s.cfg.HTTPAddr)
}
