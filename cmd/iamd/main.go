package main

import (
	"context"
	"crypto/sha256"
	"flag"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/nebularis/iam/auth/audit"
	"github.com/nebularis/iam/auth/client"
	"github.com/nebularis/iam/auth/core"
	"github.com/nebularis/iam/auth/crypto"
	authhttp "github.com/nebularis/iam/auth/http"
	"github.com/nebularis/iam/auth/kv"
	"github.com/nebularis/iam/auth/oauth"
	"github.com/nebularis/iam/auth/providers"
	"github.com/nebularis/iam/auth/rbac"
	"github.com/nebularis/iam/auth/sessions"
	"github.com/nebularis/iam/auth/store"
	"github.com/nebularis/iam/auth/tenant"
	"github.com/nebularis/iam/auth/tokens"
	"github.com/nebularis/iam/auth/users"
)

func main() {
	var (
		databaseURL   = flag.String("database-url", getEnv("DATABASE_URL", "postgres://localhost/iamd?sslmode=disable"), "Database URL")
		redisURL      = flag.String("redis-url", getEnv("REDIS_URL", ""), "Redis URL for the shared cache/rate-limit backend (empty uses an in-process cache)")
		adminAPIKey   = flag.String("admin-api-key", getEnv("ADMIN_API_KEY", ""), "Admin API key to bootstrap on first run")
		baseDomain    = flag.String("base-domain", getEnv("BASE_DOMAIN", "auth.example.com"), "Base domain for tenant subdomains")
		httpAddr      = flag.String("http-addr", getEnv("HTTP_ADDR", ":8080"), "HTTP server address")
		enableUI      = flag.Bool("enable-ui", getEnvBool("ENABLE_UI", true), "Enable hosted login UI")
		enableAdminUI = flag.Bool("enable-admin-ui", getEnvBool("ENABLE_ADMIN_UI", false), "Enable admin UI")
		adminUIUser   = flag.String("admin-ui-username", getEnv("ADMIN_UI_USERNAME", "admin"), "Admin UI username")
		adminUIPass   = flag.String("admin-ui-password", getEnv("ADMIN_UI_PASSWORD", "admin123"), "Admin UI password")
		autoMigrate   = flag.Bool("auto-migrate", getEnvBool("AUTO_MIGRATE", true), "Auto-run database migrations")
		masterKeyHex  = flag.String("master-key", getEnv("MASTER_KEY", ""), "Master passphrase protecting signing keys, provider secrets, and session cookies")
	)
	flag.Parse()

	log.Println("Connecting to database...")
	gormStore, err := store.New(*databaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	if *autoMigrate {
		log.Println("Running database migrations...")
		if err := gormStore.AutoMigrate(); err != nil {
			log.Fatalf("Failed to migrate database: %v", err)
		}
	}

	cfg := core.Config{
		DatabaseURL:           *databaseURL,
		AdminAPIKey:           *adminAPIKey,
		BaseDomain:            *baseDomain,
		SessionCookieName:     "__session",
		SessionCookieSecure:   true,
		SessionCookieSameSite: "Lax",
		AccessTokenTTL:        15 * time.Minute,
		RefreshTokenTTL:       14 * 24 * time.Hour,
		SessionTTL:            30 * 24 * time.Hour,
		SlidingWindowPeriod:   5 * time.Minute,
		MaxAccountsPerSession: 5,
		MaxLoginAttempts:      5,
		PasswordMinLength:     8,
		EnableHostedUI:        *enableUI,
		EnableAdminUI:         *enableAdminUI,
		AdminUIUsername:       *adminUIUser,
		AdminUIPassword:       *adminUIPass,
		EnableIntrospection:   true,
		EnableRevocation:      true,
		MaxPermissionsInToken: 50,
		RBACCacheTTL:          60 * time.Second,
		ClientRetryMaxAttempts:   3,
		ClientRetryInitialDelay:  100 * time.Millisecond,
		ClientRetryMaxDelay:      2 * time.Second,
		ClientCBFailureThreshold: 0.5,
		ClientCBMinimumRequests:  10,
		ClientCBCooldownPeriod:   30 * time.Second,
		ClientCBSuccessThreshold: 3,
		ProviderCacheTTL:         60 * time.Second,
		ProviderCacheMaxSize:     500,
		CookieSecret:             masterKey(*masterKeyHex),
	}

	clock := core.RealClock{}
	master := masterKey(*masterKeyHex)

	cacheAdapter, err := newCacheAdapter(*redisURL)
	if err != nil {
		log.Fatalf("Failed to initialize cache adapter: %v", err)
	}

	keyManager := crypto.NewKeyManager(gormStore.SigningKeys(), master)
	passwordHasher := crypto.NewPasswordHasher()
	secretHasher := crypto.NewSecretHasher()
	aead, err := crypto.NewAEAD(master)
	if err != nil {
		log.Fatalf("Failed to initialize AEAD: %v", err)
	}
	cookieBox, err := crypto.NewCookieBox(master)
	if err != nil {
		log.Fatalf("Failed to initialize cookie box: %v", err)
	}

	tenantResolver := tenant.NewHostResolver(gormStore.Domains(), gormStore.Tenants(), *baseDomain, cacheAdapter)

	baseRBAC, err := rbac.NewService(gormStore.DB())
	if err != nil {
		log.Fatalf("Failed to initialize RBAC: %v", err)
	}
	rbacService := rbac.NewEnrichedService(
		baseRBAC,
		gormStore.Roles(),
		gormStore.Permissions(),
		gormStore.RolePermissions(),
		gormStore.UserRoles(),
		cacheAdapter,
		cfg.RBACCacheTTL,
		cfg.MaxPermissionsInToken,
		clock,
	)

	auditService := audit.NewService(gormStore.AuditEvents(), nil, clock)

	issuerFor := func(tenantID string) string {
		return "https://" + tenantID + "." + *baseDomain
	}
	tokenService := tokens.NewService(gormStore.RefreshTokens(), keyManager, clock, issuerFor, cfg.AccessTokenTTL, cfg.RefreshTokenTTL, auditService)

	sessionService := sessions.NewService(gormStore.Sessions(), gormStore.AccountSessions(), gormStore.RefreshTokens(), gormStore.Users(), cookieBox, clock)

	userService := users.NewService(gormStore.Users(), sessionService, passwordHasher, clock)

	clientService := client.NewService(gormStore.Clients(), secretHasher, clock, client.Config{
		RetryMaxAttempts:   cfg.ClientRetryMaxAttempts,
		RetryInitialDelay:  cfg.ClientRetryInitialDelay,
		RetryMaxDelay:      cfg.ClientRetryMaxDelay,
		CBFailureThreshold: cfg.ClientCBFailureThreshold,
		CBMinimumRequests:  cfg.ClientCBMinimumRequests,
		CBCooldownPeriod:   cfg.ClientCBCooldownPeriod,
		CBSuccessThreshold: cfg.ClientCBSuccessThreshold,
		SecretGracePeriod:  24 * time.Hour,
	})

	providerService := providers.NewService(gormStore.Providers(), aead, cacheAdapter, cfg.ProviderCacheTTL, cfg.ProviderCacheMaxSize, clock)

	oauthService := oauth.NewService(
		clientService,
		gormStore.Users(),
		gormStore.OAuthCodes(),
		gormStore.RefreshTokens(),
		tokenService,
		sessionService,
		rbacService,
		auditService,
		clock,
		10*time.Minute,
		cfg.AccessTokenTTL,
	)

	coreInstance, err := core.NewCore(cfg, gormStore, baseRBAC, auditService)
	if err != nil {
		log.Fatalf("Failed to create core: %v", err)
	}

	coreInstance.KeyManager = keyManager
	coreInstance.TenantResolver = tenantResolver
	coreInstance.TokenService = tokenService
	coreInstance.SessionService = sessionService
	coreInstance.UserService = userService
	coreInstance.OAuthService = oauthService
	coreInstance.RBACService = rbacService
	coreInstance.ClientService = clientService
	coreInstance.ProviderService = providerService

	if *adminAPIKey != "" {
		bootstrapAdminKey(gormStore, *adminAPIKey, clock)
	}

	log.Printf("Starting HTTP server on %s...", *httpAddr)
	server := authhttp.NewServer(coreInstance, cfg)

	if err := http.ListenAndServe(*httpAddr, server); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

// bootstrapAdminKey ensures the key supplied on the command line is
// registered, so a freshly provisioned instance can authenticate its
// first admin API call without a chicken-and-egg CRUD step.
func bootstrapAdminKey(gormStore *store.GormStore, plaintext string, clock core.Clock) {
	ctx := context.Background()
	hash := crypto.HashString(plaintext)
	if _, err := gormStore.AdminKeys().GetByHash(ctx, hash); err == nil {
		log.Println("Admin API key already registered")
		return
	}
	key := &core.AdminKey{
		ID:        uuid.New().String(),
		KeyHash:   hash,
		Name:      "bootstrap",
		CreatedAt: clock.Now(),
	}
	if err := gormStore.AdminKeys().Create(ctx, key); err != nil {
		log.Printf("Failed to bootstrap admin key: %v", err)
		return
	}
	log.Println("Admin API key bootstrapped")
}

// masterKey stretches the configured value to a 32-byte key with
// SHA-256, so a passphrase of any length works and every caller gets a
// fixed-size key. Empty falls back to a fixed development key.
func masterKey(configured string) []byte {
	if configured == "" {
		log.Println("WARNING: no master key configured, deriving an insecure development key")
		configured = "iamd-development-only-master-key"
	}
	sum := sha256.Sum256([]byte(configured))
	return sum[:]
}

func newCacheAdapter(redisURL string) (kv.Adapter, error) {
	if redisURL == "" {
		return kv.NewMemoryAdapter(), nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return kv.NewRedisAdapter(redis.NewClient(opts)), nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}
