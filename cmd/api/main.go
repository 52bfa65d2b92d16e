package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ChequedMetal/App-Mobile/internal/auth"
	"github.com/ChequedMetal/App-Mobile/internal/cache"
	"github.com/ChequedMetal/App-Mobile/internal/cloudinary"
	"github.com/ChequedMetal/App-Mobile/internal/config"
	"github.com/ChequedMetal/App-Mobile/internal/docstore"
	"github.com/ChequedMetal/App-Mobile/internal/guard"
	"github.com/ChequedMetal/App-Mobile/internal/httpmiddleware"
	"github.com/ChequedMetal/App-Mobile/internal/provider"
	"github.com/ChequedMetal/App-Mobile/internal/queue"
	"github.com/ChequedMetal/App-Mobile/internal/session"
	"github.com/ChequedMetal/App-Mobile/internal/store"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var db *store.DB
	if cfg.AuthBackend == "postgres" || cfg.DocstoreBackend == "postgres" {
		var err error
		db, err = store.NewDB(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "appmobile:work")
	}

	var docs docstore.Store
	if cfg.DocstoreBackend == "memory" {
		docs = docstore.NewMemory()
	} else {
		var err error
		docs, err = docstore.NewPostgres(ctx, db.Client)
		if err != nil {
			return err
		}
	}

	var prov provider.Provider
	if cfg.AuthBackend == "memory" {
		prov = provider.NewMemory(cfg.BcryptCost)
	} else {
		var err error
		prov, err = provider.NewPostgres(ctx, db.Client, q, cfg.BcryptCost)
		if err != nil {
			return err
		}
	}

	var sessionCache cache.Cache
	switch cfg.CacheBackend {
	case "memory":
		sessionCache = cache.NewMemory()
	case "redis":
		sessionCache = cache.NewRedis(redisClient.Client, "appmobile")
	default:
		sqliteCache, err := cache.NewSQLite(cfg.CachePath)
		if err != nil {
			return err
		}
		defer sqliteCache.Close()
		sessionCache = sqliteCache
	}

	sessions := session.New(prov, docs, sessionCache, nil, nil)
	go sessions.Run(ctx)

	// Cloudinary client (nil when not configured)
	var cdnClient *cloudinary.Client
	if cfg.CloudinaryCloudName != "" && cfg.CloudinaryAPIKey != "" && cfg.CloudinaryAPISecret != "" {
		cdnClient = cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		log.Println("Cloudinary configured:", cfg.CloudinaryCloudName)
	} else {
		log.Println("Cloudinary not configured (CLOUDINARY_CLOUD_NAME / API_KEY / API_SECRET not set)")
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := cfg.QueueBackend == "memory" || redisClient.Healthy(c.Request.Context())
		dbHealthy := db == nil || db.Client.PingContext(c.Request.Context()) == nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	// Landing targets for the route guard's navigation signals.
	r.GET(cfg.LoginPath, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"page": "login", "returnTo": c.Query("returnTo")})
	})
	r.GET("/home", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"page": "home"})
	})

	r.POST("/v1/auth/signup", func(c *gin.Context) {
		var req struct {
			Email    string `json:"email" binding:"required"`
			Password string `json:"password" binding:"required"`
			Img      string `json:"img"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		sess, err := sessions.SignUp(c.Request.Context(), req.Email, req.Password, session.ProfileDefaults{Img: req.Img})
		if err != nil {
			c.JSON(authStatus(err), gin.H{"error": session.UserMessage(err)})
			return
		}

		tokens, err := auth.Issue(sess.UID, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"session":       sess,
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	r.POST("/v1/auth/signin", func(c *gin.Context) {
		var req struct {
			Email    string `json:"email" binding:"required"`
			Password string `json:"password" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		sess, err := sessions.SignIn(c.Request.Context(), req.Email, req.Password)
		if err != nil {
			c.JSON(authStatus(err), gin.H{"error": session.UserMessage(err)})
			return
		}

		tokens, err := auth.Issue(sess.UID, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"session":       sess,
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	r.POST("/v1/auth/reset", func(c *gin.Context) {
		var req struct {
			Email string `json:"email" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := sessions.RequestPasswordReset(c.Request.Context(), req.Email); err != nil {
			log.Printf("password reset dispatch failed: %v", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": session.UserMessage(err)})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "sent"})
	})

	authGroup := r.Group("/v1", auth.UserAuth(cfg.JWTSigningKey, cfg.JWTIssuer))

	authGroup.GET("/me", func(c *gin.Context) {
		sess := sessions.Current()
		if sess == nil || sess.UID != auth.UIDFrom(c) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "session expired"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"session": sess})
	})

	authGroup.POST("/auth/signout", func(c *gin.Context) {
		if err := sessions.SignOut(c.Request.Context()); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "sign out failed"})
			return
		}
		c.Status(http.StatusNoContent)
	})

	authGroup.POST("/scans", func(c *gin.Context) {
		var req struct {
			Seccion    string `json:"seccion" binding:"required"`
			Code       string `json:"code" binding:"required"`
			Fecha      string `json:"fecha" binding:"required"`
			Asistencia bool   `json:"asistencia"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		outcome, err := sessions.RecordAttendance(c.Request.Context(), req.Seccion, req.Code, req.Fecha, req.Asistencia)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":    session.UserMessage(err),
				"redirect": cfg.LoginPath,
			})
			return
		}

		switch outcome {
		case session.ScanDuplicate:
			c.JSON(http.StatusOK, gin.H{"status": "duplicate", "message": "You have already recorded this attendance."})
		case session.ScanFailed:
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "could not record the scan, try again"})
		default:
			evt := queue.ScanEvent{
				UID:        auth.UIDFrom(c),
				Seccion:    req.Seccion,
				Code:       req.Code,
				Fecha:      req.Fecha,
				Asistencia: req.Asistencia,
				At:         time.Now().UTC(),
			}
			if msg, merr := queue.NewMessage(queue.KindScan, evt); merr == nil {
				if perr := q.Publish(ctx, msg); perr != nil {
					log.Printf("queue publish failed: %v", perr)
				}
			}
			c.JSON(http.StatusCreated, gin.H{"status": "recorded", "message": "Attendance recorded successfully."})
		}
	})

	authGroup.GET("/attendance", func(c *gin.Context) {
		records, err := sessions.FetchAttendance(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":    session.UserMessage(err),
				"redirect": cfg.LoginPath,
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": records})
	})

	// Uploads an avatar (multipart file or base64 data URL), writes the
	// hosted URL into the profile's img field, and refreshes the session.
	authGroup.POST("/profile/image", func(c *gin.Context) {
		if cdnClient == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "image storage not configured"})
			return
		}
		uid := auth.UIDFrom(c)
		cur := sessions.Current()
		if cur == nil || cur.UID != uid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "session expired"})
			return
		}

		var result *cloudinary.UploadResult
		var err error
		switch {
		case strings.Contains(c.ContentType(), "multipart/form-data"):
			file, header, ferr := c.Request.FormFile("file")
			if ferr != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "file field required"})
				return
			}
			defer file.Close()
			data, ferr := io.ReadAll(file)
			if ferr != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "read file failed"})
				return
			}
			result, err = cdnClient.UploadBytes(c.Request.Context(), data, header.Filename)
		default:
			var body struct {
				Data string `json:"data" binding:"required"`
			}
			if berr := c.ShouldBindJSON(&body); berr != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "provide {\"data\": \"<base64 data URL>\"}"})
				return
			}
			result, err = cdnClient.UploadBase64(c.Request.Context(), body.Data)
		}
		if err != nil {
			log.Printf("cloudinary upload failed: %v", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "image upload failed"})
			return
		}

		if err := docs.Update(c.Request.Context(), session.UsersCollection, uid, map[string]any{"img": result.SecureURL}); err != nil {
			log.Printf("profile img update failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "profile update failed"})
			return
		}
		if _, err := sessions.RefreshProfile(c.Request.Context()); err != nil {
			log.Printf("profile refresh failed: %v", err)
		}
		c.JSON(http.StatusOK, gin.H{"url": result.SecureURL, "public_id": result.PublicID})
	})

	// Session-guarded app pages; unauthenticated browsers are redirected
	// to the login page with the requested path preserved.
	g := guard.New(sessions, cfg.LoginPath)
	appGroup := r.Group("/app", g.Middleware())
	appGroup.GET("/profile", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"session": sessions.Current()})
	})
	appGroup.GET("/history", func(c *gin.Context) {
		records, err := sessions.FetchAttendance(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": session.UserMessage(err)})
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": records})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// authStatus maps session-store errors to HTTP status codes.
func authStatus(err error) int {
	switch {
	case errors.Is(err, provider.ErrEmailInUse):
		return http.StatusConflict
	case errors.Is(err, provider.ErrInvalidEmail), errors.Is(err, provider.ErrWeakPassword):
		return http.StatusBadRequest
	case errors.Is(err, provider.ErrUserNotFound),
		errors.Is(err, provider.ErrWrongPassword),
		errors.Is(err, session.ErrProfileNotFound):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
