package bankd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rbright/teller/internal/bankapi"
	"google.golang.org/grpc"
)

// ServeConfig names the two listen addresses.
type ServeConfig struct {
	GRPCAddr  string
	AdminAddr string
	// ReapInterval is how often expired sessions are dropped. Defaults to one minute.
	ReapInterval time.Duration
}

// Serve runs the gRPC service and the admin router until ctx is cancelled.
func (b *Bank) Serve(ctx context.Context, cfg ServeConfig) error {
	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc %s: %w", cfg.GRPCAddr, err)
	}
	adminLis, err := net.Listen("tcp", cfg.AdminAddr)
	if err != nil {
		_ = grpcLis.Close()
		return fmt.Errorf("listen admin %s: %w", cfg.AdminAddr, err)
	}
	return b.serveListeners(ctx, grpcLis, adminLis, cfg.ReapInterval)
}

func (b *Bank) serveListeners(ctx context.Context, grpcLis, adminLis net.Listener, reapEvery time.Duration) error {
	if reapEvery <= 0 {
		reapEvery = time.Minute
	}

	server := grpc.NewServer()
	bankapi.RegisterServer(server, b)
	admin := &http.Server{Handler: b.AdminRouter(), ReadHeaderTimeout: 5 * time.Second}

	errs := make(chan error, 2)
	go func() { errs <- server.Serve(grpcLis) }()
	go func() {
		if err := admin.Serve(adminLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
			return
		}
		errs <- nil
	}()
	b.logger.Info("bank serving", "grpc", grpcLis.Addr().String(), "admin", adminLis.Addr().String())

	ticker := time.NewTicker(reapEvery)
	defer ticker.Stop()

	var serveErr error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			if n := b.ExpireSessions(); n > 0 {
				b.logger.Info("expired sessions dropped", "count", n)
			}
		case serveErr = <-errs:
			break loop
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = admin.Shutdown(shutdownCtx)
	server.GracefulStop()
	if serveErr != nil {
		return fmt.Errorf("bank server: %w", serveErr)
	}
	return nil
}
